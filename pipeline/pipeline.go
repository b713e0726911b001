package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/xeptore/trackfetch/cascade"
	"github.com/xeptore/trackfetch/convert"
	"github.com/xeptore/trackfetch/fs"
	"github.com/xeptore/trackfetch/must"
	"github.com/xeptore/trackfetch/resolver"
	"github.com/xeptore/trackfetch/store"
	"github.com/xeptore/trackfetch/types"
)

var errInterruptedConversion = errors.New("conversion was interrupted and its staged payload is gone")

type Resolver interface {
	Resolve(ctx context.Context, logger zerolog.Logger, ref types.TrackReference) (*resolver.Resolution, error)
}

type Downloader interface {
	Download(ctx context.Context, logger zerolog.Logger, candidate types.Candidate, onProgress cascade.Progress) (*cascade.Download, error)
}

type Converter interface {
	ConvertAndTag(ctx context.Context, logger zerolog.Logger, staged fs.Staged, source types.Container, tags convert.Tags) (*convert.Output, error)
}

type ArtworkFetcher interface {
	Fetch(ctx context.Context, logger zerolog.Logger, link string) ([]byte, error)
}

type Library interface {
	Has(externalID string) (bool, error)
	Add(a types.Artifact) error
}

// Observer receives a copy of the entry after every change. statusChanged
// is false for progress-only updates.
type Observer func(e types.QueueEntry, statusChanged bool)

type Options struct {
	RetryCap          int
	RetryBackoff      time.Duration
	DurationTolerance time.Duration
}

const maxRetryBackoff = 30 * time.Second

type Pipeline struct {
	resolver   Resolver
	downloader Downloader
	converter  Converter
	artwork    ArtworkFetcher
	library    Library
	opts       Options
	now        func() time.Time
}

// New wires the stages. artwork may be nil, in which case artifacts carry
// no cover.
func New(
	res Resolver,
	downloader Downloader,
	converter Converter,
	artwork ArtworkFetcher,
	library Library,
	opts Options,
) *Pipeline {
	return &Pipeline{
		resolver:   res,
		downloader: downloader,
		converter:  converter,
		artwork:    artwork,
		library:    library,
		opts:       opts,
		now:        time.Now,
	}
}

// Run drives e to done or failed and returns its final state. The returned
// error is the cause of the failure. When ctx ends the entry is returned in
// its last active status so that it can be resumed.
func (p *Pipeline) Run(
	ctx context.Context,
	logger zerolog.Logger,
	e types.QueueEntry,
	observe Observer,
) (types.QueueEntry, *types.Artifact, error) {
	r := &run{
		p:       p,
		logger:  logger.With().Str("entry_id", e.ID).Str("external_id", e.Ref.ExternalID).Logger(),
		entry:   e.Clone(),
		observe: observe,
	}
	artifact, err := r.run(ctx)

	return r.entry, artifact, err
}

type run struct {
	p       *Pipeline
	logger  zerolog.Logger
	entry   types.QueueEntry
	observe Observer
}

func (r *run) run(ctx context.Context) (*types.Artifact, error) {
	must.Be(!r.entry.Status.IsTerminal(), "pipeline started on a terminal entry")

	if nil != ctx.Err() {
		return nil, context.Cause(ctx)
	}

	if r.entry.Status == types.StatusConverting {
		if nil == r.entry.Staged {
			return nil, r.fail(errInterruptedConversion, r.entry.Debug)
		}

		return r.convert(ctx, *r.entry.Staged)
	}

	if len(r.entry.Candidates) == 0 {
		if err := r.resolve(ctx); nil != err {
			return nil, err
		}
	}

	staged, err := r.download(ctx)
	if nil != err {
		return nil, err
	}

	return r.convert(ctx, *staged)
}

func (r *run) transition(next types.Status) {
	must.Be(r.entry.Status.CanTransitionTo(next), fmt.Sprintf("invalid status transition %s -> %s", r.entry.Status, next))

	r.entry.Status = next
	r.entry.UpdatedAt = r.p.now()
	r.notify(true)
}

func (r *run) notify(statusChanged bool) {
	if nil != r.observe {
		r.observe(r.entry.Clone(), statusChanged)
	}
}

func (r *run) fail(err error, debug types.DebugContext) error {
	debug.RawError = err.Error()
	if debug.Stage == "" {
		debug.Stage = stageOf(err)
	}

	r.entry.FailureCode = Classify(err)
	r.entry.Debug = debug
	r.entry.Staged = nil
	r.transition(types.StatusFailed)

	r.logger.Warn().
		Err(err).
		Str("failure_code", string(r.entry.FailureCode)).
		Str("stage", string(debug.Stage)).
		Str("tier", debug.Tier).
		Msg("Entry failed")

	return err
}

func (r *run) resolve(ctx context.Context) error {
	r.transition(types.StatusMatching)

	res, err := r.p.resolver.Resolve(ctx, r.logger, r.entry.Ref)
	if nil != err {
		if nil != ctx.Err() {
			return err
		}

		return r.fail(err, types.DebugContext{Stage: types.StageResolve}) //nolint:exhaustruct
	}

	r.entry.Candidates = res.Candidates
	r.entry.CurrentCandidate = 0
	r.entry.Tried = nil
	r.entry.Debug = types.DebugContext{Query: res.Query} //nolint:exhaustruct
	r.logger.Debug().Str("query", res.Query).Int("candidates", len(res.Candidates)).Msg("Resolved candidates")

	return nil
}

func (r *run) markTried(i int) {
	for _, t := range r.entry.Tried {
		if t == i {
			return
		}
	}
	r.entry.Tried = append(r.entry.Tried, i)
}

func (r *run) newBackOff(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(
		backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(r.p.opts.RetryBackoff),
			backoff.WithMaxInterval(maxRetryBackoff),
			backoff.WithMaxElapsedTime(0),
		),
		ctx,
	)
}

// download tries the current candidate and, on retryable failures, the
// closest untried alternatives until the retry cap is reached.
func (r *run) download(ctx context.Context) (*types.StagedPayload, error) {
	bo := r.newBackOff(ctx)

	for {
		candidate, ok := r.entry.Candidate()
		if !ok {
			return nil, r.fail(fmt.Errorf("%w: no candidate to download", cascade.ErrAllSourcesExhausted), r.entry.Debug)
		}

		r.markTried(r.entry.CurrentCandidate)
		r.entry.Progress = 0
		r.entry.Debug = types.DebugContext{ //nolint:exhaustruct
			Stage:       types.StageDownload,
			Query:       r.entry.Debug.Query,
			CandidateID: candidate.SourceID,
		}
		r.transition(types.StatusDownloading)

		logger := r.logger.With().Str("candidate_id", candidate.SourceID).Logger()
		dl, err := r.p.downloader.Download(ctx, logger, candidate, r.onProgress)
		if nil == err {
			r.entry.Debug.Tier = dl.Tier
			r.entry.Progress = 1

			return &types.StagedPayload{Path: dl.Staged.Path, Container: dl.Container, Tier: dl.Tier}, nil
		}

		if nil != ctx.Err() {
			return nil, err
		}

		debug := r.entry.Debug
		debug.Stage = stageOf(err)
		debug.Tier = cascade.TierOf(err)

		if !IsRetryable(err) || r.entry.RetryCount >= r.p.opts.RetryCap {
			return nil, r.fail(err, debug)
		}

		next, ok := NextCandidate(r.entry, r.p.opts.DurationTolerance)
		if !ok {
			return nil, r.fail(err, debug)
		}

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			return nil, context.Cause(ctx)
		}

		logger.Info().
			Err(err).
			Str("next_candidate_id", r.entry.Candidates[next].SourceID).
			Int("retry", r.entry.RetryCount+1).
			Dur("delay", delay).
			Msg("Retrying with alternative candidate")

		r.entry.RetryCount++
		r.entry.CurrentCandidate = next
		debug.RawError = err.Error()
		r.entry.Debug = debug
		r.notify(false)

		select {
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		case <-time.After(delay):
		}
	}
}

func (r *run) onProgress(written, total int64) {
	if total <= 0 {
		return
	}

	progress := min(float64(written)/float64(total), 1)
	if progress-r.entry.Progress < 0.01 && progress < 1 {
		return
	}

	r.entry.Progress = progress
	r.notify(false)
}

func (r *run) fetchArtwork(ctx context.Context) []byte {
	if nil == r.p.artwork || r.entry.Ref.ArtworkURL == "" {
		return nil
	}

	b, err := r.p.artwork.Fetch(ctx, r.logger, r.entry.Ref.ArtworkURL)
	if nil != err {
		r.logger.Warn().Err(err).Msg("Continuing without artwork")
		return nil
	}

	return b
}

func (r *run) convert(ctx context.Context, staged types.StagedPayload) (*types.Artifact, error) {
	r.entry.Staged = &staged
	r.entry.Debug.Tier = staged.Tier
	r.transition(types.StatusConverting)

	ref := r.entry.Ref
	tags := convert.Tags{
		Title:   ref.Title,
		Artist:  ref.Artist,
		Album:   ref.CollectionName,
		Artwork: r.fetchArtwork(ctx),
	}

	out, err := r.p.converter.ConvertAndTag(ctx, r.logger, fs.Staged{Path: staged.Path}, staged.Container, tags)
	if nil != err {
		if nil != ctx.Err() {
			return nil, err
		}

		debug := r.entry.Debug
		debug.Stage = types.StageConvert

		return nil, r.fail(err, debug)
	}
	r.entry.Staged = nil

	artifact := types.Artifact{
		ExternalID:      ref.ExternalID,
		Path:            out.Path,
		ArtworkPath:     out.ArtworkPath,
		Title:           ref.Title,
		Artist:          ref.Artist,
		DurationSeconds: int(out.Duration.Round(time.Second) / time.Second),
		Container:       out.Container,
		Tier:            staged.Tier,
		CollectionID:    ref.CollectionID,
		CreatedAt:       r.p.now(),
	}

	if err := r.persist(out.Artifact, artifact); nil != err {
		debug := r.entry.Debug
		debug.Stage = types.StagePersist

		return nil, r.fail(err, debug)
	}

	r.entry.ArtifactPath = artifact.Path
	r.entry.FailureCode = types.FailureNone
	r.transition(types.StatusDone)
	r.logger.Info().Str("path", artifact.Path).Str("tier", artifact.Tier).Msg("Track acquired")

	return &artifact, nil
}

// persist records the artifact in the library. The artifact files are
// removed when that fails so that the media dir never holds unknown files.
func (r *run) persist(files fs.Artifact, a types.Artifact) error {
	info := fs.ArtifactInfo{
		ExternalID: a.ExternalID,
		Title:      a.Title,
		Artist:     a.Artist,
		Container:  string(a.Container),
		Tier:       a.Tier,
	}
	if err := files.InfoFile.Write(info); nil != err {
		return errors.Join(fmt.Errorf("%w: %v", store.ErrPersistenceFailed, err), files.Remove())
	}

	if err := r.p.library.Add(a); nil != err {
		if !errors.Is(err, store.ErrPersistenceFailed) {
			err = fmt.Errorf("%w: %v", store.ErrPersistenceFailed, err)
		}

		return errors.Join(err, files.Remove())
	}

	return nil
}
