// Package importer acquires a batch of track references in bounded parallel
// batches and assembles the resulting collections.
package importer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/xeptore/trackfetch/events"
	"github.com/xeptore/trackfetch/fs"
	"github.com/xeptore/trackfetch/iterutil"
	"github.com/xeptore/trackfetch/mathutil"
	"github.com/xeptore/trackfetch/pipeline"
	"github.com/xeptore/trackfetch/result"
	"github.com/xeptore/trackfetch/types"
)

var ErrEmptyBatch = errors.New("import batch is empty")

type Runner interface {
	Run(ctx context.Context, logger zerolog.Logger, e types.QueueEntry, observe pipeline.Observer) (types.QueueEntry, *types.Artifact, error)
}

type Library interface {
	Has(externalID string) (bool, error)
	Get(externalID string) (*types.Artifact, error)
	PutCollection(c types.Collection) error
}

type Options struct {
	BatchWidth    int
	CoverGridSize int
	CoverSize     int
}

type Stats struct {
	Total     int
	Pending   int
	Active    int
	Completed int
	Failed    int
	Skipped   int
}

type Summary struct {
	Completed   int
	Failed      int
	Skipped     int
	Entries     []types.QueueEntry
	Collections []types.Collection
}

type Importer struct {
	runner  Runner
	library Library
	broker  *events.Broker
	media   fs.MediaDir
	opts    Options
	now     func() time.Time

	total     atomic.Int64
	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
}

func New(runner Runner, library Library, broker *events.Broker, media fs.MediaDir, opts Options) *Importer {
	return &Importer{ //nolint:exhaustruct
		runner:  runner,
		library: library,
		broker:  broker,
		media:   media,
		opts:    opts,
		now:     time.Now,
	}
}

// Stats may be called while an import is running.
func (im *Importer) Stats() Stats {
	s := Stats{
		Total:     int(im.total.Load()),
		Pending:   0,
		Active:    int(im.active.Load()),
		Completed: int(im.completed.Load()),
		Failed:    int(im.failed.Load()),
		Skipped:   int(im.skipped.Load()),
	}
	s.Pending = max(s.Total-s.Active-s.Completed-s.Failed-s.Skipped, 0)

	return s
}

func (im *Importer) reset(total int) {
	im.total.Store(int64(total))
	im.active.Store(0)
	im.completed.Store(0)
	im.failed.Store(0)
	im.skipped.Store(0)
}

// member is one unique reference of the batch and what became of it.
type member struct {
	ref     types.TrackReference
	skipped bool
	entry   int
}

// Import runs every new reference of batch through the pipeline. Only setup
// problems are returned as errors; per-track failures are recorded on the
// returned entries.
func (im *Importer) Import(ctx context.Context, logger zerolog.Logger, batch []types.TrackReference) (*Summary, error) {
	if len(batch) == 0 {
		return nil, ErrEmptyBatch
	}

	for i, ref := range batch {
		if err := ref.Validate(); nil != err {
			return nil, fmt.Errorf("invalid track reference at %d: %v", i, err)
		}
	}

	refs := lo.UniqBy(batch, func(r types.TrackReference) string { return r.ExternalID })
	im.reset(len(refs))

	members := make([]member, 0, len(refs))
	entries := make([]types.QueueEntry, 0, len(refs))
	for _, ref := range refs {
		exists, err := im.library.Has(ref.ExternalID)
		if nil != err {
			return nil, fmt.Errorf("failed to check library: %w", err)
		}

		if exists {
			im.skipped.Add(1)
			members = append(members, member{ref: ref, skipped: true, entry: -1})
			logger.Debug().Str("external_id", ref.ExternalID).Msg("Track is already in the library")
			continue
		}

		members = append(members, member{ref: ref, skipped: false, entry: len(entries)})
		entries = append(entries, types.NewQueueEntry(uuid.NewString(), ref, im.now()))
	}

	logger.Info().
		Int("references", len(batch)).
		Int("unique", len(refs)).
		Int("skipped", int(im.skipped.Load())).
		Msg("Starting import")

	results, err := im.run(ctx, logger, entries)

	summary := &Summary{
		Completed:   int(im.completed.Load()),
		Failed:      int(im.failed.Load()),
		Skipped:     int(im.skipped.Load()),
		Entries:     entries,
		Collections: nil,
	}
	if nil != err {
		return summary, err
	}

	summary.Collections = im.collections(logger, members, results)

	logger.Info().
		Int("completed", summary.Completed).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Int("collections", len(summary.Collections)).
		Msg("Import finished")

	return summary, nil
}

// run processes entries in batches of the configured width. A batch starts
// only after the previous one settled. entries is updated in place.
func (im *Importer) run(ctx context.Context, logger zerolog.Logger, entries []types.QueueEntry) ([]result.Of[types.Artifact], error) {
	var (
		width      = max(im.opts.BatchWidth, 1)
		numBatches = mathutil.DivCeil(len(entries), width)
		batches    = iterutil.WithIndex(slices.Chunk(entries, width))
		results    = make([]result.Of[types.Artifact], len(entries))
		observe    = im.broker.Observe(ctx)
	)

	for batchIdx, batch := range batches {
		logger := logger.With().Int("batch", batchIdx+1).Int("batches", numBatches).Logger()
		logger.Debug().Int("size", len(batch)).Msg("Starting batch")

		var wg errgroup.Group
		for i, e := range batch {
			idx := batchIdx*width + i
			wg.Go(func() error {
				im.active.Add(1)
				defer im.active.Add(-1)

				final, artifact, err := im.runner.Run(ctx, logger, e, observe)
				entries[idx] = final

				switch {
				case nil != artifact:
					im.completed.Add(1)
					results[idx] = result.Ok(artifact)
				case nil != ctx.Err():
					results[idx] = result.Err[types.Artifact](err)
				default:
					im.failed.Add(1)
					results[idx] = result.Err[types.Artifact](err)
				}

				return nil
			})
		}
		_ = wg.Wait()

		if nil != ctx.Err() {
			return results, context.Cause(ctx)
		}
	}

	return results, nil
}
