package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/trackfetch/cascade"
	"github.com/xeptore/trackfetch/convert"
	"github.com/xeptore/trackfetch/fs"
	"github.com/xeptore/trackfetch/pipeline"
	"github.com/xeptore/trackfetch/resolver"
	"github.com/xeptore/trackfetch/testsupport"
	"github.com/xeptore/trackfetch/testsupport/fakes"
	"github.com/xeptore/trackfetch/types"
	"github.com/xeptore/trackfetch/validate"
)

type harness struct {
	staging    fs.Staging
	media      fs.MediaDir
	resolver   *fakes.Resolver
	downloader *fakes.Downloader
	converter  *fakes.Converter
	library    *fakes.Library
	artwork    *fakes.Artwork
	statuses   []types.Status
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	staging := fs.StagingFrom(t.TempDir())
	media := fs.MediaDirFrom(t.TempDir())

	return &harness{
		staging:    staging,
		media:      media,
		resolver:   &fakes.Resolver{},                       //nolint:exhaustruct
		downloader: &fakes.Downloader{Staging: staging},     //nolint:exhaustruct
		converter:  &fakes.Converter{Media: media},          //nolint:exhaustruct
		library:    fakes.NewLibrary(),
		artwork:    &fakes.Artwork{Images: map[string][]byte{"https://art.example/1.jpg": []byte("jpeg")}},
		statuses:   nil,
	}
}

func (h *harness) pipeline(opts pipeline.Options) *pipeline.Pipeline {
	return pipeline.New(h.resolver, h.downloader, h.converter, h.artwork, h.library, opts)
}

func (h *harness) observe(e types.QueueEntry, statusChanged bool) {
	if statusChanged {
		h.statuses = append(h.statuses, e.Status)
	}
}

func defaultOptions() pipeline.Options {
	return pipeline.Options{
		RetryCap:          3,
		RetryBackoff:      time.Millisecond,
		DurationTolerance: 0,
	}
}

func reference() types.TrackReference {
	return types.TrackReference{
		ExternalID:       "t1",
		Title:            "Song",
		Artist:           "Artist",
		ExpectedDuration: 200,
		ArtworkURL:       "https://art.example/1.jpg",
		CollectionID:     "c1",
		CollectionName:   "Album",
	}
}

func rejected(tier string, code types.FailureCode) error {
	return &cascade.TierError{Tier: tier, Err: &validate.Error{Code: code, Detail: ""}}
}

func TestRunAcquiresTrack(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	e := types.NewQueueEntry("e1", reference(), time.Now())

	final, artifact, err := h.pipeline(defaultOptions()).Run(t.Context(), testsupport.Logger(t), e, h.observe)
	require.NoError(t, err)
	require.NotNil(t, artifact)

	assert.Equal(t, types.StatusDone, final.Status)
	assert.Equal(t, types.FailureNone, final.FailureCode)
	assert.Nil(t, final.Staged)
	assert.InDelta(t, 1.0, final.Progress, 0.0001)
	assert.Equal(t, artifact.Path, final.ArtifactPath)
	assert.Equal(t,
		[]types.Status{types.StatusMatching, types.StatusDownloading, types.StatusConverting, types.StatusDone},
		h.statuses,
	)

	assert.Equal(t, "t1", artifact.ExternalID)
	assert.Equal(t, "primary", artifact.Tier)
	assert.Equal(t, "c1", artifact.CollectionID)
	assert.Equal(t, 200, artifact.DurationSeconds)
	assert.FileExists(t, artifact.Path)
	assert.FileExists(t, artifact.ArtworkPath)
	assert.Equal(t, 1, h.library.Len())

	require.Len(t, h.converter.Tags, 1)
	assert.Equal(t, "Album", h.converter.Tags[0].Album)
	assert.Equal(t, []byte("jpeg"), h.converter.Tags[0].Artwork)

	pending, err := h.staging.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRunPrefersClosestAlternative(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.resolver.Candidates = map[string][]types.Candidate{
		"t1": {
			{SourceID: "exact", Title: "Song", DurationSeconds: 200, Provider: "p"},
			{SourceID: "far", Title: "Song", DurationSeconds: 225, Provider: "p"},
			{SourceID: "near", Title: "Song", DurationSeconds: 205, Provider: "p"},
		},
	}
	h.downloader.Fail = map[string]error{"exact": rejected("primary", types.FailureWrongContentType)}
	e := types.NewQueueEntry("e1", reference(), time.Now())

	final, artifact, err := h.pipeline(defaultOptions()).Run(t.Context(), testsupport.Logger(t), e, h.observe)
	require.NoError(t, err)
	require.NotNil(t, artifact)

	assert.Equal(t, []string{"exact", "near"}, h.downloader.CallsSnapshot())
	assert.Equal(t, types.StatusDone, final.Status)
	assert.Equal(t, 1, final.RetryCount)
	assert.Equal(t, 2, final.CurrentCandidate)
	assert.ElementsMatch(t, []int{0, 2}, final.Tried)
	assert.Equal(t,
		[]types.Status{
			types.StatusMatching,
			types.StatusDownloading,
			types.StatusDownloading,
			types.StatusConverting,
			types.StatusDone,
		},
		h.statuses,
	)
}

func TestRunStopsAtRetryCap(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.resolver.Candidates = map[string][]types.Candidate{
		"t1": {
			{SourceID: "a", Title: "Song", DurationSeconds: 200, Provider: "p"},
			{SourceID: "b", Title: "Song", DurationSeconds: 201, Provider: "p"},
			{SourceID: "c", Title: "Song", DurationSeconds: 202, Provider: "p"},
		},
	}
	h.downloader.Fail = map[string]error{
		"a": rejected("primary", types.FailureTooSmall),
		"b": rejected("mirror:m1.example", types.FailureBadHeader),
		"c": rejected("primary", types.FailureTooSmall),
	}
	opts := defaultOptions()
	opts.RetryCap = 1
	e := types.NewQueueEntry("e1", reference(), time.Now())

	final, artifact, err := h.pipeline(opts).Run(t.Context(), testsupport.Logger(t), e, h.observe)
	require.Error(t, err)
	assert.Nil(t, artifact)

	assert.Equal(t, []string{"a", "b"}, h.downloader.CallsSnapshot())
	assert.Equal(t, types.StatusFailed, final.Status)
	assert.Equal(t, types.FailureBadHeader, final.FailureCode)
	assert.Equal(t, 1, final.RetryCount)
	assert.Equal(t, types.StageValidate, final.Debug.Stage)
	assert.Equal(t, "mirror:m1.example", final.Debug.Tier)
	assert.Equal(t, "b", final.Debug.CandidateID)
	assert.NotEmpty(t, final.Debug.RawError)
	assert.Zero(t, h.library.Len())
}

func TestRunFailsWhenAlternativesRunOut(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.resolver.Candidates = map[string][]types.Candidate{
		"t1": {{SourceID: "only", Title: "Song", DurationSeconds: 200, Provider: "p"}},
	}
	h.downloader.Fail = map[string]error{
		"only": fmt.Errorf("%w: every tier failed", cascade.ErrAllSourcesExhausted),
	}
	e := types.NewQueueEntry("e1", reference(), time.Now())

	final, _, err := h.pipeline(defaultOptions()).Run(t.Context(), testsupport.Logger(t), e, h.observe)
	require.ErrorIs(t, err, cascade.ErrAllSourcesExhausted)
	assert.Equal(t, types.StatusFailed, final.Status)
	assert.Equal(t, types.FailureAllSourcesExhausted, final.FailureCode)
	assert.Equal(t, types.StageDownload, final.Debug.Stage)
	assert.Zero(t, final.RetryCount)
}

func TestRunDoesNotRetryUnknownErrors(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.resolver.Candidates = map[string][]types.Candidate{
		"t1": {
			{SourceID: "a", Title: "Song", DurationSeconds: 200, Provider: "p"},
			{SourceID: "b", Title: "Song", DurationSeconds: 200, Provider: "p"},
		},
	}
	h.downloader.Fail = map[string]error{"a": errors.New("disk full")}
	e := types.NewQueueEntry("e1", reference(), time.Now())

	final, _, err := h.pipeline(defaultOptions()).Run(t.Context(), testsupport.Logger(t), e, h.observe)
	require.Error(t, err)
	assert.Equal(t, []string{"a"}, h.downloader.CallsSnapshot())
	assert.Equal(t, types.FailureInternal, final.FailureCode)
}

func TestRunNoMatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.resolver.Errs = map[string]error{"t1": fmt.Errorf("%w: nothing left after filtering", resolver.ErrNoMatchFound)}
	e := types.NewQueueEntry("e1", reference(), time.Now())

	final, artifact, err := h.pipeline(defaultOptions()).Run(t.Context(), testsupport.Logger(t), e, h.observe)
	require.ErrorIs(t, err, resolver.ErrNoMatchFound)
	assert.Nil(t, artifact)
	assert.Equal(t, types.StatusFailed, final.Status)
	assert.Equal(t, types.FailureNoMatch, final.FailureCode)
	assert.Equal(t, types.StageResolve, final.Debug.Stage)
	assert.Empty(t, h.downloader.CallsSnapshot())
	assert.Equal(t, []types.Status{types.StatusMatching, types.StatusFailed}, h.statuses)
}

func TestRunConversionFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.converter.Err = fmt.Errorf("%w: output too small", convert.ErrConversionFailed)
	e := types.NewQueueEntry("e1", reference(), time.Now())

	final, _, err := h.pipeline(defaultOptions()).Run(t.Context(), testsupport.Logger(t), e, h.observe)
	require.ErrorIs(t, err, convert.ErrConversionFailed)
	assert.Equal(t, types.StatusFailed, final.Status)
	assert.Equal(t, types.FailureConversion, final.FailureCode)
	assert.Equal(t, types.StageConvert, final.Debug.Stage)
	assert.Equal(t, "primary", final.Debug.Tier)
	assert.Nil(t, final.Staged)
	assert.Zero(t, h.library.Len())
}

func TestRunPersistenceFailureRemovesArtifact(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.library.AddErr = errors.New("database is read-only")
	e := types.NewQueueEntry("e1", reference(), time.Now())

	final, artifact, err := h.pipeline(defaultOptions()).Run(t.Context(), testsupport.Logger(t), e, h.observe)
	require.Error(t, err)
	assert.Nil(t, artifact)
	assert.Equal(t, types.FailurePersistence, final.FailureCode)
	assert.Equal(t, types.StagePersist, final.Debug.Stage)

	var files []string
	err = filepath.WalkDir(h.media.Root(), func(path string, d os.DirEntry, err error) error {
		if nil != err {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestRunResumesInterruptedConversion(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	staged, err := h.staging.New("src-t1")
	require.NoError(t, err)
	_, err = staged.Write(bytes.NewReader(testsupport.Audio(types.ContainerMP3, 400_000)), nil)
	require.NoError(t, err)

	e := types.NewQueueEntry("e1", reference(), time.Now())
	e.Status = types.StatusConverting
	e.Candidates = []types.Candidate{{SourceID: "src-t1", Title: "Song", DurationSeconds: 200, Provider: "p"}}
	e.Tried = []int{0}
	e.Staged = &types.StagedPayload{Path: staged.Path, Container: types.ContainerMP3, Tier: "secondary"}

	final, artifact, err := h.pipeline(defaultOptions()).Run(t.Context(), testsupport.Logger(t), e, h.observe)
	require.NoError(t, err)
	require.NotNil(t, artifact)

	assert.Equal(t, types.StatusDone, final.Status)
	assert.Equal(t, "secondary", artifact.Tier)
	assert.Empty(t, h.resolver.Calls)
	assert.Empty(t, h.downloader.CallsSnapshot())
	assert.NoFileExists(t, staged.Path)
}

func TestRunFailsInterruptedConversionWithoutPayload(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	e := types.NewQueueEntry("e1", reference(), time.Now())
	e.Status = types.StatusConverting

	final, _, err := h.pipeline(defaultOptions()).Run(t.Context(), testsupport.Logger(t), e, h.observe)
	require.Error(t, err)
	assert.Equal(t, types.StatusFailed, final.Status)
	assert.Equal(t, types.FailureInternal, final.FailureCode)
}

func TestRunCancellationKeepsActiveStatus(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	h.downloader.Hook = func(ctx context.Context, _ types.Candidate) error {
		cancel()
		<-ctx.Done()
		return context.Cause(ctx)
	}
	e := types.NewQueueEntry("e1", reference(), time.Now())

	final, artifact, err := h.pipeline(defaultOptions()).Run(ctx, testsupport.Logger(t), e, h.observe)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, artifact)
	assert.Equal(t, types.StatusDownloading, final.Status)
	assert.Equal(t, types.FailureNone, final.FailureCode)
	assert.NotEmpty(t, final.Candidates)
}

func TestRunWithoutArtwork(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ref := reference()
	ref.ArtworkURL = "https://art.example/missing.jpg"
	e := types.NewQueueEntry("e1", ref, time.Now())

	_, artifact, err := h.pipeline(defaultOptions()).Run(t.Context(), testsupport.Logger(t), e, h.observe)
	require.NoError(t, err)
	assert.Empty(t, artifact.ArtworkPath)
}

func TestRunReportsMonotonicProgress(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	var progress []float64
	observe := func(e types.QueueEntry, statusChanged bool) {
		if !statusChanged && e.Status == types.StatusDownloading {
			progress = append(progress, e.Progress)
		}
	}
	e := types.NewQueueEntry("e1", reference(), time.Now())

	_, _, err := h.pipeline(defaultOptions()).Run(t.Context(), testsupport.Logger(t), e, observe)
	require.NoError(t, err)
	require.NotEmpty(t, progress)
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1])
	}
	assert.LessOrEqual(t, progress[len(progress)-1], 1.0)
}
