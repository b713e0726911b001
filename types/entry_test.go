package types_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xeptore/trackfetch/types"
)

func TestStatusCanTransitionTo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to types.Status
		expected bool
	}{
		{types.StatusPending, types.StatusMatching, true},
		{types.StatusMatching, types.StatusDownloading, true},
		{types.StatusDownloading, types.StatusDownloading, true},
		{types.StatusDownloading, types.StatusConverting, true},
		{types.StatusConverting, types.StatusDone, true},
		{types.StatusPending, types.StatusFailed, true},
		{types.StatusConverting, types.StatusFailed, true},
		{types.StatusDownloading, types.StatusMatching, false},
		{types.StatusPending, types.StatusDone, false},
		{types.StatusDone, types.StatusFailed, false},
		{types.StatusFailed, types.StatusPending, false},
		{types.StatusDone, types.StatusDone, false},
	}
	for _, test := range tests {
		t.Run(string(test.from)+"->"+string(test.to), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, test.expected, test.from.CanTransitionTo(test.to))
		})
	}
}

func TestCandidateDurationDelta(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 5, types.Candidate{DurationSeconds: 205}.DurationDelta(200))  //nolint:exhaustruct
	assert.Equal(t, 25, types.Candidate{DurationSeconds: 175}.DurationDelta(200)) //nolint:exhaustruct
}

func TestQueueEntryCloneIsDeep(t *testing.T) {
	t.Parallel()

	e := types.NewQueueEntry("id", types.TrackReference{ExternalID: "x"}, testNow) //nolint:exhaustruct
	e.Candidates = []types.Candidate{{SourceID: "a"}}                               //nolint:exhaustruct
	e.Tried = []int{0}
	e.Staged = &types.StagedPayload{Path: "/s/x.part", Container: types.ContainerMP3, Tier: "primary"}

	c := e.Clone()
	c.Candidates[0].SourceID = "b"
	c.Tried[0] = 7
	c.Staged.Path = "/elsewhere"

	assert.Equal(t, "a", e.Candidates[0].SourceID)
	assert.Equal(t, 0, e.Tried[0])
	assert.Equal(t, "/s/x.part", e.Staged.Path)
}

func TestTrackReferenceValidate(t *testing.T) {
	t.Parallel()

	ok := types.TrackReference{ExternalID: "1", Title: "Song", Artist: "Artist"} //nolint:exhaustruct
	assert.NoError(t, ok.Validate())

	missing := types.TrackReference{ExternalID: "1", Title: "Song"} //nolint:exhaustruct
	assert.Error(t, missing.Validate())
}
