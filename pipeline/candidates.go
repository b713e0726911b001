package pipeline

import (
	"cmp"
	"slices"
	"time"

	"github.com/xeptore/trackfetch/types"
)

// NextCandidate picks the untried candidate closest in duration to the
// reference. Candidates of unknown duration rank after known ones, and
// provider order breaks ties. Without an expected duration provider order
// alone decides. A positive tolerance excludes known durations further off
// than it.
func NextCandidate(e types.QueueEntry, tolerance time.Duration) (int, bool) {
	tried := make(map[int]struct{}, len(e.Tried))
	for _, i := range e.Tried {
		tried[i] = struct{}{}
	}

	expected := e.Ref.ExpectedDuration
	maxDelta := int(tolerance / time.Second)

	var pool []int
	for i, c := range e.Candidates {
		if _, ok := tried[i]; ok {
			continue
		}

		if e.Ref.HasExpectedDuration() && tolerance > 0 && c.HasDuration() && c.DurationDelta(expected) > maxDelta {
			continue
		}

		pool = append(pool, i)
	}

	if len(pool) == 0 {
		return 0, false
	}

	if !e.Ref.HasExpectedDuration() {
		return pool[0], true
	}

	slices.SortStableFunc(pool, func(a, b int) int {
		ca, cb := e.Candidates[a], e.Candidates[b]
		if ca.HasDuration() != cb.HasDuration() {
			if ca.HasDuration() {
				return -1
			}
			return 1
		}

		if !ca.HasDuration() {
			return cmp.Compare(a, b)
		}

		return cmp.Or(cmp.Compare(ca.DurationDelta(expected), cb.DurationDelta(expected)), cmp.Compare(a, b))
	})

	return pool[0], true
}
