package resolver_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/trackfetch/resolver"
	"github.com/xeptore/trackfetch/testsupport"
	"github.com/xeptore/trackfetch/types"
)

type fakeSearcher struct {
	mu      sync.Mutex
	results map[string][]types.Candidate
	errs    map[string]error
	queries []string
}

func (f *fakeSearcher) Search(_ context.Context, query string) ([]types.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.queries = append(f.queries, query)
	if err, ok := f.errs[query]; ok {
		return nil, err
	}

	return f.results[query], nil
}

func defaultOptions() resolver.Options {
	return resolver.Options{
		QueryTemplates: []string{
			"{title} {artist} official audio",
			"{title} {artist} audio",
			"{title} {artist} topic",
			"{artist} {title}",
		},
		DisallowedTerms: []string{"live", "remix", "cover", "karaoke", "instrumental", "reaction"},
		MinDuration:     90 * time.Second,
	}
}

var ref = types.TrackReference{ExternalID: "e1", Title: "Song", Artist: "Band"} //nolint:exhaustruct

func TestResolveSkipsVariantWithOnlyDisallowedResults(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{ //nolint:exhaustruct
		results: map[string][]types.Candidate{
			"Song Band official audio": {
				{SourceID: "l1", Title: "Song (Live at Wembley)", DurationSeconds: 240},
				{SourceID: "k1", Title: "Song - KARAOKE version", DurationSeconds: 230},
			},
			"Song Band audio": {
				{SourceID: "ok1", Title: "Band - Song", DurationSeconds: 215},
				{SourceID: "ok2", Title: "Song", DurationSeconds: 0},
			},
			"Song Band topic": {
				{SourceID: "never", Title: "Song", DurationSeconds: 215},
			},
		},
	}

	res, err := resolver.New(searcher, defaultOptions()).Resolve(t.Context(), testsupport.Logger(t), ref)
	require.NoError(t, err)
	assert.Equal(t, "Song Band audio", res.Query)
	assert.Equal(t, "ok1", res.Chosen().SourceID)
	assert.Len(t, res.Candidates, 2)
	assert.Equal(t, []string{"Song Band official audio", "Song Band audio"}, searcher.queries)
}

func TestResolveKeepsTermsPresentInReferenceTitle(t *testing.T) {
	t.Parallel()

	remixRef := types.TrackReference{ExternalID: "e2", Title: "Song (Remix)", Artist: "Band"} //nolint:exhaustruct
	searcher := &fakeSearcher{ //nolint:exhaustruct
		results: map[string][]types.Candidate{
			"Song (Remix) Band official audio": {
				{SourceID: "live", Title: "Song Remix LIVE", DurationSeconds: 200},
				{SourceID: "remix", Title: "Song (Rémix)", DurationSeconds: 200},
			},
		},
	}

	res, err := resolver.New(searcher, defaultOptions()).Resolve(t.Context(), testsupport.Logger(t), remixRef)
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "remix", res.Chosen().SourceID)
}

func TestResolveFiltersShortAndWholeWordsOnly(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{ //nolint:exhaustruct
		results: map[string][]types.Candidate{
			"Song Band official audio": {
				{SourceID: "short", Title: "Song", DurationSeconds: 45},
				{SourceID: "oliver", Title: "Song feat. Oliver", DurationSeconds: 200},
				{SourceID: "remix", Title: "Song (Remix)", DurationSeconds: 200},
				{SourceID: "remixes", Title: "Song Remixes", DurationSeconds: 200},
			},
		},
	}

	res, err := resolver.New(searcher, defaultOptions()).Resolve(t.Context(), testsupport.Logger(t), ref)
	require.NoError(t, err)
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, "oliver", res.Chosen().SourceID)
	assert.Equal(t, "remixes", res.Candidates[1].SourceID)
}

func TestResolveNoMatch(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{ //nolint:exhaustruct
		results: map[string][]types.Candidate{
			"Song Band audio": {{SourceID: "c", Title: "Song cover", DurationSeconds: 200}},
		},
		errs: map[string]error{
			"Band Song": errors.New("upstream down"),
		},
	}

	_, err := resolver.New(searcher, defaultOptions()).Resolve(t.Context(), testsupport.Logger(t), ref)
	require.ErrorIs(t, err, resolver.ErrNoMatchFound)
	assert.Len(t, searcher.queries, 4)
}

func TestResolveStopsOnCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	searcher := &fakeSearcher{ //nolint:exhaustruct
		errs: map[string]error{"Song Band official audio": context.Canceled},
	}

	_, err := resolver.New(searcher, defaultOptions()).Resolve(ctx, testsupport.Logger(t), ref)
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, resolver.ErrNoMatchFound)
	assert.Len(t, searcher.queries, 1)
}

func TestQueriesDeduplicates(t *testing.T) {
	t.Parallel()

	r := resolver.New(&fakeSearcher{}, resolver.Options{ //nolint:exhaustruct
		QueryTemplates: []string{"{title}  {artist}", "{title} {artist}", "{artist}"},
	})
	assert.Equal(t, []string{"Song Band", "Band"}, r.Queries(ref))
}
