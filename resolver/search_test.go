package resolver

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/xeptore/trackfetch/cache"
	"github.com/xeptore/trackfetch/config"
	"github.com/xeptore/trackfetch/testsupport"
)

func newTestSearcher(t *testing.T, url string) *HTTPSearcher {
	t.Helper()

	conf := config.Resolver{ //nolint:exhaustruct
		SearchURL:     url,
		SearchTimeout: config.Duration{Duration: 5 * time.Second},
		SearchRetries: 3,
		CacheTTL:      config.Duration{Duration: time.Minute},
	}
	s := NewHTTPSearcher(testsupport.Logger(t), conf, &cache.New().Searches)
	s.retryBase = time.Millisecond

	return s
}

func TestHTTPSearcherRetriesTransientFailuresAndCaches(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, "song band audio", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"id":"a","title":"Song","duration":215},{"videoId":"b","title":"Song 2","duration":"3:05","provider":"tube"}]}`))
	}))
	t.Cleanup(srv.Close)

	s := newTestSearcher(t, srv.URL)
	for range 2 {
		got, err := s.Search(t.Context(), "song band audio")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "a", got[0].SourceID)
		assert.Equal(t, 215, got[0].DurationSeconds)
		assert.Equal(t, "b", got[1].SourceID)
		assert.Equal(t, 185, got[1].DurationSeconds)
		assert.Equal(t, "tube", got[1].Provider)
	}
	assert.EqualValues(t, 2, calls.Load())
}

func TestHTTPSearcherDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	_, err := newTestSearcher(t, srv.URL).Search(t.Context(), "q")
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestHTTPSearcherRunsDifferentQueriesConcurrently(t *testing.T) {
	t.Parallel()

	const n = 5

	var inFlight, maxInFlight atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			prev := maxInFlight.Load()
			if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
				break
			}
		}

		deadline := time.Now().Add(2 * time.Second)
		for maxInFlight.Load() < n && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"items":[{"id":%q,"title":"Song","duration":200}]}`, r.URL.Query().Get("q"))
	}))
	t.Cleanup(srv.Close)

	s := newTestSearcher(t, srv.URL)

	var wg sync.WaitGroup
	for i := range n {
		wg.Go(func() {
			q := fmt.Sprintf("song %d audio", i)
			got, err := s.Search(t.Context(), q)
			if assert.NoError(t, err) && assert.Len(t, got, 1) {
				assert.Equal(t, q, got[0].SourceID)
			}
		})
	}
	wg.Wait()

	assert.EqualValues(t, n, maxInFlight.Load())
}

func TestHTTPSearcherCallerDeadlineDoesNotWaitForOthers(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		started <- struct{}{}
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	s := newTestSearcher(t, srv.URL)
	go func() { _, _ = s.Search(context.WithoutCancel(t.Context()), "slow query") }()
	<-started

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := s.Search(ctx, "slow query")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestParseSearchResults(t *testing.T) {
	t.Parallel()

	got, err := parseSearchResults([]byte(`[{"id":"x","title":"T"}]`), "host")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "host", got[0].Provider)
	assert.Zero(t, got[0].DurationSeconds)

	_, err = parseSearchResults([]byte(`{"error":"nope"}`), "host")
	require.Error(t, err)

	_, err = parseSearchResults([]byte(`<html>`), "host")
	require.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want int
	}{
		{`215`, 215},
		{`214.6`, 215},
		{`"1:02:03"`, 3723},
		{`"4:05"`, 245},
		{`"n/a"`, 0},
		{`null`, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseDuration(gjson.Parse(tt.in)), tt.in)
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "cafe live", normalize("Café  LIVE!"))
	assert.True(t, containsTerm(normalize("Song (Live)"), "live"))
	assert.False(t, containsTerm(normalize("Oliver"), "live"))
}
