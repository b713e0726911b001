package resolver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/xeptore/trackfetch/cache"
	"github.com/xeptore/trackfetch/config"
	"github.com/xeptore/trackfetch/httputil"
	"github.com/xeptore/trackfetch/ratelimit"
	"github.com/xeptore/trackfetch/types"
)

// HTTPSearcher queries a JSON search endpoint with GET {url}?q={query}. The
// response is either an array of results or an object holding one under
// "items" or "results".
type HTTPSearcher struct {
	logger    zerolog.Logger
	client    *http.Client
	endpoint  string
	retries   uint64
	retryBase time.Duration
	ttl       time.Duration
	cache     *cache.SearchCache
	limiter   *rate.Limiter
}

func NewHTTPSearcher(logger zerolog.Logger, conf config.Resolver, searches *cache.SearchCache) *HTTPSearcher {
	return &HTTPSearcher{
		logger:    logger,
		client:    &http.Client{Timeout: conf.SearchTimeout.Duration}, //nolint:exhaustruct
		endpoint:  conf.SearchURL,
		retries:   conf.SearchRetries,
		retryBase: 500 * time.Millisecond,
		ttl:       conf.CacheTTL.Duration,
		cache:     searches,
		limiter:   ratelimit.NewSearchLimiter(),
	}
}

func (s *HTTPSearcher) Search(ctx context.Context, query string) ([]types.Candidate, error) {
	return s.cache.Fetch(ctx, query, s.ttl, func(ctx context.Context) ([]types.Candidate, error) {
		var out []types.Candidate
		err := retry.Do(
			ctx,
			retry.WithMaxRetries(s.retries, retry.NewFibonacci(s.retryBase)),
			func(ctx context.Context) error {
				res, err := s.search(ctx, query)
				if nil != err {
					if errors.Is(err, errTransient) || (errors.Is(err, context.DeadlineExceeded) && nil == ctx.Err()) {
						s.logger.Debug().Err(err).Str("query", query).Msg("Retrying transient search failure")
						return retry.RetryableError(err)
					}

					return err
				}
				out = res

				return nil
			},
		)
		if nil != err {
			return nil, fmt.Errorf("failed to search after retries: %w", err)
		}

		return out, nil
	})
}

var errTransient = errors.New("transient search failure")

func (s *HTTPSearcher) search(ctx context.Context, query string) (out []types.Candidate, err error) {
	if err := s.limiter.Wait(ctx); nil != err {
		return nil, fmt.Errorf("failed to wait for search slot: %w", err)
	}

	reqURL, err := url.Parse(s.endpoint)
	if nil != err {
		return nil, fmt.Errorf("failed to parse search URL: %v", err)
	}

	params := reqURL.Query()
	params.Set("q", query)
	reqURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if nil != err {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Add("Accept", "application/json")

	resp, err := s.client.Do(req)
	if nil != err {
		if nil == ctx.Err() {
			return nil, fmt.Errorf("%w: failed to send search request: %v", errTransient, err)
		}

		return nil, fmt.Errorf("failed to send search request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("failed to close search response body: %v", closeErr))
		}
	}()

	if code := resp.StatusCode; code != http.StatusOK {
		body := httputil.ErrorBody(resp)
		if httputil.IsTransientStatus(code) {
			return nil, fmt.Errorf("%w: status %d", errTransient, code)
		}

		return nil, fmt.Errorf("unexpected search response code %d with body: %s", code, body)
	}

	respBytes, err := httputil.ReadResponseBody(resp)
	if nil != err {
		return nil, fmt.Errorf("failed to read search response body: %w", err)
	}

	return parseSearchResults(respBytes, reqURL.Host)
}

func parseSearchResults(b []byte, defaultProvider string) ([]types.Candidate, error) {
	if !gjson.ValidBytes(b) {
		return nil, errors.New("invalid search response body")
	}

	root := gjson.ParseBytes(b)
	items := root
	if !root.IsArray() {
		items = root.Get("items")
		if !items.Exists() {
			items = root.Get("results")
		}
	}
	if !items.IsArray() {
		return nil, errors.New("search response has no result list")
	}

	var out []types.Candidate
	items.ForEach(func(_, item gjson.Result) bool {
		id := item.Get("id").String()
		if id == "" {
			id = item.Get("videoId").String()
		}

		provider := item.Get("provider").String()
		if provider == "" {
			provider = defaultProvider
		}

		out = append(out, types.Candidate{
			SourceID:        id,
			Title:           item.Get("title").String(),
			DurationSeconds: parseDuration(item.Get("duration")),
			Provider:        provider,
		})

		return true
	})

	return out, nil
}

// parseDuration accepts seconds as a number or a "h:mm:ss" / "m:ss" string.
// Anything else is reported as unknown.
func parseDuration(v gjson.Result) int {
	switch v.Type {
	case gjson.Number:
		return int(math.Round(v.Float()))
	case gjson.String:
		var total int
		for part := range strings.SplitSeq(v.String(), ":") {
			n, err := strconv.Atoi(part)
			if nil != err || n < 0 {
				return 0
			}
			total = total*60 + n
		}

		return total
	default:
		return 0
	}
}
