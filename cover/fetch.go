package cover

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/xeptore/trackfetch/cache"
	"github.com/xeptore/trackfetch/httputil"
	"github.com/xeptore/trackfetch/unit"
)

const maxArtworkSize = 20 * unit.Mebibyte

type Fetcher struct {
	client *http.Client
	cache  *cache.ArtworkCache
	size   int
}

func NewFetcher(artwork *cache.ArtworkCache, size int, timeout time.Duration) *Fetcher {
	return &Fetcher{
		client: &http.Client{Timeout: timeout}, //nolint:exhaustruct
		cache:  artwork,
		size:   size,
	}
}

// Fetch downloads the artwork at link and returns it fitted to the
// configured size as JPEG. Results are cached per link.
func (f *Fetcher) Fetch(ctx context.Context, logger zerolog.Logger, link string) ([]byte, error) {
	b, err := f.cache.Fetch(ctx, link, cache.DefaultArtworkTTL, func(ctx context.Context) ([]byte, error) {
		raw, err := f.download(ctx, link)
		if nil != err {
			return nil, err
		}

		return Fit(raw, f.size)
	})
	if nil != err {
		logger.Warn().Err(err).Str("artwork_url", link).Msg("Failed to fetch artwork")
		return nil, fmt.Errorf("failed to fetch artwork: %w", err)
	}

	return b, nil
}

func (f *Fetcher) download(ctx context.Context, link string) (b []byte, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if nil != err {
		return nil, fmt.Errorf("failed to create get artwork request: %v", err)
	}

	resp, err := f.client.Do(req)
	if nil != err {
		return nil, fmt.Errorf("failed to send get artwork request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("failed to close get artwork response body: %v", closeErr))
		}
	}()

	if code := resp.StatusCode; code != http.StatusOK {
		return nil, fmt.Errorf("unexpected artwork response code %d with body: %s", code, httputil.ErrorBody(resp))
	}

	b, err = io.ReadAll(io.LimitReader(resp.Body, maxArtworkSize+1))
	if nil != err {
		return nil, fmt.Errorf("failed to read artwork response body: %w", err)
	}

	if len(b) == 0 {
		return nil, errors.New("empty artwork response body")
	}

	if len(b) > maxArtworkSize {
		return nil, fmt.Errorf("artwork exceeds %d bytes", maxArtworkSize)
	}

	return b, nil
}
