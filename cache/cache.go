package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/karlseguin/ccache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/xeptore/trackfetch/types"
)

var DefaultArtworkTTL = 1 * time.Hour

type Cache struct {
	Searches SearchCache
	Artwork  ArtworkCache
}

func New() *Cache {
	searches := ccache.New(
		ccache.Configure[[]types.Candidate]().
			MaxSize(5_000).
			GetsPerPromote(3).
			ItemsToPrune(1),
	)

	artwork := ccache.New(
		ccache.Configure[[]byte]().
			MaxSize(100).
			GetsPerPromote(3).
			ItemsToPrune(1),
	)

	return &Cache{
		Searches: SearchCache{fetchCache[[]types.Candidate]{c: searches, flight: singleflight.Group{}, what: "search results"}},
		Artwork:  ArtworkCache{fetchCache[[]byte]{c: artwork, flight: singleflight.Group{}, what: "artwork"}},
	}
}

// fetchCache collapses concurrent misses on the same key into one origin
// fetch. Misses on different keys fetch in parallel.
type fetchCache[T any] struct {
	c      *ccache.Cache[T]
	flight singleflight.Group
	what   string
}

// Fetch returns the cached value for k or calls fetch to fill it. fetch runs
// detached from ctx cancellation since other callers may be waiting on the
// same key; a caller whose ctx ends stops waiting and gets the ctx cause.
func (c *fetchCache[T]) Fetch(ctx context.Context, k string, ttl time.Duration, fetch func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if v, ok := c.Get(k); ok {
		return v, nil
	}

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(k, func() (any, error) {
		if v, ok := c.Get(k); ok {
			return v, nil
		}

		v, err := fetch(fetchCtx)
		if nil != err {
			return nil, err
		}
		c.c.Set(k, v, ttl)

		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, context.Cause(ctx)
	case res := <-ch:
		if nil != res.Err {
			return zero, fmt.Errorf("fetch %s: %w", c.what, res.Err)
		}

		return res.Val.(T), nil //nolint:forcetypeassert
	}
}

func (c *fetchCache[T]) Get(k string) (T, bool) {
	item := c.c.Get(k)
	if nil == item || item.Expired() {
		var zero T
		return zero, false
	}

	return item.Value(), true
}

func (c *fetchCache[T]) Set(k string, v T, ttl time.Duration) {
	c.c.Set(k, v, ttl)
}

func (c *fetchCache[T]) Len() int {
	return c.c.ItemCount()
}

// SearchCache is keyed by the exact query text sent to the provider.
type SearchCache struct {
	fetchCache[[]types.Candidate]
}

// ArtworkCache is keyed by artwork URL.
type ArtworkCache struct {
	fetchCache[[]byte]
}
