package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/xeptore/trackfetch/types"
)

var ErrNoMatchFound = errors.New("no match found")

type Searcher interface {
	Search(ctx context.Context, query string) ([]types.Candidate, error)
}

type Options struct {
	QueryTemplates  []string
	DisallowedTerms []string
	MinDuration     time.Duration
}

type Resolution struct {
	Query      string
	Candidates []types.Candidate
}

// Chosen is the candidate the first download attempt uses.
func (r Resolution) Chosen() types.Candidate {
	return r.Candidates[0]
}

type Resolver struct {
	searcher    Searcher
	templates   []string
	disallowed  []string
	minDuration time.Duration
}

func New(searcher Searcher, opts Options) *Resolver {
	disallowed := lo.Uniq(lo.FilterMap(opts.DisallowedTerms, func(term string, _ int) (string, bool) {
		n := normalize(term)
		return n, n != ""
	}))

	return &Resolver{
		searcher:    searcher,
		templates:   opts.QueryTemplates,
		disallowed:  disallowed,
		minDuration: opts.MinDuration,
	}
}

// Queries expands the query templates for ref in priority order.
func (r *Resolver) Queries(ref types.TrackReference) []string {
	replacer := strings.NewReplacer("{title}", ref.Title, "{artist}", ref.Artist)

	queries := make([]string, 0, len(r.templates))
	for _, tmpl := range r.templates {
		q := strings.Join(strings.Fields(replacer.Replace(tmpl)), " ")
		if q != "" {
			queries = append(queries, q)
		}
	}

	return lo.Uniq(queries)
}

// Resolve searches each query variant in order and returns the filtered
// results of the first variant that has any. A failing search counts as an
// empty result for its variant.
func (r *Resolver) Resolve(ctx context.Context, logger zerolog.Logger, ref types.TrackReference) (*Resolution, error) {
	allowed := r.allowedTerms(ref)

	var lastErr error
	for _, query := range r.Queries(ref) {
		logger := logger.With().Str("query", query).Logger()

		results, err := r.searcher.Search(ctx, query)
		if nil != err {
			if ctxErr := ctx.Err(); nil != ctxErr {
				return nil, fmt.Errorf("failed to search %q: %w", query, context.Cause(ctx))
			}

			logger.Warn().Err(err).Msg("Search failed, trying next query variant")
			lastErr = err
			continue
		}

		candidates := r.filter(results, allowed)
		logger.Debug().Int("results", len(results)).Int("accepted", len(candidates)).Msg("Search completed")
		if len(candidates) > 0 {
			return &Resolution{Query: query, Candidates: candidates}, nil
		}
	}

	if nil != lastErr {
		return nil, fmt.Errorf("%w: last search error: %v", ErrNoMatchFound, lastErr)
	}

	return nil, ErrNoMatchFound
}

// allowedTerms are the disallowed terms the reference title itself uses.
func (r *Resolver) allowedTerms(ref types.TrackReference) map[string]struct{} {
	title := normalize(ref.Title)

	out := make(map[string]struct{})
	for _, term := range r.disallowed {
		if containsTerm(title, term) {
			out[term] = struct{}{}
		}
	}

	return out
}

func (r *Resolver) filter(results []types.Candidate, allowed map[string]struct{}) []types.Candidate {
	return lo.Filter(results, func(c types.Candidate, _ int) bool {
		if c.SourceID == "" {
			return false
		}

		if c.HasDuration() && time.Duration(c.DurationSeconds)*time.Second < r.minDuration {
			return false
		}

		title := normalize(c.Title)
		for _, term := range r.disallowed {
			if _, ok := allowed[term]; ok {
				continue
			}
			if containsTerm(title, term) {
				return false
			}
		}

		return true
	})
}
