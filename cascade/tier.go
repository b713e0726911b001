package cascade

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/xeptore/trackfetch/config"
	"github.com/xeptore/trackfetch/httputil"
	"github.com/xeptore/trackfetch/types"
)

// Payload is an open response body of a tier. Close must be called and its
// error honored: tiers backed by processes report failures there.
type Payload struct {
	Body        io.ReadCloser
	ContentType string
	Status      int
	Size        int64
}

type Tier interface {
	Name() string
	Open(ctx context.Context, candidate types.Candidate) (*Payload, error)
}

// TiersFromConfig builds the tiers in cascade order, skipping unconfigured
// ones.
func TiersFromConfig(conf config.Cascade) []Tier {
	client := &http.Client{} //nolint:exhaustruct

	var tiers []Tier
	if conf.PrimaryURL != "" {
		tiers = append(tiers, NewHTTPTier("primary", conf.PrimaryURL, client))
	}

	for _, mirror := range conf.Mirrors {
		tiers = append(tiers, NewHTTPTier(mirrorName(mirror), mirror, client))
	}

	if conf.SecondaryURL != "" {
		tiers = append(tiers, NewSecondaryTier(conf.SecondaryURL, conf.SecondaryKey, client))
	}

	if len(conf.ExtractorCmd) > 0 {
		tiers = append(tiers, NewExtractorTier(conf.ExtractorCmd))
	}

	return tiers
}

func mirrorName(endpoint string) string {
	if u, err := url.Parse(endpoint); nil == err && u.Host != "" {
		return "mirror:" + u.Host
	}

	return "mirror:" + endpoint
}

// HTTPTier streams GET {base}/stream/{id}, or base with {id} substituted when
// it has the placeholder.
type HTTPTier struct {
	name   string
	base   string
	client *http.Client
}

func NewHTTPTier(name, base string, client *http.Client) *HTTPTier {
	return &HTTPTier{name: name, base: base, client: client}
}

func (t *HTTPTier) Name() string {
	return t.name
}

func (t *HTTPTier) Open(ctx context.Context, candidate types.Candidate) (*Payload, error) {
	return get(ctx, t.client, streamURL(t.base, candidate.SourceID), nil)
}

func streamURL(base, id string) string {
	if strings.Contains(base, "{id}") {
		return strings.ReplaceAll(base, "{id}", url.PathEscape(id))
	}

	return strings.TrimRight(base, "/") + "/stream/" + url.PathEscape(id)
}

func get(ctx context.Context, client *http.Client, link string, header http.Header) (*Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if nil != err {
		return nil, fmt.Errorf("failed to create download request: %v", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if nil != err {
		return nil, fmt.Errorf("failed to send download request: %w", err)
	}

	if code := resp.StatusCode; code < 200 || code > 299 {
		body := httputil.ErrorBody(resp)
		if closeErr := resp.Body.Close(); nil != closeErr {
			return nil, errors.Join(
				fmt.Errorf("unexpected download response code %d", code),
				fmt.Errorf("failed to close download response body: %v", closeErr),
			)
		}

		return nil, fmt.Errorf("unexpected download response code %d with body: %s", code, body)
	}

	return &Payload{
		Body:        resp.Body,
		ContentType: resp.Header.Get("Content-Type"),
		Status:      resp.StatusCode,
		Size:        resp.ContentLength,
	}, nil
}
