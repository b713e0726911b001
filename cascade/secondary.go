package cascade

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/xeptore/trackfetch/httputil"
	"github.com/xeptore/trackfetch/types"
)

const maxLookupBodySize = 1 << 20

// SecondaryTier asks a third-party API for a direct link and then streams
// it. The API key, when set, is sent as X-API-Key on the lookup only.
type SecondaryTier struct {
	endpoint string
	key      string
	client   *http.Client
}

func NewSecondaryTier(endpoint, key string, client *http.Client) *SecondaryTier {
	return &SecondaryTier{endpoint: endpoint, key: key, client: client}
}

func (t *SecondaryTier) Name() string {
	return "secondary"
}

func (t *SecondaryTier) Open(ctx context.Context, candidate types.Candidate) (*Payload, error) {
	link, err := t.lookup(ctx, candidate.SourceID)
	if nil != err {
		return nil, err
	}

	return get(ctx, t.client, link, nil)
}

func (t *SecondaryTier) lookup(ctx context.Context, id string) (link string, err error) {
	reqURL, err := url.Parse(t.endpoint)
	if nil != err {
		return "", fmt.Errorf("failed to parse secondary API URL: %v", err)
	}

	params := reqURL.Query()
	params.Set("id", id)
	reqURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if nil != err {
		return "", fmt.Errorf("failed to create lookup request: %v", err)
	}
	req.Header.Add("Accept", "application/json")
	if t.key != "" {
		req.Header.Add("X-API-Key", t.key)
	}

	resp, err := t.client.Do(req)
	if nil != err {
		return "", fmt.Errorf("failed to send lookup request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("failed to close lookup response body: %v", closeErr))
		}
	}()

	if code := resp.StatusCode; code != http.StatusOK {
		return "", fmt.Errorf("unexpected lookup response code %d with body: %s", code, httputil.ErrorBody(resp))
	}

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxLookupBodySize))
	if nil != err {
		return "", fmt.Errorf("failed to read lookup response body: %w", err)
	}

	return parseLookupLink(respBytes)
}

func parseLookupLink(b []byte) (string, error) {
	if !gjson.ValidBytes(b) {
		return "", errors.New("invalid lookup response body")
	}

	for _, path := range []string{"url", "data.url", "link"} {
		if v := gjson.GetBytes(b, path); v.Type == gjson.String && v.String() != "" {
			u, err := url.Parse(v.String())
			if nil != err || (u.Scheme != "http" && u.Scheme != "https") {
				return "", fmt.Errorf("lookup returned unusable link %q", v.String())
			}

			return v.String(), nil
		}
	}

	return "", errors.New("lookup response has no link")
}
