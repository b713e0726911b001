package httputil

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const maxErrorBodySize = 512

var ErrTooManyRequests = errors.New("too many requests")

func ReadResponseBody(resp *http.Response) ([]byte, error) {
	respBody, err := io.ReadAll(resp.Body)
	if nil != err {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if len(respBody) == 0 {
		return nil, errors.New("unexpected empty response body")
	}

	return respBody, nil
}

// ErrorBody reads a bounded prefix of a failed response for logging.
func ErrorBody(resp *http.Response) string {
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if nil != err {
		return ""
	}

	return string(b)
}

// IsTransientStatus reports whether a request that got code may succeed when
// repeated later.
func IsTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusRequestTimeout,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return code >= 500 && code != http.StatusNotImplemented
	}
}

// RetryAfter parses the Retry-After header in its delay-seconds form.
func RetryAfter(resp *http.Response) (time.Duration, bool) {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0, false
	}

	secs, err := strconv.Atoi(v)
	if nil != err || secs < 0 {
		return 0, false
	}

	return time.Duration(secs) * time.Second, true
}
