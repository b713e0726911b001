package validate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/xeptore/trackfetch/types"
)

// Policy selects how strict the byte-size floor is. Strict applies to fresh
// downloads; Standard to re-validation of files produced locally.
type Policy int

const (
	StandardValidation Policy = iota
	StrictValidation
)

func (p Policy) String() string {
	switch p {
	case StandardValidation:
		return "standard"
	case StrictValidation:
		return "strict"
	default:
		return "unknown"
	}
}

var (
	ErrValidationFailed = errors.New("validation failed")
	ErrUndecodable      = errors.New("media is not decodable")
)

type Error struct {
	Code   types.FailureCode
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return "validation failed: " + string(e.Code)
	}

	return "validation failed: " + string(e.Code) + ": " + e.Detail
}

func (e *Error) Is(target error) bool {
	return target == ErrValidationFailed
}

type Result struct {
	Accepted    bool
	Container   types.Container
	Duration    time.Duration
	FailureCode types.FailureCode
	Detail      string
}

func (r Result) Err() error {
	if r.Accepted {
		return nil
	}

	return &Error{Code: r.FailureCode, Detail: r.Detail}
}

func reject(code types.FailureCode, format string, args ...any) Result {
	return Result{
		Accepted:    false,
		Container:   types.ContainerUnknown,
		Duration:    0,
		FailureCode: code,
		Detail:      fmt.Sprintf(format, args...),
	}
}

type Rules struct {
	StrictMinBytes   int64
	StandardMinBytes int64
	MinDuration      time.Duration
}

func (r Rules) minBytes(p Policy) int64 {
	if p == StrictValidation {
		return r.StrictMinBytes
	}

	return r.StandardMinBytes
}

type Prober interface {
	Duration(ctx context.Context, path string) (time.Duration, error)
}

type Validator struct {
	rules  Rules
	prober Prober
}

func New(rules Rules, prober Prober) *Validator {
	return &Validator{rules: rules, prober: prober}
}

// Validate runs the checks in order and stops at the first failure. The
// returned error is only set when the file itself could not be inspected.
func (v *Validator) Validate(
	ctx context.Context,
	path string,
	contentType string,
	httpStatus int,
	policy Policy,
) (Result, error) {
	if httpStatus < 200 || httpStatus > 299 {
		return reject(types.FailureBadStatus, "status %d", httpStatus), nil
	}

	if isMarkupContentType(contentType) {
		return reject(types.FailureWrongContentType, "declared %q", contentType), nil
	}

	size, header, err := readHeader(path)
	if nil != err {
		return Result{}, err //nolint:exhaustruct
	}

	if sniffed := mimetype.Detect(header); isMarkupMIME(sniffed) || hasMarkupPrefix(header) {
		return reject(types.FailureWrongContentType, "body looks like %s", sniffed.String()), nil
	}

	if floor := v.rules.minBytes(policy); size <= floor {
		return reject(types.FailureTooSmall, "%d bytes, floor %d (%s)", size, floor, policy), nil
	}

	container := Detect(header)
	if container == types.ContainerUnknown {
		return reject(types.FailureBadHeader, "unrecognized leading bytes % x", header[:min(len(header), 8)]), nil
	}

	dur, err := v.prober.Duration(ctx, path)
	if nil != err {
		if errors.Is(err, ErrUndecodable) {
			return reject(types.FailureBadHeader, "%v", err), nil
		}

		return Result{}, fmt.Errorf("failed to probe media duration: %w", err) //nolint:exhaustruct
	}

	if dur <= v.rules.MinDuration {
		return reject(types.FailureTooShort, "%s, floor %s", dur, v.rules.MinDuration), nil
	}

	return Result{Accepted: true, Container: container, Duration: dur, FailureCode: types.FailureNone, Detail: ""}, nil
}

func readHeader(path string) (size int64, header []byte, err error) {
	f, err := os.Open(path)
	if nil != err {
		return 0, nil, fmt.Errorf("failed to open payload: %v", err)
	}
	defer func() {
		if closeErr := f.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("failed to close payload: %v", closeErr))
		}
	}()

	info, err := f.Stat()
	if nil != err {
		return 0, nil, fmt.Errorf("failed to stat payload: %v", err)
	}

	header = make([]byte, HeaderSize)
	n, err := io.ReadFull(f, header)
	if nil != err && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return 0, nil, fmt.Errorf("failed to read payload header: %v", err)
	}

	return info.Size(), header[:n], nil
}

func isMarkupContentType(contentType string) bool {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return false
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if nil != err {
		mediaType = strings.ToLower(strings.SplitN(contentType, ";", 2)[0])
	}

	if strings.HasPrefix(mediaType, "text/") ||
		strings.Contains(mediaType, "html") ||
		strings.Contains(mediaType, "json") ||
		strings.Contains(mediaType, "xml") {
		return true
	}

	return isMarkupMIME(mimetype.Lookup(mediaType))
}

func isMarkupMIME(m *mimetype.MIME) bool {
	for ; nil != m; m = m.Parent() {
		if m.Is("text/html") || m.Is("text/xml") || m.Is("application/json") {
			return true
		}
	}

	return false
}

var markupPrefixes = [][]byte{
	[]byte("<!doctype"),
	[]byte("<html"),
	[]byte("<?xml"),
	[]byte("{"),
	[]byte("["),
}

// hasMarkupPrefix catches error pages padded with binary junk, which the
// mimetype text detectors refuse to classify.
func hasMarkupPrefix(header []byte) bool {
	trimmed := bytes.TrimLeft(bytes.TrimPrefix(header, []byte("\xEF\xBB\xBF")), " \t\r\n")
	for _, prefix := range markupPrefixes {
		if len(trimmed) >= len(prefix) && bytes.EqualFold(trimmed[:len(prefix)], prefix) {
			return true
		}
	}

	return false
}

// Discard removes a rejected payload and returns cause joined with any
// removal failure.
func Discard(path string, cause error) error {
	if err := os.Remove(path); nil != err && !errors.Is(err, os.ErrNotExist) {
		return errors.Join(cause, fmt.Errorf("failed to remove rejected payload: %v", err))
	}

	return cause
}
