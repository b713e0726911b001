package validate_test

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/trackfetch/testsupport"
	"github.com/xeptore/trackfetch/types"
	"github.com/xeptore/trackfetch/validate"
)

func TestDetect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		header   []byte
		expected types.Container
	}{
		{"id3 tag", testsupport.Header(types.ContainerMP3), types.ContainerMP3},
		{"mpeg1 layer3 frame sync", []byte{0xFF, 0xFB, 0x90, 0x64}, types.ContainerMP3},
		{"mpeg2 layer3 frame sync", []byte{0xFF, 0xF3, 0x40, 0xC4}, types.ContainerMP3},
		{"adts aac is not mp3", []byte{0xFF, 0xF1, 0x50, 0x80}, types.ContainerUnknown},
		{"bad bitrate index", []byte{0xFF, 0xFB, 0xF0, 0x00}, types.ContainerUnknown},
		{"ftyp box", testsupport.Header(types.ContainerMP4), types.ContainerMP4},
		{"ebml header", testsupport.Header(types.ContainerWebM), types.ContainerWebM},
		{"flac", testsupport.Header(types.ContainerFLAC), types.ContainerFLAC},
		{"ogg", testsupport.Header(types.ContainerOgg), types.ContainerOgg},
		{"html", []byte("<!DOCTYPE html><html>"), types.ContainerUnknown},
		{"empty", nil, types.ContainerUnknown},
		{"short ftyp", []byte{0, 0, 0, 0x20, 'f', 't'}, types.ContainerUnknown},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			got := validate.Detect(test.header)
			assert.Equal(t, test.expected, got)
			assert.Equal(t, got, validate.Detect(test.header), "detection must be deterministic")
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		payload     []byte
		contentType string
		status      int
		policy      validate.Policy
		duration    time.Duration
		expected    types.FailureCode
		container   types.Container
	}{
		{
			name:        "accepted mp3",
			payload:     testsupport.Audio(types.ContainerMP3, 400_000),
			contentType: "audio/mpeg",
			status:      http.StatusOK,
			policy:      validate.StrictValidation,
			duration:    3 * time.Minute,
			container:   types.ContainerMP3,
		},
		{
			name:        "accepted mp4 with octet stream type",
			payload:     testsupport.Audio(types.ContainerMP4, 400_000),
			contentType: "application/octet-stream",
			status:      http.StatusOK,
			policy:      validate.StrictValidation,
			duration:    3 * time.Minute,
			container:   types.ContainerMP4,
		},
		{
			name:        "bad status",
			payload:     testsupport.Audio(types.ContainerMP3, 400_000),
			contentType: "audio/mpeg",
			status:      http.StatusForbidden,
			policy:      validate.StrictValidation,
			duration:    3 * time.Minute,
			expected:    types.FailureBadStatus,
		},
		{
			name:        "html error page",
			payload:     []byte("<!DOCTYPE html><html><body>quota exceeded</body></html>"),
			contentType: "text/html; charset=utf-8",
			status:      http.StatusOK,
			policy:      validate.StrictValidation,
			duration:    3 * time.Minute,
			expected:    types.FailureWrongContentType,
		},
		{
			name:        "json body",
			payload:     []byte(`{"error":"not found"}`),
			contentType: "application/json",
			status:      http.StatusOK,
			policy:      validate.StrictValidation,
			duration:    3 * time.Minute,
			expected:    types.FailureWrongContentType,
		},
		{
			name:        "html body behind audio content type",
			payload:     append([]byte("<!DOCTYPE html><html><head><title>x</title></head>"), make([]byte, 400_000)...),
			contentType: "audio/mpeg",
			status:      http.StatusOK,
			policy:      validate.StrictValidation,
			duration:    3 * time.Minute,
			expected:    types.FailureWrongContentType,
		},
		{
			name:        "small html body behind audio content type",
			payload:     []byte("<html><body>rate limited</body></html>"),
			contentType: "audio/mpeg",
			status:      http.StatusOK,
			policy:      validate.StrictValidation,
			duration:    3 * time.Minute,
			expected:    types.FailureWrongContentType,
		},
		{
			name:        "too small for strict",
			payload:     testsupport.Audio(types.ContainerMP3, 250_000),
			contentType: "audio/mpeg",
			status:      http.StatusOK,
			policy:      validate.StrictValidation,
			duration:    3 * time.Minute,
			expected:    types.FailureTooSmall,
		},
		{
			name:        "large enough for standard",
			payload:     testsupport.Audio(types.ContainerMP3, 250_000),
			contentType: "",
			status:      http.StatusOK,
			policy:      validate.StandardValidation,
			duration:    3 * time.Minute,
			container:   types.ContainerMP3,
		},
		{
			name:        "exactly at floor is too small",
			payload:     testsupport.Audio(types.ContainerMP3, 300_000),
			contentType: "audio/mpeg",
			status:      http.StatusOK,
			policy:      validate.StrictValidation,
			duration:    3 * time.Minute,
			expected:    types.FailureTooSmall,
		},
		{
			name:        "unknown signature",
			payload:     testsupport.Audio(types.ContainerUnknown, 400_000),
			contentType: "audio/mpeg",
			status:      http.StatusOK,
			policy:      validate.StrictValidation,
			duration:    3 * time.Minute,
			expected:    types.FailureBadHeader,
		},
		{
			name:        "too short",
			payload:     testsupport.Audio(types.ContainerWebM, 400_000),
			contentType: "audio/webm",
			status:      http.StatusOK,
			policy:      validate.StrictValidation,
			duration:    12 * time.Second,
			expected:    types.FailureTooShort,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			path := testsupport.WriteFile(t, t.TempDir(), "payload.mp3", test.payload)
			v := validate.New(testsupport.Rules(), &testsupport.Prober{Default: test.duration}) //nolint:exhaustruct

			res, err := v.Validate(t.Context(), path, test.contentType, test.status, test.policy)
			require.NoError(t, err)

			if test.expected == types.FailureNone {
				assert.True(t, res.Accepted)
				assert.Equal(t, test.container, res.Container)
				require.NoError(t, res.Err())

				return
			}

			assert.False(t, res.Accepted)
			assert.Equal(t, test.expected, res.FailureCode)

			err = res.Err()
			require.ErrorIs(t, err, validate.ErrValidationFailed)

			var verr *validate.Error
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, test.expected, verr.Code)
		})
	}
}

func TestValidateUndecodableIsBadHeader(t *testing.T) {
	t.Parallel()

	path := testsupport.WriteFile(t, t.TempDir(), "x", testsupport.Audio(types.ContainerOgg, 400_000))
	v := validate.New(testsupport.Rules(), &testsupport.Prober{Err: validate.ErrUndecodable}) //nolint:exhaustruct

	res, err := v.Validate(t.Context(), path, "audio/ogg", http.StatusOK, validate.StrictValidation)
	require.NoError(t, err)
	assert.Equal(t, types.FailureBadHeader, res.FailureCode)
}

func TestValidateProberFailureIsReturned(t *testing.T) {
	t.Parallel()

	path := testsupport.WriteFile(t, t.TempDir(), "x", testsupport.Audio(types.ContainerOgg, 400_000))
	v := validate.New(testsupport.Rules(), &testsupport.Prober{Err: errors.New("exec: not found")}) //nolint:exhaustruct

	_, err := v.Validate(t.Context(), path, "audio/ogg", http.StatusOK, validate.StrictValidation)
	require.Error(t, err)
}

func TestValidateMissingFile(t *testing.T) {
	t.Parallel()

	_, err := testsupport.Validator().Validate(t.Context(), "/nonexistent/file", "", http.StatusOK, validate.StrictValidation)
	require.Error(t, err)
}

func TestDiscardRemovesPayload(t *testing.T) {
	t.Parallel()

	path := testsupport.WriteFile(t, t.TempDir(), "x.part", []byte("<html>"))
	cause := &validate.Error{Code: types.FailureWrongContentType, Detail: ""}

	err := validate.Discard(path, cause)
	require.ErrorIs(t, err, validate.ErrValidationFailed)
	assert.NoFileExists(t, path)

	require.ErrorIs(t, validate.Discard(path, cause), validate.ErrValidationFailed)
}
