// Package testsupport holds fixtures shared by package tests.
package testsupport

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/xeptore/trackfetch/types"
	"github.com/xeptore/trackfetch/validate"
)

// Header returns leading bytes carrying the signature of c.
func Header(c types.Container) []byte {
	switch c {
	case types.ContainerMP3:
		return []byte{'I', 'D', '3', 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	case types.ContainerMP4:
		return []byte{0x00, 0x00, 0x00, 0x20, 'f', 't', 'y', 'p', 'M', '4', 'A', ' '}
	case types.ContainerWebM:
		return []byte{0x1A, 0x45, 0xDF, 0xA3, 0x9F, 0x42, 0x86, 0x81, 0x01}
	case types.ContainerFLAC:
		return []byte("fLaC")
	case types.ContainerOgg:
		return []byte("OggS")
	default:
		return []byte{0x00, 0x01, 0x02, 0x03}
	}
}

// Audio builds a payload of the given size starting with the signature of c.
func Audio(c types.Container, size int) []byte {
	b := make([]byte, size)
	copy(b, Header(c))

	return b
}

func WriteFile(t *testing.T, dir, name string, b []byte) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, b, 0o600); nil != err {
		t.Fatalf("failed to write fixture %s: %v", path, err)
	}

	return path
}

func Logger(t *testing.T) zerolog.Logger {
	t.Helper()

	return zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.DebugLevel)
}

// Prober reports a fixed duration for every file, or per-path overrides.
type Prober struct {
	mu        sync.Mutex
	Default   time.Duration
	Overrides map[string]time.Duration
	Err       error
}

func (p *Prober) Duration(_ context.Context, path string) (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if nil != p.Err {
		return 0, p.Err
	}

	if d, ok := p.Overrides[path]; ok {
		return d, nil
	}

	return p.Default, nil
}

func Rules() validate.Rules {
	return validate.Rules{
		StrictMinBytes:   300_000,
		StandardMinBytes: 200_000,
		MinDuration:      30 * time.Second,
	}
}

func Validator() *validate.Validator {
	return validate.New(Rules(), &Prober{Default: 3 * time.Minute}) //nolint:exhaustruct
}

func SolidPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); nil != err {
		t.Fatalf("failed to encode fixture image: %v", err)
	}

	return buf.Bytes()
}
