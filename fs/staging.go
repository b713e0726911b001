package fs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const stagedSuffix = ".part"

type Staging string

func StagingFrom(dir string) Staging {
	return Staging(dir)
}

func (s Staging) path() string {
	return string(s)
}

// New creates an empty staging file. Staged files are never read by the
// library; they only become artifacts through the converter.
func (s Staging) New(prefix string) (Staged, error) {
	f, err := os.CreateTemp(s.path(), sanitize(prefix)+"-*"+stagedSuffix)
	if nil != err {
		return Staged{}, fmt.Errorf("failed to create staging file: %v", err) //nolint:exhaustruct
	}

	if err := f.Close(); nil != err {
		return Staged{}, errors.Join( //nolint:exhaustruct
			fmt.Errorf("failed to close staging file: %v", err),
			removeIfExists(f.Name()),
		)
	}

	return Staged{Path: f.Name()}, nil
}

// Sweep removes staged files left behind by an interrupted process, except
// the ones listed in keep. It must only be called while holding the store
// lock.
func (s Staging) Sweep(keep ...string) (int, error) {
	kept := make(map[string]struct{}, len(keep))
	for _, p := range keep {
		kept[filepath.Clean(p)] = struct{}{}
	}

	entries, err := os.ReadDir(s.path())
	if nil != err {
		return 0, fmt.Errorf("failed to read staging dir: %v", err)
	}

	var (
		removed int
		errs    []error
	)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), stagedSuffix) {
			continue
		}

		path := filepath.Join(s.path(), e.Name())
		if _, ok := kept[path]; ok {
			continue
		}

		if err := removeIfExists(path); nil != err {
			errs = append(errs, err)
			continue
		}
		removed++
	}

	return removed, errors.Join(errs...)
}

func (s Staging) Pending() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.path(), "*"+stagedSuffix))
	if nil != err {
		return nil, fmt.Errorf("failed to list staging dir: %v", err)
	}

	return matches, nil
}

type Staged struct {
	Path string
}

// Write copies r into the staged file. onProgress receives the running byte
// count. The file is removed when copying fails.
func (s Staged) Write(r io.Reader, onProgress func(written int64)) (n int64, err error) {
	f, err := os.OpenFile(s.Path, os.O_WRONLY|os.O_TRUNC, 0o600)
	if nil != err {
		return 0, fmt.Errorf("failed to open staging file for write: %v", err)
	}
	defer func() {
		if closeErr := f.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("failed to close staging file: %v", closeErr))
		}
		if nil != err {
			err = errors.Join(err, s.Remove())
		}
	}()

	w := io.Writer(f)
	if nil != onProgress {
		w = &progressWriter{w: f, onProgress: onProgress} //nolint:exhaustruct
	}

	n, err = io.Copy(w, r)
	if nil != err {
		return n, fmt.Errorf("failed to write staging file: %w", err)
	}

	if err := f.Sync(); nil != err {
		return n, fmt.Errorf("failed to sync staging file: %v", err)
	}

	return n, nil
}

func (s Staged) Size() (int64, error) {
	info, err := os.Stat(s.Path)
	if nil != err {
		return 0, fmt.Errorf("failed to stat staging file: %v", err)
	}

	return info.Size(), nil
}

func (s Staged) Remove() error {
	if err := removeIfExists(s.Path); nil != err {
		return fmt.Errorf("failed to remove staging file: %v", err)
	}

	return nil
}

type progressWriter struct {
	w          io.Writer
	written    int64
	onProgress func(int64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	p.onProgress(p.written)

	return n, err
}

func removeIfExists(path string) error {
	if err := os.Remove(path); nil != err && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return nil
}

func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
	if len(s) > 48 {
		s = s[:48]
	}
	if s == "" {
		s = "staged"
	}

	return s
}
