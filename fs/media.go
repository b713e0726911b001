package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

type MediaDir string

func MediaDirFrom(d string) MediaDir {
	return MediaDir(d)
}

func (dir MediaDir) path() string {
	return string(dir)
}

// NewArtifact allocates a collision-free artifact location. Nothing is
// created on disk.
func (dir MediaDir) NewArtifact(ext string) Artifact {
	id := uuid.NewString()
	base := filepath.Join(dir.path(), id)

	return Artifact{
		ID:   id,
		Path: base + "." + ext,
		Cover: Cover{
			Path: base + ".jpg",
		},
		InfoFile: InfoFile[ArtifactInfo]{Path: base + ".json"},
	}
}

func (dir MediaDir) Collection(id string) Collection {
	base := filepath.Join(dir.path(), "collections", sanitize(id))

	return Collection{
		DirPath:      filepath.Dir(base),
		Cover:        Cover{Path: base + ".jpg"},
		PlaylistPath: base + ".m3u8",
	}
}

// Root is used to express artifact paths relative to the media dir.
func (dir MediaDir) Root() string {
	return dir.path()
}

// Files lists the regular files directly under the media dir.
func (dir MediaDir) Files() ([]string, error) {
	entries, err := os.ReadDir(dir.path())
	if nil != err {
		return nil, fmt.Errorf("failed to read media directory: %v", err)
	}

	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			out = append(out, filepath.Join(dir.path(), e.Name()))
		}
	}

	return out, nil
}

type Artifact struct {
	ID       string
	Path     string
	Cover    Cover
	InfoFile InfoFile[ArtifactInfo]
}

func (a Artifact) Exists() (bool, error) {
	return fileExists(a.Path)
}

func (a Artifact) Remove() error {
	var errs []error
	for _, p := range []string{a.Path, a.Cover.Path, a.InfoFile.Path} {
		if err := removeIfExists(p); nil != err {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); nil != err {
		return fmt.Errorf("failed to remove artifact files: %v", err)
	}

	return nil
}

// ArtifactInfo is written next to every artifact so that the media dir stays
// self-describing without the database.
type ArtifactInfo struct {
	ExternalID string `json:"external_id"`
	Title      string `json:"title"`
	Artist     string `json:"artist"`
	Container  string `json:"container"`
	Tier       string `json:"tier"`
}

type Collection struct {
	DirPath      string
	Cover        Cover
	PlaylistPath string
}

func (c Collection) EnsureDir() error {
	if err := os.MkdirAll(c.DirPath, 0o755); nil != err {
		return fmt.Errorf("failed to create collection dir: %v", err)
	}

	return nil
}

type Cover struct {
	Path string
}

func (c Cover) Exists() (bool, error) {
	return fileExists(c.Path)
}

func (c Cover) Write(b []byte) (err error) {
	f, err := os.OpenFile(c.Path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_SYNC, 0o600)
	if nil != err {
		return fmt.Errorf("failed to open cover file for write: %v", err)
	}
	defer func() {
		if closeErr := f.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("failed to close cover file: %v", closeErr))
		}
		if nil != err {
			if removeErr := removeIfExists(c.Path); nil != removeErr {
				err = errors.Join(err, fmt.Errorf("failed to remove incomplete cover file: %v", removeErr))
			}
		}
	}()

	if _, err := f.Write(b); nil != err {
		return fmt.Errorf("failed to write cover file: %v", err)
	}

	return nil
}

func (c Cover) Read() ([]byte, error) {
	b, err := os.ReadFile(c.Path)
	if nil != err {
		return nil, fmt.Errorf("failed to read cover file: %w", err)
	}

	return b, nil
}

func fileExists(path string) (bool, error) {
	if _, err := os.Stat(path); nil != err {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("failed to stat file: %v", err)
	}

	return true, nil
}

type InfoFile[T any] struct {
	Path string
}

func (p InfoFile[T]) Read() (t *T, err error) {
	f, err := os.Open(p.Path)
	if nil != err {
		return nil, fmt.Errorf("failed to open info file for read: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("failed to close info file: %v", closeErr))
		}
	}()

	var out T
	if err := json.NewDecoder(f).Decode(&out); nil != err {
		return nil, fmt.Errorf("failed to decode info file contents: %v", err)
	}

	return &out, nil
}

func (p InfoFile[T]) Write(v T) (err error) {
	f, err := os.OpenFile(p.Path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if nil != err {
		return fmt.Errorf("failed to open info file for write: %v", err)
	}
	defer func() {
		if closeErr := f.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("failed to close info file: %v", closeErr))
		}
		if nil != err {
			if removeErr := removeIfExists(p.Path); nil != removeErr {
				err = errors.Join(err, fmt.Errorf("failed to remove incomplete info file: %v", removeErr))
			}
		}
	}()

	if err := json.NewEncoder(f).Encode(v); nil != err {
		return fmt.Errorf("failed to write info content: %v", err)
	}

	if err := f.Sync(); nil != err {
		return fmt.Errorf("failed to sync info file: %v", err)
	}

	return nil
}
