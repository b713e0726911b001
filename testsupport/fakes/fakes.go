// Package fakes holds in-memory stand-ins for the pipeline stages.
package fakes

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/xeptore/trackfetch/cascade"
	"github.com/xeptore/trackfetch/convert"
	"github.com/xeptore/trackfetch/fs"
	"github.com/xeptore/trackfetch/resolver"
	"github.com/xeptore/trackfetch/testsupport"
	"github.com/xeptore/trackfetch/types"
)

// Resolver returns Candidates for every reference unless Errs has an entry
// for its external id.
type Resolver struct {
	mu         sync.Mutex
	Candidates map[string][]types.Candidate
	Errs       map[string]error
	Calls      []string
}

func (r *Resolver) Resolve(_ context.Context, _ zerolog.Logger, ref types.TrackReference) (*resolver.Resolution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Calls = append(r.Calls, ref.ExternalID)
	if err, ok := r.Errs[ref.ExternalID]; ok {
		return nil, err
	}

	candidates, ok := r.Candidates[ref.ExternalID]
	if !ok {
		candidates = []types.Candidate{{SourceID: "src-" + ref.ExternalID, Title: ref.Title, DurationSeconds: 200, Provider: "fake"}}
	}

	return &resolver.Resolution{Query: ref.Title + " " + ref.Artist, Candidates: candidates}, nil
}

// Downloader stages an mp3 payload for every candidate unless Fail has an
// entry for its source id. Hook, when set, runs first and may block.
type Downloader struct {
	Staging fs.Staging
	Tier    string
	Hook    func(ctx context.Context, candidate types.Candidate) error

	mu    sync.Mutex
	Fail  map[string]error
	Calls []string
}

func (d *Downloader) CallsSnapshot() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]string(nil), d.Calls...)
}

func (d *Downloader) Download(
	ctx context.Context,
	_ zerolog.Logger,
	candidate types.Candidate,
	onProgress cascade.Progress,
) (*cascade.Download, error) {
	d.mu.Lock()
	d.Calls = append(d.Calls, candidate.SourceID)
	failure := d.Fail[candidate.SourceID]
	d.mu.Unlock()

	if nil != d.Hook {
		if err := d.Hook(ctx, candidate); nil != err {
			return nil, err
		}
	}

	if nil != failure {
		return nil, failure
	}

	staged, err := d.Staging.New(candidate.SourceID)
	if nil != err {
		return nil, err
	}

	body := testsupport.Audio(types.ContainerMP3, 400_000)
	n, err := staged.Write(bytes.NewReader(body), func(written int64) {
		if nil != onProgress {
			onProgress(written, int64(len(body)))
		}
	})
	if nil != err {
		return nil, err
	}

	tier := d.Tier
	if tier == "" {
		tier = "primary"
	}

	return &cascade.Download{Staged: staged, Container: types.ContainerMP3, Tier: tier, Size: n}, nil
}

// Converter writes a fixed m4a payload into the media dir.
type Converter struct {
	Media fs.MediaDir
	Err   error

	mu   sync.Mutex
	Tags []convert.Tags
}

func (c *Converter) ConvertAndTag(
	_ context.Context,
	_ zerolog.Logger,
	staged fs.Staged,
	_ types.Container,
	tags convert.Tags,
) (*convert.Output, error) {
	c.mu.Lock()
	c.Tags = append(c.Tags, tags)
	c.mu.Unlock()

	if err := staged.Remove(); nil != err {
		return nil, err
	}

	if nil != c.Err {
		return nil, c.Err
	}

	artifact := c.Media.NewArtifact("m4a")
	if err := os.WriteFile(artifact.Path, testsupport.Audio(types.ContainerMP4, 250_000), 0o600); nil != err {
		return nil, err
	}

	var artworkPath string
	if len(tags.Artwork) > 0 {
		if err := artifact.Cover.Write(tags.Artwork); nil != err {
			return nil, err
		}
		artworkPath = artifact.Cover.Path
	}

	return &convert.Output{
		Artifact:    artifact,
		Container:   types.ContainerMP4,
		Duration:    200 * time.Second,
		ArtworkPath: artworkPath,
	}, nil
}

// Library is an in-memory library.
type Library struct {
	mu          sync.Mutex
	Artifacts   map[string]types.Artifact
	Collections map[string]types.Collection
	AddErr      error
}

func NewLibrary() *Library {
	return &Library{ //nolint:exhaustruct
		Artifacts:   make(map[string]types.Artifact),
		Collections: make(map[string]types.Collection),
	}
}

func (l *Library) Get(externalID string) (*types.Artifact, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.Artifacts[externalID]
	if !ok {
		return nil, nil
	}

	return &a, nil
}

func (l *Library) PutCollection(c types.Collection) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.Collections[c.ID] = c

	return nil
}

func (l *Library) Has(externalID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.Artifacts[externalID]

	return ok, nil
}

func (l *Library) Add(a types.Artifact) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if nil != l.AddErr {
		return l.AddErr
	}
	l.Artifacts[a.ExternalID] = a

	return nil
}

func (l *Library) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.Artifacts)
}

// Artwork serves Images by link.
type Artwork struct {
	Images map[string][]byte
}

func (a *Artwork) Fetch(_ context.Context, _ zerolog.Logger, link string) ([]byte, error) {
	if b, ok := a.Images[link]; ok {
		return b, nil
	}

	return nil, errors.New("artwork not found")
}
