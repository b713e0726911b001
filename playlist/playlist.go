// Package playlist reads import batches and writes collection playlists.
package playlist

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/grafov/m3u8"

	"github.com/xeptore/trackfetch/types"
)

var ErrInvalidPlaylist = errors.New("invalid playlist file")

// document is the object form of a playlist file. Collection fields apply to
// tracks that do not name their own collection.
type document struct {
	ID     string                 `json:"id"`
	Name   string                 `json:"name"`
	Tracks []types.TrackReference `json:"tracks"`
}

// ReadReferences parses a playlist file holding either a JSON array of track
// references or an object with a tracks array.
func ReadReferences(path string) ([]types.TrackReference, error) {
	b, err := os.ReadFile(path)
	if nil != err {
		return nil, fmt.Errorf("failed to read playlist file: %v", err)
	}

	refs, err := decode(b)
	if nil != err {
		return nil, err
	}

	for i, ref := range refs {
		if err := ref.Validate(); nil != err {
			return nil, fmt.Errorf("%w: track %d: %v", ErrInvalidPlaylist, i, err)
		}
	}

	return refs, nil
}

func decode(b []byte) ([]types.TrackReference, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: file is empty", ErrInvalidPlaylist)
	}

	if b[0] == '[' {
		var refs []types.TrackReference
		if err := json.Unmarshal(b, &refs); nil != err {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPlaylist, err)
		}

		return refs, nil
	}

	var doc document
	if err := json.Unmarshal(b, &doc); nil != err {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPlaylist, err)
	}

	for i := range doc.Tracks {
		if doc.Tracks[i].CollectionID == "" {
			doc.Tracks[i].CollectionID = doc.ID
			doc.Tracks[i].CollectionName = doc.Name
		}
	}

	return doc.Tracks, nil
}

// WriteM3U8 writes an extended playlist of artifacts with paths relative to
// the playlist location.
func WriteM3U8(path string, artifacts []types.Artifact) (err error) {
	p, err := m3u8.NewMediaPlaylist(0, uint(max(len(artifacts), 1)))
	if nil != err {
		return fmt.Errorf("failed to create playlist: %v", err)
	}
	p.MediaType = m3u8.VOD

	dir := filepath.Dir(path)
	for _, a := range artifacts {
		uri, err := filepath.Rel(dir, a.Path)
		if nil != err {
			uri = a.Path
		}

		if err := p.Append(filepath.ToSlash(uri), float64(a.DurationSeconds), a.Artist+" - "+a.Title); nil != err {
			return fmt.Errorf("failed to append %s to playlist: %v", a.ExternalID, err)
		}
	}
	p.Close()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY|os.O_SYNC, 0o0644)
	if nil != err {
		return fmt.Errorf("failed to open playlist file for write: %v", err)
	}
	defer func() {
		if closeErr := f.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("failed to close playlist file: %v", closeErr))
		}
	}()

	if _, err := p.Encode().WriteTo(f); nil != err {
		return fmt.Errorf("failed to write playlist file: %v", err)
	}

	return nil
}

// ReadM3U8 returns the entry paths of a playlist resolved against its
// location.
func ReadM3U8(path string) ([]string, error) {
	f, err := os.Open(path)
	if nil != err {
		return nil, fmt.Errorf("failed to open playlist file: %v", err)
	}
	defer f.Close()

	pl, listType, err := m3u8.DecodeFrom(f, true)
	if nil != err {
		return nil, fmt.Errorf("failed to decode playlist: %v", err)
	}
	if listType != m3u8.MEDIA {
		return nil, fmt.Errorf("%w: expected a media playlist", ErrInvalidPlaylist)
	}

	dir := filepath.Dir(path)
	var out []string
	for _, seg := range pl.(*m3u8.MediaPlaylist).Segments {
		if nil == seg {
			continue
		}
		out = append(out, filepath.Join(dir, filepath.FromSlash(seg.URI)))
	}

	return out, nil
}
