package playlist_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/trackfetch/playlist"
	"github.com/xeptore/trackfetch/testsupport"
	"github.com/xeptore/trackfetch/types"
)

func TestReadReferencesArray(t *testing.T) {
	t.Parallel()

	path := testsupport.WriteFile(t, t.TempDir(), "batch.json", []byte(`[
		{"external_id": "1", "title": "Song", "artist": "Artist", "expected_duration": 200, "unknown": true},
		{"external_id": "2", "title": "Other", "artist": "Artist"}
	]`))

	refs, err := playlist.ReadReferences(path)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, 200, refs[0].ExpectedDuration)
	assert.False(t, refs[1].HasExpectedDuration())
}

func TestReadReferencesDocumentAppliesCollection(t *testing.T) {
	t.Parallel()

	path := testsupport.WriteFile(t, t.TempDir(), "album.json", []byte(`{
		"id": "album-1",
		"name": "Album",
		"tracks": [
			{"external_id": "1", "title": "Song", "artist": "Artist"},
			{"external_id": "2", "title": "Other", "artist": "Artist", "collection_id": "elsewhere", "collection_name": "Else"}
		]
	}`))

	refs, err := playlist.ReadReferences(path)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "album-1", refs[0].CollectionID)
	assert.Equal(t, "Album", refs[0].CollectionName)
	assert.Equal(t, "elsewhere", refs[1].CollectionID)
}

func TestReadReferencesRejectsInvalid(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for name, body := range map[string]string{
		"empty.json":   "  ",
		"broken.json":  "[{",
		"missing.json": `[{"external_id": "1", "title": "Song"}]`,
	} {
		_, err := playlist.ReadReferences(testsupport.WriteFile(t, dir, name, []byte(body)))
		require.ErrorIs(t, err, playlist.ErrInvalidPlaylist, name)
	}
}

func TestWriteM3U8(t *testing.T) {
	t.Parallel()

	media := t.TempDir()
	dir := filepath.Join(media, "collections")
	require.NoError(t, os.MkdirAll(dir, 0o0755))
	path := filepath.Join(dir, "album.m3u8")

	artifacts := []types.Artifact{
		{ExternalID: "1", Path: filepath.Join(media, "a.m4a"), Title: "Song", Artist: "Artist", DurationSeconds: 200},  //nolint:exhaustruct
		{ExternalID: "2", Path: filepath.Join(media, "b.m4a"), Title: "Other", Artist: "Artist", DurationSeconds: 185}, //nolint:exhaustruct
	}
	require.NoError(t, playlist.WriteM3U8(path, artifacts))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(b)
	assert.True(t, strings.HasPrefix(content, "#EXTM3U"))
	assert.Contains(t, content, "Artist - Song")
	assert.Contains(t, content, "../a.m4a")
	assert.Contains(t, content, "#EXT-X-ENDLIST")

	paths, err := playlist.ReadM3U8(path)
	require.NoError(t, err)
	assert.Equal(t, []string{artifacts[0].Path, artifacts[1].Path}, paths)
}
