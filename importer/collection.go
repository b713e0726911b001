package importer

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/xeptore/trackfetch/cover"
	"github.com/xeptore/trackfetch/fs"
	"github.com/xeptore/trackfetch/playlist"
	"github.com/xeptore/trackfetch/result"
	"github.com/xeptore/trackfetch/types"
)

// collections groups the acquired and already owned members by collection
// and stores one collection per group. A broken collection is logged and
// left out.
func (im *Importer) collections(logger zerolog.Logger, members []member, results []result.Of[types.Artifact]) []types.Collection {
	var (
		order     []string
		names     = make(map[string]string)
		artifacts = make(map[string][]types.Artifact)
	)

	for _, m := range members {
		id := m.ref.CollectionID
		if id == "" {
			continue
		}

		var artifact *types.Artifact
		if m.skipped {
			a, err := im.library.Get(m.ref.ExternalID)
			if nil != err {
				logger.Warn().Err(err).Str("external_id", m.ref.ExternalID).Msg("Failed to load library artifact")
				continue
			}
			artifact = a
		} else if nil == results[m.entry].Err() {
			artifact = results[m.entry].Unwrap()
		}

		if nil == artifact {
			continue
		}

		if _, ok := artifacts[id]; !ok {
			order = append(order, id)
		}
		if names[id] == "" {
			names[id] = m.ref.CollectionName
		}
		artifacts[id] = append(artifacts[id], *artifact)
	}

	out := make([]types.Collection, 0, len(order))
	for _, id := range order {
		logger := logger.With().Str("collection_id", id).Logger()

		c, err := im.buildCollection(logger, id, lo.Ternary(names[id] != "", names[id], id), artifacts[id])
		if nil != err {
			logger.Error().Err(err).Msg("Failed to build collection")
			continue
		}
		out = append(out, *c)
	}

	return out
}

func (im *Importer) buildCollection(logger zerolog.Logger, id, name string, artifacts []types.Artifact) (*types.Collection, error) {
	files := im.media.Collection(id)
	if err := files.EnsureDir(); nil != err {
		return nil, err
	}

	c := types.Collection{
		ID:           id,
		Name:         name,
		ArtifactIDs:  lo.Map(artifacts, func(a types.Artifact, _ int) string { return a.ExternalID }),
		CoverPath:    "",
		PlaylistPath: files.PlaylistPath,
	}

	if covers := im.covers(logger, artifacts); len(covers) > 0 {
		grid, err := cover.Grid(covers, im.opts.CoverSize)
		if nil != err {
			logger.Warn().Err(err).Msg("Continuing without collection cover")
		} else if err := files.Cover.Write(grid); nil != err {
			return nil, fmt.Errorf("failed to write collection cover: %v", err)
		} else {
			c.CoverPath = files.Cover.Path
		}
	}

	if err := playlist.WriteM3U8(files.PlaylistPath, artifacts); nil != err {
		return nil, err
	}

	if err := im.library.PutCollection(c); nil != err {
		return nil, err
	}

	logger.Info().Int("tracks", len(artifacts)).Bool("cover", c.CoverPath != "").Msg("Collection stored")

	return &c, nil
}

// covers returns the artwork of the first members that have one, at most
// the configured grid size.
func (im *Importer) covers(logger zerolog.Logger, artifacts []types.Artifact) [][]byte {
	var out [][]byte
	for _, a := range artifacts {
		if len(out) == im.opts.CoverGridSize {
			break
		}

		if a.ArtworkPath == "" {
			continue
		}

		b, err := fs.Cover{Path: a.ArtworkPath}.Read()
		if nil != err {
			logger.Warn().Err(err).Str("external_id", a.ExternalID).Msg("Skipping unreadable artwork")
			continue
		}
		out = append(out, b)
	}

	return out
}
