package convert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bogem/id3v2"
	"github.com/rs/zerolog"

	"github.com/xeptore/trackfetch/fs"
	"github.com/xeptore/trackfetch/types"
	"github.com/xeptore/trackfetch/validate"
)

var ErrConversionFailed = errors.New("conversion failed")

type Format string

const (
	FormatM4A Format = "m4a"
	FormatMP3 Format = "mp3"
)

func (f Format) container() types.Container {
	if f == FormatMP3 {
		return types.ContainerMP3
	}

	return types.ContainerMP4
}

// Tags are embedded into the artifact. Artwork, when set, is JPEG data that
// is also kept next to the artifact.
type Tags struct {
	Title   string
	Artist  string
	Album   string
	Artwork []byte
}

type Output struct {
	fs.Artifact
	Container   types.Container
	Duration    time.Duration
	ArtworkPath string
}

type Converter struct {
	runner    Runner
	validator *validate.Validator
	media     fs.MediaDir
	format    Format
}

func New(runner Runner, validator *validate.Validator, media fs.MediaDir, format Format) *Converter {
	return &Converter{
		runner:    runner,
		validator: validator,
		media:     media,
		format:    format,
	}
}

// ConvertAndTag writes staged as a tagged artifact into the media dir and
// deletes staged, unless ctx ended first so that conversion can be resumed.
// The artifact is re-validated before it is returned.
func (c *Converter) ConvertAndTag(
	ctx context.Context,
	logger zerolog.Logger,
	staged fs.Staged,
	source types.Container,
	tags Tags,
) (out *Output, err error) {
	defer func() {
		if nil != ctx.Err() {
			return
		}

		if removeErr := staged.Remove(); nil != removeErr {
			logger.Error().Err(removeErr).Str("path", staged.Path).Msg("Failed to remove staged input")
			err = errors.Join(err, removeErr)
		}
	}()

	artifact := c.media.NewArtifact(string(c.format))
	logger = logger.With().Str("artifact_id", artifact.ID).Logger()

	var artworkPath string
	if len(tags.Artwork) > 0 {
		if err := artifact.Cover.Write(tags.Artwork); nil != err {
			return nil, fmt.Errorf("failed to write artwork: %w", err)
		}
		artworkPath = artifact.Cover.Path
	}

	args := c.args(staged.Path, source, tags, artworkPath, artifact.Path)
	if err := c.runner.Run(ctx, args); nil != err {
		if nil != ctx.Err() {
			return nil, errors.Join(err, artifact.Remove())
		}

		return nil, errors.Join(fmt.Errorf("%w: %v", ErrConversionFailed, err), artifact.Remove())
	}

	if c.format == FormatMP3 {
		if err := writeID3(artifact.Path, tags); nil != err {
			return nil, errors.Join(fmt.Errorf("%w: %v", ErrConversionFailed, err), artifact.Remove())
		}
	}

	res, err := c.validator.Validate(ctx, artifact.Path, "", 200, validate.StandardValidation)
	if nil != err {
		return nil, errors.Join(fmt.Errorf("failed to validate converted artifact: %w", err), artifact.Remove())
	}

	if !res.Accepted {
		logger.Error().Str("failure_code", string(res.FailureCode)).Str("detail", res.Detail).Msg("Converted artifact rejected")
		return nil, errors.Join(fmt.Errorf("%w: %v", ErrConversionFailed, res.Err()), artifact.Remove())
	}

	logger.Debug().Str("path", artifact.Path).Str("source", source.String()).Msg("Artifact written")

	return &Output{Artifact: artifact, Container: res.Container, Duration: res.Duration, ArtworkPath: artworkPath}, nil
}

// args remuxes when the source already is in the target container and
// transcodes otherwise. Source metadata is dropped in both cases. Tags and
// artwork go in through ffmpeg for m4a only; mp3 is tagged afterwards.
func (c *Converter) args(input string, source types.Container, tags Tags, artworkPath, output string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-y", "-i", input}

	embedArtwork := artworkPath != "" && c.format == FormatM4A
	if embedArtwork {
		args = append(args, "-i", artworkPath)
	}

	args = append(args, "-map", "0:a:0", "-map_metadata", "-1")
	if embedArtwork {
		args = append(args, "-map", "1:v:0", "-c:v", "mjpeg", "-disposition:v:0", "attached_pic")
	}

	switch {
	case source == c.format.container():
		args = append(args, "-c:a", "copy")
	case c.format == FormatMP3:
		args = append(args, "-c:a", "libmp3lame", "-q:a", "2")
	default:
		args = append(args, "-c:a", "aac", "-b:a", "256k")
	}

	if c.format == FormatMP3 {
		args = append(args, "-id3v2_version", "0", "-f", "mp3")
	} else {
		for _, kv := range [][2]string{{"title", tags.Title}, {"artist", tags.Artist}, {"album", tags.Album}} {
			if kv[1] != "" {
				args = append(args, "-metadata", kv[0]+"="+kv[1])
			}
		}
		args = append(args, "-movflags", "+faststart", "-f", "mp4")
	}

	return append(args, output)
}

func writeID3(path string, tags Tags) (err error) {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true}) //nolint:exhaustruct
	if nil != err {
		return fmt.Errorf("failed to open mp3 for tagging: %v", err)
	}
	defer func() {
		if closeErr := tag.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("failed to close mp3 tag: %v", closeErr))
		}
	}()

	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	tag.SetVersion(4)
	tag.SetTitle(tags.Title)
	tag.SetArtist(tags.Artist)
	if tags.Album != "" {
		tag.SetAlbum(tags.Album)
	}

	if len(tags.Artwork) > 0 {
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    "image/jpeg",
			PictureType: id3v2.PTFrontCover,
			Description: "Front cover",
			Picture:     tags.Artwork,
		})
	}

	if err := tag.Save(); nil != err {
		return fmt.Errorf("failed to save mp3 tag: %v", err)
	}

	return nil
}
