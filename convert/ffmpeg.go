package convert

import (
	"bytes"
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/xeptore/trackfetch/executil"
)

type Runner interface {
	Run(ctx context.Context, args []string) error
}

type FFmpeg struct {
	bin    string
	logger zerolog.Logger
}

func NewFFmpeg(logger zerolog.Logger, bin string) *FFmpeg {
	return &FFmpeg{bin: bin, logger: logger}
}

func (f *FFmpeg) Run(ctx context.Context, args []string) error {
	cmd := executil.Command(ctx, f.bin, args...)
	f.logger.Debug().Strs("args", cmd.Args).Msg("Starting ffmpeg command")

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); nil != err {
		if executil.Interrupted(ctx, err) {
			return fmt.Errorf("ffmpeg interrupted: %w", context.Cause(ctx))
		}

		f.logger.Error().Err(err).Bytes("stderr", stderr.Bytes()).Msg("ffmpeg command failed")

		return fmt.Errorf("ffmpeg failed: %v: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}

	return nil
}
