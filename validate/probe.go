package validate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/xeptore/trackfetch/executil"
)

type FFprobe struct {
	bin    string
	logger zerolog.Logger
}

func NewFFprobe(logger zerolog.Logger, bin string) *FFprobe {
	return &FFprobe{bin: bin, logger: logger}
}

func (p *FFprobe) Duration(ctx context.Context, path string) (time.Duration, error) {
	cmd := executil.Command(
		ctx,
		p.bin,
		"-v",
		"error",
		"-show_entries",
		"format=duration",
		"-of",
		"json",
		path,
	)
	p.logger.Trace().Strs("args", cmd.Args).Msg("Starting ffprobe command")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); nil != err {
		if executil.Interrupted(ctx, err) {
			return 0, fmt.Errorf("ffprobe interrupted: %w", context.Cause(ctx))
		}

		if exitErr := (*exec.ExitError)(nil); errors.As(err, &exitErr) {
			p.logger.Debug().Bytes("stderr", stderr.Bytes()).Str("path", path).Msg("ffprobe could not decode media")
			return 0, fmt.Errorf("%w: %s", ErrUndecodable, bytes.TrimSpace(stderr.Bytes()))
		}

		return 0, fmt.Errorf("failed to run ffprobe: %v", err)
	}

	return parseProbeDuration(stdout.Bytes())
}

func parseProbeDuration(b []byte) (time.Duration, error) {
	if !gjson.ValidBytes(b) {
		return 0, fmt.Errorf("%w: invalid ffprobe output", ErrUndecodable)
	}

	v := gjson.GetBytes(b, "format.duration")
	if !v.Exists() {
		return 0, fmt.Errorf("%w: ffprobe reported no duration", ErrUndecodable)
	}

	secs := v.Float()
	if secs <= 0 {
		return 0, fmt.Errorf("%w: non-positive duration %q", ErrUndecodable, v.String())
	}

	return time.Duration(secs * float64(time.Second)), nil
}
