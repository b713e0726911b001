package cascade

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/xeptore/trackfetch/executil"
	"github.com/xeptore/trackfetch/types"
)

const maxStderrSize = 4096

// ExtractorTier runs an external command that writes the audio to stdout.
// Every "{id}" argument is replaced by the source id; without one the id is
// appended.
type ExtractorTier struct {
	cmd []string
}

func NewExtractorTier(cmd []string) *ExtractorTier {
	return &ExtractorTier{cmd: cmd}
}

func (t *ExtractorTier) Name() string {
	return "extractor"
}

func (t *ExtractorTier) args(id string) []string {
	args := make([]string, 0, len(t.cmd))
	substituted := false
	for _, arg := range t.cmd[1:] {
		if strings.Contains(arg, "{id}") {
			substituted = true
			arg = strings.ReplaceAll(arg, "{id}", id)
		}
		args = append(args, arg)
	}

	if !substituted {
		args = append(args, id)
	}

	return args
}

func (t *ExtractorTier) Open(ctx context.Context, candidate types.Candidate) (*Payload, error) {
	cmd := executil.Command(ctx, t.cmd[0], t.args(candidate.SourceID)...)

	stderr := &limitedBuffer{max: maxStderrSize} //nolint:exhaustruct
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if nil != err {
		return nil, fmt.Errorf("failed to create extractor stdout pipe: %v", err)
	}

	if err := cmd.Start(); nil != err {
		return nil, fmt.Errorf("failed to start extractor: %v", err)
	}

	return &Payload{
		Body:        &processBody{ReadCloser: stdout, cmd: cmd, stderr: stderr},
		ContentType: "",
		Status:      200,
		Size:        -1,
	}, nil
}

type processBody struct {
	io.ReadCloser
	cmd    *exec.Cmd
	stderr *limitedBuffer
}

// Close stops reading, which makes a still running extractor fail on its
// next write, and reports its exit status.
func (b *processBody) Close() error {
	closeErr := b.ReadCloser.Close()
	if err := b.cmd.Wait(); nil != err {
		return fmt.Errorf("extractor failed: %v: %s", err, bytes.TrimSpace(b.stderr.Bytes()))
	}

	if nil != closeErr && !errors.Is(closeErr, io.ErrClosedPipe) {
		return fmt.Errorf("failed to close extractor stdout: %v", closeErr)
	}

	return nil
}

type limitedBuffer struct {
	bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.Len(); room > 0 {
		b.Buffer.Write(p[:min(len(p), room)])
	}

	return len(p), nil
}
