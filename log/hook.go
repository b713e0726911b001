package log

import (
	"runtime"
	"strings"

	"github.com/rs/zerolog"
)

const maxStackFrames = 16

// stackHook attaches the caller stack to error and above events, skipping
// frames that belong to the runtime or to zerolog itself.
type stackHook struct{}

func (h *stackHook) Run(e *zerolog.Event, level zerolog.Level, _ string) {
	if level < zerolog.ErrorLevel {
		return
	}

	arr := zerolog.Arr()
	for _, s := range traces(4) {
		arr.Dict(zerolog.Dict().
			Int("line", s.Line).
			Str("file", s.File).
			Str("function", s.Function),
		)
	}
	e.Array("stack", arr)
}

type stackFrame struct {
	Line     int
	File     string
	Function string
}

func traces(skip int) []stackFrame {
	const depth = 64
	var pcs [depth]uintptr
	n := runtime.Callers(skip, pcs[:])
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	out := make([]stackFrame, 0, maxStackFrames)
	for len(out) < maxStackFrames {
		frame, more := frames.Next()
		if !isInternalFrame(frame.Function) {
			out = append(out, stackFrame{
				Line:     frame.Line,
				File:     frame.File,
				Function: frame.Function,
			})
		}
		if !more {
			break
		}
	}

	return out
}

func isInternalFrame(fn string) bool {
	return strings.HasPrefix(fn, "runtime.") ||
		strings.HasPrefix(fn, "github.com/rs/zerolog")
}
