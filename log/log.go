package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/xeptore/trackfetch/config"
	"github.com/xeptore/trackfetch/constants"
)

func FromConfig(conf config.Log) zerolog.Logger {
	level, err := zerolog.ParseLevel(conf.Level)
	if nil != err {
		panic("invalid logging level: " + conf.Level)
	}

	switch strings.ToLower(conf.Format) {
	case "json":
		return newLogger(os.Stderr, level)
	case "pretty":
		return newLogger(prettyWriter(), level)
	default:
		panic("invalid logging format: " + conf.Format)
	}
}

// NewDefault is used before the config is loaded. Pretty output is only used
// when stderr is attached to a terminal.
func NewDefault() zerolog.Logger {
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		return newLogger(prettyWriter(), zerolog.InfoLevel)
	}

	return newLogger(os.Stderr, zerolog.InfoLevel)
}

func prettyWriter() io.Writer {
	return zerolog.ConsoleWriter{ //nolint:exhaustruct
		Out:          os.Stderr,
		TimeFormat:   time.RFC3339,
		TimeLocation: time.UTC,
		NoColor:      !isatty.IsTerminal(os.Stderr.Fd()),
	}
}

func newLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.
		New(w).
		Hook(&stackHook{}).
		With().
		Timestamp().
		Str("version", constants.Version).
		Str("compile_time", constants.CompileTime).
		Logger().
		Level(level)
}
