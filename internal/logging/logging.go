package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the root logger. format is "console" or "json".
func New(level, format string, w io.Writer) (zerolog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("parse log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", format)
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

// Module returns a child logger tagged with the component name.
func Module(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("module", name).Logger()
}
