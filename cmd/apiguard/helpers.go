package main

// ---------------------------------------------------------------------------
// helpers.go — TTY detection, color, logger construction
// ---------------------------------------------------------------------------

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/mariia-hub/apiguard/internal/core"
)

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func colorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return isTTY(os.Stderr)
}

func ansi(code, s string) string {
	if !colorEnabled() {
		return s
	}
	return code + s + "\033[0m"
}

func red(s string) string    { return ansi("\033[91m", s) }
func green(s string) string  { return ansi("\033[32m", s) }
func yellow(s string) string { return ansi("\033[93m", s) }
func bold(s string) string   { return ansi("\033[1m", s) }

// buildLogger constructs the process logger from the logging config. When a
// ring buffer is given, every line is also captured for the /logs endpoint.
func buildLogger(cfg *core.Config, buf *core.LogRingBuffer) zerolog.Logger {
	var out io.Writer = os.Stdout
	if buf != nil {
		out = buf.MultiWriter(os.Stdout)
	}

	var logger zerolog.Logger
	if cfg.Logging.Format == "json" {
		logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}

	switch cfg.LogLevel() {
	case "debug":
		logger = logger.Level(zerolog.DebugLevel)
	case "warn":
		logger = logger.Level(zerolog.WarnLevel)
	case "error":
		logger = logger.Level(zerolog.ErrorLevel)
	default:
		logger = logger.Level(zerolog.InfoLevel)
	}
	return logger
}
