package main

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"facegate/internal/config"
)

// newLogger builds the root logger. "auto" uses the console writer only when
// out is a terminal.
func newLogger(c config.LogConfig, out *os.File) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(c.Level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	var w io.Writer = out
	if useConsole(c.Format, out) {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Str("service", "facegate").Logger()
}

func useConsole(format string, out *os.File) bool {
	switch format {
	case "console":
		return true
	case "json":
		return false
	}
	if out == nil {
		return false
	}
	fd := out.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
