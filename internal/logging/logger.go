// Package logging configures the global zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init initializes the global logger with configuration from environment variables.
// SIREN_LOG_LEVEL controls the log level: debug, info, warn, error (default: info).
// SIREN_LOG_FORMAT selects console (default) or json output on stderr.
func Init() {
	InitWithWriter(os.Stderr, os.Getenv("SIREN_LOG_LEVEL"), os.Getenv("SIREN_LOG_FORMAT"))
}

// InitWithWriter is Init with explicit settings and destination.
func InitWithWriter(w io.Writer, level, format string) {
	zerolog.SetGlobalLevel(parseLevel(level))

	if strings.EqualFold(format, "json") {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: w, NoColor: !isTerminal(w)})
}

// isTerminal reports whether w is an interactive terminal; colour codes are
// only written there.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
