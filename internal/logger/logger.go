// Package logger configures the process-wide zerolog logger. All sinks are
// wrapped in a redactor so credential material never reaches disk or a
// terminal, whatever a log call site passes.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger configuration.
type Config struct {
	Level   string // debug, info, warn, error
	Pretty  bool   // console format instead of JSON
	Writer  io.Writer
	Secrets []string // literal values to redact in addition to the defaults
}

// Setup initializes the global logger and returns the redactor so callers
// can register secret values discovered later (e.g. tokens minted at
// runtime).
func Setup(cfg Config) *Redactor {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Protocol frames own stdout; logs go to stderr unless overridden.
	writer := cfg.Writer
	if writer == nil {
		writer = os.Stderr
	}
	if cfg.Pretty {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339}
	}

	redactor := NewRedactor()
	for _, secret := range cfg.Secrets {
		redactor.AddSecret(secret)
	}

	logger := zerolog.New(redactor.Wrap(writer)).
		Level(level).
		With().
		Timestamp().
		Logger()

	log.Logger = logger
	zerolog.DefaultContextLogger = &logger

	return redactor
}
