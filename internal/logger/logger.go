package logger

import (
	"io"
	"os"
	"time"

	"github.com/eslam5464/JiraHub/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// New builds the process logger: human-readable console output in dev, JSON
// elsewhere, at the configured level. Dev never filters below debug.
func New(cfg config.Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil { lvl = zerolog.InfoLevel }

	var out io.Writer = os.Stdout
	if cfg.AppEnv == "dev" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		if lvl > zerolog.DebugLevel { lvl = zerolog.DebugLevel }
	}

	logger := zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}
