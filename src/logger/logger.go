package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"lob-engine/src/config"
)

var Logger zerolog.Logger
var logFile *os.File

// Init configures the global zerolog logger. It writes to stdout, and also
// to cfg.File when one is set and can be opened.
func Init(cfg config.LoggingConfig) zerolog.Logger {
	return initTo(cfg, os.Stdout)
}

func initTo(cfg config.LoggingConfig, stdout io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	Close()
	var openErr error
	if cfg.File != "" && cfg.File != "none" && cfg.File != "disabled" {
		logFile, openErr = os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if openErr != nil {
			logFile = nil
		}
	}

	var writers []io.Writer
	if cfg.Format == "pretty" {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		writers = append(writers, stdout)
	}
	if logFile != nil {
		writers = append(writers, logFile)
	}

	Logger = zerolog.New(io.MultiWriter(writers...)).With().
		Timestamp().
		Logger()
	log.Logger = Logger

	if openErr != nil {
		Logger.Error().Err(openErr).Str("log_file", cfg.File).Msg("Failed to open log file, using stdout only")
	}
	if logFile != nil {
		Logger.Info().
			Str("log_file", cfg.File).
			Str("log_level", level.String()).
			Msg("Logger initialized - writing to console and file")
	} else {
		Logger.Info().
			Str("log_level", level.String()).
			Msg("Logger initialized - writing to console only")
	}
	return Logger
}

func Close() {
	if logFile != nil {
		_ = logFile.Sync()
		_ = logFile.Close()
		logFile = nil
	}
}

// Component returns the global logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}
