package app

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"iptracker/internal/support"
)

// configureLogging sets the level from LOG_LEVEL and, when LOG_FILE is set,
// copies output into a rotating file. The returned closer flushes that file.
func configureLogging(production bool) io.Closer {
	level := log.DebugLevel
	if production {
		level = log.InfoLevel
	}
	if raw := support.GetEnv("LOG_LEVEL", ""); raw != "" {
		parsed, err := log.ParseLevel(strings.ToLower(raw))
		if err != nil {
			log.Warn("invalid LOG_LEVEL, keeping default", "value", raw, "default", level)
		} else {
			level = parsed
		}
	}
	log.SetLevel(level)
	log.SetReportTimestamp(true)

	path := support.GetEnv("LOG_FILE", "")
	if path == "" {
		return nopCloser{}
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    support.GetEnvInt("LOG_MAX_SIZE_MB", 100),
		MaxBackups: support.GetEnvInt("LOG_MAX_BACKUPS", 5),
		MaxAge:     support.GetEnvInt("LOG_MAX_AGE_DAYS", 28),
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotator))
	log.Info("Logging to file", "path", path)
	return rotator
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
