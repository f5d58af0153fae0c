// Package logger configures the process-wide zerolog logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config controls level, encoding and destination of log output.
type Config struct {
	Level    string
	Format   string // json | console
	Output   string // stdout | stderr | file
	FilePath string
}

// Init configures the global zerolog logger and returns it. The returned closer
// releases the log file when Output is "file" and is a no-op otherwise.
func Init(cfg Config) (zerolog.Logger, func() error, error) {
	noop := func() error { return nil }

	levelName := strings.ToLower(strings.TrimSpace(cfg.Level))
	if levelName == "" {
		levelName = "info"
	}
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		return zerolog.Nop(), noop, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var (
		output io.Writer
		closer = noop
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "", "stderr":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	case "file":
		if strings.TrimSpace(cfg.FilePath) == "" {
			return zerolog.Nop(), noop, fmt.Errorf("log output file requires a file path")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return zerolog.Nop(), noop, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), noop, fmt.Errorf("open log file %q: %w", cfg.FilePath, err)
		}
		output = f
		closer = f.Close
	default:
		return zerolog.Nop(), noop, fmt.Errorf("unsupported log output %q", cfg.Output)
	}

	if strings.EqualFold(strings.TrimSpace(cfg.Format), "console") {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	l := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = l
	return l, closer, nil
}
