package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Setup builds the process logger and installs it as the slog default. file
// is "stdout", "stderr" or a path opened for appending. The returned closer
// releases the log file and is a no-op for the standard streams.
func Setup(logLevel string, logFile string) (*slog.Logger, io.Closer, error) {
	var logWriter io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	var handlerOptions = &slog.HandlerOptions{Level: getLogLevel(logLevel)}

	switch strings.ToLower(logFile) {
	case "", "stdout":
	case "stderr":
		logWriter = os.Stderr
	default:
		file, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640) // #nosec G304 -- log path is provided via config.
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		logWriter = file
		closer = file
	}

	logger := slog.New(slog.NewTextHandler(logWriter, handlerOptions))
	slog.SetDefault(logger)
	return logger, closer, nil
}

func getLogLevel(logLevel string) slog.Level {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return level
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
