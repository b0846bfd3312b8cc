package logging

import (
	"log/slog"
	"os"

	"github.com/pion/logging"
)

// Level resolves LOG_LEVEL into a slog level; production defaults to info.
func Level() slog.Level {
	level := slog.LevelInfo

	if l, ok := os.LookupEnv("LOG_LEVEL"); ok {
		switch l {
		case "dev", "development", "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn", "warning":
			level = slog.LevelWarn
		case "error", "production", "prod":
			level = slog.LevelError
		}
	}
	return level
}

func Init() {
	logger := slog.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: Level(),
		}),
	)
	slog.SetDefault(logger)
}

// PionLoggerFactory returns a pion logger factory whose default level tracks LOG_LEVEL.
// pion is chatty at debug, so it is kept one notch quieter than our own logs.
func PionLoggerFactory() logging.LoggerFactory {
	f := logging.NewDefaultLoggerFactory()
	switch Level() {
	case slog.LevelDebug:
		f.DefaultLogLevel = logging.LogLevelInfo
	case slog.LevelInfo, slog.LevelWarn:
		f.DefaultLogLevel = logging.LogLevelWarn
	default:
		f.DefaultLogLevel = logging.LogLevelError
	}
	return f
}
