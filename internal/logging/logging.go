package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects where logs go. Zero values fall back to LOG_LEVEL and
// LOG_FILE from the environment.
type Options struct {
	Level string
	File  string
}

// ParseLevel maps the LOG_LEVEL vocabulary onto slog levels. Unknown names
// give the production default, errors only.
func ParseLevel(l string) slog.Level {
	switch l {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// Init installs the default logger. With a log file configured, records go
// to stderr and to a size-rotated file.
func Init(opts Options) io.Closer {
	if opts.Level == "" {
		opts.Level = os.Getenv("LOG_LEVEL")
	}
	if opts.File == "" {
		opts.File = os.Getenv("LOG_FILE")
	}

	var out io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		rotated := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     14,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stderr, rotated)
		closer = rotated
	}

	logger := slog.New(
		slog.NewTextHandler(out, &slog.HandlerOptions{
			Level: ParseLevel(opts.Level),
		}),
	)
	slog.SetDefault(logger)
	return closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
