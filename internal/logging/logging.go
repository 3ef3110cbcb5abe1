package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/phsym/console-slog"
	slogmulti "github.com/samber/slog-multi"

	"github.com/agenthands/entitynet/internal/config"
)

// Preinit installs a console logger usable before configuration is loaded.
func Preinit() {
	slog.SetDefault(slog.New(console.NewHandler(os.Stderr, &console.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelDebug,
	})))
}

// Init builds the process logger from cfg and makes it the default.
func Init(cfg config.LogConfig) (*slog.Logger, error) {
	logger, err := New(cfg, os.Stderr, os.Stdout)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return logger, nil
}

// New writes human-readable records to stderr, or JSON records to jsonOut.
// Errors always reach stderr so they stay visible when JSON goes to a collector.
func New(cfg config.LogConfig, stderr, jsonOut io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	router := slogmulti.Router()
	switch cfg.Format {
	case "json":
		router = router.Add(slog.NewJSONHandler(jsonOut, &slog.HandlerOptions{Level: level}))
		router = router.Add(
			console.NewHandler(stderr, &console.HandlerOptions{Level: slog.LevelError}),
			func(_ context.Context, r slog.Record) bool { return r.Level >= slog.LevelError },
		)
	default:
		router = router.Add(console.NewHandler(stderr, &console.HandlerOptions{
			AddSource: level == slog.LevelDebug,
			Level:     level,
		}))
	}

	return slog.New(router.Handler()), nil
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
