package telemetry

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

type LogConfig struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// Format is text or json.
	Format string
}

// SetupLogger installs the default slog logger writing to w.
func SetupLogger(w io.Writer, c LogConfig) error {
	var lvl slog.Level
	if c.Level == "" {
		c.Level = "info"
	}
	if err := lvl.UnmarshalText([]byte(c.Level)); err != nil {
		return fmt.Errorf("log level %q: %w", c.Level, err)
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	switch strings.ToLower(c.Format) {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return fmt.Errorf("unknown log format %q", c.Format)
	}

	slog.SetDefault(slog.New(h))
	return nil
}
