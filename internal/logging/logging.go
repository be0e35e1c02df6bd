// Package logging nastavuje slog pro všechny služby.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ParseLevel převede LOG_LEVEL (debug/info/warn/error) na slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// New vytvoří JSON logger (standard pro kontejnery) zapisující do w.
// Neznámá úroveň spadne na info, aby kvůli překlepu služba nezmlkla.
func New(w io.Writer, level, service string) *slog.Logger {
	lvl, err := ParseLevel(level)
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})).With("service", service)
	if err != nil {
		logger.Warn("Neznámý LOG_LEVEL, používám info", "level", level)
	}
	return logger
}
