//go:build linux

package options

import (
	"fmt"
	"log/slog"
)

// parseLogLevel maps the --debug flag's level names onto slog levels.
func parseLogLevel(s string) (slog.Level, error) {
	switch s {
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	case "debug":
		return slog.LevelDebug, nil
	default:
		return slog.LevelError, fmt.Errorf("unknown log level: %q", s)
	}
}
