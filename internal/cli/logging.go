package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/ubuntu/airquality-ingest/internal/constants"
)

// SetSlog sets the logging level and format for the default logger, writing to stdout.
func SetSlog(level int, jsonLogs bool) {
	slog.SetDefault(slog.New(NewHandler(os.Stdout, level, jsonLogs)))
}

// NewHandler returns a text or JSON handler on w, filtering records below the level matching the verbose flag count.
func NewHandler(w io.Writer, level int, jsonLogs bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: getLevel(level)}
	if jsonLogs {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func getLevel(level int) slog.Level {
	switch level {
	case 0:
		return constants.DefaultLogLevel
	case 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
