package overlay

import (
	"log/slog"

	"github.com/gogpu/overlay/internal/logging"
)

// SetLogger configures the logger for overlay and all its sub-packages.
// By default overlay produces no log output.
//
// SetLogger is safe for concurrent use: the worker goroutine and the host
// render thread pick up the new logger on their next log call.
// Pass nil to restore the silent default.
//
// Log levels used by overlay:
//   - [slog.LevelDebug]: per-frame diagnostics (surface allocation, deferred texture destruction)
//   - [slog.LevelInfo]: lifecycle events (worker started, shutdown phases)
//   - [slog.LevelWarn]: dropped frames, submission failures, shutdown timeouts
//   - [slog.LevelError]: panics recovered on the worker goroutine
//
// Example:
//
//	overlay.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	logging.Set(l)
}

// Logger returns the current logger used by overlay.
func Logger() *slog.Logger {
	return logging.L()
}
