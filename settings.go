package overlay

import (
	"time"

	"github.com/gogpu/gg"

	"github.com/gogpu/overlay/shutdown"
)

// Settings are the runtime options of a System. They are read as a
// snapshot at frame and tick boundaries; changing them with
// [System.SetSettings] affects the next frame or tick, never one in progress.
type Settings struct {
	// ClearColor fills every new frame before the view draws.
	ClearColor gg.RGBA

	// PublishTimeout bounds how long EndFrame waits for the host to take the
	// previous frame. Zero waits until the host ticks or the system stops;
	// a positive value drops the new frame once it elapses.
	PublishTimeout time.Duration

	// Shutdown timings. Zero values take the shutdown package defaults.
	ShutdownGrace time.Duration
	DrainTimeout  time.Duration
	JoinTimeout   time.Duration

	// RetainLastFrame redraws the last presented frame on ticks with no new
	// frame. Without it such ticks draw only the overlay handlers.
	RetainLastFrame bool

	// Debug keeps the worker running after a recovered panic.
	Debug bool

	// Backend is the gg recording backend used to render frames.
	// Empty selects the raster backend.
	Backend string
}

// DefaultSettings returns the settings used when none are given.
func DefaultSettings() Settings {
	return Settings{
		ClearColor:      gg.Transparent,
		ShutdownGrace:   shutdown.DefaultGrace,
		DrainTimeout:    shutdown.DefaultDrainTimeout,
		JoinTimeout:     shutdown.DefaultJoinTimeout,
		RetainLastFrame: true,
	}
}

func (s Settings) shutdownConfig() shutdown.Config {
	return shutdown.Config{
		Grace:        s.ShutdownGrace,
		DrainTimeout: s.DrainTimeout,
		JoinTimeout:  s.JoinTimeout,
	}
}

// Settings returns the current settings snapshot.
func (s *System) Settings() Settings {
	return *s.settings.Load()
}

// SetSettings replaces the settings snapshot.
func (s *System) SetSettings(cfg Settings) {
	s.settings.Store(&cfg)
}
