package overlay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gg/recording"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/overlay/composite"
	"github.com/gogpu/overlay/frame"
	"github.com/gogpu/overlay/overlays"
	"github.com/gogpu/overlay/shutdown"
	"github.com/gogpu/overlay/surface"
	"github.com/gogpu/overlay/worker"
)

// System is one overlay instance: a worker loop producing frames, the frame
// slot, the surface manager, the overlay registry and the shutdown
// sequencer.
type System struct {
	view      View
	settings  atomic.Pointer[Settings]
	provider  gpucontext.DeviceProvider
	submitter Submitter

	loop      *worker.Loop
	slot      *frame.Slot
	surfaces  *surface.Manager
	graveyard *surface.Graveyard
	registry  *overlays.Registry
	seq       *shutdown.Sequencer

	startOnce sync.Once
	pipeline  atomic.Pointer[composite.Pipeline]

	// Worker goroutine only.
	width, height int
	pendingSurf   *surface.Surface
	pendingRec    *recording.Recorder

	// Coalesced worker requests.
	invalidated atomic.Bool
	inputQueued atomic.Bool
	tickNanos   atomic.Int64
	mouse       atomic.Pointer[[2]float64]

	// Last presented surface. Written under presentMu so that a frame
	// presented while releaseGPU runs is not retained past it.
	presentMu   sync.Mutex
	presented   atomic.Pointer[surface.Surface]
	gpuReleased bool

	// Render thread only.
	lastMouse [2]float64

	stats counters
}

// New creates a stopped system. Call Start to run the worker.
func New(opts ...Option) (*System, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	format := o.format
	if format == gputypes.TextureFormatUndefined && o.provider != nil {
		format = o.provider.SurfaceFormat()
	}
	if format == gputypes.TextureFormatUndefined {
		format = gputypes.TextureFormatRGBA8Unorm
	}
	switch format {
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb,
		gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb:
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, format)
	}

	s := &System{
		view:      o.view,
		provider:  o.provider,
		submitter: o.submitter,
		slot:      frame.NewSlot(),
		graveyard: surface.NewGraveyard(),
		registry:  overlays.NewRegistry(),
	}
	if s.submitter == nil {
		s.submitter = composite.NewSubmitter("")
	}
	settings := DefaultSettings()
	if o.settings != nil {
		settings = *o.settings
	}
	if o.submitter == nil && settings.Backend != "" {
		s.submitter = composite.NewSubmitter(settings.Backend)
	}
	s.settings.Store(&settings)

	s.surfaces = surface.NewManager(format, s.graveyard)
	s.loop = worker.New(worker.WithPanicHandler(s.onWorkerPanic))
	s.seq = shutdown.New(s.loop, s.slot, s.surfaces, func() shutdown.Config {
		return s.Settings().shutdownConfig()
	})
	s.seq.OnStopped(s.releaseGPU)
	return s, nil
}

// Start runs the worker loop and schedules the first draw pass. When a
// device provider was given, the composite shader is prepared on its
// device; failure to do so is logged and the system runs without it.
func (s *System) Start() error {
	if s.seq.State() != shutdown.Running {
		return ErrStopped
	}
	err := ErrAlreadyStarted
	s.startOnce.Do(func() {
		err = nil
		if s.provider != nil {
			p, perr := composite.Prepare(s.provider)
			if perr != nil {
				Logger().Warn("overlay: composite pipeline unavailable", "err", perr)
			} else {
				s.pipeline.Store(p)
			}
		}
		s.loop.Start()
		Logger().Info("overlay: started", "format", s.surfaces.Format().String())
		s.Invalidate()
	})
	return err
}

// State returns the shutdown state.
func (s *System) State() shutdown.State { return s.seq.State() }

// Surfaces returns the surface manager.
func (s *System) Surfaces() *surface.Manager { return s.surfaces }

// Pipeline returns the composite pipeline prepared on the host device, or
// nil if none is available.
func (s *System) Pipeline() *composite.Pipeline { return s.pipeline.Load() }

// Post runs fn on the worker goroutine.
func (s *System) Post(fn func()) error { return s.loop.Post(fn) }

// RegisterOverlay queues h for addition to the live overlay list and
// returns its ID. Safe from any goroutine.
func (s *System) RegisterOverlay(h overlays.Handler) overlays.ID {
	return s.registry.Register(h)
}

// UnregisterOverlay queues the removal of id. It reports whether id was
// registered.
func (s *System) UnregisterOverlay(id overlays.ID) bool {
	return s.registry.Unregister(id)
}

// NotifyOverlayUpdated queues a re-read of the handler state for id.
func (s *System) NotifyOverlayUpdated(id overlays.ID) bool {
	return s.registry.NotifyUpdated(id)
}

// Shutdown stops the system and waits until it is stopped or ctx is done.
// It drains deferred textures when finished, so call it from the host
// render thread; from other goroutines use OnHostShutdownRequested.
func (s *System) Shutdown(ctx context.Context) error {
	if err := s.seq.Shutdown(ctx); err != nil {
		return err
	}
	s.graveyard.Drain()
	return nil
}

// OnHostShutdownRequested starts shutdown in the background and returns a
// channel closed once the system is stopped. The host should keep ticking
// until then so that a frame already published can be drained.
func (s *System) OnHostShutdownRequested() <-chan struct{} {
	go func() {
		if err := s.seq.Shutdown(context.Background()); err != nil {
			Logger().Warn("overlay: shutdown failed", "err", err)
		}
	}()
	return s.seq.Done()
}

// releaseGPU runs once the worker has stopped.
func (s *System) releaseGPU() {
	s.presentMu.Lock()
	s.gpuReleased = true
	old := s.presented.Swap(nil)
	s.presentMu.Unlock()
	if old != nil {
		old.Release()
	}
	if p := s.pipeline.Swap(nil); p != nil {
		p.Release()
	}
}

func (s *System) onWorkerPanic(p *worker.PanicError) {
	s.stats.panics.Add(1)
	if s.Settings().Debug {
		Logger().Error("overlay: worker panic, debug mode keeps running", "err", p)
		return
	}
	Logger().Error("overlay: worker panic, shutting down", "err", p)
	go func() {
		if err := s.seq.Shutdown(context.Background()); err != nil {
			Logger().Warn("overlay: shutdown after panic failed", "err", err)
		}
	}()
}
