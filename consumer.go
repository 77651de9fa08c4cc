package overlay

import (
	"time"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/overlay/composite"
	"github.com/gogpu/overlay/frame"
	"github.com/gogpu/overlay/overlays"
	"github.com/gogpu/overlay/shutdown"
	"github.com/gogpu/overlay/surface"
)

// ConsumeFrame takes the published frame, if any, and applies queued
// overlay operations while the slot is locked. A waiting producer is woken
// before it returns. It never blocks on the producer.
//
// The caller owns the returned references and must release both. Most hosts
// call OnHostTick instead.
func (s *System) ConsumeFrame() (*frame.Task, *surface.Surface) {
	task, surf := s.slot.Consume(func() {
		s.registry.Apply()
		s.stats.overlaysLive.Store(int64(s.registry.Len()))
	})
	return task, surf
}

// OnHostTick is the host's per-frame entry point. It destroys deferred
// textures, forwards input to the worker, presents the ready frame (or the
// retained one) into dc at the origin, and then draws the overlay handlers.
//
// When the composite pipeline is prepared and dc implements
// composite.RenderTarget, frames and overlays are drawn into dc's surface
// view by the pipeline instead of through dc.DrawTexture.
//
// A tick with no frame is not an error. A nil dc consumes and drops the
// frame without drawing.
func (s *System) OnHostTick(mouseX, mouseY float64, dt time.Duration, dc gpucontext.TextureDrawer) {
	s.stats.ticks.Add(1)
	s.graveyard.Drain()

	if s.seq.State() == shutdown.Stopped {
		return
	}

	s.forwardInput(mouseX, mouseY, dt)
	cfg := s.Settings()
	if dc != nil {
		dc = s.compositor(dc)
	}

	task, surf := s.ConsumeFrame()
	switch {
	case task != nil && dc == nil:
		s.stats.dropped.Add(1)
		releaseFrame(task, surf)
		return
	case task != nil:
		s.present(task, surf, dc, cfg)
	case dc == nil:
		return
	case cfg.RetainLastFrame:
		s.redrawPresented(dc)
	}

	drawn, err := s.registry.Draw(overlays.DrawContext{
		Drawer: dc,
		MouseX: mouseX,
		MouseY: mouseY,
		Delta:  dt,
	})
	if err != nil {
		Logger().Warn("overlay: overlay handler failed", "drawn", drawn, "err", err)
	}
}

// compositor returns a composite.Drawer on dc's surface view when the
// pipeline is available and dc exposes one, and dc otherwise.
func (s *System) compositor(dc gpucontext.TextureDrawer) gpucontext.TextureDrawer {
	rt, ok := dc.(composite.RenderTarget)
	if !ok {
		return dc
	}
	p := s.pipeline.Load()
	if p == nil {
		return dc
	}
	if d, ok := p.Drawer(rt); ok {
		return d
	}
	return dc
}

func (s *System) present(task *frame.Task, surf *surface.Surface, dc gpucontext.TextureDrawer, cfg Settings) {
	defer releaseFrame(task, surf)

	if err := task.MarkSubmitted(); err != nil {
		Logger().Error("overlay: frame submitted twice", "seq", task.Seq(), "err", err)
		return
	}
	if surf == nil {
		s.stats.dropped.Add(1)
		return
	}

	tex, err := s.submitter.Submit(task, surf, dc.TextureCreator())
	if err == nil {
		err = dc.DrawTexture(tex, 0, 0)
	}
	if err != nil {
		s.stats.submitFailures.Add(1)
		s.stats.dropped.Add(1)
		Logger().Warn("overlay: frame dropped", "seq", task.Seq(), "err", err)
		return
	}
	s.stats.presented.Add(1)

	if cfg.RetainLastFrame {
		s.setPresented(surf)
	} else {
		s.setPresented(nil)
	}
}

// setPresented retains surf as the last presented frame and releases the
// previous one. Once releaseGPU has run nothing is retained.
func (s *System) setPresented(surf *surface.Surface) {
	s.presentMu.Lock()
	if s.gpuReleased {
		surf = nil
	}
	var old *surface.Surface
	if s.presented.Load() != surf {
		if surf != nil {
			surf.Retain()
		}
		old = s.presented.Swap(surf)
	}
	s.presentMu.Unlock()

	if old != nil {
		old.Release()
	}
}

func (s *System) redrawPresented(dc gpucontext.TextureDrawer) {
	p := s.presented.Load()
	if p == nil {
		return
	}
	tex := p.Texture()
	if tex == nil {
		return
	}
	if err := dc.DrawTexture(tex, 0, 0); err != nil {
		Logger().Warn("overlay: redraw of last frame failed", "err", err)
	}
}

func releaseFrame(task *frame.Task, surf *surface.Surface) {
	if task != nil {
		task.Release()
	}
	if surf != nil {
		surf.Release()
	}
}
