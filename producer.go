package overlay

import (
	"context"
	"errors"
	"time"

	"github.com/gogpu/gg/recording"
	"github.com/gogpu/gpucontext"

	"github.com/gogpu/overlay/frame"
	"github.com/gogpu/overlay/shutdown"
)

// BeginFrame returns a cleared recorder bound to a surface of width x
// height, allocating the surface only when the size changed. It returns nil
// when there is nothing to draw: non-positive dimensions, or a system that
// is no longer running.
//
// BeginFrame runs on the worker goroutine.
func (s *System) BeginFrame(width, height int) *recording.Recorder {
	if width <= 0 || height <= 0 || s.seq.State() != shutdown.Running {
		return nil
	}
	s.dropPending()

	surf, err := s.surfaces.Ensure(width, height)
	if err != nil {
		Logger().Warn("overlay: no surface for frame", "width", width, "height", height, "err", err)
		return nil
	}
	rec := recording.NewRecorder(width, height)
	rec.ClearWithColor(s.Settings().ClearColor)

	s.pendingSurf, s.pendingRec = surf, rec
	return rec
}

// EndFrame finishes rec into a frame task and publishes it, waiting while
// the host has not taken the previous frame. When the system is stopping the
// wait is abandoned, the frame is discarded and frame.ErrClosed is returned.
//
// EndFrame runs on the worker goroutine.
func (s *System) EndFrame(rec *recording.Recorder) error {
	if rec == nil || rec != s.pendingRec {
		return ErrCanvasMismatch
	}
	surf := s.pendingSurf
	s.pendingSurf, s.pendingRec = nil, nil

	task := frame.NewTask(rec.FinishRecording())

	ctx := context.Background()
	if d := s.Settings().PublishTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	start := time.Now()
	err := s.slot.Publish(ctx, task, surf)
	wait := time.Since(start)
	s.stats.producerWait.Add(int64(wait))
	s.stats.lastWait.Store(int64(wait))

	switch {
	case err == nil:
		s.stats.published.Add(1)
		return nil
	case errors.Is(err, frame.ErrClosed):
		Logger().Debug("overlay: draw pass discarded, system stopping")
	default:
		s.stats.dropped.Add(1)
		Logger().Warn("overlay: frame dropped", "wait", wait, "err", err)
	}
	return err
}

// dropPending releases a surface from a BeginFrame that never reached EndFrame.
func (s *System) dropPending() {
	if s.pendingSurf != nil {
		s.pendingSurf.Release()
	}
	s.pendingSurf, s.pendingRec = nil, nil
}

// Invalidate schedules a draw pass on the worker. Calls made before the
// pass runs are coalesced into it.
func (s *System) Invalidate() {
	if !s.invalidated.CompareAndSwap(false, true) {
		return
	}
	if err := s.loop.Post(s.drawPass); err != nil {
		s.invalidated.Store(false)
	}
}

func (s *System) drawPass() {
	s.invalidated.Store(false)
	if s.view == nil {
		return
	}
	w, h := s.width, s.height
	if w <= 0 || h <= 0 {
		return
	}
	s.view.Layout(w, h)
	rec := s.BeginFrame(w, h)
	if rec == nil {
		return
	}
	s.view.Draw(rec)
	_ = s.EndFrame(rec)
}

// OnHostResize forwards the host size to the worker. The next draw pass
// uses it.
func (s *System) OnHostResize(width, height int) {
	err := s.loop.Post(func() {
		if width == s.width && height == s.height {
			return
		}
		s.width, s.height = width, height
		s.Invalidate()
	})
	if err != nil {
		Logger().Debug("overlay: resize ignored", "err", err)
	}
}

// forwardInput hands the latest pointer position and accumulated tick time
// to the worker, coalescing with a delivery that has not run yet.
func (s *System) forwardInput(mouseX, mouseY float64, dt time.Duration) {
	_, wantsPointer := s.view.(PointerHandler)
	_, wantsTick := s.view.(Ticker)
	if !wantsPointer && !wantsTick {
		return
	}
	if wantsTick {
		s.tickNanos.Add(int64(dt))
	}
	moved := false
	if wantsPointer && (mouseX != s.lastMouse[0] || mouseY != s.lastMouse[1]) {
		s.lastMouse = [2]float64{mouseX, mouseY}
		pos := s.lastMouse
		s.mouse.Store(&pos)
		moved = true
	}
	if !moved && !wantsTick {
		return
	}
	if !s.inputQueued.CompareAndSwap(false, true) {
		return
	}
	if err := s.loop.Post(s.deliverInput); err != nil {
		s.inputQueued.Store(false)
	}
}

func (s *System) deliverInput() {
	s.inputQueued.Store(false)
	if ph, ok := s.view.(PointerHandler); ok {
		if pos := s.mouse.Swap(nil); pos != nil {
			ph.HandlePointer(gpucontext.PointerEvent{
				Type:        gpucontext.PointerMove,
				X:           pos[0],
				Y:           pos[1],
				PointerType: gpucontext.PointerTypeMouse,
				IsPrimary:   true,
			})
			s.Invalidate()
		}
	}
	if t, ok := s.view.(Ticker); ok {
		if dt := time.Duration(s.tickNanos.Swap(0)); dt > 0 && t.Tick(dt) {
			s.Invalidate()
		}
	}
}
