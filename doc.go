// Package overlay runs a UI overlay for a real-time game host on its own
// worker goroutine and hands finished frames to the host's render thread
// one at a time.
//
// # Overview
//
// The overlay's content (layout, input, animation and draw recording) runs
// on a worker loop pinned to an OS thread, so it never stalls the host's
// frame rate. Each draw pass records gg drawing commands into a
// [recording.Recorder] bound to a reference-counted surface and publishes the
// result into a depth-one frame slot. The host calls [System.OnHostTick]
// once per frame; the tick takes whatever frame is ready, renders it into the
// surface texture, composites it into the host target, and then lets
// auxiliary overlay handlers draw with host primitives.
//
// # Quick Start
//
//	sys, err := overlay.New(overlay.WithView(myView))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sys.Start()
//	sys.OnHostResize(1280, 720)
//
//	// in the host's render callback
//	sys.OnHostTick(mouseX, mouseY, dt, drawContext)
//
//	// on exit
//	sys.Shutdown(context.Background())
//
// # Backpressure
//
// The slot holds at most one frame. A second [System.EndFrame] waits until
// the host has taken the first, which ties the worker's frame rate to the
// host's tick rate. By default the wait has no timeout; set
// [Settings.PublishTimeout] to drop the frame instead when the host stops
// ticking.
//
// # Overlay handlers
//
// [System.RegisterOverlay], [System.UnregisterOverlay] and
// [System.NotifyOverlayUpdated] may be called from any goroutine. They are
// queued and take effect at the next frame swap, so the live handler list
// never changes while it is being drawn.
//
// # Shutdown
//
// [System.Shutdown] and [System.OnHostShutdownRequested] stop the worker,
// give the host one more tick to take a frame that was already published,
// and release the last surface exactly once. Worker panics are recovered
// and, unless [Settings.Debug] is set, schedule the same shutdown.
//
// # Threading
//
// BeginFrame, EndFrame and [View] methods run on the worker. OnHostTick and
// ConsumeFrame run on the host render thread. Everything else is safe from
// any goroutine.
package overlay
