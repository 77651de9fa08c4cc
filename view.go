package overlay

import (
	"time"

	"github.com/gogpu/gg/recording"
	"github.com/gogpu/gpucontext"
)

// View is the overlay content. All methods run on the worker goroutine.
type View interface {
	// Layout is called before each draw pass with the current host size.
	Layout(width, height int)

	// Draw records the view into rec, which is already cleared.
	Draw(rec *recording.Recorder)
}

// PointerHandler is implemented by views that want host pointer input.
// Pointer moves are coalesced: only the latest position per tick is
// delivered.
type PointerHandler interface {
	HandlePointer(ev gpucontext.PointerEvent)
}

// Ticker is implemented by animated views. Tick receives the host time
// accumulated since the previous call and reports whether the view needs a
// new frame.
type Ticker interface {
	Tick(dt time.Duration) bool
}
