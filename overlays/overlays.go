// Package overlays keeps the list of auxiliary draw handlers that paint
// directly with host primitives after the recorded frame is composited.
//
// Handlers are registered, unregistered and re-synchronized from any
// goroutine. Each call only enqueues an [Op]; the queue is applied in FIFO
// order by [Registry.Apply], which the frame consumer runs at the swap
// boundary while holding the frame slot lock. Between two swaps the live
// list does not change, so the overlay draw pass can iterate it without
// locking.
//
// Handlers are referred to by an [ID] (arena index plus generation). An ID
// that has been unregistered never resolves again, even after its index is
// reused.
package overlays

import (
	"fmt"
	"time"

	"github.com/gogpu/gpucontext"
)

// State is the host-observable state of a handler.
type State struct {
	Visible bool
	Opacity float32

	// Position and logical size in host pixels.
	X, Y          float32
	Width, Height float32
}

// DrawContext carries the host primitives for one overlay draw call.
type DrawContext struct {
	// Drawer draws textures into the host target. Its TextureCreator
	// creates the textures a handler draws.
	Drawer gpucontext.TextureDrawer

	// State is the handler state as of the last swap.
	State State

	MouseX, MouseY float64
	Delta          time.Duration
}

// Handler is an overlay draw callback.
type Handler interface {
	// State returns the current host-observable state. It is read when the
	// handler is added and on every applied update.
	State() State

	// DrawOverlay paints the handler. It runs on the host render thread.
	DrawOverlay(dc *DrawContext) error
}

// ID identifies a registered handler.
type ID struct {
	index uint32
	gen   uint32
}

// IsValid reports whether id was returned by Register. It does not report
// whether the handler is still registered.
func (id ID) IsValid() bool { return id.gen != 0 }

func (id ID) String() string {
	if !id.IsValid() {
		return "overlay(invalid)"
	}
	return fmt.Sprintf("overlay(%d.%d)", id.index, id.gen)
}

// OpKind is the kind of a pending operation.
type OpKind uint8

const (
	OpAdd OpKind = iota
	OpRemove
	OpUpdate
)

func (k OpKind) String() string {
	switch k {
	case OpAdd:
		return "Add"
	case OpRemove:
		return "Remove"
	case OpUpdate:
		return "Update"
	default:
		return fmt.Sprintf("OpKind(%d)", uint8(k))
	}
}

// Op is one pending registry mutation.
type Op struct {
	Kind    OpKind
	ID      ID
	Handler Handler
}

// Entry is one element of the live list.
type Entry struct {
	ID      ID
	Handler Handler
	State   State
}
