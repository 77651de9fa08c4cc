package overlays

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/overlay/internal/logging"
)

// Option configures a Registry.
type Option func(*Registry)

// WithObserver installs fn to be called for every op as Apply applies it.
func WithObserver(fn func(Op)) Option {
	return func(r *Registry) {
		r.observer = fn
	}
}

// Registry is the overlay mutation queue and live list.
type Registry struct {
	// Guarded by mu: the queue and the ID arena.
	mu      sync.Mutex
	pending []Op
	spare   []Op
	gens    []uint32
	free    []uint32

	// Owned by the goroutine that calls Apply.
	live  []Entry
	index map[ID]int

	observer func(Op)
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{index: make(map[ID]int)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register allocates an ID for h and enqueues its addition.
// h becomes visible to Each after the next Apply.
func (r *Registry) Register(h Handler) ID {
	if h == nil {
		return ID{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var idx uint32
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		idx = uint32(len(r.gens))
		r.gens = append(r.gens, 0)
	}
	r.gens[idx]++
	id := ID{index: idx, gen: r.gens[idx]}
	r.pending = append(r.pending, Op{Kind: OpAdd, ID: id, Handler: h})
	return id
}

// Unregister enqueues the removal of id. It returns false if id is not
// currently registered. The ID is retired immediately, so later calls with
// it are no-ops.
func (r *Registry) Unregister(id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.currentLocked(id) {
		return false
	}
	// Bump the generation so the index can be reused without aliasing id.
	r.gens[id.index]++
	r.free = append(r.free, id.index)
	r.pending = append(r.pending, Op{Kind: OpRemove, ID: id})
	return true
}

// NotifyUpdated enqueues a re-read of the handler state for id. It returns
// false if id is not currently registered.
func (r *Registry) NotifyUpdated(id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.currentLocked(id) {
		return false
	}
	r.pending = append(r.pending, Op{Kind: OpUpdate, ID: id})
	return true
}

func (r *Registry) currentLocked(id ID) bool {
	return id.IsValid() && int(id.index) < len(r.gens) && r.gens[id.index] == id.gen
}

// PendingLen returns the number of queued ops.
func (r *Registry) PendingLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Apply drains the queue into the live list in FIFO order and returns the
// number of ops applied. Add inserts (or replaces), Remove deletes and
// Update re-reads the handler state.
//
// Apply must only be called by the frame consumer, at a swap boundary.
func (r *Registry) Apply() int {
	r.mu.Lock()
	ops := r.pending
	r.pending = r.spare[:0]
	r.mu.Unlock()

	for _, op := range ops {
		switch op.Kind {
		case OpAdd:
			e := Entry{ID: op.ID, Handler: op.Handler, State: op.Handler.State()}
			if i, ok := r.index[op.ID]; ok {
				r.live[i] = e
			} else {
				r.index[op.ID] = len(r.live)
				r.live = append(r.live, e)
			}
		case OpRemove:
			i, ok := r.index[op.ID]
			if !ok {
				break
			}
			delete(r.index, op.ID)
			copy(r.live[i:], r.live[i+1:])
			r.live[len(r.live)-1] = Entry{}
			r.live = r.live[:len(r.live)-1]
			for j := i; j < len(r.live); j++ {
				r.index[r.live[j].ID] = j
			}
		case OpUpdate:
			if i, ok := r.index[op.ID]; ok {
				r.live[i].State = r.live[i].Handler.State()
			}
		}
		if r.observer != nil {
			r.observer(op)
		}
	}

	n := len(ops)
	clear(ops)
	r.mu.Lock()
	r.spare = ops[:0]
	r.mu.Unlock()
	if n > 0 {
		logging.L().Debug("overlays: applied ops", "count", n, "live", len(r.live))
	}
	return n
}

// Len returns the number of live handlers.
func (r *Registry) Len() int { return len(r.live) }

// Each calls fn for every live entry in registration order until fn returns
// false. fn must not call Apply.
func (r *Registry) Each(fn func(Entry) bool) {
	for _, e := range r.live {
		if !fn(e) {
			return
		}
	}
}

// Draw calls DrawOverlay on every visible live handler, with base copied
// into each call's context. It returns how many handlers drew successfully
// and the joined handler errors.
func (r *Registry) Draw(base DrawContext) (int, error) {
	var (
		drawn int
		errs  []error
	)
	for _, e := range r.live {
		if !e.State.Visible || e.State.Opacity <= 0 {
			continue
		}
		dc := base
		dc.State = e.State
		if err := e.Handler.DrawOverlay(&dc); err != nil {
			errs = append(errs, fmt.Errorf("overlays: %v: %w", e.ID, err))
			continue
		}
		drawn++
	}
	return drawn, errors.Join(errs...)
}
