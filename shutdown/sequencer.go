// Package shutdown stops the overlay in a fixed order so that the last frame
// and the last surface are released exactly once, whether or not a frame was
// in flight when teardown began.
//
// The sequence is:
//
//  1. Running → Stopping: the worker loop stops accepting messages and its
//     quit message is posted after a short grace period.
//  2. The frame slot is sealed and the sequencer waits, bounded, for one
//     more consumer tick to take a pending frame.
//  3. The slot is closed, releasing anything still in it.
//  4. The worker is joined with a bounded timeout. A timeout is logged, not
//     returned: the host must never hang on shutdown.
//  5. The surface manager drops its last reference, hooks run, and the
//     state becomes Stopped.
package shutdown

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/overlay/internal/logging"
)

// State is the sequencer state.
type State int32

const (
	Running State = iota
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	case Stopped:
		return "Stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Default timings.
const (
	DefaultGrace        = 50 * time.Millisecond
	DefaultDrainTimeout = 250 * time.Millisecond
	DefaultJoinTimeout  = time.Second
)

// Config holds the shutdown timings. Zero fields take the defaults.
type Config struct {
	Grace        time.Duration // delay before the worker's quit message
	DrainTimeout time.Duration // wait for a consumer tick to take the last frame
	JoinTimeout  time.Duration // wait for the worker to exit
}

func (c Config) withDefaults() Config {
	if c.Grace <= 0 {
		c.Grace = DefaultGrace
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = DefaultJoinTimeout
	}
	return c
}

// Loop is the worker loop being stopped.
type Loop interface {
	Quit(grace time.Duration)
	Join(timeout time.Duration) error
}

// Slot is the frame slot being drained.
type Slot interface {
	Seal()
	WaitEmpty(ctx context.Context) bool
	Close()
}

// Releaser drops a final reference, such as the surface manager's.
type Releaser interface {
	Close()
}

// Sequencer drives the Running → Stopping → Stopped transition.
type Sequencer struct {
	loop     Loop
	slot     Slot
	surfaces Releaser
	config   func() Config

	state atomic.Int32
	done  chan struct{}

	mu      sync.Mutex
	hooks   []func()
	drained bool
	joinErr error
}

// New creates a sequencer in the Running state. config is read once, when
// Shutdown starts; nil means defaults.
func New(loop Loop, slot Slot, surfaces Releaser, config func() Config) *Sequencer {
	if config == nil {
		config = func() Config { return Config{} }
	}
	return &Sequencer{
		loop:     loop,
		slot:     slot,
		surfaces: surfaces,
		config:   config,
		done:     make(chan struct{}),
	}
}

// OnStopped registers fn to run, in registration order, just before the
// state becomes Stopped.
func (s *Sequencer) OnStopped(fn func()) {
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

// State returns the current state.
func (s *Sequencer) State() State { return State(s.state.Load()) }

// Done is closed once the state is Stopped.
func (s *Sequencer) Done() <-chan struct{} { return s.done }

// Shutdown runs the shutdown sequence. Only the first call performs it;
// later calls wait until it has finished or ctx is done. ctx also bounds the
// drain wait of the first call.
func (s *Sequencer) Shutdown(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(Running), int32(Stopping)) {
		select {
		case <-s.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	cfg := s.config().withDefaults()
	log := logging.L().With("component", "shutdown")
	log.Info("stopping", "grace", cfg.Grace, "drain_timeout", cfg.DrainTimeout, "join_timeout", cfg.JoinTimeout)

	if s.loop != nil {
		s.loop.Quit(cfg.Grace)
	}

	drained := true
	if s.slot != nil {
		s.slot.Seal()
		dctx, cancel := context.WithTimeout(ctx, cfg.DrainTimeout)
		drained = s.slot.WaitEmpty(dctx)
		cancel()
		if !drained {
			log.Warn("pending frame not consumed before drain timeout")
		}
		s.slot.Close()
	}

	var joinErr error
	if s.loop != nil {
		if joinErr = s.loop.Join(cfg.JoinTimeout); joinErr != nil {
			log.Warn("worker did not exit", "err", joinErr)
		}
	}

	if s.surfaces != nil {
		s.surfaces.Close()
	}

	s.mu.Lock()
	s.drained = drained
	s.joinErr = joinErr
	hooks := s.hooks
	s.hooks = nil
	s.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}

	s.state.Store(int32(Stopped))
	close(s.done)
	log.Info("stopped", "drained", drained)
	return nil
}

// Drained reports whether the last pending frame was taken by a consumer
// rather than released by Close. Valid once Stopped.
func (s *Sequencer) Drained() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drained
}

// JoinErr returns the error from joining the worker, if any. Valid once Stopped.
func (s *Sequencer) JoinErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joinErr
}
