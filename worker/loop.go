// Package worker provides the UI worker's message loop: a single goroutine,
// locked to its OS thread, that runs posted functions one at a time in FIFO
// order.
//
// Layout, input dispatch, animation and draw recording all run as messages on
// one Loop. Nothing else touches the view state, so it needs no locking.
package worker

import (
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/overlay/internal/logging"
)

var (
	// ErrNotAccepting is returned by Post after Quit.
	ErrNotAccepting = errors.New("worker: loop is not accepting messages")

	// ErrAlreadyRunning is returned by Run when the loop was already started.
	ErrAlreadyRunning = errors.New("worker: loop already running")

	// ErrJoinTimeout is returned by Join when the loop did not exit in time.
	ErrJoinTimeout = errors.New("worker: join timed out")
)

// PanicError is a panic recovered from a posted function.
type PanicError struct {
	Value any
	Stack string
	Time  time.Time
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("worker: panic: %v", e.Value)
}

// Unwrap returns the panic value if it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Option configures a Loop.
type Option func(*Loop)

// WithPanicHandler sets fn to receive panics recovered on the loop. The loop
// keeps running after a panic; fn decides whether to shut it down. fn runs
// on the loop goroutine.
func WithPanicHandler(fn func(*PanicError)) Option {
	return func(l *Loop) {
		l.onPanic = fn
	}
}

// Loop is a single-consumer message loop.
type Loop struct {
	mu        sync.Mutex
	queue     []func()
	accepting bool

	wake    chan struct{}
	done    chan struct{}
	started atomic.Bool
	quit    sync.Once
	exiting bool // loop goroutine only

	executed atomic.Uint64
	panics   atomic.Uint64
	onPanic  func(*PanicError)
}

// New creates a loop that accepts messages but does not run them until Run
// or Start is called.
func New(opts ...Option) *Loop {
	l := &Loop{
		accepting: true,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start runs the loop on a new goroutine. The loop counts as started as
// soon as Start returns, so a following Join waits for it.
func (l *Loop) Start() {
	if !l.started.CompareAndSwap(false, true) {
		logging.L().Error("worker: loop failed to start", "err", ErrAlreadyRunning)
		return
	}
	go l.loop()
}

// Run runs the loop on the calling goroutine, locked to its OS thread,
// until the quit message posted by Quit has executed.
func (l *Loop) Run() error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	l.loop()
	return nil
}

func (l *Loop) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(l.done)

	logging.L().Info("worker: loop started")
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for i, fn := range batch {
			l.run(fn)
			if l.exiting {
				l.discard(len(batch) - i - 1)
				logging.L().Info("worker: loop exited", "executed", l.executed.Load())
				return
			}
		}
		if len(batch) == 0 {
			<-l.wake
		}
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		l.panics.Add(1)
		perr := &PanicError{Value: r, Stack: string(debug.Stack()), Time: time.Now()}
		logging.L().Error("worker: recovered panic", "value", r, "stack", perr.Stack)
		if l.onPanic != nil {
			l.onPanic(perr)
		}
	}()
	l.executed.Add(1)
	fn()
}

// discard drops messages left behind the quit message.
func (l *Loop) discard(n int) {
	l.mu.Lock()
	n += len(l.queue)
	l.queue = nil
	l.mu.Unlock()
	if n > 0 {
		logging.L().Debug("worker: dropped messages after quit", "count", n)
	}
}

func (l *Loop) push(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Post enqueues fn. It never blocks.
func (l *Loop) Post(fn func()) error {
	if fn == nil {
		return nil
	}
	l.mu.Lock()
	if !l.accepting {
		l.mu.Unlock()
		return ErrNotAccepting
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// PostDelayed enqueues fn after d. The returned function cancels the delayed
// post and reports whether it was still pending. If the loop stops accepting
// before d elapses, fn is dropped.
func (l *Loop) PostDelayed(d time.Duration, fn func()) (cancel func() bool, err error) {
	if !l.Accepting() {
		return func() bool { return false }, ErrNotAccepting
	}
	t := time.AfterFunc(d, func() {
		if err := l.Post(fn); err != nil {
			logging.L().Debug("worker: delayed message dropped", "err", err)
		}
	})
	return t.Stop, nil
}

// Quit stops accepting messages and, after grace, posts the message that
// ends the loop. Messages posted before Quit still run if they are queued
// before the quit message. Only the first call has any effect.
func (l *Loop) Quit(grace time.Duration) {
	l.quit.Do(func() {
		l.mu.Lock()
		l.accepting = false
		l.mu.Unlock()

		exit := func() { l.exiting = true }
		if grace <= 0 {
			l.push(exit)
			return
		}
		time.AfterFunc(grace, func() { l.push(exit) })
	})
}

// Accepting reports whether Post accepts messages.
func (l *Loop) Accepting() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accepting
}

// Done is closed when the loop exits.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Started reports whether Start or Run has been called.
func (l *Loop) Started() bool { return l.started.Load() }

// Join waits up to timeout for the loop to exit. A loop that was never
// started is joined immediately.
func (l *Loop) Join(timeout time.Duration) error {
	if !l.started.Load() {
		return nil
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-l.done:
		return nil
	case <-t.C:
		return fmt.Errorf("%w after %v", ErrJoinTimeout, timeout)
	}
}

// Executed returns the number of messages run so far.
func (l *Loop) Executed() uint64 { return l.executed.Load() }

// Panics returns the number of recovered panics.
func (l *Loop) Panics() uint64 { return l.panics.Load() }
