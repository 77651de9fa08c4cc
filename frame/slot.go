// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package frame

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/overlay/internal/logging"
	"github.com/gogpu/overlay/surface"
)

// Counts is a snapshot of slot activity.
type Counts struct {
	Published uint64 // pairs stored by Publish
	Consumed  uint64 // pairs taken by Consume
	Abandoned uint64 // pairs released by a failed Publish or by Close
}

// Slot is a depth-one handoff between one producer and one consumer.
//
// The zero value is not usable; create slots with NewSlot.
type Slot struct {
	mu   sync.Mutex
	cond *sync.Cond

	task    *Task
	surf    *surface.Surface
	taken   *Task // last task handed to the consumer
	sealed  bool
	closed  bool
	waiters int

	counts Counts
}

// NewSlot creates an empty, open slot.
func NewSlot() *Slot {
	s := &Slot{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Publish stores (task, surf) in the slot and then waits until the
// consumer has taken it. Ownership of one reference to each is transferred
// to the slot; when Publish fails before the pair is stored, or withdraws it
// again, both are released before Publish returns.
//
// A pair left by another producer is waited out before storing. The wait
// ends when the consumer takes the pair (nil), when the slot is sealed or
// closed (ErrClosed), or when ctx is done. A sealed slot keeps a stored pair
// for the consumer to drain; a done ctx withdraws it. A ctx deadline yields
// ErrPublishTimeout; cancellation yields the wrapped context error.
func (s *Slot) Publish(ctx context.Context, task *Task, surf *surface.Surface) error {
	if task == nil {
		if surf != nil {
			surf.Release()
		}
		return ErrNilTask
	}

	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	for s.task != nil && !s.sealed && ctx.Err() == nil {
		s.wait()
	}
	if s.sealed || s.task != nil {
		closed := s.sealed
		s.counts.Abandoned++
		s.mu.Unlock()
		releasePair(task, surf)
		if closed {
			return ErrClosed
		}
		return publishError(task, ctx.Err())
	}

	s.task, s.surf = task, surf
	s.counts.Published++
	for s.task == task && !s.sealed && ctx.Err() == nil {
		s.wait()
	}

	switch {
	case s.task != task && s.taken == task:
		s.mu.Unlock()
		return nil
	case s.task != task:
		// Released by Close.
		s.mu.Unlock()
		return ErrClosed
	case s.sealed:
		// Left in place for the shutdown drain.
		s.mu.Unlock()
		return ErrClosed
	}

	s.task, s.surf = nil, nil
	s.counts.Abandoned++
	s.cond.Broadcast()
	s.mu.Unlock()
	releasePair(task, surf)
	return publishError(task, ctx.Err())
}

// wait blocks on the condition variable. s.mu must be held.
func (s *Slot) wait() {
	s.waiters++
	s.cond.Wait()
	s.waiters--
}

func publishError(task *Task, err error) error {
	logging.L().Warn("frame: publish abandoned", "seq", task.seq, "err", err)
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrPublishTimeout
	}
	return fmt.Errorf("frame: publish cancelled: %w", err)
}

// Consume takes the stored pair, if any, and leaves the slot empty. drain,
// when non-nil, runs while the slot lock is held, after the pair is taken
// and before a waiting producer is woken. Consume never blocks on the
// producer; with nothing stored it returns (nil, nil).
//
// The caller owns the returned references.
func (s *Slot) Consume(drain func()) (*Task, *surface.Surface) {
	s.mu.Lock()
	task, surf := s.task, s.surf
	s.task, s.surf = nil, nil
	if task != nil {
		s.taken = task
		s.counts.Consumed++
	}
	if drain != nil {
		drain()
	}
	s.cond.Broadcast()
	s.mu.Unlock()
	return task, surf
}

// WaitEmpty waits until the slot holds no pair or is closed, or ctx is done.
// It reports whether the slot ended up empty.
func (s *Slot) WaitEmpty(ctx context.Context) bool {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for s.task != nil && !s.closed && ctx.Err() == nil {
		s.cond.Wait()
	}
	return s.task == nil
}

// Seal makes every current and future Publish fail with ErrClosed while
// leaving a stored pair in place for the consumer to take.
func (s *Slot) Seal() {
	s.mu.Lock()
	s.sealed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Sealed reports whether Seal or Close has been called.
func (s *Slot) Sealed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sealed
}

// Close seals the slot, wakes every waiter, and releases a stored pair.
// Only the first call has any effect.
func (s *Slot) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.sealed = true
	s.closed = true
	task, surf := s.task, s.surf
	s.task, s.surf = nil, nil
	if task != nil {
		s.counts.Abandoned++
	}
	s.cond.Broadcast()
	s.mu.Unlock()

	if task != nil {
		logging.L().Debug("frame: released pending frame on close", "seq", task.seq)
		releasePair(task, surf)
	}
}

// Closed reports whether Close has been called.
func (s *Slot) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Pending reports whether a pair is stored.
func (s *Slot) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.task != nil
}

// Waiting returns the number of producers blocked in Publish, either
// waiting to store or waiting for their stored pair to be taken.
func (s *Slot) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiters
}

// Counts returns a snapshot of the slot counters.
func (s *Slot) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts
}

func releasePair(task *Task, surf *surface.Surface) {
	if task != nil {
		task.Release()
	}
	if surf != nil {
		surf.Release()
	}
}
