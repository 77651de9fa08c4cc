// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package frame

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/overlay/surface"
)

func newTestSurface(t *testing.T, w, h int) (*surface.Manager, *surface.Surface) {
	t.Helper()
	m := surface.NewManager(gputypes.TextureFormatRGBA8Unorm, nil)
	s, err := m.Ensure(w, h)
	if err != nil {
		t.Fatalf("Ensure(%d, %d) error: %v", w, h, err)
	}
	return m, s
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// publishAsync runs Publish on a new goroutine and returns once the pair is
// stored in the slot.
func publishAsync(t *testing.T, s *Slot, ctx context.Context, task *Task, surf *surface.Surface) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- s.Publish(ctx, task, surf) }()
	waitFor(t, "pair to be stored", func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.task == task
	})
	return done
}

// stillBlocked fails if done delivers within d.
func stillBlocked(t *testing.T, what string, done <-chan error, d time.Duration) {
	t.Helper()
	select {
	case err := <-done:
		t.Fatalf("%s returned %v without a consume", what, err)
	case <-time.After(d):
	}
}

// returned waits for done and returns its error.
func returned(t *testing.T, what string, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("%s still blocked", what)
		return nil
	}
}

func TestSlotConsumeEmpty(t *testing.T) {
	s := NewSlot()
	drained := 0
	task, surf := s.Consume(func() { drained++ })
	if task != nil || surf != nil {
		t.Errorf("Consume() on empty slot = (%v, %v), want (nil, nil)", task, surf)
	}
	if drained != 1 {
		t.Errorf("drain ran %d times, want 1", drained)
	}
}

func TestSlotSteadyState(t *testing.T) {
	s := NewSlot()
	_, surfA := newTestSurface(t, 400, 300)
	a := newTestTask(400, 300)

	done := publishAsync(t, s, context.Background(), a, surfA)
	if !s.Pending() {
		t.Fatal("Pending() = false after the pair was stored")
	}
	stillBlocked(t, "Publish(A)", done, 50*time.Millisecond)

	task, surf := s.Consume(nil)
	if task != a || surf != surfA {
		t.Fatal("Consume() did not return the published pair")
	}
	if err := returned(t, "Publish(A)", done); err != nil {
		t.Fatalf("Publish(A) error: %v", err)
	}
	if s.Pending() {
		t.Error("slot not empty after Consume")
	}
	task.Release()
	surf.Release()

	c := s.Counts()
	if c.Published != 1 || c.Consumed != 1 || c.Abandoned != 0 {
		t.Errorf("Counts() = %+v, want 1 published, 1 consumed", c)
	}
}

func TestSlotBackpressure(t *testing.T) {
	s := NewSlot()
	first := newTestTask(4, 4)
	firstDone := publishAsync(t, s, context.Background(), first, nil)

	// A second producer cannot store while the first pair is pending.
	second := newTestTask(4, 4)
	secondDone := make(chan error, 1)
	go func() { secondDone <- s.Publish(context.Background(), second, nil) }()
	waitFor(t, "both publishers to block", func() bool { return s.Waiting() == 2 })
	stillBlocked(t, "second Publish()", secondDone, 50*time.Millisecond)

	got, _ := s.Consume(nil)
	if got != first {
		t.Fatal("Consume() did not return the first task")
	}
	got.Release()
	if err := returned(t, "first Publish()", firstDone); err != nil {
		t.Fatalf("first Publish() error: %v", err)
	}

	waitFor(t, "second pair to be stored", s.Pending)
	got, _ = s.Consume(nil)
	if got != second {
		t.Fatal("second Consume() did not return the second task")
	}
	got.Release()
	if err := returned(t, "second Publish()", secondDone); err != nil {
		t.Fatalf("second Publish() error: %v", err)
	}
}

func TestSlotBoundedQueue(t *testing.T) {
	s := NewSlot()
	const frames = 50

	var (
		mu       sync.Mutex
		maxDepth int
	)
	stopCheck := make(chan struct{})
	checkDone := make(chan struct{})
	go func() {
		defer close(checkDone)
		for {
			select {
			case <-stopCheck:
				return
			default:
			}
			s.mu.Lock()
			depth := 0
			if s.task != nil {
				depth = 1
			}
			s.mu.Unlock()
			mu.Lock()
			maxDepth = max(maxDepth, depth)
			mu.Unlock()
		}
	}()

	published := make(chan error, 1)
	go func() {
		for i := 0; i < frames; i++ {
			if err := s.Publish(context.Background(), newTestTask(2, 2), nil); err != nil {
				published <- err
				return
			}
		}
		published <- nil
	}()

	var lastSeq uint64
	for consumed := 0; consumed < frames; {
		task, _ := s.Consume(nil)
		if task == nil {
			time.Sleep(100 * time.Microsecond)
			continue
		}
		if task.Seq() <= lastSeq {
			t.Errorf("frames out of order: %d after %d", task.Seq(), lastSeq)
		}
		lastSeq = task.Seq()
		task.Release()
		consumed++
	}
	if err := <-published; err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	close(stopCheck)
	<-checkDone

	if maxDepth > 1 {
		t.Errorf("observed slot depth %d, want at most 1", maxDepth)
	}
	if c := s.Counts(); c.Published != frames || c.Consumed != frames {
		t.Errorf("Counts() = %+v, want %d published and consumed", c, frames)
	}
}

func TestSlotPublishTimeout(t *testing.T) {
	s := NewSlot()
	_, surf := newTestSurface(t, 2, 2)
	surf.Retain() // keep it observable after the slot releases its ref
	dropped := newTestTask(2, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Publish(ctx, dropped, surf)
	if !errors.Is(err, ErrPublishTimeout) {
		t.Fatalf("Publish() error = %v, want %v", err, ErrPublishTimeout)
	}
	if s.Pending() {
		t.Error("timed out pair left in the slot")
	}
	if !dropped.Released() {
		t.Error("timed out task was not released")
	}
	if got := surf.Refs(); got != 2 {
		t.Errorf("surface Refs() = %d, want 2 (manager + test)", got)
	}
	if c := s.Counts(); c.Published != 1 || c.Abandoned != 1 {
		t.Errorf("Counts() = %+v, want 1 published, 1 abandoned", c)
	}
	surf.Release()
}

func TestSlotPublishTimeoutWhileOccupied(t *testing.T) {
	s := NewSlot()
	first := newTestTask(2, 2)
	firstDone := publishAsync(t, s, context.Background(), first, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	late := newTestTask(2, 2)
	if err := s.Publish(ctx, late, nil); !errors.Is(err, ErrPublishTimeout) {
		t.Fatalf("Publish() error = %v, want %v", err, ErrPublishTimeout)
	}
	if !late.Released() {
		t.Error("rejected task was not released")
	}

	got, _ := s.Consume(nil)
	if got != first {
		t.Fatal("the pending pair was replaced")
	}
	got.Release()
	if err := returned(t, "first Publish()", firstDone); err != nil {
		t.Errorf("first Publish() error: %v", err)
	}
}

func TestSlotPublishCancelled(t *testing.T) {
	s := NewSlot()
	ctx, cancel := context.WithCancel(context.Background())
	task := newTestTask(2, 2)
	done := publishAsync(t, s, ctx, task, nil)
	cancel()

	err := returned(t, "Publish()", done)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Publish() error = %v, want context.Canceled", err)
	}
	if s.Pending() || !task.Released() {
		t.Error("cancelled pair was not withdrawn and released")
	}
}

func TestSlotCloseWakesProducer(t *testing.T) {
	s := NewSlot()
	mgr, surfC := newTestSurface(t, 400, 300)
	first := newTestTask(400, 300)
	firstDone := publishAsync(t, s, context.Background(), first, surfC)

	blocked := newTestTask(400, 300)
	blockedDone := make(chan error, 1)
	go func() { blockedDone <- s.Publish(context.Background(), blocked, nil) }()
	waitFor(t, "both publishers to block", func() bool { return s.Waiting() == 2 })

	s.Close()
	s.Close()

	if err := returned(t, "stored Publish()", firstDone); !errors.Is(err, ErrClosed) {
		t.Errorf("stored Publish() error = %v, want %v", err, ErrClosed)
	}
	if err := returned(t, "blocked Publish()", blockedDone); !errors.Is(err, ErrClosed) {
		t.Errorf("blocked Publish() error = %v, want %v", err, ErrClosed)
	}
	if !blocked.Released() {
		t.Error("blocked task not released")
	}
	if !first.Released() {
		t.Error("stored task not released by Close")
	}

	mgr.Close()
	if !surfC.Released() {
		t.Error("surface not freed after Close and manager release")
	}
	if mgr.Frees() != 1 {
		t.Errorf("Frees() = %d, want exactly 1", mgr.Frees())
	}

	if err := s.Publish(context.Background(), newTestTask(2, 2), nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Publish() after Close error = %v, want %v", err, ErrClosed)
	}
	if task, surf := s.Consume(nil); task != nil || surf != nil {
		t.Error("Consume() after Close returned a pair")
	}
}

func TestSlotPublishNil(t *testing.T) {
	s := NewSlot()
	_, surf := newTestSurface(t, 2, 2)
	surf.Retain()
	if err := s.Publish(context.Background(), nil, surf); !errors.Is(err, ErrNilTask) {
		t.Errorf("Publish(nil) error = %v, want %v", err, ErrNilTask)
	}
	if got := surf.Refs(); got != 2 {
		t.Errorf("surface Refs() = %d, want 2", got)
	}
}

func TestSlotDrainRunsUnderLock(t *testing.T) {
	s := NewSlot()
	done := publishAsync(t, s, context.Background(), newTestTask(2, 2), nil)

	var sawEmpty bool
	task, _ := s.Consume(func() {
		// The lock is held, so TryLock must fail and the slot is already cleared.
		if s.mu.TryLock() {
			s.mu.Unlock()
			t.Error("drain ran without the slot lock")
		}
		sawEmpty = s.task == nil
	})
	task.Release()
	if !sawEmpty {
		t.Error("drain ran before the pair was taken")
	}
	if err := returned(t, "Publish()", done); err != nil {
		t.Errorf("Publish() error: %v", err)
	}
}

func TestSlotWaitEmpty(t *testing.T) {
	s := NewSlot()
	if !s.WaitEmpty(context.Background()) {
		t.Fatal("WaitEmpty() on empty slot = false")
	}

	pub := publishAsync(t, s, context.Background(), newTestTask(2, 2), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if s.WaitEmpty(ctx) {
		t.Fatal("WaitEmpty() = true while a pair is stored")
	}

	done := make(chan bool, 1)
	go func() { done <- s.WaitEmpty(context.Background()) }()
	time.Sleep(10 * time.Millisecond)
	task, _ := s.Consume(nil)
	task.Release()
	if !<-done {
		t.Error("WaitEmpty() = false after Consume")
	}
	if err := returned(t, "Publish()", pub); err != nil {
		t.Errorf("Publish() error: %v", err)
	}
}

func TestSlotSealKeepsPendingPair(t *testing.T) {
	s := NewSlot()
	c := newTestTask(2, 2)
	done := publishAsync(t, s, context.Background(), c, nil)

	s.Seal()
	if err := returned(t, "stored Publish()", done); !errors.Is(err, ErrClosed) {
		t.Fatalf("stored Publish() after Seal error = %v, want %v", err, ErrClosed)
	}
	if c.Released() || !s.Pending() {
		t.Fatal("Seal dropped the stored pair")
	}

	rejected := newTestTask(2, 2)
	if err := s.Publish(context.Background(), rejected, nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("Publish() after Seal error = %v, want %v", err, ErrClosed)
	}
	if !rejected.Released() {
		t.Error("rejected task not released")
	}
	if !s.Sealed() || s.Closed() {
		t.Errorf("Sealed() = %v, Closed() = %v, want true, false", s.Sealed(), s.Closed())
	}

	got, _ := s.Consume(nil)
	if got != c {
		t.Fatal("sealed slot did not hand out the stored pair")
	}
	got.Release()
	if !s.WaitEmpty(context.Background()) {
		t.Error("WaitEmpty() = false after draining a sealed slot")
	}
}
