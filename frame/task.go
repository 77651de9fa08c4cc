// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package frame

import (
	"errors"
	"sync/atomic"

	"github.com/gogpu/gg/recording"

	"github.com/gogpu/overlay/internal/logging"
)

// Errors returned by Task and Slot.
var (
	// ErrAlreadySubmitted is returned by MarkSubmitted on every call after the first.
	ErrAlreadySubmitted = errors.New("frame: task already submitted")

	// ErrNilTask is returned when a nil task or recording is published.
	ErrNilTask = errors.New("frame: nil task")

	// ErrClosed is returned by Publish once the slot has been closed.
	ErrClosed = errors.New("frame: slot closed")

	// ErrPublishTimeout is returned when Publish gave up waiting for the
	// consumer and dropped the new frame.
	ErrPublishTimeout = errors.New("frame: publish timed out")
)

var taskSeq atomic.Uint64

// Task is one recorded draw pass.
//
// The recording is never mutated after NewTask. A task starts with one
// reference owned by its creator.
type Task struct {
	seq           uint64
	width, height int

	rec       atomic.Pointer[recording.Recording]
	refs      atomic.Int32
	dead      atomic.Bool
	submitted atomic.Bool
}

// NewTask wraps rec in a task with a reference count of one.
// It returns nil if rec is nil.
func NewTask(rec *recording.Recording) *Task {
	if rec == nil {
		return nil
	}
	t := &Task{
		seq:    taskSeq.Add(1),
		width:  rec.Width(),
		height: rec.Height(),
	}
	t.rec.Store(rec)
	t.refs.Store(1)
	return t
}

// Seq returns a process-wide sequence number, increasing in creation order.
func (t *Task) Seq() uint64 { return t.seq }

// Width returns the width of the recorded canvas.
func (t *Task) Width() int { return t.width }

// Height returns the height of the recorded canvas.
func (t *Task) Height() int { return t.height }

// Recording returns the recorded commands, or nil once the task is released.
func (t *Task) Recording() *recording.Recording { return t.rec.Load() }

// Retain adds a reference and returns t.
func (t *Task) Retain() *Task {
	t.refs.Add(1)
	return t
}

// Release drops one reference. The last release frees the recording exactly
// once; extra releases are logged and ignored.
func (t *Task) Release() {
	n := t.refs.Add(-1)
	if n > 0 {
		return
	}
	if n < 0 {
		t.refs.Add(1)
		logging.L().Warn("frame: task release past zero ignored", "seq", t.seq)
		return
	}
	if t.dead.CompareAndSwap(false, true) {
		t.rec.Store(nil)
	}
}

// Refs returns the current reference count.
func (t *Task) Refs() int32 { return t.refs.Load() }

// Released reports whether the last reference has been released.
func (t *Task) Released() bool { return t.dead.Load() }

// MarkSubmitted claims the right to submit the task. Only the first call
// succeeds; the rest return ErrAlreadySubmitted.
func (t *Task) MarkSubmitted() error {
	if !t.submitted.CompareAndSwap(false, true) {
		return ErrAlreadySubmitted
	}
	return nil
}

// Submitted reports whether MarkSubmitted has succeeded.
func (t *Task) Submitted() bool { return t.submitted.Load() }
