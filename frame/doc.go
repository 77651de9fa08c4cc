// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package frame implements the single-frame handoff between the UI worker
// and the host render thread.
//
// A [Task] wraps one immutable gg recording together with a reference count
// and a submitted flag, so that the consumer can submit it at most once.
//
// A [Slot] holds at most one (Task, Surface) pair. The producer publishes
// into it with [Slot.Publish], which waits while the previous pair has not
// been taken yet; the consumer takes the pair with [Slot.Consume], which
// never blocks. Publish is the only suspension point of the producer, and
// the depth of one is what keeps the producer in lockstep with host ticks:
//
//	// worker goroutine
//	err := slot.Publish(ctx, frame.NewTask(rec.FinishRecording()), surf)
//
//	// host render thread, once per tick
//	task, surf := slot.Consume(registry.Apply)
//	if task != nil {
//		defer task.Release()
//		defer surf.Release()
//		...
//	}
//
// Closing the slot wakes a blocked producer and releases whatever pair is
// still stored, exactly once.
package frame
