// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package composite

import (
	"errors"
	"fmt"

	"github.com/gogpu/gg/recording"
	"github.com/gogpu/gpucontext"

	// Register the "raster" recording backend.
	_ "github.com/gogpu/gg/recording/backends/raster"

	"github.com/gogpu/overlay/frame"
	"github.com/gogpu/overlay/surface"
)

// DefaultBackend is the recording backend used when none is configured.
const DefaultBackend = "raster"

// Submission errors.
var (
	// ErrNoRecording is returned when the task has already been released.
	ErrNoRecording = errors.New("composite: task has no recording")

	// ErrSizeMismatch is returned when the recording and surface sizes differ.
	ErrSizeMismatch = errors.New("composite: recording and surface size differ")

	// ErrNoPixels is returned when the backend produces no pixel output.
	ErrNoPixels = errors.New("composite: backend has no pixel output")
)

// Submitter plays a frame task back through a recording backend and
// uploads the pixels into the surface texture.
type Submitter struct {
	backend string
}

// NewSubmitter creates a submitter for the named recording backend. An
// empty name selects DefaultBackend.
func NewSubmitter(backend string) *Submitter {
	if backend == "" {
		backend = DefaultBackend
	}
	return &Submitter{backend: backend}
}

// Backend returns the recording backend name.
func (s *Submitter) Backend() string { return s.backend }

// Submit renders task into surf and returns the surface texture. The caller
// must have claimed the task with MarkSubmitted. Submit runs on the host
// render thread.
func (s *Submitter) Submit(task *frame.Task, surf *surface.Surface, creator gpucontext.TextureCreator) (gpucontext.Texture, error) {
	rec := task.Recording()
	if rec == nil {
		return nil, ErrNoRecording
	}
	if rec.Width() != surf.Width() || rec.Height() != surf.Height() {
		return nil, fmt.Errorf("%w: recording %dx%d, surface %dx%d",
			ErrSizeMismatch, rec.Width(), rec.Height(), surf.Width(), surf.Height())
	}

	b, err := recording.NewBackend(s.backend)
	if err != nil {
		return nil, fmt.Errorf("composite: %w", err)
	}
	pb, ok := b.(recording.PixmapBackend)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoPixels, s.backend)
	}
	if err := rec.Playback(pb); err != nil {
		return nil, fmt.Errorf("composite: playback: %w", err)
	}
	pm := pb.Pixmap()
	if pm == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoPixels, s.backend)
	}

	tex, err := surf.Upload(creator, pm.Data())
	if err != nil {
		return nil, fmt.Errorf("composite: upload frame %d: %w", task.Seq(), err)
	}
	return tex, nil
}
