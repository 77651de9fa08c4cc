// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package surface

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/overlay/internal/logging"
)

// Manager allocates and reuses the producer's render target.
//
// The manager owns one reference to its current surface. Ensure returns an
// additional reference owned by the caller.
type Manager struct {
	format    gputypes.TextureFormat
	graveyard *Graveyard

	mu      sync.Mutex
	current *Surface
	closed  bool
	nextID  uint64

	allocated atomic.Uint64
	freed     atomic.Uint64
}

// NewManager creates a manager whose surfaces use format. If g is nil a new
// graveyard is created.
func NewManager(format gputypes.TextureFormat, g *Graveyard) *Manager {
	if format == gputypes.TextureFormatUndefined {
		format = gputypes.TextureFormatRGBA8Unorm
	}
	if g == nil {
		g = NewGraveyard()
	}
	return &Manager{format: format, graveyard: g}
}

// Format returns the texture format used for new surfaces.
func (m *Manager) Format() gputypes.TextureFormat { return m.format }

// Graveyard returns the graveyard that receives released textures.
func (m *Manager) Graveyard() *Graveyard { return m.graveyard }

// Ensure returns a retained surface of exactly width x height.
//
// If the current surface already has that size it is reused. Otherwise the
// manager drops its reference to the old surface, which is freed once every
// other holder has released it, and allocates a new one. Non-positive
// dimensions return ErrInvalidDimensions and leave the current surface as is.
func (m *Manager) Ensure(width, height int) (*Surface, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}

	if cur := m.current; cur != nil {
		if cur.width == width && cur.height == height {
			return cur.Retain(), nil
		}
		logging.L().Debug("surface: resize",
			"from_width", cur.width, "from_height", cur.height,
			"to_width", width, "to_height", height)
		m.current = nil
		cur.Release()
	}

	m.nextID++
	s := newSurface(m.nextID, width, height, m.format, m.graveyard, m.onFree)
	m.current = s
	m.allocated.Add(1)
	logging.L().Debug("surface: allocated", "id", s.id, "width", width, "height", height, "format", m.format.String())
	return s.Retain(), nil
}

func (m *Manager) onFree(*Surface) {
	m.freed.Add(1)
}

// Current returns the current surface without retaining it, or nil.
func (m *Manager) Current() *Surface {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Close drops the manager's reference to the current surface. It is safe to
// call more than once; only the first call releases.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	cur := m.current
	m.current = nil
	m.mu.Unlock()

	if cur != nil {
		cur.Release()
	}
}

// Closed reports whether Close has been called.
func (m *Manager) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Allocations returns the number of surfaces allocated so far.
func (m *Manager) Allocations() uint64 { return m.allocated.Load() }

// Frees returns the number of surfaces whose last reference was released.
func (m *Manager) Frees() uint64 { return m.freed.Load() }

// Live returns allocations minus frees.
func (m *Manager) Live() int { return int(m.allocated.Load() - m.freed.Load()) }
