// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package surface

import (
	"sync"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/overlay/internal/logging"
)

// Graveyard holds textures whose last owner has gone away but that may still
// be referenced by command buffers the host has not finished executing.
//
// Any goroutine may bury a texture. Drain destroys everything buried so far
// and must run on the host render thread, at the start of a tick, after the
// previous tick's commands were submitted.
type Graveyard struct {
	mu      sync.Mutex
	pending []gpucontext.Texture
	total   uint64
}

// NewGraveyard creates an empty graveyard.
func NewGraveyard() *Graveyard {
	return &Graveyard{}
}

func (g *Graveyard) bury(tex gpucontext.Texture) {
	g.mu.Lock()
	g.pending = append(g.pending, tex)
	g.mu.Unlock()
}

// Drain destroys all buried textures and returns how many were destroyed.
// Textures that do not expose Destroy are dropped for the host to collect.
func (g *Graveyard) Drain() int {
	g.mu.Lock()
	dead := g.pending
	g.pending = nil
	g.total += uint64(len(dead))
	g.mu.Unlock()

	for _, tex := range dead {
		destroyTexture(tex)
	}
	if len(dead) > 0 {
		logging.L().Debug("surface: destroyed deferred textures", "count", len(dead))
	}
	return len(dead)
}

// Pending returns the number of textures waiting for Drain.
func (g *Graveyard) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// Destroyed returns the total number of textures destroyed by Drain.
func (g *Graveyard) Destroyed() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.total
}
