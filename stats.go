package overlay

import (
	"sync/atomic"
	"time"
)

// Stats is a snapshot of frame counters.
type Stats struct {
	FramesPublished   uint64        // frames stored in the slot
	FramesPresented   uint64        // frames composited into the host target
	FramesDropped     uint64        // frames recorded but never presented
	SubmitFailures    uint64        // frames whose submission or composite failed
	Ticks             uint64        // host ticks handled
	SurfacesAllocated uint64        // surfaces created by the surface manager
	SurfacesLive      int           // surfaces not yet freed
	OverlaysLive      int           // live overlay handlers as of the last swap
	Panics            uint64        // worker panics recovered
	ProducerWait      time.Duration // total time EndFrame spent waiting
	LastProducerWait  time.Duration // wait of the most recent EndFrame
}

type counters struct {
	published      atomic.Uint64
	presented      atomic.Uint64
	dropped        atomic.Uint64
	submitFailures atomic.Uint64
	ticks          atomic.Uint64
	panics         atomic.Uint64
	producerWait   atomic.Int64
	lastWait       atomic.Int64
	overlaysLive   atomic.Int64
}

// Stats returns the current counters. Safe from any goroutine.
func (s *System) Stats() Stats {
	return Stats{
		FramesPublished:   s.stats.published.Load(),
		FramesPresented:   s.stats.presented.Load(),
		FramesDropped:     s.stats.dropped.Load(),
		SubmitFailures:    s.stats.submitFailures.Load(),
		Ticks:             s.stats.ticks.Load(),
		SurfacesAllocated: s.surfaces.Allocations(),
		SurfacesLive:      s.surfaces.Live(),
		OverlaysLive:      int(s.stats.overlaysLive.Load()),
		Panics:            s.stats.panics.Load(),
		ProducerWait:      time.Duration(s.stats.producerWait.Load()),
		LastProducerWait:  time.Duration(s.stats.lastWait.Load()),
	}
}
