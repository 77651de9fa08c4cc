// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package surface manages the reference-counted render targets that overlay
// frames are drawn into.
//
// # Overview
//
// A [Surface] is a GPU-backed render target with fixed integer dimensions.
// Its GPU texture is created lazily by the consumer on the host render
// thread, because only the host's draw context can create textures.
//
// A [Manager] hands out surfaces to the frame producer. [Manager.Ensure]
// reuses the current surface while the requested size is unchanged and
// allocates a new one when it changes:
//
//	mgr := surface.NewManager(gputypes.TextureFormatRGBA8Unorm, nil)
//	s, err := mgr.Ensure(400, 300) // allocates, returns a retained reference
//	defer s.Release()
//
// # Reference counting
//
// Every holder of a *Surface owns exactly one reference and calls Release
// when done. The manager owns one reference to its current surface. When the
// count reaches zero the surface's texture is handed to a [Graveyard] and
// destroyed later on the render thread: the texture may still be referenced
// by host command buffers that are in flight.
//
// # Thread Safety
//
// Retain and Release are safe from any goroutine. Ensure is called only by
// the producer. Upload and Graveyard.Drain belong to the render thread.
package surface
