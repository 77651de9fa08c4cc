// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package composite turns a consumed frame into pixels on the host target.
//
// [Submitter] replays a frame task through a gg recording backend (the
// raster backend by default) and uploads the result into the surface's
// texture, which the consumer then draws into the host target.
//
// When the host shares its GPU device, [Prepare] compiles the composite
// shader with naga and builds a [Pipeline] on the shared device. For a host
// draw context that implements [RenderTarget], [Pipeline.Drawer] returns a
// [Drawer] that loads the host's surface view and blends pipeline textures
// into it with premultiplied alpha, scaled by an opacity.
package composite
