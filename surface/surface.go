// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package surface

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/overlay/internal/logging"
)

// Common errors returned by surface operations.
var (
	// ErrInvalidDimensions is returned when width or height is not positive.
	ErrInvalidDimensions = errors.New("surface: invalid dimensions")

	// ErrReleased is returned when a surface is used after its last reference was released.
	ErrReleased = errors.New("surface: surface released")

	// ErrNoTextureCreator is returned by Upload when no texture creator is available.
	ErrNoTextureCreator = errors.New("surface: nil texture creator")

	// ErrPixelSize is returned when uploaded pixel data does not match the surface size.
	ErrPixelSize = errors.New("surface: pixel data size mismatch")

	// ErrManagerClosed is returned by Ensure after Close.
	ErrManagerClosed = errors.New("surface: manager closed")
)

// bytesPerPixel is the size of one texel for every format a Surface accepts.
const bytesPerPixel = 4

// textureDestroyer matches gogpu.Texture.Destroy.
type textureDestroyer interface {
	Destroy()
}

// textureOwner is implemented by creators whose drawers accept only the
// textures they created.
type textureOwner interface {
	Owns(tex gpucontext.Texture) bool
}

// createdTexture is implemented by textures that know their creator.
type createdTexture interface {
	Creator() gpucontext.TextureCreator
}

// Surface is a reference-counted render target of fixed size.
//
// Surfaces are created by a Manager with one reference owned by the caller
// of Ensure. The texture is created on first Upload.
type Surface struct {
	id     uint64
	width  int
	height int
	format gputypes.TextureFormat

	refs   atomic.Int32
	dead   atomic.Bool
	onZero func(*Surface)

	graveyard *Graveyard

	mu      sync.Mutex
	texture gpucontext.Texture
}

func newSurface(id uint64, width, height int, format gputypes.TextureFormat, g *Graveyard, onZero func(*Surface)) *Surface {
	s := &Surface{
		id:        id,
		width:     width,
		height:    height,
		format:    format,
		graveyard: g,
		onZero:    onZero,
	}
	s.refs.Store(1)
	return s
}

// ID returns the surface's allocation number. IDs are unique per Manager.
func (s *Surface) ID() uint64 { return s.id }

// Width returns the surface width in pixels.
func (s *Surface) Width() int { return s.width }

// Height returns the surface height in pixels.
func (s *Surface) Height() int { return s.height }

// Size returns width and height as a convenience.
func (s *Surface) Size() (width, height int) { return s.width, s.height }

// Format returns the texture format of the surface.
func (s *Surface) Format() gputypes.TextureFormat { return s.format }

// ByteSize returns the size in bytes of one full upload.
func (s *Surface) ByteSize() int { return s.width * s.height * bytesPerPixel }

// Refs returns the current reference count.
func (s *Surface) Refs() int32 { return s.refs.Load() }

// Released reports whether the last reference has been released.
func (s *Surface) Released() bool { return s.dead.Load() }

// Retain adds a reference and returns s for chaining.
func (s *Surface) Retain() *Surface {
	if n := s.refs.Add(1); n <= 1 {
		logging.L().Warn("surface: retain after release", "id", s.id, "refs", n)
	}
	return s
}

// Release drops one reference. The last release hands the texture to the
// graveyard (or destroys it immediately when the surface has none) and
// happens exactly once; releases past zero are logged and ignored.
func (s *Surface) Release() {
	n := s.refs.Add(-1)
	if n > 0 {
		return
	}
	if n < 0 {
		s.refs.Add(1)
		logging.L().Warn("surface: release past zero ignored", "id", s.id)
		return
	}
	if !s.dead.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	tex := s.texture
	s.texture = nil
	s.mu.Unlock()

	if tex != nil {
		if s.graveyard != nil {
			s.graveyard.bury(tex)
		} else {
			destroyTexture(tex)
		}
	}
	logging.L().Debug("surface: released", "id", s.id, "width", s.width, "height", s.height)
	if s.onZero != nil {
		s.onZero(s)
	}
}

// Texture returns the GPU texture, or nil if nothing has been uploaded yet.
func (s *Surface) Texture() gpucontext.Texture {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.texture
}

// Upload writes pixels into the surface texture, creating it with creator on
// first use. A texture that cannot be updated in place, whose size no
// longer matches, or that belongs to another creator is replaced and the
// old one is buried.
//
// Upload must be called from the host render thread.
func (s *Surface) Upload(creator gpucontext.TextureCreator, pixels []byte) (gpucontext.Texture, error) {
	if s.dead.Load() {
		return nil, ErrReleased
	}
	if len(pixels) != s.ByteSize() {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrPixelSize, len(pixels), s.ByteSize())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tex := s.texture; tex != nil && tex.Width() == s.width && tex.Height() == s.height && belongsTo(tex, creator) {
		if updater, ok := tex.(gpucontext.TextureUpdater); ok {
			if err := updater.UpdateData(pixels); err != nil {
				return nil, fmt.Errorf("surface: texture update failed: %w", err)
			}
			return tex, nil
		}
	}

	if creator == nil {
		return nil, ErrNoTextureCreator
	}
	tex, err := creator.NewTextureFromRGBA(s.width, s.height, pixels)
	if err != nil {
		return nil, fmt.Errorf("surface: NewTextureFromRGBA failed: %w", err)
	}
	// Recorded frames are rasterized with premultiplied alpha.
	if pt, ok := tex.(interface{ SetPremultiplied(bool) }); ok {
		pt.SetPremultiplied(true)
	}

	if old := s.texture; old != nil {
		if s.graveyard != nil {
			s.graveyard.bury(old)
		} else {
			destroyTexture(old)
		}
	}
	s.texture = tex
	return tex, nil
}

// belongsTo reports whether tex can be drawn by the drawer that supplied
// creator. Textures and creators that do not track ownership always match.
func belongsTo(tex gpucontext.Texture, creator gpucontext.TextureCreator) bool {
	if c, ok := tex.(createdTexture); ok && c.Creator() != creator {
		return false
	}
	if o, ok := creator.(textureOwner); ok && !o.Owns(tex) {
		return false
	}
	return true
}

func destroyTexture(tex gpucontext.Texture) {
	if d, ok := tex.(textureDestroyer); ok {
		d.Destroy()
	}
}
