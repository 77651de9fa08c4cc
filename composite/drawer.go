// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package composite

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu"
)

// Drawing errors.
var (
	// ErrForeignTexture is returned when a Drawer is asked to draw a texture
	// that its pipeline did not create.
	ErrForeignTexture = errors.New("composite: texture not created by this pipeline")

	// ErrTextureDestroyed is returned when drawing or updating a destroyed texture.
	ErrTextureDestroyed = errors.New("composite: texture destroyed")
)

// paramsSize is the size of the shader's Params uniform: rect + opacity.
const paramsSize = 32

// RenderTarget is implemented by host draw contexts that expose the surface
// view of the frame being rendered. A host draw context that implements it
// gets its frames composited by the Pipeline; others get DrawTexture calls.
type RenderTarget interface {
	SurfaceView() gpucontext.TextureView
	SurfaceSize() (uint32, uint32)
}

// OpacityDrawer draws a texture scaled by an opacity in [0, 1].
type OpacityDrawer interface {
	DrawTextureOpacity(tex gpucontext.Texture, x, y, opacity float32) error
}

// Texture is a premultiplied RGBA8 texture owned by a Pipeline, with its
// uniform buffer and bind group. It implements gpucontext.Texture and
// gpucontext.TextureUpdater.
type Texture struct {
	p             *Pipeline
	width, height int

	mu        sync.Mutex
	tex       *wgpu.Texture
	view      *wgpu.TextureView
	uniforms  *wgpu.Buffer
	bindGroup *wgpu.BindGroup
}

// Width returns the texture width in pixels.
func (t *Texture) Width() int { return t.width }

// Height returns the texture height in pixels.
func (t *Texture) Height() int { return t.height }

// UpdateData uploads premultiplied RGBA pixels. data must hold exactly
// Width*Height*4 bytes.
func (t *Texture) UpdateData(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tex == nil {
		return ErrTextureDestroyed
	}
	return t.write(data)
}

func (t *Texture) write(data []byte) error {
	if len(data) != t.width*t.height*4 {
		return fmt.Errorf("composite: got %d bytes for %dx%d texture", len(data), t.width, t.height)
	}
	w, h := uint32(t.width), uint32(t.height) //nolint:gosec // sizes are validated positive
	err := t.p.queue.WriteTexture(
		&wgpu.ImageCopyTexture{Texture: t.tex},
		data,
		&wgpu.ImageDataLayout{BytesPerRow: w * 4, RowsPerImage: h},
		&wgpu.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
	)
	if err != nil {
		return fmt.Errorf("composite: write texture: %w", err)
	}
	return nil
}

// Creator returns the pipeline that created t.
func (t *Texture) Creator() gpucontext.TextureCreator { return t.p }

// Destroy releases the texture's GPU objects. It is safe to call more than once.
func (t *Texture) Destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bindGroup != nil {
		t.bindGroup.Release()
		t.bindGroup = nil
	}
	if t.uniforms != nil {
		t.uniforms.Release()
		t.uniforms = nil
	}
	if t.view != nil {
		t.view.Release()
		t.view = nil
	}
	if t.tex != nil {
		t.tex.Release()
		t.tex = nil
	}
}

// Destroyed reports whether Destroy has been called.
func (t *Texture) Destroyed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tex == nil
}

// NewTextureFromRGBA creates a texture on the pipeline's device and uploads
// data into it. It makes the Pipeline a gpucontext.TextureCreator.
func (p *Pipeline) NewTextureFromRGBA(width, height int, data []byte) (gpucontext.Texture, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("composite: invalid texture size %dx%d", width, height)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return nil, ErrReleased
	}

	t := &Texture{p: p, width: width, height: height}
	if err := p.initTexture(t); err != nil {
		t.Destroy()
		return nil, err
	}
	if err := t.write(data); err != nil {
		t.Destroy()
		return nil, err
	}
	return t, nil
}

// Owns reports whether tex was created by p.
func (p *Pipeline) Owns(tex gpucontext.Texture) bool {
	t, ok := tex.(*Texture)
	return ok && t.p == p
}

func (p *Pipeline) initTexture(t *Texture) error {
	tex, err := p.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "overlay_surface",
		Size:          wgpu.Extent3D{Width: uint32(t.width), Height: uint32(t.height), DepthOrArrayLayers: 1}, //nolint:gosec // validated positive
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormatRGBA8Unorm,
		Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("composite: create texture: %w", err)
	}
	t.tex = tex

	view, err := p.device.CreateTextureView(tex, &wgpu.TextureViewDescriptor{
		Label:         "overlay_surface_view",
		Format:        gputypes.TextureFormatRGBA8Unorm,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		return fmt.Errorf("composite: create texture view: %w", err)
	}
	t.view = view

	uniforms, err := p.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "overlay_composite_params",
		Size:  paramsSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("composite: create uniform buffer: %w", err)
	}
	t.uniforms = uniforms

	bg, err := p.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "overlay_composite_bind",
		Layout: p.bindLayout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: uniforms, Offset: 0, Size: paramsSize},
			{Binding: 1, TextureView: view},
			{Binding: 2, Sampler: p.sampler},
		},
	})
	if err != nil {
		return fmt.Errorf("composite: create bind group: %w", err)
	}
	t.bindGroup = bg
	return nil
}

// Drawer composites pipeline textures into one host frame's render target.
// It implements gpucontext.TextureDrawer and OpacityDrawer.
type Drawer struct {
	p             *Pipeline
	target        gpucontext.TextureView
	width, height uint32
}

// Drawer starts a host frame on rt. Command buffers from the previous frame
// are freed. It reports false when rt has no surface view or the pipeline
// has been released; the host's own drawer should be used then.
func (p *Pipeline) Drawer(rt RenderTarget) (*Drawer, bool) {
	if rt == nil {
		return nil, false
	}
	view := rt.SurfaceView()
	w, h := rt.SurfaceSize()
	if view.IsNil() || w == 0 || h == 0 {
		return nil, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return nil, false
	}
	p.freeCommandBuffers()
	return &Drawer{p: p, target: view, width: w, height: h}, true
}

// TextureCreator returns the pipeline, so that textures drawn through d are
// created on the shared device.
func (d *Drawer) TextureCreator() gpucontext.TextureCreator { return d.p }

// DrawTexture draws tex at (x, y) at full opacity.
func (d *Drawer) DrawTexture(tex gpucontext.Texture, x, y float32) error {
	return d.DrawTextureOpacity(tex, x, y, 1)
}

// DrawTextureOpacity draws tex at (x, y), scaling its premultiplied color
// by opacity.
func (d *Drawer) DrawTextureOpacity(tex gpucontext.Texture, x, y, opacity float32) error {
	if !d.p.Owns(tex) {
		return fmt.Errorf("%w: %T", ErrForeignTexture, tex)
	}
	return d.p.draw(d, tex.(*Texture), x, y, clampOpacity(opacity))
}

func (p *Pipeline) draw(d *Drawer, t *Texture, x, y, opacity float32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return ErrReleased
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tex == nil {
		return ErrTextureDestroyed
	}

	params := compositeParams(x, y, float32(t.width), float32(t.height), float32(d.width), float32(d.height), opacity)
	if err := p.queue.WriteBuffer(t.uniforms, 0, params); err != nil {
		return fmt.Errorf("composite: write params: %w", err)
	}

	encoder, err := p.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{
		Label: "overlay_composite_encoder",
	})
	if err != nil {
		return fmt.Errorf("composite: create command encoder: %w", err)
	}
	encoderConsumed := false
	defer func() {
		if !encoderConsumed {
			encoder.DiscardEncoding()
		}
	}()

	rp, err := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		Label: "overlay_composite_pass",
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:    (*wgpu.TextureView)(d.target.Pointer()),
			LoadOp:  gputypes.LoadOpLoad,
			StoreOp: gputypes.StoreOpStore,
		}},
	})
	if err != nil {
		return fmt.Errorf("composite: begin render pass: %w", err)
	}
	rp.SetViewport(0, 0, float32(d.width), float32(d.height), 0, 1)
	rp.SetPipeline(p.pipeline)
	rp.SetBindGroup(0, t.bindGroup, nil)
	rp.Draw(6, 1, 0, 0)
	if err := rp.End(); err != nil {
		return fmt.Errorf("composite: end render pass: %w", err)
	}

	cmdBuf, err := encoder.Finish()
	if err != nil {
		return fmt.Errorf("composite: finish encoding: %w", err)
	}
	encoderConsumed = true

	if _, err := p.queue.Submit(cmdBuf); err != nil {
		p.device.FreeCommandBuffer(cmdBuf)
		return fmt.Errorf("composite: submit: %w", err)
	}
	p.prevCmdBufs = append(p.prevCmdBufs, cmdBuf)
	p.draws++
	return nil
}

// compositeParams packs the Params uniform: the destination rectangle of a
// w x h texture at (x, y) on a tw x th target in normalized device
// coordinates (x0, y0, x1, y1, top-left first), then the opacity.
func compositeParams(x, y, w, h, tw, th, opacity float32) []byte {
	vals := [8]float32{
		x/tw*2 - 1,
		1 - y/th*2,
		(x+w)/tw*2 - 1,
		1 - (y+h)/th*2,
		opacity,
	}
	buf := make([]byte, paramsSize)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func clampOpacity(o float32) float32 {
	switch {
	case math.IsNaN(float64(o)) || o < 0:
		return 0
	case o > 1:
		return 1
	}
	return o
}
