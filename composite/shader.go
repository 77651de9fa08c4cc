// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package composite

import (
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu"

	"github.com/gogpu/overlay/internal/logging"
)

//go:embed shaders/composite.wgsl
var compositeShaderSource string

var (
	// ErrNoHALDevice is returned by Prepare when the provider's device is
	// not a wgpu device backed by a HAL device.
	ErrNoHALDevice = errors.New("composite: provider device has no HAL device")

	// ErrReleased is returned when drawing through a released pipeline.
	ErrReleased = errors.New("composite: pipeline released")
)

// ShaderSource returns the WGSL source of the composite shader.
func ShaderSource() string { return compositeShaderSource }

// Shader is the compiled composite shader.
type Shader struct {
	Source string
	SPIRV  []uint32
}

var compileOnce = sync.OnceValues(func() (*Shader, error) {
	code, err := compileToSPIRV(compositeShaderSource)
	if err != nil {
		return nil, err
	}
	return &Shader{Source: compositeShaderSource, SPIRV: code}, nil
})

// CompileShader compiles the composite shader to SPIR-V. The result is
// cached for the life of the process.
func CompileShader() (*Shader, error) {
	return compileOnce()
}

// compileToSPIRV compiles WGSL with naga and repacks the little-endian
// SPIR-V bytes into words.
func compileToSPIRV(wgsl string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(wgsl)
	if err != nil {
		return nil, fmt.Errorf("composite: failed to compile shader: %w", err)
	}
	if len(spirvBytes)%4 != 0 {
		return nil, fmt.Errorf("composite: SPIR-V length %d is not a multiple of 4", len(spirvBytes))
	}
	code := make([]uint32, len(spirvBytes)/4)
	for i := range code {
		code[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return code, nil
}

// Pipeline is the composite render pipeline created on a host-shared
// device. It owns the shader module, layouts, sampler and render pipeline,
// and creates the textures it draws (see NewTextureFromRGBA).
//
// Drawing happens on the host render thread; Release may be called from any
// goroutine.
type Pipeline struct {
	device  *wgpu.Device
	queue   *wgpu.Queue
	format  gputypes.TextureFormat
	adapter string

	mu         sync.Mutex
	shader     *wgpu.ShaderModule
	bindLayout *wgpu.BindGroupLayout
	pipeLayout *wgpu.PipelineLayout
	pipeline   *wgpu.RenderPipeline
	sampler    *wgpu.Sampler
	released   bool

	// Command buffers submitted for the previous host frame. They are freed
	// at the start of the next one, when the host has presented.
	prevCmdBufs []*wgpu.CommandBuffer
	draws       uint64
}

// Prepare compiles the composite shader and creates the render pipeline on
// the provider's device. The provider's Device must be a *wgpu.Device.
func Prepare(provider gpucontext.DeviceProvider) (*Pipeline, error) {
	if provider == nil {
		return nil, ErrNoHALDevice
	}
	dev, ok := provider.Device().(*wgpu.Device)
	if !ok || dev == nil || dev.HalDevice() == nil {
		return nil, fmt.Errorf("%w: device is %T", ErrNoHALDevice, provider.Device())
	}
	return NewPipeline(dev, provider.SurfaceFormat(), provider.AdapterInfo().Name)
}

// NewPipeline creates the composite pipeline on dev, targeting format. An
// undefined format selects BGRA8Unorm.
func NewPipeline(dev *wgpu.Device, format gputypes.TextureFormat, adapter string) (*Pipeline, error) {
	shader, err := CompileShader()
	if err != nil {
		return nil, err
	}
	if format == gputypes.TextureFormatUndefined {
		format = gputypes.TextureFormatBGRA8Unorm
	}
	p := &Pipeline{device: dev, queue: dev.Queue(), format: format, adapter: adapter}
	if err := p.create(shader); err != nil {
		p.destroy()
		return nil, err
	}
	logging.L().Info("composite: pipeline ready",
		"adapter", adapter, "format", format.String(), "spirv_words", len(shader.SPIRV))
	return p, nil
}

// create builds the GPU objects in dependency order:
//
//	Binding 0: Params (uniform buffer, vertex+fragment)
//	Binding 1: surface texture (texture_2d, fragment)
//	Binding 2: sampler (fragment)
func (p *Pipeline) create(shader *Shader) error {
	module, err := p.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: "overlay_composite",
		SPIRV: shader.SPIRV,
	})
	if err != nil {
		return fmt.Errorf("composite: create shader module: %w", err)
	}
	p.shader = module

	layout, err := p.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "overlay_composite_layout",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: gputypes.ShaderStageVertex | gputypes.ShaderStageFragment,
				Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
			},
			{
				Binding:    1,
				Visibility: gputypes.ShaderStageFragment,
				Texture: &gputypes.TextureBindingLayout{
					SampleType:    gputypes.TextureSampleTypeFloat,
					ViewDimension: gputypes.TextureViewDimension2D,
				},
			},
			{
				Binding:    2,
				Visibility: gputypes.ShaderStageFragment,
				Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("composite: create bind group layout: %w", err)
	}
	p.bindLayout = layout

	pipeLayout, err := p.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "overlay_composite_pipe_layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{p.bindLayout},
	})
	if err != nil {
		return fmt.Errorf("composite: create pipeline layout: %w", err)
	}
	p.pipeLayout = pipeLayout

	sampler, err := p.device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:        "overlay_composite_sampler",
		AddressModeU: gputypes.AddressModeClampToEdge,
		AddressModeV: gputypes.AddressModeClampToEdge,
		AddressModeW: gputypes.AddressModeClampToEdge,
		MagFilter:    gputypes.FilterModeLinear,
		MinFilter:    gputypes.FilterModeLinear,
		MipmapFilter: gputypes.FilterModeLinear,
	})
	if err != nil {
		return fmt.Errorf("composite: create sampler: %w", err)
	}
	p.sampler = sampler

	premulBlend := gputypes.BlendStatePremultiplied()
	pipeline, err := p.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  "overlay_composite_pipeline",
		Layout: p.pipeLayout,
		Vertex: wgpu.VertexState{
			Module:     p.shader,
			EntryPoint: "vs_main",
		},
		Fragment: &wgpu.FragmentState{
			Module:     p.shader,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{
				{
					Format:    p.format,
					Blend:     &premulBlend,
					WriteMask: gputypes.ColorWriteMaskAll,
				},
			},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return fmt.Errorf("composite: create render pipeline: %w", err)
	}
	p.pipeline = pipeline
	return nil
}

// Format returns the host surface format the pipeline renders to.
func (p *Pipeline) Format() gputypes.TextureFormat { return p.format }

// Adapter returns the name of the adapter the pipeline was created on.
func (p *Pipeline) Adapter() string { return p.adapter }

// Draws returns the number of composite draws submitted.
func (p *Pipeline) Draws() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.draws
}

// Released reports whether Release has been called.
func (p *Pipeline) Released() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

// Release destroys the pipeline's GPU objects. Textures created by the
// pipeline stay valid until destroyed but can no longer be drawn. It is safe
// to call more than once.
func (p *Pipeline) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return
	}
	p.released = true
	p.freeCommandBuffers()
	p.destroy()
}

// destroy releases GPU objects in reverse creation order.
func (p *Pipeline) destroy() {
	if p.pipeline != nil {
		p.pipeline.Release()
		p.pipeline = nil
	}
	if p.sampler != nil {
		p.sampler.Release()
		p.sampler = nil
	}
	if p.pipeLayout != nil {
		p.pipeLayout.Release()
		p.pipeLayout = nil
	}
	if p.bindLayout != nil {
		p.bindLayout.Release()
		p.bindLayout = nil
	}
	if p.shader != nil {
		p.shader.Release()
		p.shader = nil
	}
}

func (p *Pipeline) freeCommandBuffers() {
	for _, cb := range p.prevCmdBufs {
		p.device.FreeCommandBuffer(cb)
	}
	p.prevCmdBufs = p.prevCmdBufs[:0]
}
