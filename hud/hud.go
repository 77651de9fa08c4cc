// Package hud provides an overlay handler that paints frame statistics as
// a small text panel.
//
// The panel is rasterized on the CPU with the 7x13 bitmap face from
// golang.org/x/image and uploaded as a host texture. Counters are grouped
// with locale-aware separators.
package hud

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"slices"
	"sync"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/overlay"
	"github.com/gogpu/overlay/composite"
	"github.com/gogpu/overlay/overlays"
)

const (
	padding    = 4
	lineHeight = 15
)

// ErrNoTextureCreator is returned when the host drawer cannot create textures.
var ErrNoTextureCreator = errors.New("hud: drawer has no texture creator")

// Source returns the statistics to display.
type Source func() overlay.Stats

// Option configures a HUD.
type Option func(*HUD)

// WithPosition places the panel at x, y in host pixels.
func WithPosition(x, y float32) Option {
	return func(h *HUD) { h.x, h.y = x, y }
}

// WithScale magnifies the panel by an integer factor. Values below 1 are
// treated as 1.
func WithScale(scale int) Option {
	return func(h *HUD) { h.scale = max(scale, 1) }
}

// WithOpacity sets the panel opacity in [0, 1].
func WithOpacity(opacity float32) Option {
	return func(h *HUD) { h.opacity = min(max(opacity, 0), 1) }
}

// WithLanguage selects the locale used to group digits.
func WithLanguage(tag language.Tag) Option {
	return func(h *HUD) { h.printer = message.NewPrinter(tag) }
}

// HUD is an overlays.Handler showing frame counters.
type HUD struct {
	src     Source
	printer *message.Printer
	scale   int
	x, y    float32
	opacity float32

	mu      sync.Mutex
	visible bool
	width   int
	height  int

	// Render thread only.
	img   *image.RGBA
	tex   gpucontext.Texture
	last  []string
	alpha float32
}

// New returns a visible HUD reading from src.
func New(src Source, opts ...Option) *HUD {
	h := &HUD{
		src:     src,
		printer: message.NewPrinter(language.English),
		scale:   1,
		x:       8,
		y:       8,
		opacity: 0.85,
		visible: true,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetVisible shows or hides the panel. Call
// overlay.System.NotifyOverlayUpdated afterwards so the change is picked up
// at the next swap.
func (h *HUD) SetVisible(v bool) {
	h.mu.Lock()
	h.visible = v
	h.mu.Unlock()
}

// State implements overlays.Handler.
func (h *HUD) State() overlays.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return overlays.State{
		Visible: h.visible,
		Opacity: h.opacity,
		X:       h.x,
		Y:       h.y,
		Width:   float32(h.width),
		Height:  float32(h.height),
	}
}

// Lines formats st into the panel text.
func (h *HUD) Lines(st overlay.Stats) []string {
	p := h.printer
	return []string{
		p.Sprintf("frames   %d / %d", st.FramesPresented, st.FramesPublished),
		p.Sprintf("dropped  %d", st.FramesDropped),
		p.Sprintf("ticks    %d", st.Ticks),
		p.Sprintf("surfaces %d live, %d made", st.SurfacesLive, st.SurfacesAllocated),
		p.Sprintf("overlays %d", st.OverlaysLive),
		p.Sprintf("wait     %s", st.LastProducerWait.Round(10*time.Microsecond)),
	}
}

// DrawOverlay implements overlays.Handler.
func (h *HUD) DrawOverlay(dc *overlays.DrawContext) error {
	if h.src == nil || dc.Drawer == nil {
		return nil
	}
	lines := h.Lines(h.src())

	// A drawer that applies opacity gets the panel at full alpha.
	od, scaled := dc.Drawer.(composite.OpacityDrawer)
	alpha := dc.State.Opacity
	if scaled {
		alpha = 1
	}
	creator := dc.Drawer.TextureCreator()
	if h.tex == nil || !drawable(h.tex, creator) || h.alpha != alpha || !slices.Equal(lines, h.last) {
		h.render(lines, alpha)
		if err := h.upload(creator); err != nil {
			return fmt.Errorf("hud: upload: %w", err)
		}
		h.last, h.alpha = lines, alpha
	}
	if scaled {
		return od.DrawTextureOpacity(h.tex, dc.State.X, dc.State.Y, dc.State.Opacity)
	}
	return dc.Drawer.DrawTexture(h.tex, dc.State.X, dc.State.Y)
}

// Close destroys the panel texture. Call it on the render thread after the
// handler has been unregistered.
func (h *HUD) Close() {
	if d, ok := h.tex.(interface{ Destroy() }); ok {
		d.Destroy()
	}
	h.tex = nil
	h.img = nil
	h.last = nil
}

// render rasterizes lines into h.img, premultiplied by opacity.
func (h *HUD) render(lines []string, opacity float32) {
	face := basicfont.Face7x13
	w := 0
	for _, l := range lines {
		w = max(w, font.MeasureString(face, l).Ceil())
	}
	w += 2 * padding
	hgt := len(lines)*lineHeight + 2*padding

	a := uint8(opacity * 255)
	src := image.NewRGBA(image.Rect(0, 0, w, hgt))
	draw.Draw(src, src.Bounds(), image.NewUniform(color.RGBA{A: uint8(int(a) * 3 / 5)}), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  src,
		Src:  image.NewUniform(color.RGBA{R: a, G: a, B: a, A: a}),
		Face: face,
	}
	for i, l := range lines {
		d.Dot = fixed.P(padding, padding+i*lineHeight+face.Ascent)
		d.DrawString(l)
	}

	if h.scale == 1 {
		h.img = src
	} else {
		dst := image.NewRGBA(image.Rect(0, 0, w*h.scale, hgt*h.scale))
		draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
		h.img = dst
	}

	b := h.img.Bounds()
	h.mu.Lock()
	h.width, h.height = b.Dx(), b.Dy()
	h.mu.Unlock()
}

// upload updates the texture in place when the size is unchanged.
func (h *HUD) upload(creator gpucontext.TextureCreator) error {
	b := h.img.Bounds()
	if h.tex != nil && h.tex.Width() == b.Dx() && h.tex.Height() == b.Dy() && drawable(h.tex, creator) {
		if u, ok := h.tex.(gpucontext.TextureUpdater); ok {
			return u.UpdateData(h.img.Pix)
		}
	}
	if creator == nil {
		return ErrNoTextureCreator
	}
	tex, err := creator.NewTextureFromRGBA(b.Dx(), b.Dy(), h.img.Pix)
	if err != nil {
		return err
	}
	if d, ok := h.tex.(interface{ Destroy() }); ok {
		d.Destroy()
	}
	h.tex = tex
	return nil
}

// drawable reports whether tex may be drawn by the drawer that supplied
// creator. The composite pipeline draws only its own textures.
func drawable(tex gpucontext.Texture, creator gpucontext.TextureCreator) bool {
	if c, ok := tex.(interface{ Creator() gpucontext.TextureCreator }); ok && c.Creator() != creator {
		return false
	}
	if o, ok := creator.(interface{ Owns(gpucontext.Texture) bool }); ok && !o.Owns(tex) {
		return false
	}
	return true
}
