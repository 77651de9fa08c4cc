package main

import (
	"fmt"

	"github.com/hajimehoshi/ebiten/v2"

	"github.com/gogpu/gpucontext"
)

// ebitenTexture adapts an *ebiten.Image to gpucontext.Texture.
type ebitenTexture struct {
	img *ebiten.Image
}

func (t *ebitenTexture) Width() int  { return t.img.Bounds().Dx() }
func (t *ebitenTexture) Height() int { return t.img.Bounds().Dy() }

// UpdateData replaces the texture contents with premultiplied RGBA pixels.
func (t *ebitenTexture) UpdateData(data []byte) error {
	b := t.img.Bounds()
	if len(data) != b.Dx()*b.Dy()*4 {
		return fmt.Errorf("ebiten texture: got %d bytes for %dx%d", len(data), b.Dx(), b.Dy())
	}
	t.img.WritePixels(data)
	return nil
}

// Destroy releases the GPU image.
func (t *ebitenTexture) Destroy() { t.img.Deallocate() }

// screenDrawer draws textures onto the ebiten screen for one frame.
type screenDrawer struct {
	screen *ebiten.Image
}

func (d *screenDrawer) DrawTexture(tex gpucontext.Texture, x, y float32) error {
	t, ok := tex.(*ebitenTexture)
	if !ok {
		return fmt.Errorf("ebiten host: foreign texture %T", tex)
	}
	op := &ebiten.DrawImageOptions{}
	op.GeoM.Translate(float64(x), float64(y))
	d.screen.DrawImage(t.img, op)
	return nil
}

func (d *screenDrawer) TextureCreator() gpucontext.TextureCreator { return d }

func (d *screenDrawer) NewTextureFromRGBA(width, height int, data []byte) (gpucontext.Texture, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("ebiten host: invalid texture size %dx%d", width, height)
	}
	t := &ebitenTexture{img: ebiten.NewImage(width, height)}
	if err := t.UpdateData(data); err != nil {
		t.Destroy()
		return nil, err
	}
	return t, nil
}
