package main

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/gogpu/gg/recording"
	"github.com/gogpu/gpucontext"
)

// orbitView draws a ring of dots orbiting the center and a marker under
// the pointer. It runs on the overlay worker goroutine.
type orbitView struct {
	width, height int
	phase         float64
	pointerX      float64
	pointerY      float64

	// Set by the host, read by the view.
	speed atomic.Uint64
}

const dots = 12

func newOrbitView() *orbitView {
	v := &orbitView{pointerX: -1, pointerY: -1}
	v.speed.Store(math.Float64bits(1))
	return v
}

func (v *orbitView) Layout(w, h int) { v.width, v.height = w, h }

func (v *orbitView) Tick(dt time.Duration) bool {
	v.phase = math.Mod(v.phase+dt.Seconds()*math.Float64frombits(v.speed.Load()), 2*math.Pi)
	return true
}

func (v *orbitView) HandlePointer(ev gpucontext.PointerEvent) {
	if ev.Type == gpucontext.PointerMove {
		v.pointerX, v.pointerY = ev.X, ev.Y
	}
}

func (v *orbitView) Draw(rec *recording.Recorder) {
	cx, cy := float64(v.width)/2, float64(v.height)/2
	radius := math.Min(cx, cy) * 0.6

	rec.SetRGBA(1, 1, 1, 0.15)
	rec.SetLineWidth(2)
	rec.DrawCircle(cx, cy, radius)
	rec.Stroke()

	for i := range dots {
		a := v.phase + float64(i)*2*math.Pi/dots
		t := float64(i) / dots
		rec.SetRGBA(0.2+0.8*t, 0.6, 1-0.8*t, 0.9)
		rec.DrawCircle(cx+radius*math.Cos(a), cy+radius*math.Sin(a), 6+4*t)
		rec.Fill()
	}

	if v.pointerX >= 0 && v.pointerY >= 0 {
		rec.SetRGBA(1, 0.85, 0.2, 0.8)
		rec.DrawRoundedRectangle(v.pointerX-8, v.pointerY-8, 16, 16, 4)
		rec.Fill()
	}
}
