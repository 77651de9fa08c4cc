package overlay

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/gg/recording"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/overlay/frame"
	"github.com/gogpu/overlay/surface"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// mockTexture implements gpucontext.Texture, TextureUpdater and Destroy.
type mockTexture struct {
	width, height int
	updates       atomic.Int32
	destroyed     atomic.Int32
}

func (m *mockTexture) Width() int  { return m.width }
func (m *mockTexture) Height() int { return m.height }
func (m *mockTexture) Destroy()    { m.destroyed.Add(1) }

func (m *mockTexture) UpdateData(data []byte) error {
	m.updates.Add(1)
	return nil
}

// mockCreator implements gpucontext.TextureCreator.
type mockCreator struct {
	mu       sync.Mutex
	textures []*mockTexture
}

func (m *mockCreator) NewTextureFromRGBA(width, height int, data []byte) (gpucontext.Texture, error) {
	if len(data) != width*height*4 {
		return nil, errors.New("mock: bad pixel length")
	}
	tex := &mockTexture{width: width, height: height}
	m.mu.Lock()
	m.textures = append(m.textures, tex)
	m.mu.Unlock()
	return tex, nil
}

type drawCall struct {
	tex  gpucontext.Texture
	x, y float32
}

// mockDrawer implements gpucontext.TextureDrawer.
type mockDrawer struct {
	creator *mockCreator
	mu      sync.Mutex
	calls   []drawCall
}

func newMockDrawer() *mockDrawer { return &mockDrawer{creator: &mockCreator{}} }

func (m *mockDrawer) DrawTexture(tex gpucontext.Texture, x, y float32) error {
	m.mu.Lock()
	m.calls = append(m.calls, drawCall{tex: tex, x: x, y: y})
	m.mu.Unlock()
	return nil
}

func (m *mockDrawer) TextureCreator() gpucontext.TextureCreator { return m.creator }

func (m *mockDrawer) draws() []drawCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]drawCall(nil), m.calls...)
}

// testView draws a filled rectangle and records what it saw.
type testView struct {
	mu      sync.Mutex
	layouts [][2]int
	draws   atomic.Int32
	panicOn int32
}

func (v *testView) Layout(w, h int) {
	v.mu.Lock()
	v.layouts = append(v.layouts, [2]int{w, h})
	v.mu.Unlock()
}

func (v *testView) Draw(rec *recording.Recorder) {
	n := v.draws.Add(1)
	if v.panicOn != 0 && n == v.panicOn {
		panic("view exploded")
	}
	rec.SetRGB(0, 0.5, 1)
	rec.DrawRectangle(1, 1, 2, 2)
	rec.Fill()
}

// countingSubmitter wraps a Submitter and records task sequence numbers.
type countingSubmitter struct {
	next Submitter
	fail error

	mu   sync.Mutex
	seqs map[uint64]int
}

func (c *countingSubmitter) Submit(task *frame.Task, surf *surface.Surface, creator gpucontext.TextureCreator) (gpucontext.Texture, error) {
	c.mu.Lock()
	if c.seqs == nil {
		c.seqs = make(map[uint64]int)
	}
	c.seqs[task.Seq()]++
	c.mu.Unlock()
	if c.fail != nil {
		return nil, c.fail
	}
	return c.next.Submit(task, surf, creator)
}

func (c *countingSubmitter) counts() map[uint64]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[uint64]int, len(c.seqs))
	for k, v := range c.seqs {
		out[k] = v
	}
	return out
}

// softwareProvider is a DeviceProvider without a wgpu device.
type softwareProvider struct{ format gputypes.TextureFormat }

func (p softwareProvider) Device() gpucontext.Device             { return nil }
func (p softwareProvider) Queue() gpucontext.Queue               { return nil }
func (p softwareProvider) Adapter() gpucontext.Adapter           { return nil }
func (p softwareProvider) SurfaceFormat() gputypes.TextureFormat { return p.format }
func (p softwareProvider) AdapterInfo() gpucontext.AdapterInfo   { return gpucontext.AdapterInfo{Name: "software"} }

func newTestSystem(t *testing.T, opts ...Option) *System {
	t.Helper()
	sys, err := New(opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sys.Shutdown(ctx)
	})
	return sys
}

// fastShutdown keeps shutdown tests quick.
func fastShutdown() Settings {
	s := DefaultSettings()
	s.ShutdownGrace = time.Millisecond
	s.DrainTimeout = time.Second
	s.JoinTimeout = 2 * time.Second
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// publishFrame runs BeginFrame/EndFrame for w x h on the calling goroutine.
// It returns once the host has taken the frame.
func publishFrame(sys *System, w, h int) error {
	rec := sys.BeginFrame(w, h)
	if rec == nil {
		return errors.New("BeginFrame returned nil")
	}
	rec.SetRGB(1, 0, 0)
	rec.DrawRectangle(0, 0, 1, 1)
	rec.Fill()
	return sys.EndFrame(rec)
}

// publishAsync runs publishFrame on its own goroutine and waits until the
// frame is in the slot. EndFrame blocks until the frame is consumed, so the
// result arrives after a tick.
func publishAsync(t *testing.T, sys *System, w, h int) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- publishFrame(sys, w, h) }()
	waitFor(t, "frame to be published", sys.slot.Pending)
	return done
}

// result returns the error from done, failing the test if it does not
// arrive in time.
func result(t *testing.T, what string, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("%s still blocked", what)
		return nil
	}
}

// stillBlocked fails the test if done delivers within a short grace period.
func stillBlocked(t *testing.T, what string, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		t.Fatalf("%s returned %v, want it blocked", what, err)
	case <-time.After(30 * time.Millisecond):
	}
}
