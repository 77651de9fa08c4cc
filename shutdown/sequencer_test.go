package shutdown

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/gg/recording"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/overlay/frame"
	"github.com/gogpu/overlay/surface"
	"github.com/gogpu/overlay/worker"
)

type rig struct {
	loop *worker.Loop
	slot *frame.Slot
	mgr  *surface.Manager
	seq  *Sequencer
}

func newRig(t *testing.T, cfg Config) *rig {
	t.Helper()
	r := &rig{
		loop: worker.New(),
		slot: frame.NewSlot(),
		mgr:  surface.NewManager(gputypes.TextureFormatRGBA8Unorm, nil),
	}
	r.seq = New(r.loop, r.slot, r.mgr, func() Config { return cfg })
	r.loop.Start()
	return r
}

// publish records an empty frame of w x h on the worker and publishes it.
func (r *rig) publish(t *testing.T, w, h int) <-chan error {
	t.Helper()
	errc := make(chan error, 1)
	err := r.loop.Post(func() {
		surf, err := r.mgr.Ensure(w, h)
		if err != nil {
			errc <- err
			return
		}
		task := frame.NewTask(recording.NewRecorder(w, h).FinishRecording())
		errc <- r.slot.Publish(context.Background(), task, surf)
	})
	if err != nil {
		t.Fatalf("Post() error: %v", err)
	}
	return errc
}

func (r *rig) waitPending(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !r.slot.Pending() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for a published frame")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{Running, "Running"},
		{Stopping, "Stopping"},
		{Stopped, "Stopped"},
		{State(7), "State(7)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int32(tt.s), got, tt.want)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	got := Config{}.withDefaults()
	want := Config{Grace: DefaultGrace, DrainTimeout: DefaultDrainTimeout, JoinTimeout: DefaultJoinTimeout}
	if got != want {
		t.Errorf("withDefaults() = %+v, want %+v", got, want)
	}
	custom := Config{Grace: time.Millisecond, DrainTimeout: 2 * time.Millisecond, JoinTimeout: 3 * time.Millisecond}
	if got := custom.withDefaults(); got != custom {
		t.Errorf("withDefaults() changed explicit values: %+v", got)
	}
}

func TestShutdownMidFlight(t *testing.T) {
	r := newRig(t, Config{Grace: 5 * time.Millisecond, DrainTimeout: 2 * time.Second, JoinTimeout: time.Second})

	// Frame C is published but not consumed.
	published := r.publish(t, 400, 300)
	r.waitPending(t)
	surfC := r.mgr.Current()

	// One more consumer tick arrives while shutdown is draining.
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		for !r.slot.Sealed() {
			time.Sleep(time.Millisecond)
		}
		time.Sleep(10 * time.Millisecond)
		task, surf := r.slot.Consume(nil)
		if task != nil {
			task.Release()
		}
		if surf != nil {
			surf.Release()
		}
	}()

	if err := r.seq.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	<-consumed
	if err := <-published; !errors.Is(err, frame.ErrClosed) {
		t.Errorf("publish C error = %v, want %v once sealed", err, frame.ErrClosed)
	}

	if got := r.seq.State(); got != Stopped {
		t.Errorf("State() = %v, want Stopped", got)
	}
	if !r.seq.Drained() {
		t.Error("Drained() = false, want the consumer to have taken frame C")
	}
	if !surfC.Released() {
		t.Error("final surface not released")
	}
	if got := r.mgr.Frees(); got != 1 {
		t.Errorf("surface freed %d times, want exactly 1", got)
	}
	if err := r.seq.JoinErr(); err != nil {
		t.Errorf("JoinErr() = %v", err)
	}
	if r.loop.Accepting() {
		t.Error("worker still accepting after shutdown")
	}
}

func TestShutdownDrainTimeoutReleasesOnce(t *testing.T) {
	r := newRig(t, Config{Grace: time.Millisecond, DrainTimeout: 20 * time.Millisecond, JoinTimeout: time.Second})

	// The producer blocks inside the worker loop until the frame is taken.
	blocked := r.publish(t, 64, 64)
	r.waitPending(t)

	if err := r.seq.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if err := <-blocked; !errors.Is(err, frame.ErrClosed) {
		t.Errorf("blocked publish error = %v, want %v", err, frame.ErrClosed)
	}
	if r.seq.Drained() {
		t.Error("Drained() = true without a consumer")
	}
	if got := r.mgr.Frees(); got != 1 {
		t.Errorf("surface freed %d times, want exactly 1", got)
	}
	if r.mgr.Live() != 0 {
		t.Errorf("Live() = %d, want 0", r.mgr.Live())
	}
}

func TestShutdownWaitsForWorkerExit(t *testing.T) {
	r := newRig(t, Config{Grace: time.Millisecond, DrainTimeout: time.Millisecond, JoinTimeout: 2 * time.Second})

	var ran atomic.Bool
	if err := r.loop.Post(func() {
		time.Sleep(50 * time.Millisecond)
		ran.Store(true)
	}); err != nil {
		t.Fatalf("Post() error: %v", err)
	}

	if err := r.seq.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	select {
	case <-r.loop.Done():
	default:
		t.Fatal("Stopped reached before the worker loop exited")
	}
	if !ran.Load() {
		t.Error("queued message did not run before the loop exited")
	}
	if err := r.seq.JoinErr(); err != nil {
		t.Errorf("JoinErr() = %v", err)
	}
}

type stuckLoop struct {
	quits atomic.Int32
}

func (l *stuckLoop) Quit(time.Duration) { l.quits.Add(1) }
func (l *stuckLoop) Join(timeout time.Duration) error {
	time.Sleep(timeout)
	return worker.ErrJoinTimeout
}

func TestShutdownJoinTimeoutNotFatal(t *testing.T) {
	loop := &stuckLoop{}
	mgr := surface.NewManager(gputypes.TextureFormatRGBA8Unorm, nil)
	s, _ := mgr.Ensure(8, 8)
	s.Release()

	seq := New(loop, frame.NewSlot(), mgr, func() Config {
		return Config{Grace: time.Millisecond, DrainTimeout: time.Millisecond, JoinTimeout: 10 * time.Millisecond}
	})

	if err := seq.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v, want nil on join timeout", err)
	}
	if !errors.Is(seq.JoinErr(), worker.ErrJoinTimeout) {
		t.Errorf("JoinErr() = %v, want %v", seq.JoinErr(), worker.ErrJoinTimeout)
	}
	if seq.State() != Stopped {
		t.Errorf("State() = %v, want Stopped", seq.State())
	}
	if !s.Released() {
		t.Error("surface not released after join timeout")
	}
}

func TestShutdownIdempotent(t *testing.T) {
	loop := &stuckLoop{}
	mgr := surface.NewManager(gputypes.TextureFormatRGBA8Unorm, nil)
	s, _ := mgr.Ensure(8, 8)
	s.Release()

	var hooks atomic.Int32
	seq := New(loop, frame.NewSlot(), mgr, func() Config {
		return Config{JoinTimeout: 30 * time.Millisecond}
	})
	seq.OnStopped(func() { hooks.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := seq.Shutdown(context.Background()); err != nil {
				t.Errorf("Shutdown() error: %v", err)
			}
			if seq.State() != Stopped {
				t.Errorf("Shutdown() returned in state %v", seq.State())
			}
		}()
	}
	wg.Wait()

	if got := loop.quits.Load(); got != 1 {
		t.Errorf("Quit called %d times, want 1", got)
	}
	if got := hooks.Load(); got != 1 {
		t.Errorf("OnStopped hook ran %d times, want 1", got)
	}
	if got := mgr.Frees(); got != 1 {
		t.Errorf("surface freed %d times, want 1", got)
	}
	select {
	case <-seq.Done():
	default:
		t.Error("Done() not closed")
	}
}

func TestShutdownWaiterHonorsContext(t *testing.T) {
	loop := &stuckLoop{}
	seq := New(loop, nil, nil, func() Config { return Config{JoinTimeout: 200 * time.Millisecond} })

	go func() { _ = seq.Shutdown(context.Background()) }()
	for seq.State() == Running {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := seq.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second Shutdown() error = %v, want %v", err, context.DeadlineExceeded)
	}
	<-seq.Done()
}
