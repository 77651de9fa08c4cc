// Command overlaydemo runs an overlay system inside an ebiten window.
//
// The overlay worker animates a view; the ebiten game loop acts as the host
// render thread, presenting each frame and a statistics panel.
//
// Usage:
//
//	overlaydemo [-config overlaydemo.yaml]
//
// Keys: F1 toggles the statistics panel, Up/Down change the animation
// speed. Closing the window shuts the overlay down.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"github.com/gogpu/overlay"
	"github.com/gogpu/overlay/cmd/overlaydemo/internal/config"
	"github.com/gogpu/overlay/hud"
	"github.com/gogpu/overlay/overlays"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "overlaydemo: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	path := flag.String("config", "overlaydemo.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadOptional(*path)
	if err != nil {
		return err
	}
	res, err := cfg.Resolve()
	if err != nil {
		return err
	}

	overlay.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: res.LogLevel})))

	view := newOrbitView()
	sys, err := overlay.New(overlay.WithView(view), overlay.WithSettings(res.Settings))
	if err != nil {
		return fmt.Errorf("create overlay: %w", err)
	}

	g := &game{sys: sys, view: view, last: time.Now()}
	if res.HUD {
		g.hud = hud.New(sys.Stats,
			hud.WithPosition(res.HUDX, res.HUDY),
			hud.WithScale(res.HUDScale),
			hud.WithOpacity(res.HUDOpacity))
		g.hudID = sys.RegisterOverlay(g.hud)
	}
	if err := sys.Start(); err != nil {
		return fmt.Errorf("start overlay: %w", err)
	}

	ebiten.SetWindowTitle(res.Title)
	ebiten.SetWindowSize(res.Width, res.Height)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowClosingHandled(true)

	err = ebiten.RunGame(g)
	if g.hud != nil {
		g.hud.Close()
	}
	if err != nil && !errors.Is(err, ebiten.Termination) {
		return fmt.Errorf("run game loop: %w", err)
	}
	return nil
}

// game is the ebiten host. Draw runs on the host render thread.
type game struct {
	sys  *overlay.System
	view *orbitView

	hud   *hud.HUD
	hudID overlays.ID

	width, height int
	last          time.Time
	stopped       <-chan struct{}
}

func (g *game) Update() error {
	if g.stopped == nil && ebiten.IsWindowBeingClosed() {
		g.stopped = g.sys.OnHostShutdownRequested()
	}
	if g.stopped != nil {
		select {
		case <-g.stopped:
			return ebiten.Termination
		default:
			return nil
		}
	}

	if g.hud != nil && inpututil.IsKeyJustPressed(ebiten.KeyF1) {
		g.hud.SetVisible(!g.hud.State().Visible)
		g.sys.NotifyOverlayUpdated(g.hudID)
	}
	speed := math.Float64frombits(g.view.speed.Load())
	switch {
	case inpututil.IsKeyJustPressed(ebiten.KeyUp):
		speed = min(speed*1.5, 20)
	case inpututil.IsKeyJustPressed(ebiten.KeyDown):
		speed = max(speed/1.5, 0.05)
	}
	g.view.speed.Store(math.Float64bits(speed))
	return nil
}

func (g *game) Draw(screen *ebiten.Image) {
	now := time.Now()
	dt := now.Sub(g.last)
	g.last = now

	mx, my := ebiten.CursorPosition()
	g.sys.OnHostTick(float64(mx), float64(my), dt, &screenDrawer{screen: screen})
}

func (g *game) Layout(outsideWidth, outsideHeight int) (int, int) {
	if outsideWidth != g.width || outsideHeight != g.height {
		g.width, g.height = outsideWidth, outsideHeight
		g.sys.OnHostResize(outsideWidth, outsideHeight)
	}
	return outsideWidth, outsideHeight
}
