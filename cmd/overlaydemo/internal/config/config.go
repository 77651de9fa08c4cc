package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gogpu/gg"

	"github.com/gogpu/overlay"
)

// Config is the optional overlaydemo.yaml configuration.
type Config struct {
	Window  WindowConfig  `yaml:"window"`
	Overlay OverlayConfig `yaml:"overlay"`
	HUD     HUDConfig     `yaml:"hud"`
	Log     LogConfig     `yaml:"log"`
}

// WindowConfig contains host window settings.
type WindowConfig struct {
	Title  string `yaml:"title,omitempty"`
	Width  int    `yaml:"width,omitempty"`
	Height int    `yaml:"height,omitempty"`
}

// OverlayConfig mirrors overlay.Settings.
type OverlayConfig struct {
	ClearColor      string        `yaml:"clear_color,omitempty"`
	PublishTimeout  time.Duration `yaml:"publish_timeout,omitempty"`
	ShutdownGrace   time.Duration `yaml:"shutdown_grace,omitempty"`
	DrainTimeout    time.Duration `yaml:"drain_timeout,omitempty"`
	JoinTimeout     time.Duration `yaml:"join_timeout,omitempty"`
	RetainLastFrame *bool         `yaml:"retain_last_frame,omitempty"`
	Debug           bool          `yaml:"debug,omitempty"`
	Backend         string        `yaml:"backend,omitempty"`
}

// HUDConfig contains statistics panel settings.
type HUDConfig struct {
	Enabled *bool   `yaml:"enabled,omitempty"`
	Scale   int     `yaml:"scale,omitempty"`
	Opacity float32 `yaml:"opacity,omitempty"`
	X       float32 `yaml:"x,omitempty"`
	Y       float32 `yaml:"y,omitempty"`
}

// LogConfig selects the log level: debug, info, warn or error.
type LogConfig struct {
	Level string `yaml:"level,omitempty"`
}

// LoadOptional reads the configuration at path if present.
func LoadOptional(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Resolved contains configuration values with defaults applied.
type Resolved struct {
	Title         string
	Width, Height int
	Settings      overlay.Settings
	HUD           bool
	HUDScale      int
	HUDOpacity    float32
	HUDX, HUDY    float32
	LogLevel      slog.Level
}

// Resolve applies defaults and validates cfg.
func (cfg *Config) Resolve() (*Resolved, error) {
	r := &Resolved{
		Title:      strings.TrimSpace(cfg.Window.Title),
		Width:      cfg.Window.Width,
		Height:     cfg.Window.Height,
		Settings:   overlay.DefaultSettings(),
		HUD:        true,
		HUDScale:   max(cfg.HUD.Scale, 1),
		HUDOpacity: 0.85,
		HUDX:       8,
		HUDY:       8,
	}
	if r.Title == "" {
		r.Title = "overlay demo"
	}
	if r.Width == 0 {
		r.Width = 960
	}
	if r.Height == 0 {
		r.Height = 540
	}
	if r.Width < 0 || r.Height < 0 {
		return nil, fmt.Errorf("invalid window size %dx%d", r.Width, r.Height)
	}

	o := cfg.Overlay
	s := &r.Settings
	if o.ClearColor != "" {
		c, err := gg.ParseHex(o.ClearColor)
		if err != nil {
			return nil, fmt.Errorf("overlay.clear_color: %w", err)
		}
		s.ClearColor = c
	}
	for name, d := range map[string]time.Duration{
		"publish_timeout": o.PublishTimeout,
		"shutdown_grace":  o.ShutdownGrace,
		"drain_timeout":   o.DrainTimeout,
		"join_timeout":    o.JoinTimeout,
	} {
		if d < 0 {
			return nil, fmt.Errorf("overlay.%s: negative duration %v", name, d)
		}
	}
	s.PublishTimeout = o.PublishTimeout
	if o.ShutdownGrace > 0 {
		s.ShutdownGrace = o.ShutdownGrace
	}
	if o.DrainTimeout > 0 {
		s.DrainTimeout = o.DrainTimeout
	}
	if o.JoinTimeout > 0 {
		s.JoinTimeout = o.JoinTimeout
	}
	if o.RetainLastFrame != nil {
		s.RetainLastFrame = *o.RetainLastFrame
	}
	s.Debug = o.Debug
	s.Backend = strings.TrimSpace(o.Backend)

	if cfg.HUD.Enabled != nil {
		r.HUD = *cfg.HUD.Enabled
	}
	if cfg.HUD.Opacity > 0 {
		r.HUDOpacity = min(cfg.HUD.Opacity, 1)
	}
	if cfg.HUD.X != 0 || cfg.HUD.Y != 0 {
		r.HUDX, r.HUDY = cfg.HUD.X, cfg.HUD.Y
	}

	level := strings.TrimSpace(cfg.Log.Level)
	if level == "" {
		level = "info"
	}
	if err := r.LogLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	return r, nil
}
