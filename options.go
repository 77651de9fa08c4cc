package overlay

import (
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/overlay/frame"
	"github.com/gogpu/overlay/surface"
)

// Submitter renders a consumed frame task into its surface and returns the
// texture to composite. The default is composite.NewSubmitter.
type Submitter interface {
	Submit(task *frame.Task, surf *surface.Surface, creator gpucontext.TextureCreator) (gpucontext.Texture, error)
}

// Option configures a System during creation.
//
// Example:
//
//	sys, err := overlay.New(
//	    overlay.WithView(hudView),
//	    overlay.WithSettings(cfg),
//	)
type Option func(*options)

type options struct {
	view      View
	settings  *Settings
	format    gputypes.TextureFormat
	provider  gpucontext.DeviceProvider
	submitter Submitter
}

// WithView sets the content view driven by the worker.
func WithView(v View) Option {
	return func(o *options) {
		o.view = v
	}
}

// WithSettings sets the initial settings snapshot.
func WithSettings(s Settings) Option {
	return func(o *options) {
		o.settings = &s
	}
}

// WithSurfaceFormat sets the texture format of overlay surfaces.
// It must be an 8-bit RGBA or BGRA format.
func WithSurfaceFormat(f gputypes.TextureFormat) Option {
	return func(o *options) {
		o.format = f
	}
}

// WithDeviceProvider shares the host's GPU device. The surface format
// defaults to the provider's surface format, and the composite shader is
// prepared on the device when the system starts.
func WithDeviceProvider(p gpucontext.DeviceProvider) Option {
	return func(o *options) {
		o.provider = p
	}
}

// WithSubmitter replaces the frame submitter.
func WithSubmitter(sub Submitter) Option {
	return func(o *options) {
		o.submitter = sub
	}
}
