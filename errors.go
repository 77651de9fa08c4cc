package overlay

import "errors"

var (
	// ErrCanvasMismatch is returned by EndFrame for a recorder that did not
	// come from the latest BeginFrame.
	ErrCanvasMismatch = errors.New("overlay: recorder is not the current frame")

	// ErrUnsupportedFormat is returned by New for a surface format that is
	// not 8-bit RGBA or BGRA.
	ErrUnsupportedFormat = errors.New("overlay: unsupported surface format")

	// ErrAlreadyStarted is returned by Start on a running system.
	ErrAlreadyStarted = errors.New("overlay: already started")

	// ErrStopped is returned by Start after shutdown.
	ErrStopped = errors.New("overlay: stopped")
)
