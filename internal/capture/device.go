// Package capture grabs a short burst of frames from the imaging device and
// persists them as JPEG artifacts.
//
// The device is a shared exclusive resource. A Capturer holds the
// process-wide device lock for the whole burst and releases the handle and
// the lock on every exit path, so classification never runs while the camera
// is held.
package capture

import (
	"context"
	"errors"
	"fmt"
)

// Device opens the camera.
type Device interface {
	Open(ctx context.Context) (Handle, error)
}

// Handle is an open camera. Grab returns one JPEG-encoded frame.
type Handle interface {
	Grab(ctx context.Context) ([]byte, error)
	Close() error
}

// DeviceFunc adapts a function to Device.
type DeviceFunc func(ctx context.Context) (Handle, error)

// Open calls f.
func (f DeviceFunc) Open(ctx context.Context) (Handle, error) {
	return f(ctx)
}

// ErrDeviceUnavailable is wrapped by DeviceError when the camera cannot be opened.
var ErrDeviceUnavailable = errors.New("imaging device unavailable")

// DeviceError reports a camera failure. Op is "open", "grab" or "save".
type DeviceError struct {
	Op    string
	Frame int
	Err   error
}

func (e *DeviceError) Error() string {
	if e.Op == "open" {
		return fmt.Sprintf("device %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("device %s frame %d: %v", e.Op, e.Frame, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// IsDeviceError returns true if err carries a DeviceError.
func IsDeviceError(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}
