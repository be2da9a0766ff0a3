package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/motionguard/internal/capture"
)

// ErrGrabFailed is the default error for a scripted failing grab.
var ErrGrabFailed = errors.New("grab failed")

// FakeDevice is a scripted capture.Device. Each Grab consumes one entry of
// Frames; a nil entry fails with ErrGrabFailed. Grabs past the script fail.
type FakeDevice struct {
	Frames  [][]byte
	OpenErr error

	mu      sync.Mutex
	next    int
	opens   int
	closes  int
	holders int
	maxHeld int
}

// NewFakeDevice returns a device that yields the given frames in order.
func NewFakeDevice(frames ...[]byte) *FakeDevice {
	return &FakeDevice{Frames: frames}
}

// JPEG returns a tiny payload that starts with the JPEG SOI marker.
func JPEG(tag string) []byte {
	return append([]byte{0xFF, 0xD8, 0xFF}, tag...)
}

// Open implements capture.Device.
func (d *FakeDevice) Open(ctx context.Context) (capture.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	d.holders++
	if d.holders > d.maxHeld {
		d.maxHeld = d.holders
	}
	return &fakeHandle{d: d}, nil
}

// Opens returns how many times Open was called.
func (d *FakeDevice) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Closes returns how many handles were closed.
func (d *FakeDevice) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// MaxConcurrentHolders returns the peak number of simultaneously open handles.
func (d *FakeDevice) MaxConcurrentHolders() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxHeld
}

type fakeHandle struct {
	d      *FakeDevice
	closed bool
}

func (h *fakeHandle) Grab(ctx context.Context) ([]byte, error) {
	h.d.mu.Lock()
	defer h.d.mu.Unlock()
	if h.d.next >= len(h.d.Frames) {
		return nil, ErrGrabFailed
	}
	data := h.d.Frames[h.d.next]
	h.d.next++
	if data == nil {
		return nil, ErrGrabFailed
	}
	return data, nil
}

func (h *fakeHandle) Close() error {
	h.d.mu.Lock()
	defer h.d.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.d.closes++
	h.d.holders--
	return nil
}
