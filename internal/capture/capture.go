package capture

import (
	"context"
	"log/slog"
	"time"
)

// Default burst parameters.
const (
	DefaultFrameCount = 5
	DefaultFrameDelay = 2 * time.Second
)

// Frame is one persisted image of a burst.
type Frame struct {
	Index int
	Path  string
}

// Session is the ordered result of a burst. Indices run 0..len-1.
// An empty session is a valid result.
type Session struct {
	Frames []Frame
}

// Empty reports whether no frame was captured.
func (s Session) Empty() bool {
	return len(s.Frames) == 0
}

// Paths returns the artifact paths in capture order.
func (s Session) Paths() []string {
	out := make([]string, len(s.Frames))
	for i, f := range s.Frames {
		out[i] = f.Path
	}
	return out
}

// deviceLock guards the camera across every Capturer in the process.
var deviceLock = make(chan struct{}, 1)

// Capturer runs bursts against a device.
type Capturer struct {
	device Device
	store  *ArtifactStore
	lock   chan struct{}
	sleep  func(ctx context.Context, d time.Duration) bool
}

// NewCapturer returns a Capturer sharing the process-wide device lock.
func NewCapturer(device Device, store *ArtifactStore) *Capturer {
	return &Capturer{
		device: device,
		store:  store,
		lock:   deviceLock,
		sleep:  sleepCtx,
	}
}

// Store returns the artifact store frames are written to.
func (c *Capturer) Store() *ArtifactStore {
	return c.store
}

// Capture grabs up to count frames, pausing delay between successful reads.
// Frames that fail to grab or persist are dropped and the rest re-indexed.
// Device-open failure and cancellation yield whatever was captured so far,
// possibly nothing.
func (c *Capturer) Capture(ctx context.Context, count int, delay time.Duration) Session {
	if count <= 0 {
		return Session{}
	}

	select {
	case c.lock <- struct{}{}:
	case <-ctx.Done():
		slog.Warn("capture cancelled waiting for device")
		return Session{}
	}
	defer func() { <-c.lock }()

	h, err := c.device.Open(ctx)
	if err != nil {
		slog.Error("capture device unavailable", "error", &DeviceError{Op: "open", Err: err})
		return Session{}
	}
	defer func() {
		if err := h.Close(); err != nil {
			slog.Warn("capture device close failed", "error", err)
		}
	}()

	var frames []Frame
	for i := 0; i < count; i++ {
		if ctx.Err() != nil {
			break
		}
		data, err := h.Grab(ctx)
		if err != nil {
			slog.Warn("frame grab failed", "error", &DeviceError{Op: "grab", Frame: i, Err: err})
			continue
		}
		path, err := c.store.Save(data)
		if err != nil {
			slog.Warn("frame save failed", "error", &DeviceError{Op: "save", Frame: i, Err: err})
			continue
		}
		frames = append(frames, Frame{Index: len(frames), Path: path})
		slog.Debug("frame captured", "attempt", i+1, "path", path)

		if i < count-1 && delay > 0 && !c.sleep(ctx, delay) {
			break
		}
	}

	slog.Info("capture complete", "requested", count, "frames", len(frames))
	return Session{Frames: frames}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
