// Package gstcam implements capture.Device on top of a GStreamer pipeline:
//
//	v4l2src → videoconvert → videoscale → capsfilter → jpegenc → appsink
//
// The appsink keeps only the newest buffer, so each Grab returns a frame
// taken at or after the call rather than one queued while the burst slept.
package gstcam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/roach88/motionguard/internal/capture"
)

// Config selects the camera and output format.
type Config struct {
	Device  string // e.g. /dev/video0
	Width   int
	Height  int
	Quality int // jpegenc quality, 0-100

	// GrabTimeout bounds the wait for a single frame.
	GrabTimeout time.Duration
}

// DefaultConfig returns a 640x480 configuration for /dev/video0.
func DefaultConfig() Config {
	return Config{
		Device:      "/dev/video0",
		Width:       640,
		Height:      480,
		Quality:     85,
		GrabTimeout: 5 * time.Second,
	}
}

// Device is a GStreamer-backed camera.
type Device struct {
	cfg Config
}

var _ capture.Device = (*Device)(nil)

// New returns a Device.
func New(cfg Config) *Device {
	def := DefaultConfig()
	if cfg.Device == "" {
		cfg.Device = def.Device
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = def.Width, def.Height
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = def.Quality
	}
	if cfg.GrabTimeout <= 0 {
		cfg.GrabTimeout = def.GrabTimeout
	}
	return &Device{cfg: cfg}
}

// Open builds the pipeline and sets it PLAYING.
func (d *Device) Open(ctx context.Context) (capture.Handle, error) {
	gst.Init(nil)

	pipeline, sink, err := d.build()
	if err != nil {
		return nil, err
	}

	h := &handle{
		pipeline: pipeline,
		frames:   make(chan []byte, 1),
		timeout:  d.cfg.GrabTimeout,
	}
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: h.onSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		_ = pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("start camera pipeline: %w", err)
	}
	slog.Debug("camera pipeline playing", "device", d.cfg.Device)
	return h, nil
}

func (d *Device) build() (*gst.Pipeline, *app.Sink, error) {
	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, nil, fmt.Errorf("create pipeline: %w", err)
	}

	src, err := gst.NewElement("v4l2src")
	if err != nil {
		return nil, nil, fmt.Errorf("create v4l2src: %w", err)
	}
	src.SetProperty("device", d.cfg.Device)

	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, nil, fmt.Errorf("create videoconvert: %w", err)
	}
	scale, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, nil, fmt.Errorf("create videoscale: %w", err)
	}

	caps, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, nil, fmt.Errorf("create capsfilter: %w", err)
	}
	caps.SetProperty("caps", gst.NewCapsFromString(
		fmt.Sprintf("video/x-raw,width=%d,height=%d", d.cfg.Width, d.cfg.Height)))

	enc, err := gst.NewElement("jpegenc")
	if err != nil {
		return nil, nil, fmt.Errorf("create jpegenc: %w", err)
	}
	enc.SetProperty("quality", d.cfg.Quality)

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, nil, fmt.Errorf("create appsink: %w", err)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1)
	sink.SetProperty("drop", true)

	if err := pipeline.AddMany(src, convert, scale, caps, enc, sink.Element); err != nil {
		return nil, nil, fmt.Errorf("add elements: %w", err)
	}
	if err := gst.ElementLinkMany(src, convert, scale, caps, enc, sink.Element); err != nil {
		return nil, nil, fmt.Errorf("link elements: %w", err)
	}
	return pipeline, sink, nil
}

// errNoFrame is returned when the pipeline produced nothing within the timeout.
var errNoFrame = errors.New("no frame from camera")

type handle struct {
	pipeline *gst.Pipeline
	frames   chan []byte
	timeout  time.Duration

	once sync.Once
}

func (h *handle) onSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}
	// GStreamer reuses the buffer.
	frame := make([]byte, len(data))
	copy(frame, data)
	buffer.Unmap()

	// Keep only the newest frame.
	select {
	case <-h.frames:
	default:
	}
	select {
	case h.frames <- frame:
	default:
	}
	return gst.FlowOK
}

func (h *handle) Grab(ctx context.Context) ([]byte, error) {
	// Discard a frame buffered before the call.
	select {
	case <-h.frames:
	default:
	}

	t := time.NewTimer(h.timeout)
	defer t.Stop()
	select {
	case f := <-h.frames:
		return f, nil
	case <-t.C:
		return nil, errNoFrame
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *handle) Close() error {
	var err error
	h.once.Do(func() {
		if serr := h.pipeline.SetState(gst.StateNull); serr != nil {
			err = fmt.Errorf("stop camera pipeline: %w", serr)
		}
	})
	return err
}
