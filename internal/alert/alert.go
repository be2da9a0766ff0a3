// Package alert fans an intruder detection out to the configured
// notification channels.
//
// Channels are independent: each is attempted at most once per detection,
// in order, and a failing or panicking channel never stops the others.
// Unconfigured channels are skipped with a warning.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/motionguard/internal/verify"
)

// Alert is what a channel is asked to deliver.
type Alert struct {
	Identity   string
	Score      float64
	ImagePath  string
	DetectedAt time.Time
}

// Channel delivers an alert to one destination.
type Channel interface {
	Name() string
	// Configured reports whether the channel has the credentials it needs.
	Configured() bool
	Send(ctx context.Context, a Alert) error
}

// NotificationError reports a failed delivery on one channel.
type NotificationError struct {
	Channel string
	Err     error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notify %s: %v", e.Channel, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

// IsNotificationError returns true if err carries a NotificationError.
func IsNotificationError(err error) bool {
	var ne *NotificationError
	return errors.As(err, &ne)
}

// Status is the per-channel dispatch result.
type Status string

const (
	StatusSent    Status = "sent"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// ChannelResult records what happened on one channel.
type ChannelResult struct {
	Channel string
	Status  Status
	Err     error
}

// Report lists channel results in dispatch order. It is empty when nothing
// was dispatched.
type Report struct {
	Results []ChannelResult
}

// Sent returns the number of channels that delivered.
func (r Report) Sent() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == StatusSent {
			n++
		}
	}
	return n
}

// Failed returns the results with StatusFailed.
func (r Report) Failed() []ChannelResult {
	var out []ChannelResult
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			out = append(out, res)
		}
	}
	return out
}

// Dispatcher sends intruder alerts to an ordered channel list.
type Dispatcher struct {
	channels []Channel
	now      func() time.Time
}

// NewDispatcher returns a dispatcher over channels, attempted in the given order.
func NewDispatcher(channels ...Channel) *Dispatcher {
	return &Dispatcher{channels: channels, now: time.Now}
}

// WithClock overrides the detection timestamp source.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Channels returns the channel names in dispatch order.
func (d *Dispatcher) Channels() []string {
	names := make([]string, len(d.channels))
	for i, c := range d.channels {
		names[i] = c.Name()
	}
	return names
}

// Dispatch notifies every configured channel about an intruder outcome.
// Any other outcome is a no-op. Failures are logged and reported, never
// returned.
func (d *Dispatcher) Dispatch(ctx context.Context, outcome verify.Outcome, artifact string) Report {
	if outcome.Kind != verify.Intruder {
		return Report{}
	}

	a := Alert{
		Identity:   outcome.Identity,
		Score:      outcome.Score,
		ImagePath:  artifact,
		DetectedAt: d.now(),
	}

	var report Report
	for _, ch := range d.channels {
		name := ch.Name()
		if !ch.Configured() {
			slog.Warn("alert channel not configured, skipping", "channel", name)
			report.Results = append(report.Results, ChannelResult{Channel: name, Status: StatusSkipped})
			continue
		}

		if err := safeSend(ctx, ch, a); err != nil {
			nerr := &NotificationError{Channel: name, Err: err}
			slog.Warn("alert channel failed", "channel", name, "error", err)
			report.Results = append(report.Results, ChannelResult{Channel: name, Status: StatusFailed, Err: nerr})
			continue
		}
		slog.Info("alert sent", "channel", name, "image", artifact)
		report.Results = append(report.Results, ChannelResult{Channel: name, Status: StatusSent})
	}
	return report
}

// safeSend converts a panicking channel into an error.
func safeSend(ctx context.Context, ch Channel, a Alert) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return ch.Send(ctx, a)
}
