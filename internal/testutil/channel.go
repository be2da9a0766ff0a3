package testutil

import (
	"context"
	"sync"

	"github.com/roach88/motionguard/internal/alert"
)

// FakeChannel records alerts. Err fails every send; Panic makes Send panic
// with that value.
type FakeChannel struct {
	ChannelName  string
	Unconfigured bool
	Err          error
	Panic        any

	mu   sync.Mutex
	sent []alert.Alert
}

// NewFakeChannel returns a configured channel that succeeds.
func NewFakeChannel(name string) *FakeChannel {
	return &FakeChannel{ChannelName: name}
}

func (c *FakeChannel) Name() string { return c.ChannelName }

func (c *FakeChannel) Configured() bool { return !c.Unconfigured }

func (c *FakeChannel) Send(_ context.Context, a alert.Alert) error {
	c.mu.Lock()
	c.sent = append(c.sent, a)
	c.mu.Unlock()
	if c.Panic != nil {
		panic(c.Panic)
	}
	return c.Err
}

// Sent returns every alert passed to Send, including failed ones.
func (c *FakeChannel) Sent() []alert.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]alert.Alert(nil), c.sent...)
}
