package testutil

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/roach88/motionguard/internal/trigger"
)

// FakePort is an in-memory trigger.Port. Each fed chunk is delivered by one
// Read; an empty queue blocks for the read timeout and returns (0, nil) the
// way go.bug.st/serial does.
type FakePort struct {
	chunks chan []byte
	done   chan struct{}

	mu      sync.Mutex
	rest    []byte
	written bytes.Buffer
	timeout time.Duration
	closed  bool
	eof     bool
	readErr error
}

// NewFakePort returns a port that will deliver lines, each terminated by "\n".
func NewFakePort(lines ...string) *FakePort {
	p := &FakePort{
		chunks:  make(chan []byte, 256),
		done:    make(chan struct{}),
		timeout: 10 * time.Millisecond,
	}
	for _, l := range lines {
		p.Feed(l + "\n")
	}
	return p
}

// Feed queues raw bytes for a later Read.
func (p *FakePort) Feed(raw string) {
	p.chunks <- []byte(raw)
}

// EndOfStream makes Read return io.EOF once the queue is drained.
func (p *FakePort) EndOfStream() {
	p.mu.Lock()
	p.eof = true
	p.mu.Unlock()
}

// FailReads makes Read return err once the queue is drained.
func (p *FakePort) FailReads(err error) {
	p.mu.Lock()
	p.readErr = err
	p.mu.Unlock()
}

func (p *FakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, os.ErrClosed
	}
	if len(p.rest) > 0 {
		n := copy(b, p.rest)
		p.rest = p.rest[n:]
		p.mu.Unlock()
		return n, nil
	}
	timeout, eof, readErr := p.timeout, p.eof, p.readErr
	p.mu.Unlock()

	select {
	case chunk := <-p.chunks:
		n := copy(b, chunk)
		if n < len(chunk) {
			p.mu.Lock()
			p.rest = append(p.rest, chunk[n:]...)
			p.mu.Unlock()
		}
		return n, nil
	case <-p.done:
		return 0, os.ErrClosed
	default:
	}

	if eof {
		return 0, io.EOF
	}
	if readErr != nil {
		return 0, readErr
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case chunk := <-p.chunks:
		n := copy(b, chunk)
		if n < len(chunk) {
			p.mu.Lock()
			p.rest = append(p.rest, chunk[n:]...)
			p.mu.Unlock()
		}
		return n, nil
	case <-p.done:
		return 0, os.ErrClosed
	case <-t.C:
		return 0, nil
	}
}

func (p *FakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, os.ErrClosed
	}
	return p.written.Write(b)
}

func (p *FakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return os.ErrClosed
	}
	p.closed = true
	close(p.done)
	return nil
}

// SetReadTimeout records t; reads wait at most t when nothing is queued.
func (p *FakePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t > 0 {
		p.timeout = t
	}
	return nil
}

// Written returns everything written to the port.
func (p *FakePort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

// Closed reports whether Close was called.
func (p *FakePort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// ErrPortUnavailable is returned by openers that have run out of ports.
var ErrPortUnavailable = errors.New("port unavailable")

// PortSequence hands out ports in order, one per open. Once exhausted every
// open fails with ErrPortUnavailable.
type PortSequence struct {
	mu    sync.Mutex
	ports []*FakePort
	opens int
}

// NewPortSequence returns a sequence over ports.
func NewPortSequence(ports ...*FakePort) *PortSequence {
	return &PortSequence{ports: ports}
}

// Open implements trigger.Opener.
func (s *PortSequence) Open(ctx context.Context) (trigger.Port, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.opens >= len(s.ports) {
		s.opens++
		return nil, ErrPortUnavailable
	}
	p := s.ports[s.opens]
	s.opens++
	return p, nil
}

// Opens returns how many times Open was called.
func (s *PortSequence) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}
