package trigger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Port is a serial-like byte stream with a per-read timeout.
// A read that times out returns (0, nil) or an error satisfying
// os.ErrDeadlineExceeded; both mean "nothing yet".
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Opener opens a fresh Port. Called once per wait cycle.
type Opener func(ctx context.Context) (Port, error)

// SerialOpener opens a local serial device such as /dev/ttyUSB0 or COM3.
func SerialOpener(path string, baud int) Opener {
	return func(ctx context.Context) (Port, error) {
		p, err := serial.Open(path, &serial.Mode{BaudRate: baud})
		if err != nil {
			return nil, fmt.Errorf("open serial %s: %w", path, err)
		}
		return p, nil
	}
}

// NetOpener dials a TCP serial bridge (ser2net, ESP32 telnet bridge).
func NetOpener(addr string) Opener {
	return func(ctx context.Context) (Port, error) {
		var d net.Dialer
		c, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		return NewNetPort(c), nil
	}
}

// NetPort adapts a net.Conn to Port by arming a read deadline before each read.
type NetPort struct {
	net.Conn

	mu      sync.Mutex
	timeout time.Duration
}

// NewNetPort wraps c.
func NewNetPort(c net.Conn) *NetPort {
	return &NetPort{Conn: c}
}

// SetReadTimeout sets the deadline applied to each subsequent Read.
func (p *NetPort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	p.timeout = t
	p.mu.Unlock()
	return nil
}

func (p *NetPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	t := p.timeout
	p.mu.Unlock()
	if t > 0 {
		if err := p.Conn.SetReadDeadline(time.Now().Add(t)); err != nil {
			return 0, err
		}
	}
	return p.Conn.Read(b)
}

// maxPending bounds a line that never sees a newline.
const maxPending = 4096

// lineScanner splits the port byte stream into trimmed text lines.
type lineScanner struct {
	port    Port
	buf     []byte
	pending []byte
}

func newLineScanner(p Port) *lineScanner {
	return &lineScanner{port: p, buf: make([]byte, 256)}
}

// read performs one bounded read and returns the complete lines it produced.
func (s *lineScanner) read() ([]string, error) {
	n, err := s.port.Read(s.buf)
	if n > 0 {
		s.pending = append(s.pending, s.buf[:n]...)
	}
	if err != nil && !isTimeout(err) {
		return s.drain(), err
	}

	var lines []string
	for {
		i := bytes.IndexByte(s.pending, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, clean(s.pending[:i]))
		s.pending = s.pending[i+1:]
	}
	if len(s.pending) > maxPending {
		lines = append(lines, clean(s.pending))
		s.pending = nil
	}
	return lines, nil
}

// drain returns whatever complete lines are buffered when the stream ends.
func (s *lineScanner) drain() []string {
	if len(s.pending) == 0 {
		return nil
	}
	var lines []string
	for _, part := range bytes.Split(s.pending, []byte{'\n'}) {
		if line := clean(part); line != "" {
			lines = append(lines, line)
		}
	}
	s.pending = nil
	return lines
}

// clean decodes leniently and trims whitespace, matching the firmware's
// habit of emitting "\r\n" and the occasional garbage byte at boot.
func clean(b []byte) string {
	return strings.TrimSpace(strings.ToValidUTF8(string(b), ""))
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
