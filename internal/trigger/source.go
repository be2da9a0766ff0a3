package trigger

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
)

// State is the trigger link state, reported in logs.
type State string

const (
	StateDisconnected  State = "DISCONNECTED"
	StateListening     State = "LISTENING"
	StateEventReceived State = "EVENT_RECEIVED"
	StateResumeSent    State = "RESUME_SENT"
)

// Config controls token matching and link timing.
type Config struct {
	// Tokens are matched case-insensitively as substrings of each line.
	Tokens       []string
	ReadTimeout  time.Duration
	ResumeToken  string
	ResumeSettle time.Duration
}

// DefaultConfig returns the settings the stock sensor firmware expects.
func DefaultConfig() Config {
	return Config{
		Tokens:       []string{"motion"},
		ReadTimeout:  time.Second,
		ResumeToken:  "resume",
		ResumeSettle: 500 * time.Millisecond,
	}
}

// Conn is an open trigger link. Close is idempotent.
type Conn struct {
	port Port

	mu     sync.Mutex
	closed bool
}

func newConn(p Port) *Conn {
	return &Conn{port: p}
}

// Send writes a single newline-terminated token.
func (c *Conn) Send(token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrNoConnection
	}
	_, err := io.WriteString(c.port, token+"\n")
	return err
}

// Close releases the port.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.port.Close()
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Source waits for motion events and sends resume tokens.
type Source struct {
	open   Opener
	cfg    Config
	tokens []string
}

// NewSource returns a Source. Zero-valued config fields take their defaults.
func NewSource(open Opener, cfg Config) *Source {
	def := DefaultConfig()
	if len(cfg.Tokens) == 0 {
		cfg.Tokens = def.Tokens
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.ResumeToken == "" {
		cfg.ResumeToken = def.ResumeToken
	}
	if cfg.ResumeSettle < 0 {
		cfg.ResumeSettle = 0
	}

	fold := cases.Fold()
	tokens := make([]string, 0, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		if t = strings.TrimSpace(t); t != "" {
			tokens = append(tokens, fold.String(t))
		}
	}
	return &Source{open: open, cfg: cfg, tokens: tokens}
}

// Config returns the effective configuration.
func (s *Source) Config() Config {
	return s.cfg
}

// WaitForTrigger blocks until a motion line arrives and returns the open
// connection. The caller owns the returned Conn. Every failure, including
// cancellation, closes the port and returns a *ConnectivityError.
func (s *Source) WaitForTrigger(ctx context.Context) (*Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, connectivity("cancelled", err)
	}

	slog.Debug("trigger state", "state", StateDisconnected)
	port, err := s.open(ctx)
	if err != nil {
		slog.Warn("trigger port unavailable", "error", err)
		return nil, connectivity("open", err)
	}
	if err := port.SetReadTimeout(s.cfg.ReadTimeout); err != nil {
		_ = port.Close()
		return nil, connectivity("open", err)
	}

	conn := newConn(port)
	// Closing on cancel unblocks a read stuck in the driver.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	slog.Debug("trigger state", "state", StateListening)
	fold := cases.Fold()
	scanner := newLineScanner(port)
	for {
		if err := ctx.Err(); err != nil {
			_ = conn.Close()
			return nil, connectivity("cancelled", err)
		}

		lines, err := scanner.read()
		for _, line := range lines {
			if line == "" {
				continue
			}
			slog.Debug("trigger line", "line", line)
			if s.matches(fold, line) {
				if ctx.Err() != nil {
					break
				}
				slog.Debug("trigger state", "state", StateEventReceived)
				if err != nil {
					// The stream ended with the event; Resume must reopen.
					slog.Debug("trigger stream ended after event", "error", err)
					_ = conn.Close()
				}
				return conn, nil
			}
		}
		if err != nil {
			_ = conn.Close()
			if cerr := ctx.Err(); cerr != nil {
				return nil, connectivity("cancelled", cerr)
			}
			slog.Warn("trigger read failed", "error", err)
			return nil, connectivity("read", err)
		}
	}
}

func (s *Source) matches(fold cases.Caser, line string) bool {
	folded := fold.String(line)
	for _, t := range s.tokens {
		if strings.Contains(folded, t) {
			return true
		}
	}
	return false
}

// Resume tells the sensor to re-arm. It reuses conn when still open and
// reopens the port otherwise; conn is closed on return either way.
func (s *Source) Resume(ctx context.Context, conn *Conn) error {
	if conn == nil || conn.Closed() {
		port, err := s.open(ctx)
		if err != nil {
			return connectivity("open", err)
		}
		conn = newConn(port)
	}
	defer conn.Close()

	if err := conn.Send(s.cfg.ResumeToken); err != nil {
		return connectivity("write", err)
	}
	slog.Debug("trigger state", "state", StateResumeSent)

	if s.cfg.ResumeSettle > 0 {
		t := time.NewTimer(s.cfg.ResumeSettle)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		}
	}
	return nil
}
