package matcher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// SubprocessConfig describes the embedding worker command.
type SubprocessConfig struct {
	Command string
	Args    []string
	Dir     string

	// Timeout bounds a single embed round trip. A worker that misses it is
	// killed and restarted on the next call.
	Timeout time.Duration
}

// SubprocessEmbedder runs the face model as a child process and talks to it
// over stdin/stdout with length-prefixed msgpack frames. The process is
// started lazily and restarted after any transport failure.
type SubprocessEmbedder struct {
	cfg SubprocessConfig

	mu   sync.Mutex
	proc *workerProcess
}

var _ Embedder = (*SubprocessEmbedder)(nil)

type workerProcess struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdin  io.WriteCloser
	client *Client
	exited chan struct{}
}

// NewSubprocessEmbedder returns an embedder for cfg.
func NewSubprocessEmbedder(cfg SubprocessConfig) (*SubprocessEmbedder, error) {
	if cfg.Command == "" {
		return nil, errors.New("embedder command is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SubprocessEmbedder{cfg: cfg}, nil
}

// Embed sends one image path to the worker and waits for its embedding.
func (e *SubprocessEmbedder) Embed(ctx context.Context, imagePath string) (Embedding, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.ensureStarted()
	if err != nil {
		return nil, err
	}

	type result struct {
		emb Embedding
		err error
	}
	done := make(chan result, 1)
	go func() {
		emb, err := p.client.Embed(imagePath)
		done <- result{emb, err}
	}()

	t := time.NewTimer(e.cfg.Timeout)
	defer t.Stop()

	select {
	case r := <-done:
		var we *WorkerError
		if r.err != nil && !errors.As(r.err, &we) {
			e.stopLocked()
		}
		return r.emb, r.err
	case <-t.C:
		slog.Warn("embedder timed out, restarting", "image", imagePath, "timeout", e.cfg.Timeout)
		e.stopLocked()
		return nil, fmt.Errorf("embed timed out after %s", e.cfg.Timeout)
	case <-ctx.Done():
		e.stopLocked()
		return nil, ctx.Err()
	}
}

// Close stops the worker process if it is running.
func (e *SubprocessEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
	return nil
}

func (e *SubprocessEmbedder) ensureStarted() (*workerProcess, error) {
	if e.proc != nil {
		select {
		case <-e.proc.exited:
			slog.Warn("embedder process exited, restarting")
			e.proc = nil
		default:
			return e.proc, nil
		}
	}

	pctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(pctx, e.cfg.Command, e.cfg.Args...)
	cmd.Dir = e.cfg.Dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("embedder stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("embedder stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("embedder stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start embedder: %w", err)
	}

	p := &workerProcess{
		cmd:    cmd,
		cancel: cancel,
		stdin:  stdin,
		client: NewClient(stdin, bufio.NewReader(stdout)),
		exited: make(chan struct{}),
	}
	go logStderr(stderr)
	go func() {
		err := cmd.Wait()
		if err != nil && pctx.Err() == nil {
			slog.Error("embedder process exited", "error", err)
		}
		close(p.exited)
	}()

	slog.Info("embedder started", "command", e.cfg.Command, "pid", cmd.Process.Pid)
	e.proc = p
	return p, nil
}

func (e *SubprocessEmbedder) stopLocked() {
	p := e.proc
	if p == nil {
		return
	}
	e.proc = nil
	p.stdin.Close()
	select {
	case <-p.exited:
	case <-time.After(2 * time.Second):
		p.cancel()
		<-p.exited
	}
	p.cancel()
}

// logStderr forwards worker log lines to slog, mapping Python-style level tags.
func logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]"), strings.Contains(line, "[CRITICAL]"):
			slog.Error("embedder", "log", line)
		case strings.Contains(line, "[WARNING]"), strings.Contains(line, "[WARN]"):
			slog.Warn("embedder", "log", line)
		default:
			slog.Debug("embedder", "log", line)
		}
	}
}
