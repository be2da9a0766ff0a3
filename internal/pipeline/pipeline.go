package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/motionguard/internal/alert"
	"github.com/roach88/motionguard/internal/capture"
	"github.com/roach88/motionguard/internal/matcher"
	"github.com/roach88/motionguard/internal/store"
	"github.com/roach88/motionguard/internal/trigger"
	"github.com/roach88/motionguard/internal/verify"
)

// State is an orchestrator state.
type State string

const (
	StateIdle               State = "IDLE"
	StateAwaitingTrigger    State = "AWAITING_TRIGGER"
	StateCapturing          State = "CAPTURING"
	StateClassifying        State = "CLASSIFYING"
	StateAuthorizedTerminal State = "AUTHORIZED_TERMINAL"
	StateIntruderTerminal   State = "INTRUDER_TERMINAL"
	StateResuming           State = "RESUMING"
	StateShutdown           State = "SHUTDOWN"
)

// Result is the terminal classification of a run as reported to callers.
type Result string

const (
	ResultAuthorized Result = "authorized"
	ResultIntruder   Result = "intruder"
	// ResultNone is only produced by RunOnce; Run loops on inconclusive.
	ResultNone      Result = "none"
	ResultNoTrigger Result = "no_trigger"
)

// LogFunc receives user-facing progress lines.
type LogFunc func(msg string)

// Trigger blocks for motion and re-arms the device afterwards.
type Trigger interface {
	WaitForTrigger(ctx context.Context) (*trigger.Conn, error)
	Resume(ctx context.Context, conn *trigger.Conn) error
}

// Capturer grabs a burst of frames.
type Capturer interface {
	Capture(ctx context.Context, count int, delay time.Duration) capture.Session
}

// Dispatcher notifies operators about intruders.
type Dispatcher interface {
	Dispatch(ctx context.Context, outcome verify.Outcome, artifact string) alert.Report
}

// Recorder persists decisive classifications.
type Recorder interface {
	Record(ctx context.Context, ts time.Time, status store.Status, artifact string) (store.Result, error)
}

// Report describes a finished run.
type Report struct {
	Result   Result
	State    State
	Outcome  verify.Outcome
	Attempts int
	Alerts   alert.Report
	Record   store.Result
}

// Pipeline wires the stages together. It holds no per-run state and may run
// concurrently; the capture device lock serializes hardware access.
type Pipeline struct {
	trigger    Trigger
	capturer   Capturer
	matcher    matcher.Matcher
	dispatcher Dispatcher
	recorder   Recorder

	policy     verify.Policy
	frameCount int
	frameDelay time.Duration
	now        func() time.Time
	onEnter    func(from, to State)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPolicy overrides the verification policy.
func WithPolicy(p verify.Policy) Option {
	return func(pl *Pipeline) { pl.policy = p }
}

// WithCapture sets the burst size and the pause between frames.
func WithCapture(count int, delay time.Duration) Option {
	return func(pl *Pipeline) {
		pl.frameCount = count
		pl.frameDelay = delay
	}
}

// WithClock overrides the record timestamp source.
func WithClock(now func() time.Time) Option {
	return func(pl *Pipeline) { pl.now = now }
}

// WithTransitionHook calls fn on every state change.
func WithTransitionHook(fn func(from, to State)) Option {
	return func(pl *Pipeline) { pl.onEnter = fn }
}

// New creates a Pipeline. dispatcher may be nil to disable alerts.
func New(t Trigger, c Capturer, m matcher.Matcher, d Dispatcher, r Recorder, opts ...Option) *Pipeline {
	p := &Pipeline{
		trigger:    t,
		capturer:   c,
		matcher:    m,
		dispatcher: d,
		recorder:   r,
		policy:     verify.DefaultPolicy(),
		frameCount: capture.DefaultFrameCount,
		frameDelay: capture.DefaultFrameDelay,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run waits for motion and processes attempts until one is decisive or the
// trigger channel goes away. The only error returned is a failed local
// journal write.
func (p *Pipeline) Run(ctx context.Context, logf LogFunc) (Report, error) {
	r := &run{p: p, logf: logf}
	r.enter(StateIdle)
	r.info("detection run started")

	for {
		r.enter(StateAwaitingTrigger)
		conn, err := p.trigger.WaitForTrigger(ctx)
		if err != nil {
			r.enter(StateShutdown)
			r.info("trigger not received, shutting down")
			slog.Info("trigger unavailable", "error", err)
			return Report{Result: ResultNoTrigger, State: StateShutdown, Attempts: r.attempts}, nil
		}
		r.info("motion detected")

		outcome := r.attempt(ctx)
		if outcome.Decisive() {
			conn.Close()
			return r.finish(ctx, outcome)
		}

		r.enter(StateResuming)
		r.info("inconclusive: %s", outcome.Reason)
		if err := p.trigger.Resume(ctx, conn); err != nil {
			r.warn("resume failed: %v", err)
		} else {
			r.info("resume sent, waiting for next trigger")
		}
	}
}

// RunOnce performs a single capture and classification without waiting for
// motion or re-arming the trigger. An inconclusive attempt yields ResultNone.
func (p *Pipeline) RunOnce(ctx context.Context, logf LogFunc) (Report, error) {
	r := &run{p: p, logf: logf}
	r.enter(StateIdle)
	r.info("manual detection started")

	outcome := r.attempt(ctx)
	if !outcome.Decisive() {
		r.info("inconclusive: %s", outcome.Reason)
		return Report{Result: ResultNone, State: StateClassifying, Outcome: outcome, Attempts: r.attempts}, nil
	}
	return r.finish(ctx, outcome)
}

// run carries the state of one Run or RunOnce call.
type run struct {
	p        *Pipeline
	logf     LogFunc
	state    State
	attempts int
}

func (r *run) enter(s State) {
	slog.Debug("pipeline transition", "from", r.state, "to", s, "attempt", r.attempts)
	if r.p.onEnter != nil {
		r.p.onEnter(r.state, s)
	}
	r.state = s
}

func (r *run) info(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	slog.Info(msg, "state", r.state, "attempt", r.attempts)
	if r.logf != nil {
		r.logf(msg)
	}
}

func (r *run) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	slog.Warn(msg, "state", r.state, "attempt", r.attempts)
	if r.logf != nil {
		r.logf(msg)
	}
}

// attempt captures and classifies. Capture returns only after the device is
// released, so classification never overlaps device ownership.
func (r *run) attempt(ctx context.Context) verify.Outcome {
	r.attempts++

	r.enter(StateCapturing)
	r.info("capturing images")
	session := r.p.capturer.Capture(ctx, r.p.frameCount, r.p.frameDelay)
	if session.Empty() {
		r.warn("no images captured")
	} else {
		r.info("captured %d image(s)", len(session.Frames))
	}

	r.enter(StateClassifying)
	return r.p.policy.Classify(ctx, session, r.p.matcher)
}

// finish handles a decisive outcome: alert (intruder only), then record.
func (r *run) finish(ctx context.Context, outcome verify.Outcome) (Report, error) {
	rep := Report{Outcome: outcome, Attempts: r.attempts}
	artifact := outcome.Frame.Path

	var status store.Status
	switch outcome.Kind {
	case verify.Authorized:
		r.enter(StateAuthorizedTerminal)
		r.info("authorized person detected: %s (%.2f) - %s", outcome.Identity, outcome.Score, artifact)
		status = store.StatusAuthorized
		rep.Result = ResultAuthorized
	case verify.Intruder:
		r.enter(StateIntruderTerminal)
		r.info("intruder detected: %s (%.2f) - %s", outcome.Identity, outcome.Score, artifact)
		status = store.StatusAlert
		rep.Result = ResultIntruder
		if r.p.dispatcher != nil {
			rep.Alerts = r.p.dispatcher.Dispatch(ctx, outcome, artifact)
			for _, res := range rep.Alerts.Results {
				switch res.Status {
				case alert.StatusSent:
					r.info("%s alert sent", res.Channel)
				case alert.StatusSkipped:
					r.warn("%s alert skipped: not configured", res.Channel)
				case alert.StatusFailed:
					r.warn("%s alert failed: %v", res.Channel, res.Err)
				}
			}
		}
	}
	rep.State = r.state

	rec, err := r.p.recorder.Record(ctx, r.p.now(), status, artifact)
	rep.Record = rec
	if err != nil {
		r.warn("detection log write failed: %v", err)
		return rep, fmt.Errorf("record detection: %w", err)
	}
	if rec.MirrorErr != nil {
		r.warn("remote log write failed: %v", rec.MirrorErr)
	}
	r.info("logged %s", rec.Record.Status)
	return rep, nil
}
