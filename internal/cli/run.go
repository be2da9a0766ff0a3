package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/motionguard/internal/alert"
	"github.com/roach88/motionguard/internal/pipeline"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Wait for motion and classify until a decision is made",
		Long: `Run the detection loop against the configured sensor and camera.

The loop waits for the motion sensor, captures a burst of frames and
classifies them. Inconclusive attempts re-arm the sensor and wait again;
the command exits after the first authorized or intruder decision, or
when the sensor link goes away.

Example:
  motionguard run
  motionguard run --config /etc/motionguard.yaml --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDetection(rootOpts, cmd, false)
		},
	}

	return cmd
}

// NewTriggerCommand creates the trigger command: one capture and
// classification without waiting for the sensor.
func NewTriggerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Capture and classify once without waiting for motion",
		Long: `Capture one burst immediately and classify it.

The sensor is neither read nor re-armed. An inconclusive burst ends with
result "none" and writes nothing to the detection log.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDetection(rootOpts, cmd, true)
		},
	}

	return cmd
}

// RunSummary is the command output for run and trigger.
type RunSummary struct {
	Result   pipeline.Result `json:"result"`
	Attempts int             `json:"attempts"`
	Identity string          `json:"identity,omitempty"`
	Score    float64         `json:"score,omitempty"`
	Image    string          `json:"image,omitempty"`
	Logged   bool            `json:"logged"`
	Alerts   []AlertSummary  `json:"alerts,omitempty"`
}

type AlertSummary struct {
	Channel string `json:"channel"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

func (s RunSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Result: %s", s.Result)
	if s.Identity != "" {
		fmt.Fprintf(&b, " (%s, %.2f)", s.Identity, s.Score)
	}
	fmt.Fprintf(&b, "\nAttempts: %d", s.Attempts)
	if s.Image != "" {
		fmt.Fprintf(&b, "\nImage: %s", s.Image)
	}
	for _, a := range s.Alerts {
		fmt.Fprintf(&b, "\nAlert %s: %s", a.Channel, a.Status)
		if a.Error != "" {
			fmt.Fprintf(&b, " (%s)", a.Error)
		}
	}
	return b.String()
}

func summarize(rep pipeline.Report) RunSummary {
	s := RunSummary{
		Result:   rep.Result,
		Attempts: rep.Attempts,
		Logged:   rep.Record.Written,
	}
	if rep.Outcome.Decisive() {
		s.Identity = rep.Outcome.Identity
		s.Score = rep.Outcome.Score
		s.Image = rep.Outcome.Frame.Path
	}
	for _, r := range rep.Alerts.Results {
		as := AlertSummary{Channel: r.Channel, Status: string(r.Status)}
		if r.Status == alert.StatusFailed && r.Err != nil {
			as.Error = r.Err.Error()
		}
		s.Alerts = append(s.Alerts, as)
	}
	return s
}

func runDetection(opts *RootOptions, cmd *cobra.Command, once bool) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	formatter := opts.formatter(cmd)

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a := newApp(opts, cfg)
	defer a.Close()
	if err := a.openMirror(ctx, false); err != nil {
		return err
	}
	p, err := a.pipeline()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build pipeline", err)
	}

	logf := progressLogger(formatter.ProgressWriter(), opts)
	var rep pipeline.Report
	if once {
		rep, err = p.RunOnce(ctx, logf)
	} else {
		rep, err = p.Run(ctx, logf)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "detection failed", err)
	}

	slog.Info("detection finished", "result", rep.Result, "attempts", rep.Attempts)
	return formatter.Success(summarize(rep))
}

// progressLogger prints pipeline progress as "HH:MM:SS | message", the
// same shape the task registry stores.
func progressLogger(w io.Writer, opts *RootOptions) pipeline.LogFunc {
	return func(msg string) {
		fmt.Fprintf(w, "%s | %s\n", opts.now().Format("15:04:05"), msg)
	}
}

// signalContext cancels on SIGINT/SIGTERM. Uses parent if set (for testing).
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}
