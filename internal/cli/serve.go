package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/motionguard/internal/api"
	"github.com/roach88/motionguard/internal/task"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string

	// Listening is called with the bound address once the server accepts
	// connections (for testing).
	Listening func(addr string)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the detection HTTP API",
		Long: `Start the HTTP API. POST /start-detection runs the detection loop as a
background task that can be polled by id; the /detections endpoints read
the detection log.

Example:
  motionguard serve
  motionguard serve --addr 127.0.0.1:8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default api.addr from config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	addr := cfg.API.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a := newApp(opts.RootOptions, cfg)
	defer a.Close()
	if err := a.openMirror(ctx, false); err != nil {
		return err
	}
	p, err := a.pipeline()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build pipeline", err)
	}

	registry := task.NewRegistry()
	defer registry.Close()

	run := func(ctx context.Context, logf task.LogFunc) (string, error) {
		rep, err := p.Run(ctx, func(msg string) { logf(msg) })
		return string(rep.Result), err
	}
	server := api.NewServer(registry, run, a.journal, a.mirror, a.artifacts)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	srv := &http.Server{
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	bound := ln.Addr().String()
	slog.Info("api listening", "addr", bound)
	fmt.Fprintf(cmd.OutOrStdout(), "Intruder Detection API listening on %s\n", bound)
	if opts.Listening != nil {
		opts.Listening(bound)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "api server failed", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("api shutdown", "error", err)
	}
	slog.Info("api stopped")
	return nil
}
