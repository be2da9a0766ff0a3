package cli

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/motionguard/internal/alert"
	"github.com/roach88/motionguard/internal/capture"
	"github.com/roach88/motionguard/internal/config"
	"github.com/roach88/motionguard/internal/matcher"
	"github.com/roach88/motionguard/internal/trigger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	Verbose    bool
	Format     string // "json" | "text"
	LogFormat  string // "text" | "json"; empty uses logging.format from config

	// Hardware and service overrides (for testing). Nil fields are built
	// from the loaded configuration.
	Opener   trigger.Opener
	Device   capture.Device
	Embedder matcher.Embedder
	Channels []alert.Channel
	Now      func() time.Time
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the motionguard CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "motionguard",
		Short: "motionguard - motion-triggered intruder detection",
		Long: `Wait for a motion sensor, photograph whoever tripped it, decide whether
they are an enrolled authorized person and alert on intruders. Every
decision is appended to a local journal and mirrored to an optional
database or object store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.LogFormat != "" && !slices.Contains(config.ValidLogFormats(), opts.LogFormat) {
				return fmt.Errorf("invalid log format %q: must be one of %v", opts.LogFormat, config.ValidLogFormats())
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "config file (default ./motionguard.yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format (text|json)")

	// Add subcommands
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewTriggerCommand(opts))
	cmd.AddCommand(NewLogsCommand(opts))
	cmd.AddCommand(NewBackfillCommand(opts))
	cmd.AddCommand(NewEnrollCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// loadConfig reads the configuration and installs the global logger.
func (o *RootOptions) loadConfig() (*config.Config, error) {
	v, err := config.New(o.ConfigFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read config", err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}
	o.setupLogging(cfg.Logging)
	if used := v.ConfigFileUsed(); used != "" {
		slog.Debug("config loaded", "file", used)
	}
	return cfg, nil
}

// setupLogging configures slog from flags, falling back to the config file.
func (o *RootOptions) setupLogging(lc config.LoggingConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		level = slog.LevelInfo
	}
	if o.Verbose {
		level = slog.LevelDebug
	}

	format := lc.Format
	if o.LogFormat != "" {
		format = o.LogFormat
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(handler))
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

func (o *RootOptions) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}
