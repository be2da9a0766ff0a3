package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewBackfillCommand creates the backfill command.
func NewBackfillCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Copy journal records missing from the mirror",
		Long: `Replay every AUTHORIZED and ALERT line of the local journal into the
configured mirror. Records already present are skipped, so the command is
safe to repeat after a mirror outage.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackfill(rootOpts, cmd)
		},
	}

	return cmd
}

// BackfillResult is the backfill output.
type BackfillResult struct {
	Mirror  string `json:"mirror"`
	Records int    `json:"records"`
}

func (r BackfillResult) String() string {
	return fmt.Sprintf("Replayed %d record(s) into %s", r.Records, r.Mirror)
}

func runBackfill(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	formatter := opts.formatter(cmd)

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a := newApp(opts, cfg)
	defer a.Close()
	if err := a.openMirror(ctx, true); err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open mirror", err)
	}
	if a.mirror == nil {
		return NewExitError(ExitCommandError, "no mirror configured (store.mirror)")
	}

	n, err := a.recorder().Backfill(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "backfill failed", err)
	}
	return formatter.Success(BackfillResult{Mirror: a.mirror.Name(), Records: n})
}
