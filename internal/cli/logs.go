package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/motionguard/internal/store"
)

// LogsOptions holds flags for the logs command.
type LogsOptions struct {
	*RootOptions
	Lines       int
	LatestAlert bool
	Remote      bool
}

// NewLogsCommand creates the logs command.
func NewLogsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent detections",
		Long: `Show the most recent detection records, newest last.

By default the local journal is read. --remote reads the configured mirror
instead, newest first.

Example:
  motionguard logs -n 20
  motionguard logs --latest-alert --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogs(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Lines, "lines", "n", 10, "number of records to show")
	cmd.Flags().BoolVar(&opts.LatestAlert, "latest-alert", false, "show only the most recent ALERT record")
	cmd.Flags().BoolVar(&opts.Remote, "remote", false, "read from the mirror instead of the journal")

	return cmd
}

// DetectionView is one record as printed by logs.
type DetectionView struct {
	Timestamp string `json:"timestamp"`
	Status    string `json:"status"`
	Image     string `json:"image_path"`
}

func viewOf(r store.Record) DetectionView {
	return DetectionView{
		Timestamp: r.Timestamp.Format(store.TimeLayout),
		Status:    string(r.Status),
		Image:     r.Artifact,
	}
}

// DetectionList is the logs output.
type DetectionList struct {
	Source     string          `json:"source"`
	Detections []DetectionView `json:"detections"`
}

func (l DetectionList) String() string {
	if len(l.Detections) == 0 {
		return "No detections recorded."
	}
	lines := make([]string, len(l.Detections))
	for i, d := range l.Detections {
		lines[i] = fmt.Sprintf("%s | %s | %s", d.Timestamp, d.Status, d.Image)
	}
	return strings.Join(lines, "\n")
}

func runLogs(opts *LogsOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	formatter := opts.formatter(cmd)
	if opts.Lines <= 0 {
		return NewExitError(ExitCommandError, "--lines must be positive")
	}

	a := newApp(opts.RootOptions, cfg)
	defer a.Close()

	if opts.LatestAlert {
		rec, err := a.journal.LatestAlert()
		if errors.Is(err, store.ErrNoRecords) {
			_ = formatter.Error(ErrCodeNotFound, "no alerts recorded", nil)
			return NewExitError(ExitFailure, "no alerts recorded")
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read journal", err)
		}
		return formatter.Success(DetectionList{Source: "journal", Detections: []DetectionView{viewOf(rec)}})
	}

	var (
		records []store.Record
		source  = "journal"
	)
	if opts.Remote {
		if err := a.openMirror(cmd.Context(), true); err != nil {
			return WrapExitError(ExitCommandError, "failed to open mirror", err)
		}
		if a.mirror == nil {
			return NewExitError(ExitCommandError, "no mirror configured (store.mirror)")
		}
		source = a.mirror.Name()
		records, err = a.mirror.Recent(cmd.Context(), opts.Lines)
	} else {
		records, err = a.journal.Tail(opts.Lines)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read detections", err)
	}

	list := DetectionList{Source: source, Detections: make([]DetectionView, 0, len(records))}
	for _, r := range records {
		list.Detections = append(list.Detections, viewOf(r))
	}
	return formatter.Success(list)
}
