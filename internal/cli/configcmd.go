package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/motionguard/internal/config"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(newConfigCheckCommand(rootOpts))
	return cmd
}

func newConfigCheckCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [file]",
		Short: "Check a config file against the schema",
		Long: `Check a config file in two passes: the raw YAML against the built-in
schema (unknown keys, wrong types, out-of-range values), then the merged
configuration with defaults and MOTIONGUARD_* overrides applied.

Without an argument the --config file or the discovered motionguard.yaml
is checked.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file := rootOpts.ConfigFile
			if len(args) == 1 {
				file = args[0]
			}
			return runConfigCheck(rootOpts, file, cmd)
		},
	}
	return cmd
}

// CheckResult is the config check output.
type CheckResult struct {
	File   string                   `json:"file,omitempty"`
	Valid  bool                     `json:"valid"`
	Errors []config.ValidationError `json:"errors,omitempty"`
}

func (r CheckResult) String() string {
	name := r.File
	if name == "" {
		name = "defaults"
	}
	if r.Valid {
		return fmt.Sprintf("%s: ok", name)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d problem(s)", name, len(r.Errors))
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "\n  %s", e.Error())
	}
	return b.String()
}

func runConfigCheck(opts *RootOptions, file string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	v, err := config.New(file)
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read config", err)
	}
	used := v.ConfigFileUsed()

	var problems []config.ValidationError
	if used != "" {
		schemaErrs, err := config.CheckFile(used)
		if err != nil {
			return WrapExitError(ExitCommandError, "schema check failed", err)
		}
		problems = append(problems, schemaErrs...)
	}

	if _, err := config.Load(v); err != nil {
		var verrs config.ValidationErrors
		if !errors.As(err, &verrs) {
			problems = append(problems, config.ValidationError{Field: "config", Message: err.Error()})
		}
		problems = append(problems, verrs...)
	}

	result := CheckResult{File: used, Valid: len(problems) == 0, Errors: problems}
	if err := formatter.Success(result); err != nil {
		return err
	}
	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("config has %d problem(s)", len(problems)))
	}
	return nil
}
