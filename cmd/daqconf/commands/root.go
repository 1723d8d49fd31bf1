package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath  string
	verbose     bool
	jsonOutput  bool
	dataPaths   []string
	partitionID string
	statePath   string
)

// errLintFailed is returned when policy violations reach the fail-on
// severity.
var errLintFailed = errors.New("policy violations found")

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

// ExitCode maps an Execute error to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errLintFailed):
		return 2
	default:
		return 1
	}
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "daqconf",
		Short: "daqconf - DAQ partition configuration resolver",
		Long: `daqconf resolves a DAQ partition configuration into the views used to run it:
the enabled segment and application tree, the disabled status of every
component, the runtime environment of each application and the order in
which applications start and stop.

Configuration documents can be YAML, JSON, CUE, Starlark or SQLite snapshots.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file (daqconf.cue)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringArrayVarP(&dataPaths, "data", "d", nil, "configuration document or directory (repeatable)")
	rootCmd.PersistentFlags().StringVarP(&partitionID, "partition", "p", "", "partition object id")
	rootCmd.PersistentFlags().StringVar(&statePath, "state", "", "state database for overrides and lint history")

	rootCmd.AddCommand(newSegmentsCommand())
	rootCmd.AddCommand(newAppsCommand())
	rootCmd.AddCommand(newAppConfigCommand())
	rootCmd.AddCommand(newAppEnvCommand())
	rootCmd.AddCommand(newAppDependsCommand())
	rootCmd.AddCommand(newDisabledCommand())
	rootCmd.AddCommand(newTimeoutsCommand())
	rootCmd.AddCommand(newParentsCommand())
	rootCmd.AddCommand(newHostsCommand())
	rootCmd.AddCommand(newConfigVersionCommand())
	rootCmd.AddCommand(newInfoCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newDBCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newFetchCommand())

	return rootCmd
}
