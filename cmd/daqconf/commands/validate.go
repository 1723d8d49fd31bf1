package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/daqconf/pkg/policy"
	"github.com/openfroyo/daqconf/pkg/stores"
)

// linter evaluates the builtin and site policies against a session.
type linter struct {
	engine *policy.Engine
	loader *policy.Loader
	dirs   []string
	failOn policy.Severity
}

func newLinter(ctx context.Context, s *session, dirs []string, builtin bool, failOn string) (*linter, error) {
	logger := s.tel.Logger.NewComponentLogger("policy").Zerolog()
	eng, err := policy.NewEngine(logger, builtin)
	if err != nil {
		return nil, err
	}
	l := &linter{
		engine: eng,
		loader: policy.NewLoader(logger),
		dirs:   dirs,
		failOn: policy.ParseSeverity(failOn),
	}
	if len(dirs) > 0 {
		policies, err := l.loader.LoadFromPaths(ctx, dirs)
		if err != nil {
			return nil, err
		}
		if err := eng.ReplacePolicies(ctx, policies); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// run lints the partition of s, publishes the violations and records the
// run in the state database.
func (l *linter) run(ctx context.Context, s *session) (*policy.Report, []string, error) {
	in, err := policy.BuildInput(ctx, s.engine)
	if err != nil {
		return nil, nil, err
	}
	report, err := l.engine.Evaluate(ctx, in)
	if err != nil {
		return nil, nil, err
	}

	for _, v := range report.Violations {
		if err := s.tel.Events.PublishPolicyViolation(report.Partition, v.Object, v.Policy, v.Message); err != nil {
			log.Debug().Err(err).Msg("Cannot publish violation event")
		}
	}

	if s.state != nil {
		data, err := json.Marshal(report)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode report: %w", err)
		}
		run := &stores.LintRun{
			Partition: report.Partition,
			StartedAt: report.EvaluatedAt,
			Duration:  report.Duration,
			Errors:    report.Count(policy.SeverityError),
			Warnings:  report.Count(policy.SeverityWarning),
			Infos:     report.Count(policy.SeverityInfo),
			Failed:    len(in.Errors) > 0 || report.Failed(l.failOn),
			Report:    string(data),
		}
		if err := s.state.RecordLintRun(ctx, run); err != nil {
			log.Warn().Err(err).Msg("Cannot record lint run")
		}
	}
	return report, in.Errors, nil
}

func (l *linter) failed(report *policy.Report, resolutionErrors []string) bool {
	return len(resolutionErrors) > 0 || report.Failed(l.failOn)
}

func printReport(w io.Writer, report *policy.Report, resolutionErrors []string) error {
	if jsonOutput {
		return printJSON(w, struct {
			*policy.Report
			ResolutionErrors []string `json:"resolution_errors,omitempty"`
		}{report, resolutionErrors})
	}

	for _, e := range resolutionErrors {
		fmt.Fprintf(w, "resolution error: %s\n", e)
	}
	if len(report.Violations) > 0 {
		t := newTable(w, "SEVERITY", "POLICY", "OBJECT", "MESSAGE")
		for _, v := range report.Violations {
			obj := v.Object
			if obj == "" {
				obj = "-"
			}
			t.row(string(v.Severity), v.Policy, obj, v.Message)
		}
		if err := t.flush(); err != nil {
			return err
		}
	}
	for _, e := range report.Errors {
		fmt.Fprintf(w, "policy error: %s\n", e)
	}
	fmt.Fprintf(w, "%s: %d policies, %d errors, %d warnings, %d infos\n",
		report.Partition,
		len(report.Evaluated),
		report.Count(policy.SeverityError),
		report.Count(policy.SeverityWarning),
		report.Count(policy.SeverityInfo),
	)
	return nil
}

func newValidateCommand() *cobra.Command {
	var (
		policyDirs []string
		noBuiltin  bool
		failOn     string
		history    int
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Resolve the partition and lint it with Rego policies",
		Long: `Resolve every segment, application, environment and dependency of the
partition, then evaluate the builtin rules and the .rego files of --policy
against the result.

This command checks:
  - the segment tree can be built
  - every application environment can be built
  - timeouts, backup hosts and disabled hosts
  - site rules (OPA/rego)

The command fails when a violation reaches --fail-on.`,
		Example: `  # Builtin rules only
  daqconf validate -d partition.yaml -p ATLAS

  # With site rules, failing on warnings
  daqconf validate --policy ./policies --fail-on warning

  # Last lint runs
  daqconf validate --history 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withSession(ctx, func(s *session) error {
				if history > 0 {
					if s.state == nil {
						return fmt.Errorf("state database unavailable")
					}
					runs, err := s.state.ListLintRuns(ctx, s.settings.Partition, history)
					if err != nil {
						return err
					}
					return printLintRuns(cmd.OutOrStdout(), runs)
				}

				dirs := policyDirs
				if len(dirs) == 0 && s.settings.Policy.Dir != "" {
					dirs = []string{s.settings.Policy.Dir}
				}
				threshold := failOn
				if threshold == "" {
					threshold = s.settings.Policy.FailOn
				}

				l, err := newLinter(ctx, s, dirs, s.settings.Policy.Builtin && !noBuiltin, threshold)
				if err != nil {
					return err
				}
				report, resolutionErrors, err := l.run(ctx, s)
				if err != nil {
					return err
				}
				if err := printReport(cmd.OutOrStdout(), report, resolutionErrors); err != nil {
					return err
				}
				if l.failed(report, resolutionErrors) {
					return errLintFailed
				}
				return nil
			})
		},
	}

	cmd.Flags().StringArrayVar(&policyDirs, "policy", nil, "directory or .rego file with site rules (repeatable)")
	cmd.Flags().BoolVar(&noBuiltin, "no-builtin", false, "skip the builtin rules")
	cmd.Flags().StringVar(&failOn, "fail-on", "", "lowest failing severity (error, warning, info)")
	cmd.Flags().IntVar(&history, "history", 0, "print the last N recorded lint runs instead")

	return cmd
}

func printLintRuns(w io.Writer, runs []*stores.LintRun) error {
	if jsonOutput {
		return printJSON(w, runs)
	}
	t := newTable(w, "ID", "STARTED", "DURATION", "ERRORS", "WARNINGS", "INFOS", "FAILED")
	for _, r := range runs {
		t.row(r.ID, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Duration.String(),
			fmt.Sprint(r.Errors), fmt.Sprint(r.Warnings), fmt.Sprint(r.Infos), fmt.Sprint(r.Failed))
	}
	return t.flush()
}
