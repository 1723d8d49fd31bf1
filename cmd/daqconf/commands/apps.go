package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/daqconf/pkg/confdb"
	"github.com/openfroyo/daqconf/pkg/dal"
	"github.com/openfroyo/daqconf/pkg/engine"
	"github.com/openfroyo/daqconf/pkg/environment"
	"github.com/openfroyo/daqconf/pkg/resolver"
)

type appInfo struct {
	ID          string   `json:"id"`
	Class       string   `json:"class"`
	Segment     string   `json:"segment"`
	Host        string   `json:"host"`
	BackupHosts []string `json:"backup_hosts"`
	Templated   bool     `json:"templated,omitempty"`
}

func describeApp(a *resolver.Application) (appInfo, error) {
	info := appInfo{ID: a.UID(), Class: a.Class(), Templated: a.IsTemplated()}
	seg, err := a.Segment()
	if err != nil {
		return info, err
	}
	info.Segment = seg.UID()
	host, err := a.Host()
	if err != nil {
		return info, err
	}
	if host != nil {
		info.Host = host.UID()
	}
	backups, err := a.BackupHosts()
	if err != nil {
		return info, err
	}
	info.BackupHosts = confdb.UIDs(backups)
	return info, nil
}

func listApps(s *session, cmd *cobra.Command, f resolver.Filter) ([]appInfo, error) {
	apps, err := s.engine.AllApplications(cmd.Context(), f)
	if err != nil {
		return nil, err
	}
	out := make([]appInfo, 0, len(apps))
	for _, a := range apps {
		info, err := describeApp(a)
		if err != nil {
			return nil, fmt.Errorf("cannot describe %s: %w", a.UID(), err)
		}
		out = append(out, info)
	}
	return out, nil
}

func newAppsCommand() *cobra.Command {
	var f resolver.Filter

	cmd := &cobra.Command{
		Use:   "apps",
		Short: "List the applications of the partition",
		Long: `List the resolved applications of enabled segments. Filters combine:
an application is listed when it passes every given filter.`,
		Example: `  # Readout applications running on two hosts
  daqconf apps --class ReadoutApplication --host pc-1 --host pc-2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(s *session) error {
				apps, err := listApps(s, cmd, f)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), apps)
				}
				t := newTable(cmd.OutOrStdout(), "APPLICATION", "CLASS", "SEGMENT", "HOST")
				for _, a := range apps {
					t.row(a.ID, a.Class, a.Segment, a.Host)
				}
				return t.flush()
			})
		},
	}

	cmd.Flags().StringArrayVar(&f.Classes, "class", nil, "keep applications of this class or its subclasses")
	cmd.Flags().StringArrayVar(&f.Segments, "segment", nil, "keep applications of this segment")
	cmd.Flags().StringArrayVar(&f.Hosts, "host", nil, "keep applications running on this host")

	return cmd
}

func newAppConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "app-config",
		Short: "Print where every application runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(s *session) error {
				apps, err := listApps(s, cmd, resolver.Filter{})
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), apps)
				}
				t := newTable(cmd.OutOrStdout(), "APPLICATION", "HOST", "SEGMENT", "BACKUP HOSTS", "TEMPLATE")
				for _, a := range apps {
					t.row(a.ID, a.Host, a.Segment, orNone(a.BackupHosts), fmt.Sprint(a.Templated))
				}
				return t.flush()
			})
		},
	}
	return cmd
}

type envOutput struct {
	Application string            `json:"application,omitempty"`
	Tag         string            `json:"tag,omitempty"`
	Programs    []string          `json:"programs,omitempty"`
	SearchPaths []string          `json:"search_paths,omitempty"`
	LibPaths    []string          `json:"lib_paths,omitempty"`
	StartArgs   string            `json:"start_args,omitempty"`
	RestartArgs string            `json:"restart_args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Error       string            `json:"error,omitempty"`
	ErrorCode   string            `json:"error_code,omitempty"`
}

func newEnvOutput(app string, info *environment.Info, err error) envOutput {
	out := envOutput{Application: app}
	if err != nil {
		out.Error = err.Error()
		out.ErrorCode = dal.ErrorCode(err)
		return out
	}
	if info.Tag != nil {
		out.Tag = info.Tag.UID()
	}
	out.Programs = info.ProgramNames
	out.SearchPaths = info.SearchPaths
	out.LibPaths = info.LibPaths
	out.StartArgs = info.StartArgs
	out.RestartArgs = info.RestartArgs
	out.Env = info.Env
	return out
}

func printEnv(cmd *cobra.Command, out envOutput, info *environment.Info) {
	w := cmd.OutOrStdout()
	if out.Application != "" {
		fmt.Fprintf(w, "application: %s\n", out.Application)
	}
	if out.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", out.Error)
		return
	}
	fmt.Fprintf(w, "  tag: %s\n", out.Tag)
	fmt.Fprintf(w, "  programs: %s\n", strings.Join(out.Programs, " "))
	fmt.Fprintf(w, "  search paths: %s\n", strings.Join(out.SearchPaths, ":"))
	fmt.Fprintf(w, "  library paths: %s\n", strings.Join(out.LibPaths, ":"))
	fmt.Fprintf(w, "  start args: %s\n", out.StartArgs)
	fmt.Fprintf(w, "  restart args: %s\n", out.RestartArgs)
	fmt.Fprintln(w, "  environment:")
	for _, line := range info.EnvLines() {
		fmt.Fprintf(w, "    %s\n", line)
	}
}

func newAppEnvCommand() *cobra.Command {
	var (
		all                 bool
		program, tag, hostF string
		f                   resolver.Filter
	)

	cmd := &cobra.Command{
		Use:   "app-env [APPLICATION]",
		Short: "Print the runtime environment of applications",
		Long: `Print the tag, executable candidates, search paths, command line and
process environment of an application.

With --all every application passing the filters is built concurrently.
With --program the environment of a bare program is built for a given tag
and host, without an application.`,
		Example: `  daqconf app-env ros-1
  daqconf app-env --all --segment ros
  daqconf app-env --program ros-bin --tag x86_64-el9-gcc13-opt --host pc-1`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			switch {
			case program != "":
				if tag == "" || hostF == "" {
					return fmt.Errorf("--program needs --tag and --host")
				}
			case all:
				if len(args) > 0 {
					return fmt.Errorf("--all takes no application")
				}
			case len(args) != 1:
				return fmt.Errorf("an application id is required")
			}

			return withSession(ctx, func(s *session) error {
				if program != "" {
					info, err := s.engine.BuildProgramEnvironment(ctx, program, tag, hostF)
					if err != nil {
						return err
					}
					out := newEnvOutput("", info, nil)
					if jsonOutput {
						return printJSON(cmd.OutOrStdout(), out)
					}
					printEnv(cmd, out, info)
					return nil
				}

				if !all {
					info, err := s.engine.BuildEnvironment(ctx, args[0])
					if err != nil {
						return err
					}
					out := newEnvOutput(args[0], info, nil)
					if jsonOutput {
						return printJSON(cmd.OutOrStdout(), out)
					}
					printEnv(cmd, out, info)
					return nil
				}

				results, err := s.engine.BuildAll(ctx, f)
				if err != nil {
					return err
				}
				return printBuildResults(cmd, results)
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "build every application")
	cmd.Flags().StringVar(&program, "program", "", "build the environment of this program")
	cmd.Flags().StringVar(&tag, "tag", "", "tag used with --program")
	cmd.Flags().StringVar(&hostF, "host", "", "host used with --program")
	cmd.Flags().StringArrayVar(&f.Classes, "class", nil, "with --all, keep applications of this class")
	cmd.Flags().StringArrayVar(&f.Segments, "segment", nil, "with --all, keep applications of this segment")

	return cmd
}

func printBuildResults(cmd *cobra.Command, results []engine.BuildResult) error {
	outs := make([]envOutput, 0, len(results))
	failed := 0
	for _, r := range results {
		out := newEnvOutput(r.Application.UID(), r.Info, r.Err)
		if r.Err != nil {
			failed++
		}
		outs = append(outs, out)
	}

	if jsonOutput {
		if err := printJSON(cmd.OutOrStdout(), outs); err != nil {
			return err
		}
	} else {
		for i, out := range outs {
			printEnv(cmd, out, results[i].Info)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d environments could not be built", failed, len(results))
	}
	return nil
}

func newAppDependsCommand() *cobra.Command {
	var (
		order string
		dot   bool
	)

	cmd := &cobra.Command{
		Use:   "app-depends [APPLICATION...]",
		Short: "Print the initialization and shutdown dependencies of applications",
		Long: `Print, for every application, the applications it is started after
and the applications it is stopped before.

With --order startup or --order shutdown the whole partition is sorted into
levels instead; applications of one level can be handled together.`,
		Example: `  daqconf app-depends ros-1
  daqconf app-depends --order startup --dot | dot -Tsvg > startup.svg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withSession(ctx, func(s *session) error {
				if order != "" {
					var (
						g   *engine.Graph
						err error
					)
					switch order {
					case "startup":
						g, err = s.engine.StartupOrder(ctx)
					case "shutdown":
						g, err = s.engine.ShutdownOrder(ctx)
					default:
						return fmt.Errorf("unknown order %q: use startup or shutdown", order)
					}
					if err != nil {
						return err
					}
					return printGraph(cmd, g, dot)
				}

				ids := args
				if len(ids) == 0 {
					apps, err := s.engine.AllApplications(ctx, resolver.Filter{})
					if err != nil {
						return err
					}
					for _, a := range apps {
						ids = append(ids, a.UID())
					}
				}

				type depends struct {
					Application string   `json:"application"`
					StartAfter  []string `json:"start_after"`
					StopBefore  []string `json:"stop_before"`
				}
				out := make([]depends, 0, len(ids))
				for _, id := range ids {
					start, stop, err := s.engine.Dependencies(ctx, id)
					if err != nil {
						return err
					}
					out = append(out, depends{Application: id, StartAfter: appIDs(start), StopBefore: appIDs(stop)})
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), out)
				}
				t := newTable(cmd.OutOrStdout(), "APPLICATION", "STARTS AFTER", "STOPS BEFORE")
				for _, d := range out {
					t.row(d.Application, orNone(d.StartAfter), orNone(d.StopBefore))
				}
				return t.flush()
			})
		},
	}

	cmd.Flags().StringVar(&order, "order", "", "sort the partition into startup or shutdown levels")
	cmd.Flags().BoolVar(&dot, "dot", false, "with --order, print the graph in Graphviz format")

	return cmd
}

func appIDs(apps []*resolver.Application) []string {
	ids := make([]string, len(apps))
	for i, a := range apps {
		ids[i] = a.UID()
	}
	return ids
}

func printGraph(cmd *cobra.Command, g *engine.Graph, dot bool) error {
	w := cmd.OutOrStdout()
	if dot {
		_, err := fmt.Fprint(w, g.DOT())
		return err
	}
	if jsonOutput {
		return printJSON(w, g)
	}
	for i, level := range g.Levels {
		fmt.Fprintf(w, "%d: %s\n", i, strings.Join(level, " "))
	}
	return nil
}
