package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/openfroyo/daqconf/pkg/confdb"
	"github.com/openfroyo/daqconf/pkg/dal"
)

func newHostsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hosts",
		Short: "Print the computers running applications of the partition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(s *session) error {
				hosts, err := s.engine.Hosts(cmd.Context())
				if err != nil {
					return err
				}

				type host struct {
					ID      string `json:"id"`
					HWTag   string `json:"hw_tag,omitempty"`
					Enabled bool   `json:"enabled"`
				}
				out := make([]host, 0, len(hosts))
				for _, h := range hosts {
					out = append(out, host{
						ID:      h.UID(),
						HWTag:   h.Str(dal.AttrHWTag),
						Enabled: !h.Has(dal.AttrState) || h.Bool(dal.AttrState),
					})
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), out)
				}
				t := newTable(cmd.OutOrStdout(), "HOST", "HW TAG", "ENABLED")
				for _, h := range out {
					t.row(h.ID, h.HWTag, fmt.Sprint(h.Enabled))
				}
				return t.flush()
			})
		},
	}
	return cmd
}

func newConfigVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config-version",
		Short: "Print the configuration version of the environment",
		Long:  `Print the configuration version read from TDAQ_DB_VERSION.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(s *session) error {
				v, err := s.engine.ConfigVersion(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), map[string]string{"version": v})
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			})
		},
	}
	return cmd
}

func newInfoCommand() *cobra.Command {
	var (
		resources string
		variables bool
	)

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Print the log directory and software repositories of the partition",
		Long: `Print the log directory and the software repositories used by the
applications of the partition.

--resources prints the plain resources reachable from an object through
enabled resource sets. --variables prints the values substituted for
${NAME} references in string attributes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withSession(ctx, func(s *session) error {
				w := cmd.OutOrStdout()

				if resources != "" {
					res, err := s.engine.GenericResources(ctx, resources)
					if err != nil {
						return err
					}
					ids := confdb.UIDs(res)
					if jsonOutput {
						return printJSON(w, ids)
					}
					for _, id := range ids {
						fmt.Fprintln(w, id)
					}
					return nil
				}

				if variables {
					vars, err := s.engine.Variables(ctx)
					if err != nil {
						return err
					}
					if jsonOutput {
						return printJSON(w, vars)
					}
					names := make([]string, 0, len(vars))
					for name := range vars {
						names = append(names, name)
					}
					sort.Strings(names)
					t := newTable(w, "VARIABLE", "VALUE")
					for _, name := range names {
						t.row(name, vars[name])
					}
					return t.flush()
				}

				logDir, err := s.engine.LogDirectory(ctx)
				if err != nil {
					return err
				}
				repos, err := s.engine.UsedRepositories(ctx)
				if err != nil {
					return err
				}

				type repository struct {
					ID   string `json:"id"`
					Path string `json:"installation_path,omitempty"`
				}
				out := struct {
					Partition    string       `json:"partition"`
					LogDirectory string       `json:"log_directory"`
					Repositories []repository `json:"repositories"`
				}{Partition: s.settings.Partition, LogDirectory: logDir}
				for _, r := range repos {
					out.Repositories = append(out.Repositories, repository{ID: r.UID(), Path: r.Str(dal.AttrInstallationPath)})
				}
				if jsonOutput {
					return printJSON(w, out)
				}
				fmt.Fprintf(w, "partition: %s\n", out.Partition)
				fmt.Fprintf(w, "log directory: %s\n", out.LogDirectory)
				fmt.Fprintln(w, "repositories:")
				for _, r := range out.Repositories {
					fmt.Fprintf(w, "  %s %s\n", r.ID, r.Path)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&resources, "resources", "", "print the plain resources of this object")
	cmd.Flags().BoolVar(&variables, "variables", false, "print the substitution variables")
	cmd.MarkFlagsMutuallyExclusive("resources", "variables")

	return cmd
}
