package commands

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/daqconf/pkg/confdb"
	"github.com/openfroyo/daqconf/pkg/dal"
	"github.com/openfroyo/daqconf/pkg/stores"
)

func currentActor() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}

func newDisabledCommand() *cobra.Command {
	var (
		disable, enable  []string
		save, clearSaved bool
		list             bool
	)

	cmd := &cobra.Command{
		Use:   "disabled [OBJECT...]",
		Short: "Test the disabled status of components",
		Long: `Print whether components are disabled in the partition. Without objects
every component of the configuration is tested.

--disable and --enable add user overrides for this run; with --save they are
kept in the state database and applied to every later command. --clear
removes saved overrides, of the given objects or all of them.`,
		Example: `  # Disable a segment for every later command
  daqconf disabled --disable ros-seg --save

  # Show saved overrides
  daqconf disabled --list

  # Forget them
  daqconf disabled --clear`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withSession(ctx, func(s *session) error {
				partition := s.settings.Partition

				if list || clearSaved || save {
					if s.state == nil {
						return fmt.Errorf("state database unavailable")
					}
				}

				if clearSaved {
					n, err := s.state.ClearOverrides(ctx, partition, args, currentActor())
					if err != nil {
						return err
					}
					log.Info().Int64("removed", n).Str("partition", partition).Msg("Overrides cleared")
					return nil
				}

				if save {
					actor := currentActor()
					if err := s.state.SetOverrides(ctx, partition, disable, true, actor); err != nil {
						return err
					}
					if err := s.state.SetOverrides(ctx, partition, enable, false, actor); err != nil {
						return err
					}
					if err := s.applyOverrides(ctx); err != nil {
						return err
					}
				} else {
					mergeOverrides(ctx, s, disable, enable)
				}

				if list {
					overrides, err := s.state.Overrides(ctx, partition)
					if err != nil {
						return err
					}
					return printOverrides(cmd, overrides)
				}

				ids := args
				if len(ids) == 0 {
					ids = confdb.UIDs(s.db.Find(dal.ClassComponent))
					sort.Strings(ids)
				}

				type status struct {
					ID       string `json:"id"`
					Disabled bool   `json:"disabled"`
					Error    string `json:"error,omitempty"`
				}
				out := make([]status, 0, len(ids))
				for _, id := range ids {
					d, err := s.engine.IsDisabled(ctx, id)
					st := status{ID: id, Disabled: d}
					if err != nil {
						st.Error = err.Error()
					}
					out = append(out, st)
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), out)
				}
				t := newTable(cmd.OutOrStdout(), "OBJECT", "DISABLED")
				for _, st := range out {
					value := fmt.Sprint(st.Disabled)
					if st.Error != "" {
						value = "error: " + st.Error
					}
					t.row(st.ID, value)
				}
				return t.flush()
			})
		},
	}

	cmd.Flags().StringArrayVarP(&disable, "disable", "D", nil, "disable this component (repeatable)")
	cmd.Flags().StringArrayVarP(&enable, "enable", "E", nil, "enable this component, overriding the configuration (repeatable)")
	cmd.Flags().BoolVar(&save, "save", false, "keep --disable and --enable in the state database")
	cmd.Flags().BoolVar(&clearSaved, "clear", false, "remove saved overrides")
	cmd.Flags().BoolVar(&list, "list", false, "print saved overrides")
	cmd.MarkFlagsMutuallyExclusive("clear", "save")
	cmd.MarkFlagsMutuallyExclusive("clear", "list")

	return cmd
}

// mergeOverrides adds run-only overrides to the ones already applied.
func mergeOverrides(ctx context.Context, s *session, disable, enable []string) {
	if len(disable) == 0 && len(enable) == 0 {
		return
	}
	savedDisabled, savedEnabled := s.engine.Partition().UserOverrides()
	if len(disable) > 0 {
		s.engine.SetUserDisabled(ctx, append(savedDisabled, disable...))
	}
	if len(enable) > 0 {
		s.engine.SetUserEnabled(ctx, append(savedEnabled, enable...))
	}
}

func printOverrides(cmd *cobra.Command, overrides []*stores.Override) error {
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), overrides)
	}
	t := newTable(cmd.OutOrStdout(), "OBJECT", "STATE", "BY", "UPDATED")
	for _, o := range overrides {
		state := "enabled"
		if o.Disabled {
			state = "disabled"
		}
		t.row(o.ObjectID, state, o.Actor, o.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return t.flush()
}
