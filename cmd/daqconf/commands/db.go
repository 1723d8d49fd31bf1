package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/daqconf/pkg/config"
	"github.com/openfroyo/daqconf/pkg/confdb"
)

// loadDocument merges the configured sources without opening a partition.
func loadDocument(ctx context.Context) (*confdb.Document, []string, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, nil, err
	}
	sources := sourcePaths(settings)
	if len(sources) == 0 {
		return nil, nil, fmt.Errorf("no configuration sources: use --data or sources.files")
	}
	doc, err := config.NewLoader(log.Logger, nil).LoadSources(ctx, sources)
	if err != nil {
		return nil, nil, err
	}
	return doc, sources, nil
}

func newDBCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Configuration snapshots",
		Long: `Save the merged configuration sources into a SQLite snapshot, or turn a
snapshot back into a YAML document. Snapshots can be used as a --data
source like any other document.`,
	}

	cmd.AddCommand(newDBExportCommand())
	cmd.AddCommand(newDBImportCommand())
	cmd.AddCommand(newDBInfoCommand())

	return cmd
}

func newDBExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "export FILE",
		Short:   "Save the configuration sources into a snapshot",
		Example: `  daqconf db export -d ./config snapshot.db`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			doc, sources, err := loadDocument(ctx)
			if err != nil {
				return err
			}

			// the merged document must load cleanly before it is saved
			db := confdb.New()
			if err := db.Load(doc); err != nil {
				return err
			}

			store, err := confdb.OpenSQLite(ctx, args[0])
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Save(ctx, db.Export(), strings.Join(sources, ",")); err != nil {
				return err
			}
			log.Info().
				Str("file", args[0]).
				Int("objects", db.Len()).
				Msg("Snapshot saved")
			return nil
		},
	}
	return cmd
}

func newDBImportCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Write a snapshot as a YAML document",
		Example: `  daqconf db import snapshot.db > partition.yaml
  daqconf db import snapshot.db -o partition.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := os.Stat(args[0]); err != nil {
				return fmt.Errorf("cannot read snapshot: %w", err)
			}
			store, err := confdb.OpenSQLite(ctx, args[0])
			if err != nil {
				return err
			}
			defer store.Close()

			doc, err := store.Load(ctx)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				w = f
			}
			return confdb.EncodeYAML(w, doc)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write the document to this file")

	return cmd
}

func newDBInfoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info FILE",
		Short: "Print when a snapshot was saved and from what",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := os.Stat(args[0]); err != nil {
				return fmt.Errorf("cannot read snapshot: %w", err)
			}
			store, err := confdb.OpenSQLite(ctx, args[0])
			if err != nil {
				return err
			}
			defer store.Close()

			info, err := store.Info(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), info)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved: %s\nobjects: %d\nsource: %s\n",
				info.SavedAt.Local().Format("2006-01-02 15:04:05"), info.Objects, info.Source)
			return nil
		},
	}
	return cmd
}
