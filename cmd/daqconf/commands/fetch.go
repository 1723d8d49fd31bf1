package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/daqconf/pkg/config"
	"github.com/openfroyo/daqconf/pkg/transports/ssh"
)

func newFetchCommand() *cobra.Command {
	var (
		remote config.RemoteConfig
		agent  bool
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Copy configuration documents from a remote host",
		Long: `Copy configuration documents from a remote host over SFTP into a local
directory. Directories are copied recursively, keeping only document files.

The remote defaults to sources.remote of the settings file; flags override
it. Once fetched, the local directory is loaded with the other sources.`,
		Example: `  daqconf fetch --host cfg.example.org --user daq --path /cfg/ATLAS --dir ./remote`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			r := remote
			if base := settings.Sources.Remote; base != nil {
				r = mergeRemote(*base, remote, cmd)
			}
			if r.Host == "" || r.User == "" || len(r.Paths) == 0 || r.Dir == "" {
				return fmt.Errorf("remote needs a host, a user, at least one path and a local directory")
			}

			cfg := ssh.NewHostConfig(r.Host, r.User)
			if r.Port != 0 {
				cfg.Port = r.Port
			}
			switch {
			case agent:
				cfg.Auth = ssh.AuthAgent
			case r.KeyFile != "":
				cfg.KeyFile = r.KeyFile
			}
			cfg.InsecureHostKey = r.InsecureHostKey

			fetcher, err := ssh.NewFetcher(cfg, log.Logger)
			if err != nil {
				return err
			}
			fetcher.Extensions = config.Extensions

			if err := os.MkdirAll(r.Dir, 0o755); err != nil {
				return fmt.Errorf("failed to create %s: %w", r.Dir, err)
			}
			files, err := fetcher.Fetch(cmd.Context(), r.Paths, r.Dir)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), files)
			}
			for _, f := range files {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			log.Info().Int("files", len(files)).Str("dir", r.Dir).Msg("Documents fetched")
			return nil
		},
	}

	cmd.Flags().StringVar(&remote.Host, "host", "", "remote host")
	cmd.Flags().IntVar(&remote.Port, "port", 0, "SSH port (default 22)")
	cmd.Flags().StringVar(&remote.User, "user", "", "remote user")
	cmd.Flags().StringVar(&remote.KeyFile, "key", "", "private key file")
	cmd.Flags().BoolVar(&agent, "agent", false, "authenticate with the SSH agent")
	cmd.Flags().StringArrayVar(&remote.Paths, "path", nil, "remote file or directory (repeatable)")
	cmd.Flags().StringVar(&remote.Dir, "dir", "", "local directory")
	cmd.Flags().BoolVar(&remote.InsecureHostKey, "insecure-host-key", false, "skip the known_hosts check")

	return cmd
}

// mergeRemote overrides base with the flags set on cmd.
func mergeRemote(base, flags config.RemoteConfig, cmd *cobra.Command) config.RemoteConfig {
	changed := cmd.Flags().Changed
	if changed("host") {
		base.Host = flags.Host
	}
	if changed("port") {
		base.Port = flags.Port
	}
	if changed("user") {
		base.User = flags.User
	}
	if changed("key") {
		base.KeyFile = flags.KeyFile
	}
	if changed("path") {
		base.Paths = flags.Paths
	}
	if changed("dir") {
		base.Dir = flags.Dir
	}
	if changed("insecure-host-key") {
		base.InsecureHostKey = flags.InsecureHostKey
	}
	return base
}
