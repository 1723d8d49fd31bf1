package commands

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/daqconf/pkg/config"
	"github.com/openfroyo/daqconf/pkg/confdb"
	"github.com/openfroyo/daqconf/pkg/policy"
	"github.com/openfroyo/daqconf/pkg/telemetry"
)

func newWatchCommand() *cobra.Command {
	var (
		metricsAddr string
		lint        bool
		policyDirs  []string
		retention   time.Duration
		delay       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the partition loaded and reload it when sources change",
		Long: `Load the configuration sources and keep them loaded. Every change to a
source file reloads the configuration, which invalidates the resolved
partition; the partition is then resolved again.

Cache events (tree built, invalidated, closure computed, reloaded) are
logged and kept in the state database. Metrics are served on
--metrics-addr. With --lint the policies run after every reload, and the
.rego files of --policy are reloaded when they change.`,
		Example: `  daqconf watch -d ./config -p ATLAS --metrics-addr :9090 --lint`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withSession(ctx, func(s *session) error {
				s.tel.Events.Subscribe(func(e telemetry.Event) {
					log.Info().
						Str("type", e.Type).
						Str("source", e.Source).
						Str("partition", e.Partition).
						Msg(e.Message)
				}, nil)

				if s.state != nil {
					if n, err := s.state.DeleteEventsBefore(ctx, time.Now().Add(-retention)); err != nil {
						log.Warn().Err(err).Msg("Cannot prune events")
					} else if n > 0 {
						log.Debug().Int64("removed", n).Msg("Old events pruned")
					}
					s.tel.Events.Subscribe(s.state.EventSink(ctx, func(err error) {
						log.Warn().Err(err).Msg("Cannot store event")
					}), nil)
				}

				var l *linter
				if lint {
					dirs := policyDirs
					if len(dirs) == 0 && s.settings.Policy.Dir != "" {
						dirs = []string{s.settings.Policy.Dir}
					}
					var err error
					l, err = newLinter(ctx, s, dirs, s.settings.Policy.Builtin, s.settings.Policy.FailOn)
					if err != nil {
						return err
					}
				}

				resolve := func(ctx context.Context) {
					if _, err := s.engine.Segments(ctx); err != nil {
						log.Error().Err(err).Msg("Partition cannot be resolved")
						return
					}
					if l == nil {
						return
					}
					report, resolutionErrors, err := l.run(ctx, s)
					if err != nil {
						log.Error().Err(err).Msg("Lint failed")
						return
					}
					log.Info().
						Int("errors", report.Count(policy.SeverityError)).
						Int("warnings", report.Count(policy.SeverityWarning)).
						Int("resolution_errors", len(resolutionErrors)).
						Bool("failed", l.failed(report, resolutionErrors)).
						Msg("Partition linted")
				}
				resolve(ctx)

				watcher := confdb.NewWatcher(s.tel.Logger.NewComponentLogger("watch").Zerolog(), config.Extensions,
					func(ctx context.Context) error {
						err := s.loader.Reload(ctx, s.db, s.sources)
						status := "ok"
						if err != nil {
							status = "error"
						}
						s.tel.Metrics.RecordReload(status)
						if perr := s.tel.Events.PublishReload(s.sources, err); perr != nil {
							log.Debug().Err(perr).Msg("Cannot publish reload event")
						}
						if err != nil {
							return err
						}
						resolve(ctx)
						return nil
					})
				if delay > 0 {
					watcher.SetDelay(delay)
				}
				if err := watcher.Start(ctx, s.sources); err != nil {
					return err
				}

				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					return s.tel.Metrics.Serve(gctx, metricsAddr)
				})
				if l != nil && len(l.dirs) > 0 {
					pw, err := l.loader.Watch(gctx, l.dirs, func(policies []policy.Policy) error {
						if err := l.engine.ReplacePolicies(gctx, policies); err != nil {
							return err
						}
						resolve(gctx)
						return nil
					})
					if err != nil {
						return err
					}
					g.Go(func() error {
						<-pw.Done()
						return nil
					})
				}
				g.Go(func() error {
					<-watcher.Done()
					return nil
				})

				log.Info().
					Str("partition", s.settings.Partition).
					Strs("sources", s.sources).
					Msg("Watching configuration sources")
				return g.Wait()
			})
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve metrics on this address (default from settings)")
	cmd.Flags().BoolVar(&lint, "lint", false, "run the policies after every reload")
	cmd.Flags().StringArrayVar(&policyDirs, "policy", nil, "directory or .rego file with site rules (repeatable)")
	cmd.Flags().DurationVar(&retention, "retention", 7*24*time.Hour, "drop stored events older than this")
	cmd.Flags().DurationVar(&delay, "delay", 0, "wait this long after a change before reloading")

	return cmd
}
