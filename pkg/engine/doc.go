// Package engine is the entry point for querying a partition configuration.
//
// An Engine owns the resolution state of one partition in a confdb store:
// the cached segment tree and disabled closure of a resolver.Partition, the
// ${NAME} substitution map and the environment builder. Every call runs as
// a telemetry operation with a span, an operation metric and a debug log
// line on failure, so the context argument only carries tracing.
//
// # Queries
//
//   - ResolveSegment, AllApplications, Segments and Hosts walk the enabled
//     view of the partition.
//   - IsDisabled answers from the tree or the disabled closure.
//   - BuildEnvironment and BuildProgramEnvironment compute what is needed to
//     start an application or a bare program.
//   - Parents enumerates the segment paths leading to a component.
//   - Dependencies, StartupOrder and ShutdownOrder expose the init and
//     shutdown relations between the resolved applications.
//
// # Caching
//
// The tree is built on first use and dropped when the store changes or the
// user overrides are replaced. Each build, closure and invalidation is
// reported through the telemetry metrics and events:
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    log.Info().Str("type", e.Type).Msg(e.Message)
//	}, telemetry.FilterByType(telemetry.EventTypeTreeInvalidated))
//
//	eng, err := engine.Open(db, "ATLAS", engine.Options{Telemetry: tel})
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
//
//	info, err := eng.BuildEnvironment(ctx, "RootController")
package engine
