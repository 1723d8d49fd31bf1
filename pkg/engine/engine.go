package engine

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/daqconf/pkg/confdb"
	"github.com/openfroyo/daqconf/pkg/dal"
	"github.com/openfroyo/daqconf/pkg/dependency"
	"github.com/openfroyo/daqconf/pkg/disabled"
	"github.com/openfroyo/daqconf/pkg/environment"
	"github.com/openfroyo/daqconf/pkg/resolver"
	"github.com/openfroyo/daqconf/pkg/telemetry"
)

// Options configures an Engine.
type Options struct {
	// FuseLimit bounds every recursive descent; <= 0 selects the default.
	FuseLimit int

	// MaxIterations caps the disabled closure passes; <= 0 selects the default.
	MaxIterations int

	// Hostname overrides the local host name lookup.
	Hostname func() (string, error)

	// Getenv reads the caller environment. Defaults to os.LookupEnv.
	Getenv environment.Lookup

	// FileExists locates jar files. Defaults to os.Stat.
	FileExists func(path string) bool

	// SkipVariables leaves string attributes unexpanded.
	SkipVariables bool

	// Parallelism bounds the concurrent builds of BuildAll; <= 0 selects
	// GOMAXPROCS.
	Parallelism int

	// Telemetry receives logs, spans, metrics and events. Defaults to
	// telemetry.Nop().
	Telemetry *telemetry.Telemetry
}

// Engine answers queries about one partition.
type Engine struct {
	partition *resolver.Partition
	variables *environment.Variables
	builder   *environment.Builder

	opts   Options
	tel    *telemetry.Telemetry
	logger *telemetry.Logger
}

// Open prepares partition id of db for querying. Nothing is resolved until
// the first query.
func Open(db *confdb.DB, id string, opts Options) (*Engine, error) {
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.Nop()
	}
	if opts.Getenv == nil {
		opts.Getenv = os.LookupEnv
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = runtime.GOMAXPROCS(0)
	}

	tel := opts.Telemetry
	e := &Engine{
		opts:   opts,
		tel:    tel,
		logger: tel.Logger.WithPartition(id),
	}

	p, err := resolver.Open(db, id, resolver.Options{
		FuseLimit:     opts.FuseLimit,
		MaxIterations: opts.MaxIterations,
		Hostname:      opts.Hostname,
		Logger:        tel.Logger.NewComponentLogger("resolver").Zerolog(),
		OnBuild:       e.onBuild,
		OnClosure:     e.onClosure,
		OnInvalidate:  e.onInvalidate,
	})
	if err != nil {
		return nil, err
	}
	e.partition = p

	envLogger := tel.Logger.NewComponentLogger("environment").Zerolog()
	if !opts.SkipVariables {
		e.variables = environment.NewVariables(p, envLogger)
		e.variables.Install()
	}
	e.builder = environment.NewBuilder(p, environment.Options{
		Getenv:     opts.Getenv,
		FileExists: opts.FileExists,
		Logger:     envLogger,
	})
	return e, nil
}

// Close detaches the engine from the store.
func (e *Engine) Close() {
	if e.variables != nil {
		e.variables.Close()
	}
	e.partition.Close()
}

// Partition returns the underlying resolution state.
func (e *Engine) Partition() *resolver.Partition { return e.partition }

// Logger returns the partition logger.
func (e *Engine) Logger() zerolog.Logger { return e.logger.Zerolog() }

func (e *Engine) onBuild(s resolver.BuildStats) {
	id := e.partition.ID()
	e.tel.Metrics.RecordTreeBuild(id, s.Duration, s.Segments, s.Applications)
	if err := e.tel.Events.PublishTreeBuilt(id, s.Epoch, s.Segments, s.Applications, s.Duration); err != nil {
		e.logger.WithError(err).Warn("cannot publish tree event")
	}
}

func (e *Engine) onClosure(c *disabled.Closure) {
	id := e.partition.ID()
	e.tel.Metrics.RecordClosure(id, c.Passes, c.Capped)
	if err := e.tel.Events.PublishClosure(id, c.Len(), c.Passes, c.Capped); err != nil {
		e.logger.WithError(err).Warn("cannot publish closure event")
	}
}

func (e *Engine) onInvalidate(reason string) {
	id := e.partition.ID()
	e.tel.Metrics.RecordInvalidation(id, reason)
	if err := e.tel.Events.PublishInvalidated(id, reason); err != nil {
		e.logger.WithError(err).Warn("cannot publish invalidation event")
	}
}

func (e *Engine) start(ctx context.Context, operation string, attrs ...attribute.KeyValue) *telemetry.Operation {
	attrs = append(attrs, telemetry.AttrPartitionID.String(e.partition.ID()))
	return e.tel.StartOperation(ctx, "engine."+operation, attrs...)
}

// ResolveSegment returns the resolved segment called name. Disabled
// segments are returned too; check Segment.IsDisabled.
func (e *Engine) ResolveSegment(ctx context.Context, name string) (seg *resolver.Segment, err error) {
	op := e.start(ctx, "ResolveSegment", telemetry.AttrSegmentID.String(name))
	defer func() { op.End(err) }()

	return e.partition.Segment(name)
}

// Root returns the online infrastructure segment.
func (e *Engine) Root(ctx context.Context) (seg *resolver.Segment, err error) {
	op := e.start(ctx, "Root")
	defer func() { op.End(err) }()

	return e.partition.Root()
}

// Segments returns every resolved segment, sorted by id.
func (e *Engine) Segments(ctx context.Context) (segs []*resolver.Segment, err error) {
	op := e.start(ctx, "Segments")
	defer func() { op.End(err) }()

	segs, err = e.partition.Segments()
	op.Span.SetAttributes(telemetry.AttrCount.Int(len(segs)))
	return segs, err
}

// AllApplications returns the applications of the enabled segments that
// pass f.
func (e *Engine) AllApplications(ctx context.Context, f resolver.Filter) (apps []*resolver.Application, err error) {
	op := e.start(ctx, "AllApplications")
	defer func() { op.End(err) }()

	apps, err = e.partition.AllApplications(f)
	op.Span.SetAttributes(telemetry.AttrCount.Int(len(apps)))
	return apps, err
}

// Application returns the resolved application with the given id.
func (e *Engine) Application(ctx context.Context, id string) (app *resolver.Application, err error) {
	op := e.start(ctx, "Application", telemetry.AttrApplicationID.String(id))
	defer func() { op.End(err) }()

	return e.partition.Application(id)
}

// Hosts returns the computers running at least one resolved application.
func (e *Engine) Hosts(ctx context.Context) (hosts []*confdb.Object, err error) {
	op := e.start(ctx, "Hosts")
	defer func() { op.End(err) }()

	return e.partition.Hosts()
}

// IsDisabled reports whether the component with the given id is disabled.
func (e *Engine) IsDisabled(ctx context.Context, id string) (d bool, err error) {
	op := e.start(ctx, "IsDisabled", telemetry.AttrComponentID.String(id))
	defer func() { op.End(err) }()

	return e.partition.IsDisabled(id)
}

// SetUserDisabled replaces the components disabled by the user. Both the
// closure and the tree are rebuilt on the next query.
func (e *Engine) SetUserDisabled(ctx context.Context, ids []string) {
	op := e.start(ctx, "SetUserDisabled", telemetry.AttrCount.Int(len(ids)))
	e.partition.SetUserDisabled(ids)
	logger := op.Logger.Zerolog()
	logger.Debug().Strs("components", ids).Msg("user disabled components replaced")
	op.End(nil)
}

// SetUserEnabled replaces the components enabled by the user.
func (e *Engine) SetUserEnabled(ctx context.Context, ids []string) {
	op := e.start(ctx, "SetUserEnabled", telemetry.AttrCount.Int(len(ids)))
	e.partition.SetUserEnabled(ids)
	logger := op.Logger.Zerolog()
	logger.Debug().Strs("components", ids).Msg("user enabled components replaced")
	op.End(nil)
}

// Invalidate drops the cached tree and closure.
func (e *Engine) Invalidate() { e.partition.Invalidate() }

// SegmentTimeouts returns the action and short action timeouts of the
// enabled segment called name.
func (e *Engine) SegmentTimeouts(ctx context.Context, name string) (action, short int64, err error) {
	op := e.start(ctx, "SegmentTimeouts", telemetry.AttrSegmentID.String(name))
	defer func() { op.End(err) }()

	seg, err := e.partition.Segment(name)
	if err != nil {
		return 0, 0, err
	}
	return seg.Timeouts()
}

// Parents returns every segment path from a top level segment of the
// partition down to the direct parent of the component with the given id.
func (e *Engine) Parents(ctx context.Context, id string) (paths []dependency.Path, err error) {
	op := e.start(ctx, "Parents", telemetry.AttrComponentID.String(id))
	defer func() { op.End(err) }()

	part, err := e.partition.Object()
	if err != nil {
		return nil, err
	}
	obj, err := e.partition.DB().Get(id)
	if err != nil {
		return nil, err
	}
	return dependency.Parents(part, obj, e.partition.FuseLimit())
}

// BuildEnvironment computes the tag, environment, program candidates,
// paths and arguments of the application with the given id.
func (e *Engine) BuildEnvironment(ctx context.Context, id string) (info *environment.Info, err error) {
	op := e.start(ctx, "BuildEnvironment", telemetry.AttrApplicationID.String(id))
	defer func() {
		e.recordEnvironmentBuild(err)
		op.End(err)
	}()

	app, err := e.partition.Application(id)
	if err != nil {
		return nil, err
	}
	info, err = e.builder.Build(app)
	if err == nil && info.Tag != nil {
		op.Span.SetAttributes(telemetry.AttrTag.String(info.Tag.UID()))
	}
	return info, err
}

func (e *Engine) recordEnvironmentBuild(err error) {
	if err != nil {
		e.tel.Metrics.RecordEnvironmentBuild("error")
		return
	}
	e.tel.Metrics.RecordEnvironmentBuild("ok")
}

// BuildProgramEnvironment computes the executables and environment of a
// program for a tag on a host, outside of any application.
func (e *Engine) BuildProgramEnvironment(ctx context.Context, programID, tagID, hostID string) (info *environment.Info, err error) {
	op := e.start(ctx, "BuildProgramEnvironment",
		telemetry.AttrComponentID.String(programID),
		telemetry.AttrTag.String(tagID),
	)
	defer func() {
		e.recordEnvironmentBuild(err)
		op.End(err)
	}()

	db := e.partition.DB()
	program, err := db.GetAs(programID, dal.ClassComputerProgram)
	if err != nil {
		return nil, err
	}
	tag, err := db.GetAs(tagID, dal.ClassTag)
	if err != nil {
		return nil, err
	}
	host, err := db.GetAs(hostID, dal.ClassComputer)
	if err != nil {
		return nil, err
	}
	return e.builder.BuildProgram(program, tag, host)
}

// BuildResult is the outcome of one application build in BuildAll.
type BuildResult struct {
	Application *resolver.Application
	Info        *environment.Info
	Err         error
}

// BuildAll builds the environment of every application passing f. Builds
// run concurrently; a failed build is reported in its result and does not
// stop the others. The results keep the AllApplications order.
func (e *Engine) BuildAll(ctx context.Context, f resolver.Filter) (results []BuildResult, err error) {
	op := e.start(ctx, "BuildAll")
	defer func() { op.End(err) }()

	apps, err := e.partition.AllApplications(f)
	if err != nil {
		return nil, err
	}
	op.Span.SetAttributes(telemetry.AttrCount.Int(len(apps)))

	results = make([]BuildResult, len(apps))
	g, gctx := errgroup.WithContext(op.Ctx)
	g.SetLimit(e.opts.Parallelism)
	for i, app := range apps {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			info, err := e.BuildEnvironment(gctx, app.UID())
			results[i] = BuildResult{Application: app, Info: info, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		logger := op.Logger.Zerolog()
		logger.Warn().Int("failed", failed).Int("total", len(results)).Msg("some environments could not be built")
	}
	return results, nil
}

// Dependencies returns the applications app waits for before starting and
// the applications that have to be stopped before it.
func (e *Engine) Dependencies(ctx context.Context, id string) (startDeps, stopDeps []*resolver.Application, err error) {
	op := e.start(ctx, "Dependencies", telemetry.AttrApplicationID.String(id))
	defer func() { op.End(err) }()

	app, err := e.partition.Application(id)
	if err != nil {
		return nil, nil, err
	}
	all, err := e.partition.AllApplications(resolver.Filter{})
	if err != nil {
		return nil, nil, err
	}
	if startDeps, err = dependency.InitializationDependsFrom(app, all); err != nil {
		return nil, nil, err
	}
	if stopDeps, err = dependency.ShutdownDependsFrom(app, all); err != nil {
		return nil, nil, err
	}
	return startDeps, stopDeps, nil
}

// StartupOrder groups the resolved applications into levels: an
// application only waits for applications of lower levels.
func (e *Engine) StartupOrder(ctx context.Context) (g *Graph, err error) {
	op := e.start(ctx, "StartupOrder")
	defer func() { op.End(err) }()

	return e.order(dependency.InitializationDependsFrom)
}

// ShutdownOrder groups the resolved applications into levels: an
// application is stopped after every application of lower levels.
func (e *Engine) ShutdownOrder(ctx context.Context) (g *Graph, err error) {
	op := e.start(ctx, "ShutdownOrder")
	defer func() { op.End(err) }()

	return e.order(dependency.ShutdownDependsFrom)
}

func (e *Engine) order(depends func(*resolver.Application, []*resolver.Application) ([]*resolver.Application, error)) (*Graph, error) {
	apps, err := e.partition.AllApplications(resolver.Filter{})
	if err != nil {
		return nil, err
	}
	edges := make(map[string][]string, len(apps))
	ids := make([]string, 0, len(apps))
	for _, app := range apps {
		ids = append(ids, app.UID())
		deps, err := depends(app, apps)
		if err != nil {
			return nil, err
		}
		for _, d := range deps {
			if d.UID() != app.UID() {
				edges[app.UID()] = append(edges[app.UID()], d.UID())
			}
		}
	}
	return buildGraph(ids, edges)
}

// LogDirectory returns the directory holding the partition log files.
func (e *Engine) LogDirectory(ctx context.Context) (dir string, err error) {
	op := e.start(ctx, "LogDirectory")
	defer func() { op.End(err) }()

	return e.partition.LogDirectory()
}

// UsedRepositories returns the software repositories referenced by the
// applications of the partition.
func (e *Engine) UsedRepositories(ctx context.Context) (repos []*confdb.Object, err error) {
	op := e.start(ctx, "UsedRepositories")
	defer func() { op.End(err) }()

	return e.partition.UsedRepositories()
}

// GenericResources returns the plain resources reachable from the object
// with the given id through enabled resource sets.
func (e *Engine) GenericResources(ctx context.Context, id string) (res []*confdb.Object, err error) {
	op := e.start(ctx, "GenericResources", telemetry.AttrComponentID.String(id))
	defer func() { op.End(err) }()

	obj, err := e.partition.DB().Get(id)
	if err != nil {
		return nil, err
	}
	return e.partition.GenericResources(obj)
}

// ConfigVersion returns the configuration version from the caller
// environment.
func (e *Engine) ConfigVersion(ctx context.Context) (v string, err error) {
	op := e.start(ctx, "ConfigVersion")
	defer func() { op.End(err) }()

	return environment.ConfigVersion(e.opts.Getenv)
}

// Variables returns the ${NAME} substitution map of the partition.
func (e *Engine) Variables(ctx context.Context) (vars map[string]string, err error) {
	op := e.start(ctx, "Variables")
	defer func() { op.End(err) }()

	if e.variables == nil {
		return nil, fmt.Errorf("variable substitution is disabled")
	}
	return e.variables.Values()
}
