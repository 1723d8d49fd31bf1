package environment

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/daqconf/pkg/confdb"
	"github.com/openfroyo/daqconf/pkg/dal"
	"github.com/openfroyo/daqconf/pkg/fuse"
	"github.com/openfroyo/daqconf/pkg/resolver"
)

// Well-known process environment variables.
const (
	EnvPartition            = "TDAQ_PARTITION"
	EnvIPCInitRef           = "TDAQ_IPC_INIT_REF"
	EnvDBRepository         = "TDAQ_DB_REPOSITORY"
	EnvDBUserRepository     = "TDAQ_DB_USER_REPOSITORY"
	EnvDBPath               = "TDAQ_DB_PATH"
	EnvDBData               = "TDAQ_DB_DATA"
	EnvDBName               = "TDAQ_DB_NAME"
	EnvDB                   = "TDAQ_DB"
	EnvDBVersion            = "TDAQ_DB_VERSION"
	EnvRepositoryMappingDir = "OKS_REPOSITORY_MAPPING_DIR"
	EnvApplicationObjectID  = "TDAQ_APPLICATION_OBJECT_ID"
	EnvApplicationName      = "TDAQ_APPLICATION_NAME"
	EnvClassPath            = "CLASSPATH"
	EnvPath                 = "PATH"
	EnvLibraryPath          = "LD_LIBRARY_PATH"
)

// Options configures a Builder.
type Options struct {
	// Getenv reads the process environment of the caller. Defaults to
	// os.LookupEnv.
	Getenv Lookup

	// FileExists is used to locate jar files. Defaults to os.Stat.
	FileExists func(path string) bool

	Logger zerolog.Logger
}

// Info is everything needed to start an application.
type Info struct {
	Tag          *confdb.Object
	Env          map[string]string
	ProgramNames []string
	SearchPaths  []string
	LibPaths     []string
	StartArgs    string
	RestartArgs  string
}

// EnvLines returns the environment as sorted NAME=value lines.
func (i *Info) EnvLines() []string {
	out := make([]string, 0, len(i.Env))
	for k, v := range i.Env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Builder assembles process environments, executable candidates and
// command lines for the applications of one partition.
type Builder struct {
	p      *resolver.Partition
	opts   Options
	logger zerolog.Logger
}

// NewBuilder returns a Builder for p.
func NewBuilder(p *resolver.Partition, opts Options) *Builder {
	if opts.Getenv == nil {
		opts.Getenv = os.LookupEnv
	}
	if opts.FileExists == nil {
		opts.FileExists = func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		}
	}
	return &Builder{
		p:      p,
		opts:   opts,
		logger: opts.Logger.With().Str("component", "environment").Str("partition", p.ID()).Logger(),
	}
}

func (b *Builder) getenv(name string) string {
	v, _ := b.opts.Getenv(name)
	return v
}

func emplace(env map[string]string, name, value string) {
	if _, ok := env[name]; !ok {
		env[name] = value
	}
}

// set expands $(VAR) references against the caller environment and stores
// the result. Every reference must be defined.
func (b *Builder) set(env map[string]string, name, value string) error {
	s, err := SubstituteStrict(value, b.opts.Getenv, ParenBegin, ParenEnd)
	if err != nil {
		var cerr *dal.ConfigError
		if errors.As(err, &cerr) {
			return cerr.WithDetail("variable", name)
		}
		return err
	}
	env[name] = s
	return nil
}

// variableValue returns the value of a Variable for tag.
func variableValue(v, tag *confdb.Object) (string, error) {
	values := v.Rel(dal.RelTagValues)
	if len(values) == 0 {
		return v.Str(dal.AttrValue), nil
	}
	if tag == nil {
		return "", dal.NewBadConfigurationError(
			fmt.Sprintf("the variable %s has tag dependent values but no tag is given", v), nil).WithObject(v)
	}
	for _, tv := range values {
		if tv.Str(dal.AttrHWTag) == tag.Str(dal.AttrHWTag) && tv.Str(dal.AttrSWTag) == tag.Str(dal.AttrSWTag) {
			return tv.Str(dal.AttrValue), nil
		}
	}
	return v.Str(dal.AttrValue), nil
}

// addVariables adds items, expanding VariableSets, without overwriting
// names already present.
func (b *Builder) addVariables(env map[string]string, items []*confdb.Object, tag *confdb.Object, f *fuse.Fuse) error {
	for _, item := range items {
		switch {
		case item.IsA(dal.ClassVariable):
			value, err := variableValue(item, tag)
			if err != nil {
				return err
			}
			emplace(env, item.Str(dal.AttrName), value)
		case item.IsA(dal.ClassVariableSet):
			release, err := f.Enter(item.UID())
			if err != nil {
				return err
			}
			err = b.addVariables(env, item.Rel(dal.RelContains), tag, f)
			release()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *Builder) addEnvironment(env map[string]string, owner *confdb.Object, tag *confdb.Object) error {
	f := fuse.New("process environment", owner.UID(), b.p.FuseLimit())
	return b.addVariables(env, owner.Rel(dal.RelProcessEnvironment), tag, f)
}

// addFront sets the database and partition variables every process starts
// with.
func (b *Builder) addFront(env map[string]string, part *confdb.Object) error {
	type entry struct{ name, value string }
	var front []entry

	repository := b.getenv(EnvDBRepository)
	if repository != "" {
		if user := b.getenv(EnvDBUserRepository); user != "" {
			front = append(front, entry{EnvDBPath, user})
		} else {
			front = append(front, entry{EnvDBRepository, repository}, entry{EnvDBPath, ""})
			if dir := b.getenv(EnvRepositoryMappingDir); dir != "" {
				front = append(front, entry{EnvRepositoryMappingDir, dir})
			}
		}
	}

	front = append(front, entry{EnvPartition, part.UID()})
	if ref := part.Str(dal.AttrIPCRef); ref != "" {
		front = append(front, entry{EnvIPCInitRef, ref})
	}
	if repository == "" {
		if path := part.Str(dal.AttrDBPath); path != "" {
			front = append(front, entry{EnvDBPath, path})
		}
	}
	if data := part.Str(dal.AttrDBName); data != "" {
		front = append(front, entry{EnvDBData, data})
	}

	for _, e := range front {
		if err := b.set(env, e.name, e.value); err != nil {
			return err
		}
	}
	return nil
}

// usedPackages returns the software packages of app and program and,
// recursively, everything they use, in discovery order.
func usedPackages(base, program *confdb.Object) []*confdb.Object {
	var out []*confdb.Object
	seen := make(map[string]struct{})
	var add func(pkg *confdb.Object)
	add = func(pkg *confdb.Object) {
		if pkg == nil {
			return
		}
		if _, ok := seen[pkg.UID()]; ok {
			return
		}
		seen[pkg.UID()] = struct{}{}
		out = append(out, pkg)
		for _, u := range pkg.Rel(dal.RelUses) {
			add(u)
		}
	}
	if base != nil {
		for _, u := range base.Rel(dal.RelUses) {
			add(u)
		}
	}
	add(program.Ref(dal.RelBelongsTo))
	for _, u := range program.Rel(dal.RelUses) {
		add(u)
	}
	return out
}

// prepend puts value in front of the colon separated list held by name.
func prepend(env map[string]string, name, value string) {
	if old, ok := env[name]; ok && old != "" {
		env[name] = value + ":" + old
		return
	}
	env[name] = value
}

// classPath appends the jar files of repo to cp.
func (b *Builder) classPath(cp string, repo, part *confdb.Object) string {
	root := part.Str(dal.AttrRepositoryRoot)
	patch, install := repo.Str(dal.AttrPatchArea), repo.Str(dal.AttrInstallationPath)
	for _, obj := range repo.Rel(dal.RelSWObjects) {
		if !obj.IsA(dal.ClassJarFile) {
			continue
		}
		name := obj.Str(dal.AttrBinaryName)
		var candidates []string
		if strings.HasPrefix(name, "/") {
			candidates = []string{name}
		} else {
			if root != "" {
				candidates = append(candidates, root+"/"+shareLib+"/"+name)
			}
			if patch != "" {
				candidates = append(candidates, patch+"/"+shareLib+"/"+name)
			}
			candidates = append(candidates, install+"/"+shareLib+"/"+name)
		}
		found := ""
		for _, c := range candidates {
			if b.opts.FileExists(c) {
				found = c
				break
			}
		}
		if found == "" {
			b.logger.Error().Str("jar", obj.UID()).Str("repository", repo.UID()).
				Strs("candidates", candidates).Msg("cannot find jar file")
			continue
		}
		if cp == "" {
			cp = found
		} else {
			cp += ":" + found
		}
	}
	return cp
}

// addEnd adds the partition and software package variables and the
// database selection. base is nil for a bare program.
func (b *Builder) addEnd(env map[string]string, part, base, program, tag *confdb.Object) error {
	if err := b.addEnvironment(env, part, tag); err != nil {
		return err
	}

	if b.getenv(EnvDBRepository) != "" {
		if _, ok := env[EnvDBVersion]; !ok {
			if err := b.set(env, EnvDBVersion, part.Str(dal.AttrDBVersion)); err != nil {
				return err
			}
		}
	}

	pkgs := usedPackages(base, program)
	for _, pkg := range pkgs {
		if err := b.addEnvironment(env, pkg, tag); err != nil {
			return err
		}
	}
	for _, pkg := range pkgs {
		if !pkg.IsA(dal.ClassSWRepository) {
			continue
		}
		name := pkg.Str(dal.AttrInstallationPathVariableName)
		if name == "" {
			continue
		}
		if _, dup := env[name]; dup {
			b.logger.Warn().Str("variable", name).Str("repository", pkg.UID()).
				Msg("installation path variable already defined; check configuration database")
			continue
		}
		env[name] = pkg.Str(dal.AttrInstallationPath)
	}
	for i := len(pkgs) - 1; i >= 0; i-- {
		pkg := pkgs[i]
		install, patch := pkg.Str(dal.AttrInstallationPath), pkg.Str(dal.AttrPatchArea)
		for _, v := range pkg.Rel(dal.RelAddProcessEnvironment) {
			name, suffix := v.Str(dal.AttrName), v.Str(dal.AttrSuffix)
			prepend(env, name, install+"/"+suffix)
			if patch != "" {
				prepend(env, name, patch+"/"+suffix)
			}
		}
	}

	if program.IsA(dal.ClassScript) && strings.EqualFold(program.Str(dal.AttrShell), "java") {
		cp := env[EnvClassPath]
		for _, pkg := range pkgs {
			if pkg.IsA(dal.ClassSWRepository) {
				cp = b.classPath(cp, pkg, part)
			}
		}
		env[EnvClassPath] = cp
	}

	if part.Str(dal.AttrDBTechnology) == "rdbconfig" {
		if name, ok := env[EnvDBName]; ok {
			emplace(env, EnvDB, "rdbconfig:"+name)
		} else {
			env[EnvDBName] = "RDB"
			emplace(env, EnvDB, "rdbconfig:RDB")
		}
	} else if _, ok := env[EnvDB]; !ok {
		env[EnvDB] = "oksconfig:" + part.Str(dal.AttrDBName)
		delete(env, EnvDBName)
	}
	return nil
}

// setPath prepends paths to the colon separated list held by name.
func setPath(env map[string]string, name string, paths []string) {
	value := strings.Join(paths, ":")
	if old := env[name]; old != "" {
		if value == "" {
			value = old
		} else {
			value += ":" + old
		}
	}
	env[name] = value
}

// segmentValue is the value an infrastructure application exports to the
// processes of its segment.
func segmentValue(a *resolver.Application) (string, error) {
	host, err := a.Host()
	if err != nil {
		return "", err
	}
	switch a.Base().Str(dal.AttrSegmentProcEnvVarValue) {
	case dal.ProcEnvValueAppID:
		return a.UID(), nil
	case dal.ProcEnvValueRunsOn:
		return host.UID(), nil
	}
	backups, err := a.BackupHosts()
	if err != nil {
		return "", err
	}
	return strings.Join(append([]string{host.UID()}, confdb.UIDs(backups)...), ","), nil
}

// addSegments adds the process environment of every segment on the path,
// innermost first, together with the variables exported by their
// infrastructure applications.
func (b *Builder) addSegments(env map[string]string, path []*resolver.Segment, tag *confdb.Object) error {
	parentNames := make(map[string]string)
	for i := len(path) - 1; i >= 0; i-- {
		seg := path[i]
		if err := b.addEnvironment(env, seg.Base(), tag); err != nil {
			return err
		}
		infra, err := seg.Infrastructure()
		if err != nil {
			return err
		}
		for _, a := range infra {
			name := a.Base().Str(dal.AttrSegmentProcEnvVarName)
			if name == "" {
				continue
			}
			value, err := segmentValue(a)
			if err != nil {
				return err
			}
			emplace(env, name, value)
			if parent := parentNames[name]; parent != "" {
				emplace(env, parent, value)
				parentNames[name] = ""
			}
			if parent := a.Base().Str(dal.AttrSegmentProcEnvVarParentName); parent != "" {
				if _, ok := parentNames[name]; !ok {
					parentNames[name] = parent
				}
			}
		}
	}
	return nil
}

// Build computes the start information of app: the first of its tags
// supported by its host and software, the executables to try, the
// environment and the command lines.
func (b *Builder) Build(app *resolver.Application) (*Info, error) {
	part, err := b.p.Object()
	if err != nil {
		return nil, err
	}
	path, err := SegmentPath(app)
	if err != nil {
		return nil, err
	}
	base := app.Base()
	program := base.Ref(dal.RelProgram)
	if program == nil || program.Ref(dal.RelBelongsTo) == nil {
		return nil, badApplication(app, "failed to read the application program or its software package", nil)
	}
	tags, err := tagsFor(app, path)
	if err != nil {
		return nil, err
	}
	host, err := app.Host()
	if err != nil {
		return nil, err
	}

	var (
		pp  *programPaths
		tag *confdb.Object
	)
	for i, t := range tags {
		pp, err = resolveProgram(program, t, host, part, b.p.FuseLimit())
		if err == nil {
			tag = t
			break
		}
		if dal.ErrorCode(err) == dal.ErrCodeBadTag && i < len(tags)-1 {
			b.logger.Debug().Err(err).Str("application", app.UID()).Str("tag", t.UID()).Msg("tag rejected")
			continue
		}
		return nil, badApplication(app, "no program suited for the possible tags found", err)
	}

	// repository root paths lead, then the application packages, then the
	// rest of the program paths
	var search, libs []string
	lead := 0
	if part.Str(dal.AttrRepositoryRoot) != "" {
		lead = 1
		libs = append(libs, pp.libs[0])
		search = append(search, pp.search[0], pp.search[1])
	}
	appPaths := &programPaths{search: search, libs: libs}
	f := fuse.New("application binary and library paths", app.UID(), b.p.FuseLimit())
	plat := platformOf(tag)
	for _, pkg := range base.Rel(dal.RelUses) {
		if err := collectPaths(pkg, plat, appPaths, f); err != nil {
			return nil, badApplication(app, "failed to get binary and library paths", err)
		}
	}
	for _, l := range pp.libs[lead:] {
		appPaths.libs = addPath(appPaths.libs, l)
	}
	for _, s := range pp.search[2*lead:] {
		appPaths.search = addPath(appPaths.search, s)
	}

	env := make(map[string]string)
	if err := b.addFront(env, part); err != nil {
		return nil, badApplication(app, "failed to build the process environment", err)
	}
	if err := b.addEnvironment(env, base, tag); err != nil {
		return nil, badApplication(app, "failed to build the process environment", err)
	}
	if err := b.addEnvironment(env, program, tag); err != nil {
		return nil, badApplication(app, "failed to build the process environment", err)
	}
	if err := b.addSegments(env, path, tag); err != nil {
		return nil, badApplication(app, "failed to build the process environment", err)
	}
	if err := b.addEnd(env, part, base, program, tag); err != nil {
		return nil, badApplication(app, "failed to build the process environment", err)
	}
	env[EnvApplicationObjectID] = base.UID()
	env[EnvApplicationName] = app.UID()
	setPath(env, EnvPath, appPaths.search)
	setPath(env, EnvLibraryPath, appPaths.libs)

	start := program.Str(dal.AttrDefaultParameters) + " "
	restart := start
	start += base.Str(dal.AttrParameters)
	restart += base.Str(dal.AttrRestartParameters)
	if start, err = Substitute(start, MapLookup(env), EnvBegin, EnvEnd); err != nil {
		return nil, badApplication(app, "failed to expand the start parameters", err)
	}
	if restart, err = Substitute(restart, MapLookup(env), EnvBegin, EnvEnd); err != nil {
		return nil, badApplication(app, "failed to expand the restart parameters", err)
	}

	b.logger.Debug().Str("application", app.UID()).Str("tag", tag.UID()).Int("variables", len(env)).Msg("environment built")
	return &Info{
		Tag:          tag,
		Env:          env,
		ProgramNames: pp.names,
		SearchPaths:  appPaths.search,
		LibPaths:     appPaths.libs,
		StartArgs:    start,
		RestartArgs:  restart,
	}, nil
}

// BuildProgram computes the executables and environment of program for tag
// on host, outside of any application.
func (b *Builder) BuildProgram(program, tag, host *confdb.Object) (*Info, error) {
	part, err := b.p.Object()
	if err != nil {
		return nil, err
	}
	pp, err := resolveProgram(program, tag, host, part, b.p.FuseLimit())
	if err != nil {
		return nil, err
	}

	env := make(map[string]string)
	if err := b.addFront(env, part); err != nil {
		return nil, badProgram(program, "failed to build the process environment", err)
	}
	if err := b.addEnvironment(env, program, nil); err != nil {
		return nil, badProgram(program, "failed to build the process environment", err)
	}
	if err := b.addEnd(env, part, nil, program, tag); err != nil {
		return nil, badProgram(program, "failed to build the process environment", err)
	}
	setPath(env, EnvPath, pp.search)
	setPath(env, EnvLibraryPath, pp.libs)

	return &Info{
		Tag:          tag,
		Env:          env,
		ProgramNames: pp.names,
		SearchPaths:  pp.search,
		LibPaths:     pp.libs,
	}, nil
}
