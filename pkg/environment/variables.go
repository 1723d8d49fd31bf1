package environment

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openfroyo/daqconf/pkg/confdb"
	"github.com/openfroyo/daqconf/pkg/dal"
	"github.com/openfroyo/daqconf/pkg/fuse"
	"github.com/openfroyo/daqconf/pkg/resolver"
)

// Variables is the partition-wide ${NAME} substitution map. Once installed
// it rewrites every string attribute read through Object.Str.
//
// The map holds TDAQ_PARTITION, TDAQ_LOGS_ROOT and TDAQ_LOGS_PATH, the
// Parameters of the partition and of its segment trees, and the
// installation path variables of the used software repositories. Values
// may reference each other; they are expanded once in key order.
type Variables struct {
	p      *resolver.Partition
	logger zerolog.Logger

	mu     sync.Mutex
	values map[string]string

	unsubscribe func()
}

// NewVariables returns the substitution map of p. It is computed lazily and
// dropped whenever the store changes.
func NewVariables(p *resolver.Partition, logger zerolog.Logger) *Variables {
	v := &Variables{p: p, logger: logger}
	v.unsubscribe = p.DB().Subscribe(confdb.Invalidator(v.reset))
	return v
}

// Install registers v as the attribute converter of the partition store.
func (v *Variables) Install() {
	v.p.DB().SetConverter(v)
}

// Close removes the converter and stops listening to the store.
func (v *Variables) Close() {
	v.p.DB().SetConverter(nil)
	if v.unsubscribe != nil {
		v.unsubscribe()
		v.unsubscribe = nil
	}
}

func (v *Variables) reset() {
	v.mu.Lock()
	v.values = nil
	v.mu.Unlock()
}

// Values returns a copy of the substitution map.
func (v *Variables) Values() (map[string]string, error) {
	m, err := v.load()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		out[k] = val
	}
	return out, nil
}

// Convert implements confdb.Converter. Values that cannot be expanded are
// returned unchanged.
func (v *Variables) Convert(s string) string {
	m, err := v.load()
	if err != nil {
		return s
	}
	out, err := Substitute(s, MapLookup(m), BraceBegin, BraceEnd)
	if err != nil {
		v.logger.Warn().Err(err).Str("value", s).Msg("cannot substitute variables")
		return s
	}
	return out
}

func (v *Variables) load() (map[string]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.values != nil {
		return v.values, nil
	}
	m, err := v.compute()
	if err != nil {
		v.logger.Error().Err(err).Str("partition", v.p.ID()).Msg("failed to compute substitution variables")
		return nil, err
	}
	v.values = m
	return m, nil
}

// compute reads raw attribute values only; going through Str here would
// call back into Convert.
func (v *Variables) compute() (map[string]string, error) {
	part, err := v.p.Object()
	if err != nil {
		return nil, err
	}

	logRoot := part.RawStr(dal.AttrLogRoot)
	m := map[string]string{
		"TDAQ_PARTITION": part.UID(),
		"TDAQ_LOGS_ROOT": logRoot,
		"TDAQ_LOGS_PATH": logRoot + "/" + part.UID(),
	}

	f := fuse.New("segments substitution parameters", part.UID(), v.p.FuseLimit())
	params := part.Rel(dal.RelParameters)

	var addSegment func(seg *confdb.Object) error
	addSegment = func(seg *confdb.Object) error {
		release, err := f.Enter(seg.UID())
		if err != nil {
			return err
		}
		defer release()
		params = append(params, seg.Rel(dal.RelParameters)...)
		for _, n := range seg.Rel(dal.RelSegments) {
			if err := addSegment(n); err != nil {
				return err
			}
		}
		return nil
	}
	if online := part.Ref(dal.RelOnlineInfrastructure); online != nil {
		if err := addSegment(online); err != nil {
			return nil, err
		}
	}
	for _, s := range part.Rel(dal.RelSegments) {
		if err := addSegment(s); err != nil {
			return nil, err
		}
	}

	var addVars func(items []*confdb.Object) error
	addVars = func(items []*confdb.Object) error {
		for _, p := range items {
			switch {
			case p.IsA(dal.ClassVariable):
				m[p.RawStr(dal.AttrName)] = p.RawStr(dal.AttrValue)
			case p.IsA(dal.ClassVariableSet):
				release, err := f.Enter(p.UID())
				if err != nil {
					return err
				}
				err = addVars(p.Rel(dal.RelContains))
				release()
				if err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := addVars(params); err != nil {
		return nil, err
	}

	repos, err := v.p.UsedRepositories()
	if err != nil {
		return nil, err
	}
	for _, r := range repos {
		name := r.RawStr(dal.AttrInstallationPathVariableName)
		if name == "" {
			continue
		}
		if _, dup := m[name]; dup {
			v.logger.Warn().Str("variable", name).Str("repository", r.UID()).
				Msg("substitution variable already defined; check configuration database")
			continue
		}
		m[name] = r.RawStr(dal.AttrInstallationPath)
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s, err := Substitute(m[k], MapLookup(m), BraceBegin, BraceEnd)
		if err != nil {
			return nil, dal.NewBadConfigurationError("failed to calculate variable '"+k+"'", err).
				WithCode(dal.ErrorCode(err))
		}
		m[k] = s
	}
	return m, nil
}
