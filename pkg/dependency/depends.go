package dependency

import (
	"github.com/openfroyo/daqconf/pkg/dal"
	"github.com/openfroyo/daqconf/pkg/resolver"
)

// InitializationDependsFrom returns the candidates app has to wait for
// before it is started.
func InitializationDependsFrom(app *resolver.Application, candidates []*resolver.Application) ([]*resolver.Application, error) {
	return dependsFrom(app, candidates, dal.RelInitializationDependsFrom)
}

// ShutdownDependsFrom returns the candidates that have to be stopped before
// app is.
func ShutdownDependsFrom(app *resolver.Application, candidates []*resolver.Application) ([]*resolver.Application, error) {
	return dependsFrom(app, candidates, dal.RelShutdownDependsFrom)
}

// dependsFrom keeps the candidates whose base object is referenced through
// rel. Instances of a template application only count when they belong to
// the segment of app and, if app is itself a template instance, run on the
// same host.
func dependsFrom(app *resolver.Application, candidates []*resolver.Application, rel string) ([]*resolver.Application, error) {
	refs := make(map[string]struct{})
	for _, id := range app.Base().RelIDs(rel) {
		refs[id] = struct{}{}
	}
	if len(refs) == 0 {
		return nil, nil
	}

	seg, err := app.Segment()
	if err != nil {
		return nil, err
	}
	host, err := app.Host()
	if err != nil {
		return nil, err
	}

	var out []*resolver.Application
	for _, x := range candidates {
		if _, ok := refs[x.Base().UID()]; !ok {
			continue
		}
		if !x.IsTemplated() {
			out = append(out, x)
			continue
		}

		xs, err := x.Segment()
		if err != nil {
			return nil, err
		}
		if xs != seg {
			continue
		}
		if app.IsTemplated() {
			xh, err := x.Host()
			if err != nil {
				return nil, err
			}
			if !xh.Same(host) {
				continue
			}
		}
		out = append(out, x)
	}
	return out, nil
}
