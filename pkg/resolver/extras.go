package resolver

import (
	"sort"

	"github.com/openfroyo/daqconf/pkg/confdb"
	"github.com/openfroyo/daqconf/pkg/dal"
	"github.com/openfroyo/daqconf/pkg/fuse"
)

// DefaultLogRoot is used when the partition has no LogRoot.
const DefaultLogRoot = "/tmp/logs"

// LogDirectory returns the directory applications of the partition write
// their logs to: LogRoot followed by the partition id.
func (p *Partition) LogDirectory() (string, error) {
	part, err := p.Object()
	if err != nil {
		return "", err
	}
	root := part.Str(dal.AttrLogRoot)
	if root == "" {
		root = DefaultLogRoot
	}
	return root + "/" + part.UID(), nil
}

type repositorySet struct {
	fuse *fuse.Fuse
	seen map[string]*confdb.Object
	p    *Partition
}

func (r *repositorySet) addPackages(pkgs []*confdb.Object) error {
	for _, pkg := range pkgs {
		if pkg.IsA(dal.ClassSWRepository) {
			r.seen[pkg.UID()] = pkg
		}
		release, err := r.fuse.Enter(pkg.UID())
		if err != nil {
			return err
		}
		err = r.addPackages(pkg.Rel(dal.RelUses))
		release()
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repositorySet) addApplication(a *confdb.Object) error {
	if a == nil {
		return nil
	}
	// each application gets its own fuse, as for the package graph of one program
	saved := r.fuse
	r.fuse = fuse.New("used repositories", a.UID(), r.p.opts.FuseLimit)
	defer func() { r.fuse = saved }()

	if err := r.addPackages(a.Rel(dal.RelUses)); err != nil {
		return err
	}
	if prog := a.Ref(dal.RelProgram); prog != nil {
		if repo := prog.Ref(dal.RelBelongsTo); repo != nil && repo.IsA(dal.ClassSWRepository) {
			r.seen[repo.UID()] = repo
		}
		release, err := r.fuse.Enter(prog.UID())
		if err != nil {
			return err
		}
		defer release()
		return r.addPackages(prog.Rel(dal.RelUses))
	}
	return nil
}

func (r *repositorySet) addSegment(s *confdb.Object, segFuse *fuse.Fuse) error {
	if err := r.addApplication(s.Ref(dal.RelIsControlledBy)); err != nil {
		return err
	}
	for _, a := range s.Rel(dal.RelApplications) {
		if err := r.addApplication(a); err != nil {
			return err
		}
	}
	for _, a := range s.Rel(dal.RelInfrastructure) {
		if err := r.addApplication(a); err != nil {
			return err
		}
	}
	for _, res := range s.Rel(dal.RelResources) {
		apps, err := resourceApplicationsOf(res, r.p.opts.FuseLimit)
		if err != nil {
			return err
		}
		for _, a := range apps {
			if err := r.addApplication(a); err != nil {
				return err
			}
		}
	}
	for _, n := range s.Rel(dal.RelSegments) {
		release, err := segFuse.Enter(n.UID())
		if err != nil {
			return err
		}
		err = r.addSegment(n, segFuse)
		release()
		if err != nil {
			return err
		}
	}
	return nil
}

// resourceApplicationsOf returns every application reachable from r through
// resource sets, regardless of their disabled status.
func resourceApplicationsOf(r *confdb.Object, limit int) ([]*confdb.Object, error) {
	f := fuse.New("resource applications", r.UID(), limit)
	var out []*confdb.Object
	var walk func(o *confdb.Object) error
	walk = func(o *confdb.Object) error {
		if dal.IsApplication(o) {
			out = append(out, o)
		}
		if !dal.IsResourceSet(o) {
			return nil
		}
		for _, c := range o.Rel(dal.RelContains) {
			release, err := f.Enter(c.UID())
			if err != nil {
				return err
			}
			err = walk(c)
			release()
			if err != nil {
				return err
			}
		}
		return nil
	}
	return out, walk(r)
}

// UsedRepositories returns the software repositories referenced by any
// application of the partition, enabled or not, sorted by id.
func (p *Partition) UsedRepositories() ([]*confdb.Object, error) {
	part, err := p.Object()
	if err != nil {
		return nil, err
	}

	r := &repositorySet{seen: make(map[string]*confdb.Object), p: p}
	segFuse := fuse.New("used segments and repositories", part.UID(), p.opts.FuseLimit)

	visit := func(s *confdb.Object) error {
		release, err := segFuse.Enter(s.UID())
		if err != nil {
			return err
		}
		defer release()
		return r.addSegment(s, segFuse)
	}

	if online := part.Ref(dal.RelOnlineInfrastructure); online != nil {
		if err := visit(online); err != nil {
			return nil, err
		}
		for _, a := range part.Rel(dal.RelOnlineInfrastructureApplications) {
			if err := r.addApplication(a); err != nil {
				return nil, err
			}
		}
	}
	for _, s := range part.Rel(dal.RelSegments) {
		if err := visit(s); err != nil {
			return nil, err
		}
	}

	out := make([]*confdb.Object, 0, len(r.seen))
	for _, repo := range r.seen {
		out = append(out, repo)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID() < out[j].UID() })
	return out, nil
}

// GenericResources returns the plain Resource objects reachable from obj
// through enabled resource sets. Disabled objects and their contents are
// skipped.
func (p *Partition) GenericResources(obj *confdb.Object) ([]*confdb.Object, error) {
	f := fuse.New("generic resources", obj.UID(), p.opts.FuseLimit)
	var out []*confdb.Object
	var walk func(o *confdb.Object) error
	walk = func(o *confdb.Object) error {
		d, err := p.IsDisabled(o.UID())
		if err != nil || d {
			return err
		}
		switch {
		case o.IsA(dal.ClassResource):
			out = append(out, o)
		case dal.IsResourceSet(o):
			for _, c := range o.Rel(dal.RelContains) {
				release, err := f.Enter(c.UID())
				if err != nil {
					return err
				}
				err = walk(c)
				release()
				if err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(obj); err != nil {
		return nil, err
	}
	return out, nil
}
