// Package dependency answers structural questions about where a component
// sits in a partition: the segment paths leading to it and the applications
// it must be started after or stopped before.
package dependency

import (
	"fmt"

	"github.com/openfroyo/daqconf/pkg/confdb"
	"github.com/openfroyo/daqconf/pkg/dal"
	"github.com/openfroyo/daqconf/pkg/fuse"
)

// Path is an ordered list of containers from a top level segment down to the
// direct parent of a component.
type Path []*confdb.Object

// IDs returns the ids of the path items.
func (p Path) IDs() []string { return confdb.UIDs(p) }

type walker struct {
	target *confdb.Object
	fuse   *fuse.Fuse
	paths  []Path
}

func (w *walker) emit(path Path) {
	w.paths = append(w.paths, append(Path(nil), path...))
}

func (w *walker) checkSegment(seg *confdb.Object) error {
	if seg.Same(w.target) {
		w.emit(nil)
		return nil
	}
	return w.walk(seg, nil)
}

func (w *walker) walk(o *confdb.Object, path Path) error {
	release, err := w.fuse.Enter(o.UID())
	if err != nil {
		return dal.NewBadConfigurationError(fmt.Sprintf("cannot get parents of %s", w.target), err).
			WithCode(dal.ErrCodeCannotGetParents).
			WithObject(w.target)
	}
	defer release()

	path = append(path, o)
	segmentTarget := dal.IsSegment(w.target)

	// an application is held directly by the segment running it
	held := false
	if dal.IsSegment(o) && dal.IsApplication(w.target) {
		held = holds(o, w.target, dal.RelIsControlledBy, dal.RelInfrastructure, dal.RelApplications)
		if held {
			w.emit(path)
		}
	}

	visit := func(children []*confdb.Object, descend func(*confdb.Object) bool) error {
		for _, c := range children {
			if c.Same(w.target) {
				if !held {
					w.emit(path)
				}
				continue
			}
			if descend(c) {
				if err := w.walk(c, path); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if dal.IsSegment(o) {
		if err := visit(o.Rel(dal.RelSegments), func(*confdb.Object) bool { return true }); err != nil {
			return err
		}
		if !segmentTarget {
			if err := visit(o.Rel(dal.RelResources), isResourceSet); err != nil {
				return err
			}
		}
		return nil
	}
	if !segmentTarget && dal.IsResourceSet(o) {
		return visit(o.Rel(dal.RelContains), isResourceSet)
	}
	return nil
}

func isResourceSet(o *confdb.Object) bool { return dal.IsResourceSet(o) }

// holds reports whether seg links target through one of rels.
func holds(seg, target *confdb.Object, rels ...string) bool {
	for _, rel := range rels {
		for _, c := range seg.Rel(rel) {
			if c.Same(target) {
				return true
			}
		}
	}
	return false
}

// Parents returns every path from a partition top level segment to component.
// A top level segment yields one empty path, an application yields the
// paths ending at the segments running it, an online infrastructure
// application yields the path holding the online segment, and a component
// not linked with the partition yields no path at all.
func Parents(partition, component *confdb.Object, fuseLimit int) ([]Path, error) {
	w := &walker{
		target: component,
		fuse:   fuse.New("component parents", partition.UID(), fuseLimit),
	}

	for _, s := range partition.Rel(dal.RelSegments) {
		if err := w.checkSegment(s); err != nil {
			return nil, err
		}
	}

	online := partition.Ref(dal.RelOnlineInfrastructure)
	if online != nil {
		if err := w.checkSegment(online); err != nil {
			return nil, err
		}
		if !holds(online, component, dal.RelIsControlledBy, dal.RelInfrastructure, dal.RelApplications) &&
			holds(partition, component, dal.RelOnlineInfrastructureApplications) {
			w.emit(Path{online})
		}
	}
	return w.paths, nil
}
