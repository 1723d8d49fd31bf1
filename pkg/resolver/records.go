package resolver

import (
	"fmt"

	"github.com/openfroyo/daqconf/pkg/confdb"
	"github.com/openfroyo/daqconf/pkg/dal"
)

// tree is one immutable build result.
type tree struct {
	epoch      string
	generation uint64
	root       *Segment
	segments   map[string]*Segment
	apps       []*Application
	appIndex   map[string]*Application
}

// Segment is a resolved segment. Template segments yield one Segment per
// rack with the id "{template}:{rack}".
type Segment struct {
	p    *Partition
	tree *tree

	id        string
	base      *confdb.Object
	templated bool
	disabled  bool
	parent    *Segment

	controller     *Application
	infrastructure []*Application
	applications   []*Application
	nested         []*Segment
	hosts          []*confdb.Object
}

// Application is a resolved application instance. Normal applications keep
// the id of their store object; template applications are multiplied per
// host and instance with synthesized ids.
type Application struct {
	p    *Partition
	tree *tree

	id        string
	base      *confdb.Object
	segment   *Segment
	host      *confdb.Object
	templated bool
	backups   []*confdb.Object
}

func staleError(id, class string) error {
	return dal.NewNotFoundError(fmt.Sprintf("%s %q belongs to a configuration view that has been invalidated", class, id), nil).
		WithCode(dal.ErrCodeStaleHandle).
		WithObjectID(id, class)
}

func (s *Segment) check() error {
	if s.p.current.Load() != s.tree {
		return staleError(s.id, dal.ClassSegment)
	}
	return nil
}

func (s *Segment) checkEnabled() error {
	if err := s.check(); err != nil {
		return err
	}
	if s.disabled {
		return dal.NewBadConfigurationError(fmt.Sprintf("segment %q is disabled", s.id), nil).
			WithCode(dal.ErrCodeSegmentDisabled).
			WithObjectID(s.id, s.base.Class())
	}
	return nil
}

// UID returns the resolved segment id.
func (s *Segment) UID() string { return s.id }

// Base returns the store object the segment was built from.
func (s *Segment) Base() *confdb.Object { return s.base }

// IsTemplated reports whether the segment was expanded from a template segment.
func (s *Segment) IsTemplated() bool { return s.templated }

// String returns "id@class".
func (s *Segment) String() string { return s.id + "@" + s.base.Class() }

// Valid reports whether the handle still belongs to the current tree.
func (s *Segment) Valid() bool { return s.check() == nil }

// IsDisabled returns the disabled flag computed while building the tree.
func (s *Segment) IsDisabled() (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	return s.disabled, nil
}

// Parent returns the enclosing segment, or nil for the root.
func (s *Segment) Parent() (*Segment, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.parent, nil
}

// Controller returns the run control application of an enabled segment.
func (s *Segment) Controller() (*Application, error) {
	if err := s.checkEnabled(); err != nil {
		return nil, err
	}
	return s.controller, nil
}

// Infrastructure returns the infrastructure applications of an enabled segment.
func (s *Segment) Infrastructure() ([]*Application, error) {
	if err := s.checkEnabled(); err != nil {
		return nil, err
	}
	return append([]*Application(nil), s.infrastructure...), nil
}

// Applications returns the non-infrastructure applications of an enabled
// segment, resource applications included.
func (s *Segment) Applications() ([]*Application, error) {
	if err := s.checkEnabled(); err != nil {
		return nil, err
	}
	return append([]*Application(nil), s.applications...), nil
}

// Nested returns the nested segments, disabled ones included.
func (s *Segment) Nested() ([]*Segment, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return append([]*Segment(nil), s.nested...), nil
}

// Hosts returns the enabled hosts assigned to the segment.
func (s *Segment) Hosts() ([]*confdb.Object, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return append([]*confdb.Object(nil), s.hosts...), nil
}

func (a *Application) check() error {
	if a.p.current.Load() != a.tree {
		return staleError(a.id, a.base.Class())
	}
	return nil
}

// UID returns the application id, synthesized for template instances.
func (a *Application) UID() string { return a.id }

// Base returns the store object the application was built from.
func (a *Application) Base() *confdb.Object { return a.base }

// Class returns the class of the base object.
func (a *Application) Class() string { return a.base.Class() }

// IsTemplated reports whether the application is a template instance.
func (a *Application) IsTemplated() bool { return a.templated }

// String returns "id@class".
func (a *Application) String() string { return a.id + "@" + a.base.Class() }

// Valid reports whether the handle still belongs to the current tree.
func (a *Application) Valid() bool { return a.check() == nil }

// Partition returns the partition the application was resolved in.
func (a *Application) Partition() *Partition { return a.p }

// Segment returns the owning segment.
func (a *Application) Segment() (*Segment, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	return a.segment, nil
}

// Host returns the computer the application runs on.
func (a *Application) Host() (*confdb.Object, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	return a.host, nil
}

// BackupHosts returns the hosts the application may be restarted on. A normal
// application reads its BackupHosts relationship; a template instance returns
// the hosts assigned while expanding it.
func (a *Application) BackupHosts() ([]*confdb.Object, error) {
	if err := a.check(); err != nil {
		return nil, err
	}
	if !a.templated && a.base.IsA(dal.ClassApplication) {
		return computers(a.base.Rel(dal.RelBackupHosts)), nil
	}
	return append([]*confdb.Object(nil), a.backups...), nil
}
