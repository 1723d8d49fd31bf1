package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openfroyo/daqconf/pkg/confdb"
	"github.com/openfroyo/daqconf/pkg/dal"
)

func cannotFindSegment(name, reason string) error {
	return dal.NewNotFoundError(fmt.Sprintf("cannot find segment %q: %s", name, reason), nil).
		WithCode(dal.ErrCodeCannotFindSegment).
		WithObjectID(name, dal.ClassSegment)
}

// Root returns the resolved online infrastructure segment.
func (p *Partition) Root() (*Segment, error) {
	t, err := p.tree()
	if err != nil {
		return nil, err
	}
	return t.root, nil
}

// Segment returns the resolved segment with the given id. Segments expanded
// from a template segment are named "{template}:{rack}".
func (p *Partition) Segment(name string) (*Segment, error) {
	t, err := p.tree()
	if err != nil {
		return nil, err
	}
	if s, ok := t.segments[name]; ok {
		return s, nil
	}

	if o := p.db.Lookup(name); o != nil && dal.IsSegment(o) {
		return nil, cannotFindSegment(name, fmt.Sprintf("segment is not linked with partition %q", p.id))
	}

	prefix, rack, templated := strings.Cut(name, ":")
	if !templated {
		return nil, cannotFindSegment(name, "no such non-template segment object")
	}
	ts := p.db.Lookup(prefix)
	switch {
	case ts == nil:
		return nil, cannotFindSegment(name, fmt.Sprintf("cannot find template segment object '%s'", prefix))
	case dal.IsTemplateSegment(ts):
		return nil, cannotFindSegment(name, fmt.Sprintf("template segment %s does not have rack '%s'", ts, rack))
	default:
		return nil, cannotFindSegment(name, fmt.Sprintf("object '%s' is not template segment", prefix))
	}
}

// SegmentStrict is Segment failing with SEGMENT_DISABLED for disabled segments.
func (p *Partition) SegmentStrict(name string) (*Segment, error) {
	s, err := p.Segment(name)
	if err != nil {
		return nil, err
	}
	if s.disabled {
		return nil, s.checkEnabled()
	}
	return s, nil
}

// Application returns the resolved application with the given id.
func (p *Partition) Application(id string) (*Application, error) {
	t, err := p.tree()
	if err != nil {
		return nil, err
	}
	if a, ok := t.appIndex[id]; ok {
		return a, nil
	}
	return nil, dal.NewNotFoundError(fmt.Sprintf("application %q is not part of the enabled view of partition %q", id, p.id), nil).
		WithObjectID(id, dal.ClassBaseApplication)
}

// Filter selects applications. Empty fields match everything.
type Filter struct {
	// Classes keeps applications whose class is listed or derives from a
	// listed class.
	Classes []string

	// Segments keeps applications owned by the listed resolved segment ids.
	Segments []string

	// Hosts keeps applications running on the listed computer ids.
	Hosts []string
}

func toSet(ids []string) map[string]struct{} {
	if len(ids) == 0 {
		return nil
	}
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

func (p *Partition) expandClasses(classes []string) map[string]struct{} {
	if len(classes) == 0 {
		return nil
	}
	m := make(map[string]struct{})
	for _, c := range classes {
		m[c] = struct{}{}
		for _, sub := range p.db.Subclasses(c) {
			m[sub] = struct{}{}
		}
	}
	return m
}

// AllApplications returns the applications of every enabled segment in depth
// first order: controller, infrastructure, applications, then nested segments.
func (p *Partition) AllApplications(f Filter) ([]*Application, error) {
	root, err := p.Root()
	if err != nil {
		return nil, err
	}
	return root.AllApplications(f)
}

// AllApplications returns the applications of s and its enabled nested
// segments that pass f.
func (s *Segment) AllApplications(f Filter) ([]*Application, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	classes := s.p.expandClasses(f.Classes)
	segments := toSet(f.Segments)
	hosts := toSet(f.Hosts)

	match := func(a *Application) bool {
		if classes != nil {
			if _, ok := classes[a.base.Class()]; !ok {
				return false
			}
		}
		if segments != nil {
			if _, ok := segments[a.segment.id]; !ok {
				return false
			}
		}
		if hosts != nil {
			if a.host == nil {
				return false
			}
			if _, ok := hosts[a.host.UID()]; !ok {
				return false
			}
		}
		return true
	}

	var out []*Application
	var walk func(seg *Segment)
	walk = func(seg *Segment) {
		if seg.disabled {
			return
		}
		if seg.controller != nil && match(seg.controller) {
			out = append(out, seg.controller)
		}
		for _, a := range seg.infrastructure {
			if match(a) {
				out = append(out, a)
			}
		}
		for _, a := range seg.applications {
			if match(a) {
				out = append(out, a)
			}
		}
		for _, n := range seg.nested {
			walk(n)
		}
	}
	walk(s)
	return out, nil
}

// Segments returns every resolved segment sorted by id.
func (p *Partition) Segments() ([]*Segment, error) {
	t, err := p.tree()
	if err != nil {
		return nil, err
	}
	out := make([]*Segment, 0, len(t.segments))
	for _, s := range t.segments {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out, nil
}

// Hosts returns the computers used by the enabled applications, sorted by id.
func (p *Partition) Hosts() ([]*confdb.Object, error) {
	apps, err := p.AllApplications(Filter{})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]*confdb.Object)
	for _, a := range apps {
		if a.host != nil {
			seen[a.host.UID()] = a.host
		}
	}
	out := make([]*confdb.Object, 0, len(seen))
	for _, h := range seen {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID() < out[j].UID() })
	return out, nil
}

// Timeouts returns the action timeout and the short action timeout of an
// enabled segment. Both include the enabled nested segments and the
// segment controller's own timeouts.
func (s *Segment) Timeouts() (action, short int64, err error) {
	if err := s.checkEnabled(); err != nil {
		return 0, 0, err
	}
	return s.timeouts()
}

func (s *Segment) timeouts() (action, short int64, err error) {
	for _, a := range s.infrastructure {
		short = max(short, a.base.Int(dal.AttrExitTimeout))
	}

	for _, n := range s.nested {
		if n.disabled {
			continue
		}
		na, ns, err := n.timeouts()
		if err != nil {
			return 0, 0, err
		}
		action = max(action, na)
		short = max(short, ns)
	}

	for _, a := range s.applications {
		if a.base.IsA(dal.ClassRunControlApplicationBase) {
			action = max(action, a.base.Int(dal.AttrActionTimeout))
		}
		short = max(short, a.base.Int(dal.AttrExitTimeout))
	}

	if s.controller == nil {
		return 0, 0, cannotCreate(s, "segment has no controller")
	}
	action += s.controller.base.Int(dal.AttrActionTimeout)
	short += s.controller.base.Int(dal.AttrExitTimeout)

	s.p.opts.Logger.Debug().
		Str("segment", s.id).
		Int64("action_timeout", action).
		Int64("exit_timeout", short).
		Msg("segment timeouts")
	return action, short, nil
}
