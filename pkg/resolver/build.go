package resolver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/openfroyo/daqconf/pkg/confdb"
	"github.com/openfroyo/daqconf/pkg/dal"
	"github.com/openfroyo/daqconf/pkg/fuse"
)

const (
	kindInfrastructure = "infrastructure"
	kindResource       = "resource"
	kindNormal         = "normal"
)

type builder struct {
	p    *Partition
	part *confdb.Object
	t    *tree

	// included maps each created segment id to the id of its parent
	included map[string]string
	fuse     *fuse.Fuse

	localHost     *confdb.Object
	localResolved bool
}

// build creates a new tree. Called with p.mu held.
func (p *Partition) build() (*tree, error) {
	part, err := p.Object()
	if err != nil {
		return nil, err
	}
	online := part.Ref(dal.RelOnlineInfrastructure)
	if online == nil {
		return nil, dal.NewBadConfigurationError("partition has no online infrastructure segment", nil).
			WithCode(dal.ErrCodeBadPartition).
			WithObject(part)
	}

	b := &builder{
		p:    p,
		part: part,
		t: &tree{
			epoch:      uuid.NewString(),
			generation: p.db.Generation(),
			segments:   make(map[string]*Segment),
			appIndex:   make(map[string]*Application),
		},
		included: map[string]string{online.UID(): ""},
		fuse:     fuse.New("segments tree", part.UID(), p.opts.FuseLimit),
	}

	var defaultHost *confdb.Object
	if h := part.Ref(dal.RelDefaultHost); h != nil && h.Bool(dal.AttrState) {
		defaultHost = h
	}

	root := b.newSegment(online.UID(), online, nil)
	b.t.root = root
	if err := b.fuse.Push(online.UID()); err != nil {
		return nil, err
	}
	if err := b.addSegments(root, part.Rel(dal.RelSegments), defaultHost); err != nil {
		return nil, err
	}
	b.fuse.Pop()

	for _, a := range part.Rel(dal.RelOnlineInfrastructureApplications) {
		if dal.IsResource(a) {
			d, err := p.disabled.IsDisabled(a.UID())
			if err != nil {
				return nil, err
			}
			if d {
				continue
			}
		}
		if dal.AppKindOf(a) != dal.AppNormal {
			return nil, dal.NewBadConfigurationError("online infrastructure application must not be a template application", nil).
				WithCode(dal.ErrCodeCannotCreateSegConfig).
				WithObject(a)
		}
		app, err := b.normalApplication(root, a)
		if err != nil {
			return nil, err
		}
		if dal.IsInfrastructure(a) {
			root.infrastructure = append(root.infrastructure, app)
		} else {
			root.applications = append(root.applications, app)
		}
	}

	if err := b.validateIDs(); err != nil {
		return nil, err
	}
	return b.t, nil
}

func (b *builder) newSegment(id string, base *confdb.Object, parent *Segment) *Segment {
	s := &Segment{p: b.p, tree: b.t, id: id, base: base, parent: parent}
	b.t.segments[id] = s
	if parent != nil {
		parent.nested = append(parent.nested, s)
	}
	return s
}

// owner is the inclusion owner of children of seg: the partition lists the
// children of the root.
func (b *builder) owner(seg *Segment) string {
	if seg == b.t.root {
		return ""
	}
	return seg.id
}

func segmentOwner(id string) string {
	if id == "" {
		return "partition"
	}
	return fmt.Sprintf("segment %q", id)
}

func (b *builder) checkInclusion(id, parent string) error {
	for _, c := range b.fuse.Chain() {
		if c == id {
			chain := append(b.fuse.Chain(), id)
			return dal.NewBadConfigurationError(
				fmt.Sprintf("segment %q includes itself; circular dependency between these objects: %s", id, strings.Join(chain, ", ")), nil).
				WithCode(dal.ErrCodeCircularDependency).
				WithObjectID(id, dal.ClassSegment).
				WithChain(chain)
		}
	}
	if prev, ok := b.included[id]; ok {
		return dal.NewBadConfigurationError(
			fmt.Sprintf("segment %q is included multiple times: by %s and by %s", id, segmentOwner(prev), segmentOwner(parent)), nil).
			WithCode(dal.ErrCodeSegmentIncludedTwice).
			WithObjectID(id, dal.ClassSegment)
	}
	b.included[id] = parent
	return nil
}

func (b *builder) isDisabled(o *confdb.Object) (bool, error) {
	return b.p.disabled.IsDisabled(o.UID())
}

// addSegments fills seg and creates its nested segments from children.
func (b *builder) addSegments(seg *Segment, children []*confdb.Object, defaultHost *confdb.Object) error {
	if c := firstEnabled(seg.base.Rel(dal.RelHosts)); c != nil {
		defaultHost = c
	}

	d, err := b.isDisabled(seg.base)
	if err != nil {
		return err
	}
	seg.disabled = d
	if !seg.disabled {
		if err := b.addApplications(seg, nil, defaultHost); err != nil {
			return err
		}
	}

	for _, child := range children {
		if dal.IsTemplateSegment(child) {
			tsDisabled, err := b.isDisabled(child)
			if err != nil {
				return err
			}
			for _, rack := range child.Rel(dal.RelRacks) {
				id := child.UID() + ":" + rack.UID()
				if err := b.checkInclusion(id, b.owner(seg)); err != nil {
					return err
				}
				rackDisabled, err := b.isDisabled(rack)
				if err != nil {
					return err
				}

				s := b.newSegment(id, child, seg)
				s.templated = true
				s.disabled = tsDisabled || rackDisabled
				if !s.disabled {
					if err := b.addApplications(s, rack, defaultHost); err != nil {
						return err
					}
				}
			}
			continue
		}

		if err := b.checkInclusion(child.UID(), b.owner(seg)); err != nil {
			return err
		}
		if err := b.fuse.Push(child.UID()); err != nil {
			return err
		}
		s := b.newSegment(child.UID(), child, seg)
		if err := b.addSegments(s, child.Rel(dal.RelSegments), defaultHost); err != nil {
			return err
		}
		b.fuse.Pop()
	}
	return nil
}

func (b *builder) local() (*confdb.Object, error) {
	if b.localResolved {
		return b.localHost, nil
	}
	b.localResolved = true
	name, err := b.p.opts.Hostname()
	if err != nil {
		b.p.opts.Logger.Warn().Err(err).Msg("cannot get local host name")
		return nil, nil
	}
	if h := b.p.db.Lookup(name); h != nil && dal.IsComputer(h) && h.Bool(dal.AttrState) {
		b.localHost = h
	}
	return b.localHost, nil
}

func cannotCreate(seg *Segment, format string, args ...any) *dal.ConfigError {
	return dal.NewBadConfigurationError(fmt.Sprintf(format, args...), nil).
		WithCode(dal.ErrCodeCannotCreateSegConfig).
		WithObjectID(seg.id, seg.base.Class())
}

// addApplications assigns hosts to seg and creates its controller,
// infrastructure, resource and normal applications.
func (b *builder) addApplications(seg *Segment, rack *confdb.Object, defaultHost *confdb.Object) error {
	if rack == nil {
		seg.hosts = enabledComputers(seg.base.Rel(dal.RelHosts))
	} else {
		seg.hosts = enabledComputers(rack.Rel(dal.RelNodes))
		if len(seg.hosts) < 2 {
			return cannotCreate(seg, "number of enabled computers in '%s' is %d (at least two required)", rack.UID(), len(seg.hosts))
		}
	}
	if len(seg.hosts) == 0 && defaultHost != nil {
		seg.hosts = []*confdb.Object{defaultHost}
	}
	if len(seg.hosts) == 0 {
		h, err := b.local()
		if err != nil {
			return err
		}
		if h != nil {
			seg.hosts = []*confdb.Object{h}
		}
	}

	factory := &backupFactory{hosts: seg.hosts}

	if err := b.addController(seg, factory); err != nil {
		return err
	}

	for _, x := range seg.base.Rel(dal.RelInfrastructure) {
		if dal.IsResource(x) {
			continue
		}
		apps, err := b.application(seg, x, kindInfrastructure, factory)
		if err != nil {
			return err
		}
		seg.infrastructure = append(seg.infrastructure, apps...)
	}

	for _, x := range seg.base.Rel(dal.RelResources) {
		resources, err := b.resourceApplications(x)
		if err != nil {
			return err
		}
		for _, r := range resources {
			apps, err := b.application(seg, r, kindResource, factory)
			if err != nil {
				return err
			}
			seg.applications = append(seg.applications, apps...)
		}
	}

	for _, x := range seg.base.Rel(dal.RelApplications) {
		if dal.IsResource(x) {
			continue
		}
		apps, err := b.application(seg, x, kindNormal, factory)
		if err != nil {
			return err
		}
		seg.applications = append(seg.applications, apps...)
	}
	return nil
}

func (b *builder) addController(seg *Segment, factory *backupFactory) error {
	ctrl := seg.base.Ref(dal.RelIsControlledBy)
	if ctrl == nil {
		return cannotCreate(seg, "segment has no controller (%s relationship is empty)", dal.RelIsControlledBy)
	}

	switch dal.AppKindOf(ctrl) {
	case dal.AppNormal:
		app, err := b.normalApplication(seg, ctrl)
		if err != nil {
			return err
		}
		seg.controller = app
	case dal.AppTemplate:
		runsOn := ctrl.RawStr(dal.AttrRunsOn)
		if runsOn != dal.RunsOnFirstHost && runsOn != dal.RunsOnFirstHostWithBackup {
			return cannotCreate(seg, "controller template application %s may only be run on first host (%q is set instead)", ctrl, runsOn)
		}
		host, err := b.hostFor(seg, ctrl, nil)
		if err != nil {
			return err
		}
		seg.controller = b.register(&Application{
			id:        seg.id,
			base:      ctrl,
			segment:   seg,
			host:      host,
			templated: true,
			backups:   factory.backups(runsOn),
		})
	default:
		return cannotCreate(seg, "controller %s is not an application", ctrl)
	}
	return nil
}

func (b *builder) register(a *Application) *Application {
	a.p = b.p
	a.tree = b.t
	b.t.apps = append(b.t.apps, a)
	if _, ok := b.t.appIndex[a.id]; !ok {
		b.t.appIndex[a.id] = a
	}
	return a
}

// hostFor returns the RunsOn host of a normal application, else the first
// segment host.
func (b *builder) hostFor(seg *Segment, base *confdb.Object, runsOn *confdb.Object) (*confdb.Object, error) {
	if runsOn != nil {
		return runsOn, nil
	}
	if len(seg.hosts) > 0 {
		return seg.hosts[0], nil
	}
	return nil, dal.NewBadConfigurationError(
		fmt.Sprintf("to run %s (there is no any defined enabled default host for segment, partition or localhost)", base), nil).
		WithCode(dal.ErrCodeNoDefaultHost).
		WithObjectID(seg.id, seg.base.Class())
}

func (b *builder) normalApplication(seg *Segment, a *confdb.Object) (*Application, error) {
	if seg.templated {
		return nil, dal.NewBadConfigurationError(fmt.Sprintf("the segment contains non-template application %s", a), nil).
			WithCode(dal.ErrCodeBadTemplateSegment).
			WithObjectID(seg.id, seg.base.Class())
	}
	host, err := b.hostFor(seg, a, a.Ref(dal.RelRunsOn))
	if err != nil {
		return nil, err
	}
	return b.register(&Application{id: a.UID(), base: a, segment: seg, host: host}), nil
}

func (b *builder) application(seg *Segment, x *confdb.Object, kind string, factory *backupFactory) ([]*Application, error) {
	switch dal.AppKindOf(x) {
	case dal.AppNormal:
		app, err := b.normalApplication(seg, x)
		if err != nil {
			return nil, err
		}
		return []*Application{app}, nil
	case dal.AppTemplate:
		return b.templateApplications(seg, x, kind, factory)
	default:
		return nil, nil
	}
}

// templateApplications expands a template application over the segment hosts.
func (b *builder) templateApplications(seg *Segment, t *confdb.Object, kind string, factory *backupFactory) ([]*Application, error) {
	hosts := seg.hosts
	if len(hosts) == 0 {
		return nil, cannotCreate(seg, "%s template application %s may not be run, since segment has no enabled hosts", kind, t)
	}

	runsOn := t.RawStr(dal.AttrRunsOn)
	firstHostOnly := runsOn == dal.RunsOnFirstHost || runsOn == dal.RunsOnFirstHostWithBackup

	switch {
	case runsOn == dal.RunsOnAllButFirstHost:
		if len(hosts) < 2 {
			return nil, cannotCreate(seg, "%s template application %s may not be run on %q since segment has %d enabled hosts only",
				kind, t, dal.RunsOnAllButFirstHost, len(hosts))
		}
		hosts = hosts[1:]
	case firstHostOnly:
		hosts = hosts[:1]
	}

	instances := t.Int(dal.AttrInstances)
	prefix := t.UID() + ":" + seg.id

	var out []*Application
	for _, h := range hosts {
		count := instances
		if count == 0 {
			count = h.Int(dal.AttrNumberOfCores)
		}

		id := prefix
		if !firstHostOnly {
			id += ":" + shortName(h.UID())
		}

		for n := int64(1); n <= count; n++ {
			appID := id
			if count > 1 {
				appID += ":" + strconv.FormatInt(n, 10)
			}
			out = append(out, b.register(&Application{
				id:        appID,
				base:      t,
				segment:   seg,
				host:      h,
				templated: true,
				backups:   factory.backups(runsOn),
			}))
		}
	}
	return out, nil
}

// resourceApplications returns the enabled applications reachable from a
// resource through resource sets.
func (b *builder) resourceApplications(r *confdb.Object) ([]*confdb.Object, error) {
	f := fuse.New("resource applications", r.UID(), b.p.opts.FuseLimit)
	var out []*confdb.Object
	var walk func(o *confdb.Object) error
	walk = func(o *confdb.Object) error {
		d, err := b.isDisabled(o)
		if err != nil || d {
			return err
		}
		if dal.IsApplication(o) {
			out = append(out, o)
		}
		if dal.IsResourceSet(o) {
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
	if err := walk(r); err != nil {
		return nil, err
	}
	return out, nil
}

// validateIDs checks that no two applications of enabled segments share an id.
func (b *builder) validateIDs() error {
	seen := make(map[string]*Application)
	describe := func(a *Application) string {
		return fmt.Sprintf("%q in segment %q", a.id, a.segment.id)
	}
	check := func(a *Application) error {
		if prev, ok := seen[a.id]; ok {
			return dal.NewBadConfigurationError(
				fmt.Sprintf("duplicated application id: %s and %s", describe(a), describe(prev)), nil).
				WithCode(dal.ErrCodeDuplicatedApplicationID).
				WithObjectID(a.id, a.base.Class())
		}
		seen[a.id] = a
		return nil
	}

	var walk func(s *Segment) error
	walk = func(s *Segment) error {
		if s.disabled {
			return nil
		}
		if s.controller != nil {
			if err := check(s.controller); err != nil {
				return err
			}
		}
		for _, a := range s.infrastructure {
			if err := check(a); err != nil {
				return err
			}
		}
		for _, a := range s.applications {
			if err := check(a); err != nil {
				return err
			}
		}
		for _, n := range s.nested {
			if err := walk(n); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(b.t.root)
}
