package disabled

import (
	"github.com/openfroyo/daqconf/pkg/confdb"
	"github.com/openfroyo/daqconf/pkg/dal"
	"github.com/openfroyo/daqconf/pkg/fuse"
)

type computation struct {
	disabled map[string]struct{}
	fuse     *fuse.Fuse
	ors      []*confdb.Object
	ands     []*confdb.Object
	gateSeen map[string]struct{}
}

func (c *computation) isDisabled(o *confdb.Object) bool {
	_, ok := c.disabled[o.UID()]
	return ok
}

func (c *computation) disable(o *confdb.Object) {
	c.disabled[o.UID()] = struct{}{}
}

func (c *computation) addGate(o *confdb.Object) {
	if _, seen := c.gateSeen[o.UID()]; seen {
		return
	}
	c.gateSeen[o.UID()] = struct{}{}
	switch dal.GateOf(o) {
	case dal.GateAND:
		c.ands = append(c.ands, o)
	case dal.GateOR:
		c.ors = append(c.ors, o)
	}
}

// fillSet collects the gates reachable from a resource set.
func (c *computation) fillSet(rs *confdb.Object) error {
	c.addGate(rs)
	for _, child := range rs.Rel(dal.RelContains) {
		if err := c.fuse.Push(child.UID()); err != nil {
			return err
		}
		if dal.IsResourceSet(child) {
			if err := c.fillSet(child); err != nil {
				c.fuse.Pop()
				return err
			}
		}
		c.fuse.Pop()
	}
	return nil
}

// fillSegment collects the gates reachable from a segment.
func (c *computation) fillSegment(seg *confdb.Object) error {
	for _, r := range seg.Rel(dal.RelResources) {
		if err := c.fuse.Push(r.UID()); err != nil {
			return err
		}
		if dal.IsResourceSet(r) {
			if err := c.fillSet(r); err != nil {
				c.fuse.Pop()
				return err
			}
		}
		c.fuse.Pop()
	}
	for _, s := range seg.Rel(dal.RelSegments) {
		if err := c.fuse.Push(s.UID()); err != nil {
			return err
		}
		if err := c.fillSegment(s); err != nil {
			c.fuse.Pop()
			return err
		}
		c.fuse.Pop()
	}
	return nil
}

func (c *computation) fillPartition(p *confdb.Object) error {
	if online := p.Ref(dal.RelOnlineInfrastructure); online != nil {
		if err := c.fuse.Push(online.UID()); err != nil {
			return err
		}
		err := c.fillSegment(online)
		c.fuse.Pop()
		if err != nil {
			return err
		}
		for _, a := range p.Rel(dal.RelOnlineInfrastructureApplications) {
			if dal.IsResourceSet(a) {
				if err := c.fillSet(a); err != nil {
					return err
				}
			}
		}
	}
	for _, s := range p.Rel(dal.RelSegments) {
		if err := c.fuse.Push(s.UID()); err != nil {
			return err
		}
		err := c.fillSegment(s)
		c.fuse.Pop()
		if err != nil {
			return err
		}
	}
	return nil
}

// disableContained marks the containees of a disabled resource set or
// segment. Template applications are left to be evaluated on their own.
func (c *computation) disableContained(o *confdb.Object) error {
	if err := c.fuse.Push(o.UID()); err != nil {
		return err
	}
	defer c.fuse.Pop()

	disableResources := func(items []*confdb.Object) error {
		for _, r := range items {
			if !dal.IsTemplateApplication(r) {
				c.disable(r)
			}
			if dal.IsResourceSet(r) {
				if err := c.disableContained(r); err != nil {
					return err
				}
			}
		}
		return nil
	}

	switch {
	case dal.IsResourceSet(o):
		return disableResources(o.Rel(dal.RelContains))
	case dal.IsSegment(o):
		if err := disableResources(o.Rel(dal.RelResources)); err != nil {
			return err
		}
		for _, s := range o.Rel(dal.RelSegments) {
			c.disable(s)
			if err := c.disableContained(s); err != nil {
				return err
			}
		}
	}
	return nil
}

// compute builds a new closure for partition p. Called with e.mu held.
func (e *Engine) compute(p *confdb.Object) (*Closure, error) {
	c := &computation{
		disabled: make(map[string]struct{}),
		fuse:     fuse.New(goal, p.UID(), e.opts.FuseLimit),
		gateSeen: make(map[string]struct{}),
	}

	if err := c.fillPartition(p); err != nil {
		return nil, err
	}

	var seeds []*confdb.Object
	for _, id := range sortedKeys(e.userDisabled) {
		if o := e.db.Lookup(id); o != nil {
			seeds = append(seeds, o)
		}
	}
	for _, o := range p.Rel(dal.RelDisabled) {
		if _, enabled := e.userEnabled[o.UID()]; !enabled {
			seeds = append(seeds, o)
		}
	}
	for _, o := range seeds {
		c.disable(o)
		if err := c.disableContained(o); err != nil {
			return nil, err
		}
	}

	result := &Closure{Gates: len(c.ors) + len(c.ands)}

	for count := 1; ; count++ {
		before := len(c.disabled)

		for _, g := range c.ors {
			if c.isDisabled(g) {
				continue
			}
			for _, child := range g.Rel(dal.RelContains) {
				if c.isDisabled(child) {
					e.opts.Logger.Debug().Str("set", g.UID()).Str("child", child.UID()).Msg("disable resource-set-OR")
					c.disable(g)
					if err := c.disableContained(g); err != nil {
						return nil, err
					}
					break
				}
			}
		}

		for _, g := range c.ands {
			if c.isDisabled(g) {
				continue
			}
			children := g.Rel(dal.RelContains)
			if len(children) == 0 {
				continue
			}
			anyEnabled := false
			for _, child := range children {
				if !c.isDisabled(child) {
					anyEnabled = true
					break
				}
			}
			if !anyEnabled {
				e.opts.Logger.Debug().Str("set", g.UID()).Msg("disable resource-set-AND")
				c.disable(g)
				if err := c.disableContained(g); err != nil {
					return nil, err
				}
			}
		}

		if len(c.disabled) == before {
			break
		}
		result.Passes++

		if count >= e.opts.MaxIterations {
			e.opts.Logger.Error().
				Int("limit", e.opts.MaxIterations).
				Str("code", dal.ErrCodeMaxIterations).
				Msg("Has exceeded the maximum of iterations allowed during calculation of disabled objects")
			result.Capped = true
			break
		}
	}

	result.disabled = c.disabled
	e.opts.Logger.Debug().
		Int("disabled", len(c.disabled)).
		Int("passes", result.Passes).
		Int("gates", result.Gates).
		Msg("disabled closure computed")
	return result, nil
}
