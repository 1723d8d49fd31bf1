package policy

import (
	"context"
	"fmt"
	"sort"

	"github.com/openfroyo/daqconf/pkg/confdb"
	"github.com/openfroyo/daqconf/pkg/dal"
	"github.com/openfroyo/daqconf/pkg/engine"
	"github.com/openfroyo/daqconf/pkg/resolver"
)

// BuildInput describes the partition resolved by eng. Only a failure to
// resolve the tree is returned as an error; per-object failures are recorded
// in the input so that rules can report them.
func BuildInput(ctx context.Context, eng *engine.Engine) (*Input, error) {
	in := &Input{
		Partition:    eng.Partition().ID(),
		Segments:     []SegmentInput{},
		Applications: []ApplicationInput{},
		Hosts:        []HostInput{},
		Disabled:     []string{},
	}

	if dir, err := eng.LogDirectory(ctx); err == nil {
		in.LogDirectory = dir
	} else {
		in.Errors = append(in.Errors, err.Error())
	}

	segs, err := eng.Segments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve segments: %w", err)
	}
	for _, s := range segs {
		si, err := segmentInput(s)
		if err != nil {
			in.Errors = append(in.Errors, err.Error())
			continue
		}
		if si.Disabled {
			in.Disabled = append(in.Disabled, si.ID)
		}
		in.Segments = append(in.Segments, si)
	}

	results, err := eng.BuildAll(ctx, resolver.Filter{})
	if err != nil {
		return nil, fmt.Errorf("failed to build environments: %w", err)
	}
	for _, r := range results {
		ai, err := applicationInput(ctx, eng, r)
		if err != nil {
			in.Errors = append(in.Errors, err.Error())
			continue
		}
		in.Applications = append(in.Applications, ai)
	}

	hosts, err := eng.Hosts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list hosts: %w", err)
	}
	for _, h := range hosts {
		in.Hosts = append(in.Hosts, HostInput{
			ID:      h.UID(),
			HWTag:   h.Str(dal.AttrHWTag),
			Enabled: !h.Has(dal.AttrState) || h.Bool(dal.AttrState),
		})
	}
	return in, nil
}

func segmentInput(s *resolver.Segment) (SegmentInput, error) {
	si := SegmentInput{
		ID:        s.UID(),
		Class:     s.Base().Class(),
		Templated: s.IsTemplated(),
		Hosts:     []string{},
	}

	disabled, err := s.IsDisabled()
	if err != nil {
		return si, err
	}
	si.Disabled = disabled
	parent, err := s.Parent()
	if err != nil {
		return si, err
	}
	if parent != nil {
		si.Parent = parent.UID()
	}
	nested, err := s.Nested()
	if err != nil {
		return si, err
	}
	si.Nested = len(nested)
	if disabled {
		return si, nil
	}

	ctrl, err := s.Controller()
	if err != nil {
		return si, err
	}
	if ctrl != nil {
		si.Controller = ctrl.UID()
	}
	infra, err := s.Infrastructure()
	if err != nil {
		return si, err
	}
	apps, err := s.Applications()
	if err != nil {
		return si, err
	}
	si.Applications = len(infra) + len(apps)
	hosts, err := s.Hosts()
	if err != nil {
		return si, err
	}
	si.Hosts = uids(hosts)
	if si.ActionTimeout, si.ShortTimeout, err = s.Timeouts(); err != nil {
		return si, err
	}
	return si, nil
}

func applicationInput(ctx context.Context, eng *engine.Engine, r engine.BuildResult) (ApplicationInput, error) {
	app := r.Application
	ai := ApplicationInput{
		ID:                  app.UID(),
		Class:               app.Class(),
		Templated:           app.IsTemplated(),
		BackupHosts:         []string{},
		InitDependsFrom:     []string{},
		ShutdownDependsFrom: []string{},
	}

	seg, err := app.Segment()
	if err != nil {
		return ai, err
	}
	ai.Segment = seg.UID()
	host, err := app.Host()
	if err != nil {
		return ai, err
	}
	if host != nil {
		ai.Host = host.UID()
	}
	backups, err := app.BackupHosts()
	if err != nil {
		return ai, err
	}
	ai.BackupHosts = uids(backups)

	if r.Err != nil {
		ai.EnvironmentError = r.Err.Error()
		ai.ErrorCode = dal.ErrorCode(r.Err)
	} else if r.Info != nil && r.Info.Tag != nil {
		ai.Tag = r.Info.Tag.UID()
	}

	startDeps, stopDeps, err := eng.Dependencies(ctx, app.UID())
	if err != nil {
		return ai, err
	}
	ai.InitDependsFrom = appIDs(startDeps)
	ai.ShutdownDependsFrom = appIDs(stopDeps)
	return ai, nil
}

func uids(objs []*confdb.Object) []string {
	out := make([]string, 0, len(objs))
	for _, o := range objs {
		out = append(out, o.UID())
	}
	return out
}

func appIDs(apps []*resolver.Application) []string {
	out := make([]string, 0, len(apps))
	for _, a := range apps {
		out = append(out, a.UID())
	}
	sort.Strings(out)
	return out
}
