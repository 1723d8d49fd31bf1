package environment

import (
	"fmt"
	"strings"

	"github.com/openfroyo/daqconf/pkg/confdb"
	"github.com/openfroyo/daqconf/pkg/dal"
	"github.com/openfroyo/daqconf/pkg/dependency"
	"github.com/openfroyo/daqconf/pkg/resolver"
)

func badApplication(app *resolver.Application, message string, err error) *dal.ConfigError {
	return dal.NewEnvironmentError(message, err).
		WithCode(dal.ErrCodeBadApplicationInfo).
		WithObjectID(app.UID(), app.Class())
}

// IsCompatible reports whether binaries built for tag run on host. A tag
// with the host hardware tag always does; otherwise the first compatibility
// entry of the online segment describing the host hardware decides.
func IsCompatible(tag, host, partition *confdb.Object) bool {
	hw := host.Str(dal.AttrHWTag)
	if tag.Str(dal.AttrHWTag) == hw {
		return true
	}
	online := partition.Ref(dal.RelOnlineInfrastructure)
	if online == nil {
		return false
	}
	for _, info := range online.Rel(dal.RelCompatibilityInfo) {
		if info.Str(dal.AttrHWTag) != hw {
			continue
		}
		for _, c := range info.Rel(dal.RelCompatibleWith) {
			if c.Str(dal.AttrHWTag) == tag.Str(dal.AttrHWTag) {
				return true
			}
		}
		return false
	}
	return false
}

// SegmentPath returns the resolved segments from the root down to the
// segment owning app.
func SegmentPath(app *resolver.Application) ([]*resolver.Segment, error) {
	p := app.Partition()
	part, err := p.Object()
	if err != nil {
		return nil, err
	}
	seg, err := app.Segment()
	if err != nil {
		return nil, err
	}
	root, err := p.Root()
	if err != nil {
		return nil, err
	}

	paths, err := dependency.Parents(part, seg.Base(), p.FuseLimit())
	if err != nil {
		return nil, badApplication(app, "cannot build the segment path to the application", err)
	}
	for i := range paths {
		paths[i] = append(paths[i], seg.Base())
	}
	switch len(paths) {
	case 0:
		return nil, badApplication(app, "the application is not in the partition control tree", nil)
	case 1:
	default:
		var b strings.Builder
		fmt.Fprintf(&b, "there are %d paths from the partition object %s:", len(paths), part)
		for _, path := range paths {
			fmt.Fprintf(&b, "\n * path including %d components: %s", len(path), strings.Join(path.IDs(), ", "))
		}
		return nil, badApplication(app, b.String(), nil).WithCode(dal.ErrCodeAmbiguousApplicationPath)
	}

	path := paths[0]
	out := []*resolver.Segment{root}
	if len(path) == 1 && path[0].UID() == root.UID() {
		return out, nil
	}

	nested, err := root.Nested()
	if err != nil {
		return nil, err
	}
	for _, item := range path {
		if !dal.IsSegment(item) {
			break
		}
		var next *resolver.Segment
		for _, n := range nested {
			if n.Base().UID() != item.UID() {
				continue
			}
			if dal.IsTemplateSegment(item) && n.UID() != seg.UID() {
				continue
			}
			next = n
			break
		}
		if next == nil {
			return nil, badApplication(app, fmt.Sprintf("cannot find segment %s as nested child of %s", item, part), nil)
		}
		out = append(out, next)
		if nested, err = next.Nested(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// candidateTags returns the possible tags of app before the host check:
// its ExplicitTag, else the DefaultTags of the nearest segment defining
// some, else the partition DefaultTags.
func candidateTags(app *resolver.Application, path []*resolver.Segment, part *confdb.Object) []*confdb.Object {
	if t := app.Base().Ref(dal.RelExplicitTag); t != nil {
		return []*confdb.Object{t}
	}
	for i := len(path) - 1; i >= 0; i-- {
		if len(path) > 1 && i == 0 {
			continue
		}
		if tags := path[i].Base().Rel(dal.RelDefaultTags); len(tags) > 0 {
			return tags
		}
	}
	return part.Rel(dal.RelDefaultTags)
}

// Tags returns the tags app may be built for on its host, in preference
// order.
func Tags(app *resolver.Application) ([]*confdb.Object, error) {
	path, err := SegmentPath(app)
	if err != nil {
		return nil, err
	}
	return tagsFor(app, path)
}

func tagsFor(app *resolver.Application, path []*resolver.Segment) ([]*confdb.Object, error) {
	part, err := app.Partition().Object()
	if err != nil {
		return nil, err
	}
	host, err := app.Host()
	if err != nil {
		return nil, err
	}

	candidates := candidateTags(app, path, part)
	if len(candidates) == 0 {
		return nil, badApplication(app, "there are no Tags defined for the application", nil)
	}

	var tags []*confdb.Object
	for _, t := range candidates {
		if IsCompatible(t, host, part) {
			tags = append(tags, t)
		}
	}
	if len(tags) == 0 {
		return nil, dal.NewIncompatibleTagError(fmt.Sprintf(
			"application's and/or default tags (%s) are not supported by the host %s (HW tag: '%s')",
			strings.Join(confdb.UIDs(candidates), ", "), host, host.Str(dal.AttrHWTag)), nil).
			WithObjectID(app.UID(), app.Class())
	}
	return tags, nil
}
