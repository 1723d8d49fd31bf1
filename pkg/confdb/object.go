package confdb

import (
	"fmt"
	"strconv"
	"strings"
)

// Object is a stored configuration object. Its identity is the UID, which is
// stable across reloads; two *Object values with the same UID denote the same
// configuration object.
type Object struct {
	id    string
	class string
	attrs map[string]any
	rels  map[string][]string
	db    *DB
}

// UID returns the object identifier.
func (o *Object) UID() string { return o.id }

// Class returns the most derived class name.
func (o *Object) Class() string { return o.class }

// String returns "id@class".
func (o *Object) String() string { return o.id + "@" + o.class }

// IsA reports whether the object's class is class or derives from it.
func (o *Object) IsA(class string) bool {
	return o.db.IsSubclassOf(o.class, class)
}

// Same reports whether o and other denote the same stored object.
func (o *Object) Same(other *Object) bool {
	if o == nil || other == nil {
		return o == other
	}
	return o.id == other.id
}

// Has reports whether the attribute is set.
func (o *Object) Has(attr string) bool {
	o.db.mu.RLock()
	defer o.db.mu.RUnlock()
	_, ok := o.attrs[attr]
	return ok
}

func (o *Object) raw(attr string) (any, bool) {
	o.db.mu.RLock()
	defer o.db.mu.RUnlock()
	v, ok := o.attrs[attr]
	return v, ok
}

// RawStr returns a string attribute without applying the converter.
func (o *Object) RawStr(attr string) string {
	v, ok := o.raw(attr)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []string:
		return strings.Join(t, " ")
	default:
		return fmt.Sprint(t)
	}
}

// Str returns a string attribute passed through the registered converter.
func (o *Object) Str(attr string) string {
	return o.db.convert(o.RawStr(attr))
}

// Strings returns a multi-value string attribute, each value converted.
// A single string value is returned as a one-element slice.
func (o *Object) Strings(attr string) []string {
	v, ok := o.raw(attr)
	if !ok {
		return nil
	}
	var values []string
	switch t := v.(type) {
	case []string:
		values = append(values, t...)
	case string:
		values = []string{t}
	default:
		values = []string{fmt.Sprint(t)}
	}
	for i := range values {
		values[i] = o.db.convert(values[i])
	}
	return values
}

// Bool returns a boolean attribute. Strings "true", "on" and "yes" count as true.
func (o *Object) Bool(attr string) bool {
	v, ok := o.raw(attr)
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(t) {
		case "true", "on", "yes", "1":
			return true
		}
	case int64:
		return t != 0
	}
	return false
}

// Int returns an integer attribute, or 0 when unset or not numeric.
func (o *Object) Int(attr string) int64 {
	v, ok := o.raw(attr)
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case int64:
		return t
	case float64:
		return int64(t)
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err == nil {
			return n
		}
	}
	return 0
}

// RelIDs returns the ordered target ids of a relationship.
func (o *Object) RelIDs(rel string) []string {
	o.db.mu.RLock()
	defer o.db.mu.RUnlock()
	return append([]string(nil), o.rels[rel]...)
}

// Rel returns the ordered targets of a relationship. Targets that are no
// longer in the store are skipped.
func (o *Object) Rel(rel string) []*Object {
	o.db.mu.RLock()
	defer o.db.mu.RUnlock()
	ids := o.rels[rel]
	out := make([]*Object, 0, len(ids))
	for _, id := range ids {
		if t, ok := o.db.objects[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Ref returns the first target of a relationship, or nil.
func (o *Object) Ref(rel string) *Object {
	targets := o.Rel(rel)
	if len(targets) == 0 {
		return nil
	}
	return targets[0]
}

// Attrs returns a copy of the raw attribute map.
func (o *Object) Attrs() map[string]any {
	o.db.mu.RLock()
	defer o.db.mu.RUnlock()
	out := make(map[string]any, len(o.attrs))
	for k, v := range o.attrs {
		out[k] = v
	}
	return out
}

// Rels returns a copy of the relationship map.
func (o *Object) Rels() map[string][]string {
	o.db.mu.RLock()
	defer o.db.mu.RUnlock()
	out := make(map[string][]string, len(o.rels))
	for k, v := range o.rels {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Spec returns the loadable description of the object.
func (o *Object) Spec() *ObjectSpec {
	spec := &ObjectSpec{ID: o.id, Class: o.class, Attrs: o.Attrs()}
	rels := o.Rels()
	if len(rels) > 0 {
		spec.Rels = make(map[string]Refs, len(rels))
		for k, v := range rels {
			spec.Rels[k] = Refs(v)
		}
	}
	if len(spec.Attrs) == 0 {
		spec.Attrs = nil
	}
	return spec
}

// UIDs returns the ids of objs in order.
func UIDs(objs []*Object) []string {
	out := make([]string, len(objs))
	for i, o := range objs {
		out[i] = o.id
	}
	return out
}
