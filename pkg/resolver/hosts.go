package resolver

import (
	"strings"

	"github.com/openfroyo/daqconf/pkg/confdb"
	"github.com/openfroyo/daqconf/pkg/dal"
)

// computers flattens hosts, expanding computer sets.
func computers(hosts []*confdb.Object) []*confdb.Object {
	var out []*confdb.Object
	var add func(h *confdb.Object)
	seen := make(map[string]struct{})
	add = func(h *confdb.Object) {
		if _, ok := seen[h.UID()]; ok {
			return
		}
		seen[h.UID()] = struct{}{}
		switch {
		case dal.IsComputer(h):
			out = append(out, h)
		case dal.IsComputerSet(h):
			for _, c := range h.Rel(dal.RelContains) {
				add(c)
			}
		}
	}
	for _, h := range hosts {
		add(h)
	}
	return out
}

func enabledComputers(hosts []*confdb.Object) []*confdb.Object {
	var out []*confdb.Object
	for _, c := range computers(hosts) {
		if c.Bool(dal.AttrState) {
			out = append(out, c)
		}
	}
	return out
}

// firstEnabled returns the first enabled computer, searching computer sets
// depth first, or nil.
func firstEnabled(hosts []*confdb.Object) *confdb.Object {
	if all := enabledComputers(hosts); len(all) > 0 {
		return all[0]
	}
	return nil
}

// shortName returns the host id up to the first dot.
func shortName(id string) string {
	name, _, _ := strings.Cut(id, ".")
	return name
}

// backupFactory hands out backup hosts round robin over a segment's hosts,
// never returning the first host.
type backupFactory struct {
	hosts []*confdb.Object
	count int
}

func (f *backupFactory) size() int { return len(f.hosts) }

func (f *backupFactory) next() *confdb.Object {
	idx := f.count % len(f.hosts)
	f.count++
	if idx == 0 {
		f.count++
		return f.hosts[1]
	}
	return f.hosts[idx]
}

// backups returns the backup hosts of one FirstHostWithBackup instance:
// one when the segment has two hosts, two when it has more.
func (f *backupFactory) backups(runsOn string) []*confdb.Object {
	if runsOn != dal.RunsOnFirstHostWithBackup || f.size() < 2 {
		return nil
	}
	out := []*confdb.Object{f.next()}
	if f.size() > 2 {
		out = append(out, f.next())
	}
	return out
}
