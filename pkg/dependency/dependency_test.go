package dependency

import (
	"strings"
	"testing"

	"github.com/openfroyo/daqconf/pkg/confdb"
	"github.com/openfroyo/daqconf/pkg/dal"
	"github.com/openfroyo/daqconf/pkg/resolver"
)

// partitionDoc returns partition "p" with the segment chain top -> mid -> leaf
// and resources attached to mid.
func partitionDoc() *confdb.Document {
	doc := confdb.NewDocument()
	doc.Add("h1", dal.ClassComputer).Set(dal.AttrState, true)
	doc.Add("h2", dal.ClassComputer).Set(dal.AttrState, true)
	for _, c := range []string{"online-ctrl", "top-ctrl", "mid-ctrl", "leaf-ctrl"} {
		doc.Add(c, dal.ClassRunControlApplication)
	}
	doc.Add("ipc", dal.ClassInfrastructureApplication)
	doc.Add("online", dal.ClassOnlineSegment).
		Link(dal.RelHosts, "h1").
		Link(dal.RelIsControlledBy, "online-ctrl")
	doc.Add("leaf", dal.ClassSegment).Link(dal.RelIsControlledBy, "leaf-ctrl")
	doc.Add("r1", dal.ClassResource)
	doc.Add("rs", dal.ClassResourceSet).Link(dal.RelContains, "r1")
	doc.Add("mid", dal.ClassSegment).
		Link(dal.RelIsControlledBy, "mid-ctrl").
		Link(dal.RelSegments, "leaf").
		Link(dal.RelResources, "rs")
	doc.Add("top", dal.ClassSegment).
		Link(dal.RelIsControlledBy, "top-ctrl").
		Link(dal.RelSegments, "mid")
	doc.Add("orphan", dal.ClassSegment)
	doc.Add("p", dal.ClassPartition).
		Link(dal.RelOnlineInfrastructure, "online").
		Link(dal.RelOnlineInfrastructureApplications, "ipc").
		Link(dal.RelSegments, "top")
	return doc
}

func loadDB(t *testing.T, doc *confdb.Document) *confdb.DB {
	t.Helper()
	db := confdb.New()
	if err := db.Load(doc); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return db
}

func TestParents(t *testing.T) {
	db := loadDB(t, partitionDoc())
	part, _ := db.Get("p")

	tests := []struct {
		component string
		want      []string
	}{
		{"top", []string{""}},
		{"leaf", []string{"top/mid"}},
		{"r1", []string{"top/mid/rs"}},
		{"rs", []string{"top/mid"}},
		{"ipc", []string{"online"}},
		{"online", []string{""}},
		{"orphan", nil},
	}

	for _, tt := range tests {
		t.Run(tt.component, func(t *testing.T) {
			obj, err := db.Get(tt.component)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			paths, err := Parents(part, obj, 0)
			if err != nil {
				t.Fatalf("Parents failed: %v", err)
			}
			var got []string
			for _, p := range paths {
				got = append(got, strings.Join(p.IDs(), "/"))
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") || len(got) != len(tt.want) {
				t.Errorf("Parents(%s) = %q, want %q", tt.component, got, tt.want)
			}
		})
	}
}

func TestParents_Applications(t *testing.T) {
	doc := partitionDoc()
	doc.Add("app", dal.ClassApplication)
	doc.Add("infra", dal.ClassInfrastructureApplication)
	doc.Add("online-app", dal.ClassApplication)
	doc.Add("rapp", dal.ClassResourceApplication)
	for _, o := range doc.Objects {
		switch o.ID {
		case "leaf":
			o.Link(dal.RelApplications, "app")
		case "mid":
			o.Link(dal.RelInfrastructure, "infra")
		case "online":
			o.Link(dal.RelApplications, "online-app")
		case "rs":
			o.Link(dal.RelContains, "rapp")
		}
	}
	db := loadDB(t, doc)
	part, _ := db.Get("p")

	tests := []struct {
		component string
		want      []string
	}{
		{"app", []string{"top/mid/leaf"}},
		{"infra", []string{"top/mid"}},
		{"leaf-ctrl", []string{"top/mid/leaf"}},
		{"top-ctrl", []string{"top"}},
		{"online-app", []string{"online"}},
		{"online-ctrl", []string{"online"}},
		{"rapp", []string{"top/mid/rs"}},
	}

	for _, tt := range tests {
		t.Run(tt.component, func(t *testing.T) {
			obj, err := db.Get(tt.component)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			paths, err := Parents(part, obj, 0)
			if err != nil {
				t.Fatalf("Parents failed: %v", err)
			}
			var got []string
			for _, p := range paths {
				got = append(got, strings.Join(p.IDs(), "/"))
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") || len(got) != len(tt.want) {
				t.Errorf("Parents(%s) = %q, want %q", tt.component, got, tt.want)
			}
		})
	}
}

func TestParents_MultiplePaths(t *testing.T) {
	doc := partitionDoc()
	doc.Add("shared", dal.ClassResource)
	doc.Add("rs2", dal.ClassResourceSet).Link(dal.RelContains, "shared")
	for _, o := range doc.Objects {
		switch o.ID {
		case "rs":
			o.Link(dal.RelContains, "shared")
		case "top":
			o.Link(dal.RelResources, "rs2")
		}
	}
	db := loadDB(t, doc)
	part, _ := db.Get("p")
	shared, _ := db.Get("shared")

	paths, err := Parents(part, shared, 0)
	if err != nil {
		t.Fatalf("Parents failed: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("got %d paths, want 2", len(paths))
	}
	if got := strings.Join(paths[0].IDs(), "/"); got != "top/mid/rs" {
		t.Errorf("first path = %s", got)
	}
	if got := strings.Join(paths[1].IDs(), "/"); got != "top/rs2" {
		t.Errorf("second path = %s", got)
	}
}

func TestParents_Cycle(t *testing.T) {
	doc := partitionDoc()
	doc.Add("loop", dal.ClassResourceSet).Link(dal.RelContains, "loop2")
	doc.Add("loop2", dal.ClassResourceSet).Link(dal.RelContains, "loop")
	for _, o := range doc.Objects {
		if o.ID == "leaf" {
			o.Link(dal.RelResources, "loop")
		}
	}
	db := loadDB(t, doc)
	part, _ := db.Get("p")
	r1, _ := db.Get("r1")

	_, err := Parents(part, r1, 10)
	if !dal.HasCode(err, dal.ErrCodeCannotGetParents) {
		t.Fatalf("error = %v, want CANNOT_GET_PARENTS", err)
	}
	if !dal.HasCode(err, dal.ErrCodeCannotGetParents) || !strings.Contains(err.Error(), "component parents") {
		t.Errorf("message %q does not name the goal", err.Error())
	}
}

func TestDependsFrom(t *testing.T) {
	doc := partitionDoc()
	doc.Add("rack", dal.ClassRack).Link(dal.RelNodes, "h1", "h2")
	doc.Add("ts-ctrl", dal.ClassRunControlTemplateApplication).Set(dal.AttrRunsOn, dal.RunsOnFirstHost)
	doc.Add("worker", dal.ClassTemplateApplication).
		Set(dal.AttrRunsOn, dal.RunsOnAllHosts).
		Set(dal.AttrInstances, 1)
	doc.Add("reader", dal.ClassTemplateApplication).
		Set(dal.AttrRunsOn, dal.RunsOnAllHosts).
		Set(dal.AttrInstances, 1).
		Link(dal.RelInitializationDependsFrom, "worker", "ipc").
		Link(dal.RelShutdownDependsFrom, "worker")
	doc.Add("ts", dal.ClassTemplateSegment).
		Link(dal.RelRacks, "rack").
		Link(dal.RelIsControlledBy, "ts-ctrl").
		Link(dal.RelApplications, "worker", "reader")
	doc.Add("sink", dal.ClassApplication).Link(dal.RelInitializationDependsFrom, "worker")
	for _, o := range doc.Objects {
		switch o.ID {
		case "p":
			o.Link(dal.RelSegments, "ts")
		case "mid":
			o.Link(dal.RelApplications, "sink")
		}
	}

	db := loadDB(t, doc)
	p, err := resolver.Open(db, "p", resolver.Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer p.Close()

	all, err := p.AllApplications(resolver.Filter{})
	if err != nil {
		t.Fatalf("AllApplications failed: %v", err)
	}
	get := func(id string) *resolver.Application {
		a, err := p.Application(id)
		if err != nil {
			t.Fatalf("Application(%s) failed: %v", id, err)
		}
		return a
	}
	ids := func(apps []*resolver.Application) string {
		var out []string
		for _, a := range apps {
			out = append(out, a.UID())
		}
		return strings.Join(out, ",")
	}

	tests := []struct {
		name string
		fn   func(*resolver.Application, []*resolver.Application) ([]*resolver.Application, error)
		app  string
		want string
	}{
		{"template on same host", InitializationDependsFrom, "reader:ts:rack:h2", "ipc,worker:ts:rack:h2"},
		{"template shutdown", ShutdownDependsFrom, "reader:ts:rack:h1", "worker:ts:rack:h1"},
		{"normal app in other segment", InitializationDependsFrom, "sink", ""},
		{"no references", InitializationDependsFrom, "worker:ts:rack:h1", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.fn(get(tt.app), all)
			if err != nil {
				t.Fatalf("failed: %v", err)
			}
			if ids(got) != tt.want {
				t.Errorf("got %q, want %q", ids(got), tt.want)
			}
		})
	}
}

func TestDependsFrom_SameSegmentNormalApp(t *testing.T) {
	doc := partitionDoc()
	doc.Add("rack", dal.ClassRack).Link(dal.RelNodes, "h1", "h2")
	doc.Add("ts-ctrl", dal.ClassRunControlTemplateApplication).Set(dal.AttrRunsOn, dal.RunsOnFirstHost)
	doc.Add("worker", dal.ClassTemplateApplication).
		Set(dal.AttrRunsOn, dal.RunsOnAllHosts).
		Set(dal.AttrInstances, 1).
		Link(dal.RelShutdownDependsFrom, "ts-ctrl")
	doc.Add("ts", dal.ClassTemplateSegment).
		Link(dal.RelRacks, "rack").
		Link(dal.RelIsControlledBy, "ts-ctrl").
		Link(dal.RelApplications, "worker")
	for _, o := range doc.Objects {
		if o.ID == "p" {
			o.Link(dal.RelSegments, "ts")
		}
	}

	db := loadDB(t, doc)
	p, err := resolver.Open(db, "p", resolver.Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer p.Close()

	all, _ := p.AllApplications(resolver.Filter{})
	worker, err := p.Application("worker:ts:rack:h2")
	if err != nil {
		t.Fatalf("Application failed: %v", err)
	}
	// the controller runs on h1, a templated app only matches on its own host
	got, err := ShutdownDependsFrom(worker, all)
	if err != nil {
		t.Fatalf("ShutdownDependsFrom failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d dependencies, want none", len(got))
	}
}
