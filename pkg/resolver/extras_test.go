package resolver

import (
	"testing"

	"github.com/openfroyo/daqconf/pkg/confdb"
	"github.com/openfroyo/daqconf/pkg/dal"
)

func TestPartition_LogDirectory(t *testing.T) {
	tests := []struct {
		name    string
		logRoot string
		want    string
	}{
		{"default", "", "/tmp/logs/p"},
		{"configured", "/data/logs", "/data/logs/p"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			if tt.logRoot != "" {
				f.part.Set(dal.AttrLogRoot, tt.logRoot)
			}
			p := f.open(t, Options{})
			got, err := p.LogDirectory()
			if err != nil {
				t.Fatalf("LogDirectory failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("LogDirectory = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPartition_UsedRepositories(t *testing.T) {
	f := newFixture()
	f.doc.Add("common", dal.ClassSWRepository)
	f.doc.Add("online-sw", dal.ClassSWRepository).Link(dal.RelUses, "common")
	f.doc.Add("det-sw", dal.ClassSWRepository)
	f.doc.Add("ext", dal.ClassSWExternalPackage).Link(dal.RelUses, "common")
	f.doc.Add("unused", dal.ClassSWRepository)
	f.doc.Add("prog", dal.ClassBinary).Link(dal.RelBelongsTo, "det-sw").Link(dal.RelUses, "ext")
	f.daqCtrl.Link(dal.RelUses, "online-sw")
	f.doc.Add("res", dal.ClassResourceApplication).Link(dal.RelProgram, "prog")
	f.daq.Link(dal.RelResources, "res")
	// disabled components still count
	f.part.Link(dal.RelDisabled, "res")

	p := f.open(t, Options{})
	repos, err := p.UsedRepositories()
	if err != nil {
		t.Fatalf("UsedRepositories failed: %v", err)
	}
	want := []string{"common", "det-sw", "online-sw"}
	if got := confdb.UIDs(repos); !equal(got, want) {
		t.Errorf("UsedRepositories = %v, want %v", got, want)
	}
}

func TestPartition_UsedRepositoriesCycle(t *testing.T) {
	f := newFixture()
	f.doc.Add("a", dal.ClassSWRepository).Link(dal.RelUses, "b")
	f.doc.Add("b", dal.ClassSWRepository).Link(dal.RelUses, "a")
	f.daqCtrl.Link(dal.RelUses, "a")

	p := f.open(t, Options{FuseLimit: 8})
	if _, err := p.UsedRepositories(); !dal.HasCode(err, dal.ErrCodeCircularDependency) {
		t.Errorf("error = %v, want CIRCULAR_DEPENDENCY", err)
	}
}

func TestPartition_GenericResources(t *testing.T) {
	f := newFixture()
	f.doc.Add("r1", dal.ClassResource)
	f.doc.Add("r2", dal.ClassResource)
	f.doc.Add("r3", dal.ClassResource)
	f.doc.Add("app", dal.ClassResourceApplication)
	f.doc.Add("inner", dal.ClassResourceSet).Link(dal.RelContains, "r2", "r3")
	f.doc.Add("outer", dal.ClassResourceSet).Link(dal.RelContains, "r1", "inner", "app")
	f.daq.Link(dal.RelResources, "outer")
	f.part.Link(dal.RelDisabled, "r3")

	p := f.open(t, Options{})
	outer, err := p.DB().Get("outer")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	got, err := p.GenericResources(outer)
	if err != nil {
		t.Fatalf("GenericResources failed: %v", err)
	}
	// resource applications are resources too
	want := []string{"r1", "r2", "app"}
	if ids := confdb.UIDs(got); !equal(ids, want) {
		t.Errorf("GenericResources = %v, want %v", ids, want)
	}
}
