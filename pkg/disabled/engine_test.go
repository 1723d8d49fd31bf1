package disabled

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/openfroyo/daqconf/pkg/confdb"
	"github.com/openfroyo/daqconf/pkg/dal"
)

// newPartition returns a document holding partition "p" whose single segment
// "seg" lists the given resources.
func newPartition(resources ...string) *confdb.Document {
	doc := confdb.NewDocument()
	doc.Add("online", dal.ClassOnlineSegment)
	doc.Add("seg", dal.ClassSegment).Link(dal.RelResources, resources...)
	doc.Add("p", dal.ClassPartition).
		Link(dal.RelOnlineInfrastructure, "online").
		Link(dal.RelSegments, "seg")
	return doc
}

func partitionSpec(doc *confdb.Document) *confdb.ObjectSpec {
	for _, o := range doc.Objects {
		if o.ID == "p" {
			return o
		}
	}
	return nil
}

func load(t *testing.T, doc *confdb.Document) *confdb.DB {
	t.Helper()
	db := confdb.New()
	if err := db.Load(doc); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return db
}

func mustDisabled(t *testing.T, e *Engine, id string) bool {
	t.Helper()
	d, err := e.IsDisabled(id)
	if err != nil {
		t.Fatalf("IsDisabled(%s) failed: %v", id, err)
	}
	return d
}

func TestEngine_FastPath(t *testing.T) {
	doc := newPartition("r1")
	doc.Add("r1", dal.ClassResource)
	e := New(load(t, doc), "p", Options{})

	if mustDisabled(t, e, "r1") {
		t.Error("nothing is disabled")
	}
	if e.closure.Load() != nil {
		t.Error("fast path must not compute a closure")
	}
}

func TestEngine_Gates(t *testing.T) {
	tests := []struct {
		name     string
		class    string
		children []string
		disabled []string
		want     bool
	}{
		{"OR with one disabled child", dal.ClassResourceSetOR, []string{"a", "b"}, []string{"b"}, true},
		{"OR with no disabled child", dal.ClassResourceSetOR, []string{"a", "b"}, []string{"x"}, false},
		{"AND with one disabled child", dal.ClassResourceSetAND, []string{"a", "b"}, []string{"b"}, false},
		{"AND with all children disabled", dal.ClassResourceSetAND, []string{"a", "b"}, []string{"a", "b"}, true},
		{"AND without children", dal.ClassResourceSetAND, nil, []string{"x"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := newPartition("gate")
			doc.Add("gate", tt.class).Link(dal.RelContains, tt.children...)
			for _, id := range []string{"a", "b", "x"} {
				doc.Add(id, dal.ClassResource)
			}
			partitionSpec(doc).Link(dal.RelDisabled, tt.disabled...)

			e := New(load(t, doc), "p", Options{})
			if got := mustDisabled(t, e, "gate"); got != tt.want {
				t.Errorf("gate disabled = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEngine_ORDisablesSiblings(t *testing.T) {
	doc := newPartition("or")
	doc.Add("or", dal.ClassResourceSetOR).Link(dal.RelContains, "a", "b", "tmpl")
	doc.Add("a", dal.ClassResource)
	doc.Add("b", dal.ClassResource)
	doc.Add("tmpl", dal.ClassResourceTemplateApplication)
	partitionSpec(doc).Link(dal.RelDisabled, "a")

	e := New(load(t, doc), "p", Options{})
	if !mustDisabled(t, e, "b") {
		t.Error("a disabled OR disables all of its children")
	}
	if mustDisabled(t, e, "tmpl") {
		t.Error("template resource applications are not blanket-disabled")
	}
}

func TestEngine_NestedConvergence(t *testing.T) {
	doc := newPartition("or3")
	doc.Add("or3", dal.ClassResourceSetOR).Link(dal.RelContains, "or2")
	doc.Add("or2", dal.ClassResourceSetOR).Link(dal.RelContains, "or1")
	doc.Add("or1", dal.ClassResourceSetOR).Link(dal.RelContains, "leaf")
	doc.Add("leaf", dal.ClassResource)
	partitionSpec(doc).Link(dal.RelDisabled, "leaf")

	e := New(load(t, doc), "p", Options{})
	c, err := e.Closure()
	if err != nil {
		t.Fatalf("Closure failed: %v", err)
	}
	for _, id := range []string{"or1", "or2", "or3", "leaf"} {
		if !c.Contains(id) {
			t.Errorf("%s should be disabled", id)
		}
	}
	if c.Passes > 3 {
		t.Errorf("expected convergence within 3 passes, took %d", c.Passes)
	}
	if c.Capped {
		t.Error("closure must not be capped")
	}
	if c.Gates != 3 {
		t.Errorf("expected 3 gates, got %d", c.Gates)
	}
}

func TestEngine_IterationCap(t *testing.T) {
	doc := newPartition("or3")
	doc.Add("or3", dal.ClassResourceSetOR).Link(dal.RelContains, "or2")
	doc.Add("or2", dal.ClassResourceSetOR).Link(dal.RelContains, "or1")
	doc.Add("or1", dal.ClassResourceSetOR).Link(dal.RelContains, "leaf")
	doc.Add("leaf", dal.ClassResource)
	partitionSpec(doc).Link(dal.RelDisabled, "leaf")

	e := New(load(t, doc), "p", Options{MaxIterations: 1})
	c, err := e.Closure()
	if err != nil {
		t.Fatalf("cap must not be fatal: %v", err)
	}
	if !c.Capped {
		t.Error("expected capped closure")
	}
	if !c.Contains("or1") || c.Contains("or3") {
		t.Errorf("unexpected best-effort result %v", c.IDs())
	}
}

func TestEngine_SegmentSeedDisablesContents(t *testing.T) {
	doc := newPartition("r1")
	doc.Add("r1", dal.ClassResource)
	doc.Add("child", dal.ClassSegment).Link(dal.RelResources, "r2")
	doc.Add("r2", dal.ClassResource)
	for _, o := range doc.Objects {
		if o.ID == "seg" {
			o.Link(dal.RelSegments, "child")
		}
	}
	partitionSpec(doc).Link(dal.RelDisabled, "seg")

	e := New(load(t, doc), "p", Options{})
	for _, id := range []string{"seg", "r1", "child", "r2"} {
		if !mustDisabled(t, e, id) {
			t.Errorf("%s should be disabled", id)
		}
	}
}

func TestEngine_UserOverrides(t *testing.T) {
	doc := newPartition("r1", "r2")
	doc.Add("r1", dal.ClassResource)
	doc.Add("r2", dal.ClassResource)
	partitionSpec(doc).Link(dal.RelDisabled, "r1")

	e := New(load(t, doc), "p", Options{})
	if !mustDisabled(t, e, "r1") {
		t.Fatal("r1 is disabled by the partition")
	}

	e.SetEnabled([]string{"r1"})
	if mustDisabled(t, e, "r1") {
		t.Error("user-enabled component must not be disabled")
	}

	e.SetDisabled([]string{"r2"})
	if !mustDisabled(t, e, "r2") {
		t.Error("user-disabled component must be disabled")
	}

	dis, en := e.UserOverrides()
	if len(dis) != 1 || len(en) != 1 {
		t.Errorf("unexpected overrides %v %v", dis, en)
	}

	e.Clear()
	dis, en = e.UserOverrides()
	if len(dis) != 0 || len(en) != 0 {
		t.Error("Clear must drop user overrides")
	}
	if !mustDisabled(t, e, "r1") || mustDisabled(t, e, "r2") {
		t.Error("after Clear only the partition's own list applies")
	}
}

// A user-disabled component stays disabled even when it is also user-enabled;
// user-enabled only lifts entries of the partition's own Disabled list.
func TestEngine_OverridePrecedence(t *testing.T) {
	tests := []struct {
		name        string
		partition   []string
		userDisable []string
		userEnable  []string
		want        bool
	}{
		{"user-disabled and user-enabled", nil, []string{"r1"}, []string{"r1"}, true},
		{"partition-disabled and user-enabled", []string{"r1"}, nil, []string{"r1"}, false},
		{"all three", []string{"r1"}, []string{"r1"}, []string{"r1"}, true},
		{"user-enabled only", nil, nil, []string{"r1"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := newPartition("r1")
			doc.Add("r1", dal.ClassResource)
			if len(tt.partition) > 0 {
				partitionSpec(doc).Link(dal.RelDisabled, tt.partition...)
			}

			e := New(load(t, doc), "p", Options{})
			e.SetDisabled(tt.userDisable)
			e.SetEnabled(tt.userEnable)
			if got := mustDisabled(t, e, "r1"); got != tt.want {
				t.Errorf("IsDisabled(r1) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEngine_CircularResourceSets(t *testing.T) {
	doc := newPartition("A")
	doc.Add("A", dal.ClassResourceSetOR).Link(dal.RelContains, "B")
	doc.Add("B", dal.ClassResourceSet).Link(dal.RelContains, "A")
	doc.Add("r", dal.ClassResource)
	partitionSpec(doc).Link(dal.RelDisabled, "r")

	e := New(load(t, doc), "p", Options{FuseLimit: 16})
	_, err := e.IsDisabled("A")
	if err == nil {
		t.Fatal("expected circular dependency error")
	}
	if !dal.HasCode(err, dal.ErrCodeCircularDependency) {
		t.Errorf("expected circular dependency code, got %v", err)
	}
}

func TestEngine_ConcurrentRebuildIsSerialized(t *testing.T) {
	doc := newPartition("or")
	doc.Add("or", dal.ClassResourceSetOR).Link(dal.RelContains, "a")
	doc.Add("a", dal.ClassResource)
	partitionSpec(doc).Link(dal.RelDisabled, "a")

	var computed atomic.Int32
	e := New(load(t, doc), "p", Options{Observer: func(*Closure) { computed.Add(1) }})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d, err := e.IsDisabled("or"); err != nil || !d {
				t.Errorf("IsDisabled = %v, %v", d, err)
			}
		}()
	}
	wg.Wait()

	if computed.Load() != 1 {
		t.Errorf("closure computed %d times, want 1", computed.Load())
	}
}

func TestEngine_UnknownPartition(t *testing.T) {
	e := New(load(t, newPartition()), "nope", Options{})
	if _, err := e.IsDisabled("x"); !dal.IsNotFound(err) {
		t.Errorf("expected not-found, got %v", err)
	}
}
