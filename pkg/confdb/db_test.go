package confdb

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/openfroyo/daqconf/pkg/dal"
)

func sampleDocument() *Document {
	doc := NewDocument()
	doc.Declare("MyRCApp", dal.ClassRunControlApplication)
	doc.Add("pc1", dal.ClassComputer).Set(dal.AttrState, true).Set(dal.AttrNumberOfCores, 4)
	doc.Add("hosts", dal.ClassComputerSet).Link(dal.RelContains, "pc1")
	doc.Add("seg", dal.ClassSegment).Link(dal.RelHosts, "hosts").Link(dal.RelIsControlledBy, "ctrl")
	doc.Add("ctrl", "MyRCApp").Set(dal.AttrActionTimeout, 30).Set(dal.AttrParameters, "-n ${NAME}")
	return doc
}

func loadSample(t *testing.T) *DB {
	t.Helper()
	db := New()
	if err := db.Load(sampleDocument()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return db
}

func TestDB_LoadAndLookup(t *testing.T) {
	db := loadSample(t)

	if db.Len() != 4 {
		t.Errorf("expected 4 objects, got %d", db.Len())
	}

	seg, err := db.Get("seg")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	hosts := seg.Rel(dal.RelHosts)
	if len(hosts) != 1 || hosts[0].UID() != "hosts" {
		t.Fatalf("unexpected hosts relationship: %v", UIDs(hosts))
	}
	if pc := hosts[0].Ref(dal.RelContains); pc == nil || pc.Int(dal.AttrNumberOfCores) != 4 || !pc.Bool(dal.AttrState) {
		t.Errorf("computer attributes not decoded: %+v", pc)
	}

	if _, err := db.Get("missing"); !dal.IsNotFound(err) {
		t.Errorf("expected not-found, got %v", err)
	}
	if _, err := db.GetAs("pc1", dal.ClassSegment); !dal.IsNotFound(err) {
		t.Errorf("GetAs with wrong class should fail, got %v", err)
	}
}

func TestDB_ClassIntrospection(t *testing.T) {
	db := loadSample(t)

	ctrl := db.Lookup("ctrl")
	for _, class := range []string{"MyRCApp", dal.ClassRunControlApplication, dal.ClassApplication, dal.ClassBaseApplication, dal.ClassComponent} {
		if !ctrl.IsA(class) {
			t.Errorf("ctrl should be a %s", class)
		}
	}
	if ctrl.IsA(dal.ClassTemplateApplication) {
		t.Error("ctrl must not be a TemplateApplication")
	}

	subs := strings.Join(db.Subclasses(dal.ClassRunControlApplicationBase), ",")
	if !strings.Contains(subs, "MyRCApp") || !strings.Contains(subs, dal.ClassRunControlTemplateApplication) {
		t.Errorf("Subclasses missing entries: %s", subs)
	}

	supers := db.Superclasses(dal.ClassResourceApplication)
	want := map[string]bool{dal.ClassApplication: true, dal.ClassResource: true, dal.ClassResourceBase: true}
	found := 0
	for _, s := range supers {
		if want[s] {
			found++
		}
	}
	if found != len(want) {
		t.Errorf("Superclasses(ResourceApplication) = %v", supers)
	}

	apps := db.Find(dal.ClassBaseApplication)
	if len(apps) != 1 || apps[0].UID() != "ctrl" {
		t.Errorf("Find returned %v", UIDs(apps))
	}
}

func TestDB_LoadErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  func() *Document
		code string
	}{
		{
			name: "unknown class",
			doc: func() *Document {
				d := NewDocument()
				d.Add("x", "NoSuchClass")
				return d
			},
			code: dal.ErrCodeUnknownClass,
		},
		{
			name: "dangling reference",
			doc: func() *Document {
				d := NewDocument()
				d.Add("seg", dal.ClassSegment).Link(dal.RelSegments, "ghost")
				return d
			},
			code: dal.ErrCodeDanglingReference,
		},
		{
			name: "duplicate id",
			doc: func() *Document {
				d := NewDocument()
				d.Add("x", dal.ClassSegment)
				d.Add("x", dal.ClassSegment)
				return d
			},
			code: dal.ErrCodeInvalidDocument,
		},
		{
			name: "missing class",
			doc: func() *Document {
				d := NewDocument()
				d.Objects = append(d.Objects, &ObjectSpec{ID: "x"})
				return d
			},
			code: dal.ErrCodeInvalidDocument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := New()
			err := db.Load(tt.doc())
			if err == nil {
				t.Fatal("expected error")
			}
			if !dal.HasCode(err, tt.code) {
				t.Errorf("expected code %s, got %v", tt.code, err)
			}
		})
	}
}

type recordingListener struct {
	mu      sync.Mutex
	events  []string
	changes []Change
}

func (r *recordingListener) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingListener) OnLoad()   { r.add("load") }
func (r *recordingListener) OnUnload() { r.add("unload") }
func (r *recordingListener) OnChange(c []Change) {
	r.add("change")
	r.mu.Lock()
	r.changes = c
	r.mu.Unlock()
}
func (r *recordingListener) OnUpdate(o *Object, attr string) { r.add("update:" + o.UID() + "." + attr) }

func TestDB_Notifications(t *testing.T) {
	db := New()
	rec := &recordingListener{}
	cancel := db.Subscribe(rec)

	if err := db.Load(sampleDocument()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	gen := db.Generation()

	err := db.Apply(ChangeSet{
		Create: []*ObjectSpec{{ID: "pc2", Class: dal.ClassComputer}},
		Update: []*ObjectSpec{{ID: "pc1", Attrs: map[string]any{dal.AttrState: false}}},
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if db.Lookup("pc1").Bool(dal.AttrState) {
		t.Error("update not applied")
	}
	if db.Lookup("pc1").Class() != dal.ClassComputer {
		t.Error("update without class should keep the class")
	}

	if err := db.SetAttr("seg", dal.AttrParameters, "x"); err != nil {
		t.Fatalf("SetAttr failed: %v", err)
	}
	db.Unload()

	if db.Generation() <= gen {
		t.Error("generation must advance")
	}

	want := []string{"load", "change", "update:seg.Parameters", "unload"}
	if strings.Join(rec.events, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", rec.events, want)
	}
	if len(rec.changes) != 1 || rec.changes[0].Class != dal.ClassComputer ||
		len(rec.changes[0].Created) != 1 || len(rec.changes[0].Modified) != 1 {
		t.Errorf("unexpected change list %+v", rec.changes)
	}

	cancel()
	if err := db.Load(sampleDocument()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(rec.events) != len(want) {
		t.Error("cancelled listener still notified")
	}
}

func TestDB_ApplyRejectsDanglingRemove(t *testing.T) {
	db := loadSample(t)
	err := db.Apply(ChangeSet{Create: []*ObjectSpec{{ID: "s2", Class: dal.ClassSegment, Rels: map[string]Refs{dal.RelHosts: {"nope"}}}}})
	if !dal.HasCode(err, dal.ErrCodeDanglingReference) {
		t.Errorf("expected dangling reference, got %v", err)
	}
	if db.Lookup("s2") != nil {
		t.Error("failed Apply must not modify the store")
	}
	if err := db.Apply(ChangeSet{Remove: []string{"nope"}}); !dal.IsNotFound(err) {
		t.Errorf("expected not-found, got %v", err)
	}
}

type upperConverter struct{}

func (upperConverter) Convert(s string) string { return strings.ReplaceAll(s, "${NAME}", "value") }

func TestDB_Converter(t *testing.T) {
	db := loadSample(t)
	ctrl := db.Lookup("ctrl")

	if got := ctrl.Str(dal.AttrParameters); got != "-n ${NAME}" {
		t.Errorf("unconverted Str = %q", got)
	}
	db.SetConverter(upperConverter{})
	if got := ctrl.Str(dal.AttrParameters); got != "-n value" {
		t.Errorf("converted Str = %q", got)
	}
	if got := ctrl.RawStr(dal.AttrParameters); got != "-n ${NAME}" {
		t.Errorf("RawStr must bypass the converter, got %q", got)
	}
	db.SetConverter(nil)
	if got := ctrl.Str(dal.AttrParameters); got != "-n ${NAME}" {
		t.Errorf("Str after reset = %q", got)
	}
}

func TestDocument_YAMLRoundTrip(t *testing.T) {
	src := `
schema:
  - name: Special
    superclasses: [Segment]
objects:
  - id: pc1
    class: Computer
    attrs:
      State: true
      HW_Tag: x86_64-el9
  - id: top
    class: Special
    attrs:
      Tags: [a, b]
    rels:
      Hosts: pc1
`
	doc, err := DecodeYAML(strings.NewReader(src))
	if err != nil {
		t.Fatalf("DecodeYAML failed: %v", err)
	}
	db := New()
	if err := db.Load(doc); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	top := db.Lookup("top")
	if !top.IsA(dal.ClassSegment) {
		t.Error("user class must derive from Segment")
	}
	if got := top.Strings(dal.AttrTags); len(got) != 2 || got[1] != "b" {
		t.Errorf("Strings = %v", got)
	}
	if top.Ref(dal.RelHosts).UID() != "pc1" {
		t.Error("scalar reference not decoded")
	}

	var buf bytes.Buffer
	if err := EncodeYAML(&buf, db.Export()); err != nil {
		t.Fatalf("EncodeYAML failed: %v", err)
	}
	again, err := DecodeYAML(&buf)
	if err != nil {
		t.Fatalf("re-decode failed: %v", err)
	}
	db2 := New()
	if err := db2.Load(again); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if !db2.Lookup("top").IsA(dal.ClassSegment) || db2.Lookup("pc1").RawStr(dal.AttrHWTag) != "x86_64-el9" {
		t.Error("exported document lost data")
	}
}
