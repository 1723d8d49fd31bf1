// Package confdb is an in-memory, schema-driven object store holding DAQ
// configuration objects. It offers typed lookup, ordered relationship
// traversal, superclass introspection and change notification to the
// resolution algorithms, and loads data from YAML documents or SQLite
// snapshots.
package confdb

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/openfroyo/daqconf/pkg/dal"
)

// Change lists the object ids of one class touched by an Apply call.
type Change struct {
	Class    string   `json:"class"`
	Created  []string `json:"created,omitempty"`
	Modified []string `json:"modified,omitempty"`
	Removed  []string `json:"removed,omitempty"`
}

// ChangeSet is a batch of incremental modifications.
type ChangeSet struct {
	Create []*ObjectSpec
	Update []*ObjectSpec
	Remove []string
}

// Listener receives store notifications. Callbacks run synchronously after
// the store lock has been released and before the mutating call returns.
type Listener interface {
	OnLoad()
	OnUnload()
	OnChange(changes []Change)
	OnUpdate(obj *Object, attr string)
}

// Converter rewrites attribute string values on read.
type Converter interface {
	Convert(value string) string
}

type classInfo struct {
	name   string
	direct []string
	all    map[string]struct{}
}

// DB is a configuration object store. It is safe for concurrent use.
type DB struct {
	mu         sync.RWMutex
	classes    map[string]*classInfo
	core       map[string]struct{}
	objects    map[string]*Object
	generation uint64

	lmu       sync.Mutex
	listeners map[int]Listener
	nextID    int

	converter atomic.Pointer[converterBox]
	logger    zerolog.Logger
}

type converterBox struct{ c Converter }

// Option configures a DB.
type Option func(*DB)

// WithLogger sets the logger used for store diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(db *DB) { db.logger = l }
}

// New creates an empty store with the core class hierarchy defined.
func New(opts ...Option) *DB {
	db := &DB{
		classes:   make(map[string]*classInfo),
		core:      make(map[string]struct{}),
		objects:   make(map[string]*Object),
		listeners: make(map[int]Listener),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(db)
	}
	for _, c := range dal.Schema() {
		db.classes[c.Name] = &classInfo{name: c.Name, direct: c.Superclasses}
		db.core[c.Name] = struct{}{}
	}
	db.resolveClasses()
	return db
}

// resolveClasses recomputes the transitive superclass sets. Called with mu held.
func (db *DB) resolveClasses() {
	for _, ci := range db.classes {
		all := make(map[string]struct{})
		var visit func(name string)
		visit = func(name string) {
			if _, seen := all[name]; seen {
				return
			}
			all[name] = struct{}{}
			if c, ok := db.classes[name]; ok {
				for _, s := range c.direct {
					visit(s)
				}
			}
		}
		visit(ci.name)
		ci.all = all
	}
}

func (db *DB) defineLocked(defs []dal.ClassDef) error {
	for _, d := range defs {
		if d.Name == "" {
			return dal.NewBadConfigurationError("class declaration without name", nil).
				WithCode(dal.ErrCodeInvalidDocument)
		}
		if _, core := db.core[d.Name]; core {
			continue
		}
		db.classes[d.Name] = &classInfo{name: d.Name, direct: append([]string(nil), d.Superclasses...)}
	}
	for _, d := range defs {
		for _, s := range d.Superclasses {
			if _, ok := db.classes[s]; !ok {
				return dal.NewBadConfigurationError(fmt.Sprintf("class %q derives from unknown class %q", d.Name, s), nil).
					WithCode(dal.ErrCodeUnknownClass)
			}
		}
	}
	db.resolveClasses()
	return nil
}

// DefineClasses declares additional classes.
func (db *DB) DefineClasses(defs ...dal.ClassDef) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.defineLocked(defs)
}

// IsSubclassOf reports whether sub is super or derives from it.
func (db *DB) IsSubclassOf(sub, super string) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	ci, ok := db.classes[sub]
	if !ok {
		return sub == super
	}
	_, ok = ci.all[super]
	return ok
}

// Superclasses returns every ancestor of class, excluding class itself, sorted.
func (db *DB) Superclasses(class string) []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	ci, ok := db.classes[class]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(ci.all))
	for name := range ci.all {
		if name != class {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Subclasses returns class and every class deriving from it, sorted.
func (db *DB) Subclasses(class string) []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []string
	for name, ci := range db.classes {
		if _, ok := ci.all[class]; ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// HasClass reports whether class is declared.
func (db *DB) HasClass(class string) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.classes[class]
	return ok
}

// Get returns the object with the given id.
func (db *DB) Get(id string) (*Object, error) {
	if o := db.Lookup(id); o != nil {
		return o, nil
	}
	return nil, dal.NewNotFoundError(fmt.Sprintf("object %q not found", id), nil).WithObjectID(id, "")
}

// Lookup returns the object with the given id, or nil.
func (db *DB) Lookup(id string) *Object {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.objects[id]
}

// GetAs returns the object with the given id, checking its class.
func (db *DB) GetAs(id, class string) (*Object, error) {
	o, err := db.Get(id)
	if err != nil {
		return nil, err
	}
	if !o.IsA(class) {
		return nil, dal.NewNotFoundError(fmt.Sprintf("object %q is not a %s", id, class), nil).WithObject(o)
	}
	return o, nil
}

// Find returns all objects of class or its subclasses, sorted by id.
func (db *DB) Find(class string) []*Object {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var out []*Object
	for _, o := range db.objects {
		if ci, ok := db.classes[o.class]; ok {
			if _, match := ci.all[class]; match {
				out = append(out, o)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Len returns the number of loaded objects.
func (db *DB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.objects)
}

// Generation increases with every mutation.
func (db *DB) Generation() uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.generation
}

// SetConverter installs the attribute-value converter used by Object.Str.
// A nil converter disables conversion.
func (db *DB) SetConverter(c Converter) {
	if c == nil {
		db.converter.Store(nil)
		return
	}
	db.converter.Store(&converterBox{c: c})
}

func (db *DB) convert(s string) string {
	box := db.converter.Load()
	if box == nil || s == "" {
		return s
	}
	return box.c.Convert(s)
}

// Subscribe registers a listener and returns a function removing it.
func (db *DB) Subscribe(l Listener) func() {
	db.lmu.Lock()
	id := db.nextID
	db.nextID++
	db.listeners[id] = l
	db.lmu.Unlock()
	return func() {
		db.lmu.Lock()
		delete(db.listeners, id)
		db.lmu.Unlock()
	}
}

func (db *DB) notify(fn func(Listener)) {
	db.lmu.Lock()
	ids := make([]int, 0, len(db.listeners))
	for id := range db.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	ls := make([]Listener, 0, len(ids))
	for _, id := range ids {
		ls = append(ls, db.listeners[id])
	}
	db.lmu.Unlock()
	for _, l := range ls {
		fn(l)
	}
}

func (db *DB) build(spec *ObjectSpec) (*Object, error) {
	if _, ok := db.classes[spec.Class]; !ok {
		return nil, dal.NewBadConfigurationError(fmt.Sprintf("unknown class %q", spec.Class), nil).
			WithCode(dal.ErrCodeUnknownClass).
			WithObjectID(spec.ID, spec.Class)
	}
	o := &Object{
		id:    spec.ID,
		class: spec.Class,
		attrs: make(map[string]any, len(spec.Attrs)),
		rels:  make(map[string][]string, len(spec.Rels)),
		db:    db,
	}
	for k, v := range spec.Attrs {
		if v == nil {
			continue
		}
		nv, err := normalize(v)
		if err != nil {
			return nil, dal.NewBadConfigurationError(fmt.Sprintf("attribute %q", k), err).
				WithCode(dal.ErrCodeInvalidDocument).
				WithObjectID(spec.ID, spec.Class)
		}
		o.attrs[k] = nv
	}
	for k, v := range spec.Rels {
		if len(v) > 0 {
			o.rels[k] = append([]string(nil), v...)
		}
	}
	return o, nil
}

func checkReferences(objects map[string]*Object, subset []*Object) error {
	for _, o := range subset {
		rels := make([]string, 0, len(o.rels))
		for r := range o.rels {
			rels = append(rels, r)
		}
		sort.Strings(rels)
		for _, r := range rels {
			for _, target := range o.rels[r] {
				if _, ok := objects[target]; !ok {
					return dal.NewBadConfigurationError(
						fmt.Sprintf("relationship %q references unknown object %q", r, target), nil).
						WithCode(dal.ErrCodeDanglingReference).
						WithObject(o)
				}
			}
		}
	}
	return nil
}

// Load replaces the store contents with doc and fires OnLoad.
func (db *DB) Load(doc *Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}

	db.mu.Lock()
	if err := db.defineLocked(doc.Schema); err != nil {
		db.mu.Unlock()
		return err
	}
	objects := make(map[string]*Object, len(doc.Objects))
	built := make([]*Object, 0, len(doc.Objects))
	for _, spec := range doc.Objects {
		o, err := db.build(spec)
		if err != nil {
			db.mu.Unlock()
			return err
		}
		objects[o.id] = o
		built = append(built, o)
	}
	if err := checkReferences(objects, built); err != nil {
		db.mu.Unlock()
		return err
	}
	db.objects = objects
	db.generation++
	n := len(objects)
	db.mu.Unlock()

	db.logger.Debug().Int("objects", n).Msg("configuration loaded")
	db.notify(func(l Listener) { l.OnLoad() })
	return nil
}

// Unload removes every object and fires OnUnload.
func (db *DB) Unload() {
	db.mu.Lock()
	db.objects = make(map[string]*Object)
	db.generation++
	db.mu.Unlock()

	db.logger.Debug().Msg("configuration unloaded")
	db.notify(func(l Listener) { l.OnUnload() })
}

// Apply performs an incremental update and fires OnChange with the per-class
// created, modified and removed ids.
func (db *DB) Apply(cs ChangeSet) error {
	db.mu.Lock()
	next := make(map[string]*Object, len(db.objects)+len(cs.Create))
	for id, o := range db.objects {
		next[id] = o
	}

	byClass := make(map[string]*Change)
	record := func(class string) *Change {
		c, ok := byClass[class]
		if !ok {
			c = &Change{Class: class}
			byClass[class] = c
		}
		return c
	}

	var touched []*Object
	for _, spec := range cs.Create {
		if _, exists := next[spec.ID]; exists {
			db.mu.Unlock()
			return dal.NewBadConfigurationError(fmt.Sprintf("object %q already exists", spec.ID), nil).
				WithCode(dal.ErrCodeInvalidDocument).
				WithObjectID(spec.ID, spec.Class)
		}
		o, err := db.build(spec)
		if err != nil {
			db.mu.Unlock()
			return err
		}
		next[o.id] = o
		touched = append(touched, o)
		c := record(o.class)
		c.Created = append(c.Created, o.id)
	}
	for _, spec := range cs.Update {
		old, exists := next[spec.ID]
		if !exists {
			db.mu.Unlock()
			return dal.NewNotFoundError(fmt.Sprintf("cannot update unknown object %q", spec.ID), nil).
				WithObjectID(spec.ID, spec.Class)
		}
		if spec.Class == "" {
			spec.Class = old.class
		}
		o, err := db.build(spec)
		if err != nil {
			db.mu.Unlock()
			return err
		}
		next[o.id] = o
		touched = append(touched, o)
		c := record(o.class)
		c.Modified = append(c.Modified, o.id)
	}
	for _, id := range cs.Remove {
		old, exists := next[id]
		if !exists {
			db.mu.Unlock()
			return dal.NewNotFoundError(fmt.Sprintf("cannot remove unknown object %q", id), nil).
				WithObjectID(id, "")
		}
		delete(next, id)
		c := record(old.class)
		c.Removed = append(c.Removed, id)
	}
	if err := checkReferences(next, touched); err != nil {
		db.mu.Unlock()
		return err
	}
	db.objects = next
	db.generation++
	db.mu.Unlock()

	changes := make([]Change, 0, len(byClass))
	for _, c := range byClass {
		changes = append(changes, *c)
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Class < changes[j].Class })

	db.notify(func(l Listener) { l.OnChange(changes) })
	return nil
}

// SetAttr updates a single attribute in place and fires OnUpdate.
func (db *DB) SetAttr(id, attr string, value any) error {
	nv, err := normalize(value)
	if err != nil {
		return dal.NewBadConfigurationError(fmt.Sprintf("attribute %q", attr), err).
			WithCode(dal.ErrCodeInvalidDocument).
			WithObjectID(id, "")
	}

	db.mu.Lock()
	o, ok := db.objects[id]
	if !ok {
		db.mu.Unlock()
		return dal.NewNotFoundError(fmt.Sprintf("object %q not found", id), nil).WithObjectID(id, "")
	}
	o.attrs[attr] = nv
	db.generation++
	db.mu.Unlock()

	db.notify(func(l Listener) { l.OnUpdate(o, attr) })
	return nil
}

// Export returns a document describing the current contents, including the
// user-declared classes.
func (db *DB) Export() *Document {
	db.mu.RLock()
	doc := &Document{}
	names := make([]string, 0, len(db.classes))
	for name := range db.classes {
		if _, core := db.core[name]; !core {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		doc.Schema = append(doc.Schema, dal.ClassDef{Name: name, Superclasses: append([]string(nil), db.classes[name].direct...)})
	}
	objs := make([]*Object, 0, len(db.objects))
	for _, o := range db.objects {
		objs = append(objs, o)
	}
	db.mu.RUnlock()

	sort.Slice(objs, func(i, j int) bool { return objs[i].id < objs[j].id })
	for _, o := range objs {
		doc.Objects = append(doc.Objects, o.Spec())
	}
	return doc
}
