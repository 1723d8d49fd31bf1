package confdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/daqconf/pkg/dal"
)

// Document is a loadable set of class declarations and objects.
type Document struct {
	Schema  []dal.ClassDef `json:"schema,omitempty" yaml:"schema,omitempty" validate:"dive"`
	Objects []*ObjectSpec  `json:"objects" yaml:"objects" validate:"dive"`
}

// ObjectSpec describes one object in a Document.
type ObjectSpec struct {
	ID    string          `json:"id" yaml:"id" validate:"required"`
	Class string          `json:"class" yaml:"class" validate:"required"`
	Attrs map[string]any  `json:"attrs,omitempty" yaml:"attrs,omitempty"`
	Rels  map[string]Refs `json:"rels,omitempty" yaml:"rels,omitempty"`
}

// Refs is an ordered list of object ids. In YAML a single id may be written
// as a scalar.
type Refs []string

// UnmarshalYAML accepts either a scalar id or a sequence of ids.
func (r *Refs) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		if node.Value == "" {
			*r = nil
			return nil
		}
		*r = Refs{node.Value}
		return nil
	}
	var ids []string
	if err := node.Decode(&ids); err != nil {
		return err
	}
	*r = ids
	return nil
}

// UnmarshalJSON accepts either a string id or an array of ids.
func (r *Refs) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		if id == "" {
			*r = nil
		} else {
			*r = Refs{id}
		}
		return nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*r = ids
	return nil
}

// DecodeJSON reads a JSON document.
func DecodeJSON(data []byte) (*Document, error) {
	var doc Document
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, dal.NewBadConfigurationError("failed to decode JSON document", err).
			WithCode(dal.ErrCodeInvalidDocument)
	}
	return &doc, nil
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{}
}

// Add appends a new object and returns it for further configuration.
func (d *Document) Add(id, class string) *ObjectSpec {
	spec := &ObjectSpec{ID: id, Class: class}
	d.Objects = append(d.Objects, spec)
	return spec
}

// Declare appends a class declaration.
func (d *Document) Declare(name string, superclasses ...string) *Document {
	d.Schema = append(d.Schema, dal.ClassDef{Name: name, Superclasses: superclasses})
	return d
}

// Merge appends the declarations and objects of other.
func (d *Document) Merge(other *Document) {
	if other == nil {
		return
	}
	d.Schema = append(d.Schema, other.Schema...)
	d.Objects = append(d.Objects, other.Objects...)
}

// Set assigns an attribute.
func (s *ObjectSpec) Set(attr string, value any) *ObjectSpec {
	if s.Attrs == nil {
		s.Attrs = make(map[string]any)
	}
	s.Attrs[attr] = value
	return s
}

// Link appends targets to a relationship.
func (s *ObjectSpec) Link(rel string, ids ...string) *ObjectSpec {
	if s.Rels == nil {
		s.Rels = make(map[string]Refs)
	}
	s.Rels[rel] = append(s.Rels[rel], ids...)
	return s
}

var validate = validator.New()

// Validate checks the structural rules of the document: required fields and
// unique ids. Class and reference checks happen at load time.
func (d *Document) Validate() error {
	for i, o := range d.Objects {
		if o == nil {
			return dal.NewBadConfigurationError(fmt.Sprintf("object #%d is empty", i), nil).
				WithCode(dal.ErrCodeInvalidDocument)
		}
	}
	if err := validate.Struct(d); err != nil {
		return dal.NewBadConfigurationError("document validation failed", err).
			WithCode(dal.ErrCodeInvalidDocument)
	}
	seen := make(map[string]struct{}, len(d.Objects))
	for _, o := range d.Objects {
		if _, dup := seen[o.ID]; dup {
			return dal.NewBadConfigurationError(fmt.Sprintf("object %q is defined more than once", o.ID), nil).
				WithCode(dal.ErrCodeInvalidDocument).
				WithObjectID(o.ID, o.Class)
		}
		seen[o.ID] = struct{}{}
	}
	return nil
}

// DecodeYAML reads a YAML document.
func DecodeYAML(r io.Reader) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return &doc, nil
		}
		return nil, dal.NewBadConfigurationError("failed to decode YAML document", err).
			WithCode(dal.ErrCodeInvalidDocument)
	}
	return &doc, nil
}

// EncodeYAML writes the document as YAML with objects sorted by id.
func EncodeYAML(w io.Writer, doc *Document) error {
	sorted := *doc
	sorted.Objects = append([]*ObjectSpec(nil), doc.Objects...)
	sort.Slice(sorted.Objects, func(i, j int) bool { return sorted.Objects[i].ID < sorted.Objects[j].ID })

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&sorted); err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// normalize converts decoded attribute values to the small set of types the
// store keeps: string, bool, int64, float64 and []string.
func normalize(v any) (any, error) {
	switch t := v.(type) {
	case string, bool, int64:
		return t, nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case uint:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint64:
		return int64(t), nil
	case float32:
		return normalize(float64(t))
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return int64(t), nil
		}
		return t, nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, err
		}
		return f, nil
	case []string:
		return append([]string(nil), t...), nil
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("multi-value attributes must hold strings, got %T", e)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported attribute type %T", v)
	}
}
