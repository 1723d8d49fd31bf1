package config

import (
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry holds the CUE schemas settings and documents are checked
// against.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// schemaFilePrefix marks positions inside schemas in error reports.
const schemaFilePrefix = "schema/"

// Builtin schema names.
const (
	SchemaSettings = "settings"
	SchemaDocument = "document"
)

// NewSchemaRegistry creates a registry with the builtin schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	if err := sr.RegisterSchema(SchemaSettings, builtinSettingsSchema, "#Settings"); err != nil {
		panic(err)
	}
	if err := sr.RegisterSchema(SchemaDocument, builtinDocumentSchema, "#Document"); err != nil {
		panic(err)
	}
	return sr
}

// Context returns the CUE context schemas are compiled in. Values unified
// with a schema must come from the same context.
func (sr *SchemaRegistry) Context() *cue.Context {
	return sr.ctx
}

// RegisterSchema compiles schema and registers the definition def of it
// under name.
func (sr *SchemaRegistry) RegisterSchema(name, schema, def string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema, cue.Filename(schemaFilePrefix+name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	d := val.LookupPath(cue.ParsePath(def))
	if !d.Exists() {
		return fmt.Errorf("schema %s has no definition %s", name, def)
	}
	sr.schemas[name] = d
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Unify unifies v with the named schema and checks that the result is
// concrete.
func (sr *SchemaRegistry) Unify(name string, v cue.Value) (cue.Value, error) {
	schema, ok := sr.GetSchema(name)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", name)
	}
	unified := schema.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, err
	}
	return unified, nil
}

// ValidateAgainstSchema encodes data and checks it against the named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(name string, data interface{}) error {
	sr.mu.RLock()
	dataVal := sr.ctx.Encode(data)
	sr.mu.RUnlock()
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}
	if _, err := sr.Unify(name, dataVal); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ListSchemas returns the registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const builtinSettingsSchema = `
#Settings: {
	partition?: string & =~"^[A-Za-z0-9_.-]+$"
	hostname?:  string

	sources?: {
		files?: [...string]
		watch?: bool
		remote?: {
			host:               string
			port?:              int & >0 & <65536
			user:               string
			key_file?:          string
			paths:              [string, ...string]
			dir:                string
			insecure_host_key?: bool
		}
	}

	limits?: {
		fuse_depth?:     int & >=0
		max_iterations?: int & >=0
		parallelism?:    int & >=0
	}

	policy?: {
		dir?:     string
		builtin?: bool
		fail_on?: "error" | "warning"
	}

	telemetry?: {
		service_name?:    string
		service_version?: string
		environment?:     string
		logging?: {
			level?:  "trace" | "debug" | "info" | "warn" | "error" | "fatal"
			format?: "console" | "json"
			output?: string
			...
		}
		tracing?: {
			enabled?:  bool
			exporter?: "otlp" | "stdout" | "none"
			endpoint?: string
			sampling_rate?: number & >=0 & <=1
			...
		}
		metrics?: {
			enabled?:        bool
			listen_address?: string
			...
		}
		events?: {...}
	}
}
`

const builtinDocumentSchema = `
#Attr: string | bool | int | float | [...string]

#Object: {
	id:     string & !=""
	class:  string & !=""
	attrs?: {[string]: #Attr}
	rels?:  {[string]: string | [...string]}
}

#Class: {
	name:          string & !=""
	superclasses?: [...string]
}

#Document: {
	schema?: [...#Class]
	objects: [...#Object]
}
`
