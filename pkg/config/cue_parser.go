package config

import (
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/daqconf/pkg/confdb"
	"github.com/openfroyo/daqconf/pkg/dal"
)

// CUEParser reads settings files and CUE configuration documents.
type CUEParser struct {
	ctx       *cue.Context
	schemas   *SchemaRegistry
	validator *validator.Validate
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	schemas := NewSchemaRegistry()
	return &CUEParser{
		ctx:       schemas.Context(),
		schemas:   schemas,
		validator: validator.New(),
	}
}

// Schemas returns the schema registry.
func (cp *CUEParser) Schemas() *SchemaRegistry {
	return cp.schemas
}

// LoadSettings reads a settings file. Fields it leaves out keep the values
// of DefaultSettings.
func (cp *CUEParser) LoadSettings(path string) (*Settings, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	return cp.ParseSettings(content, path)
}

// ParseSettings parses settings from CUE source.
func (cp *CUEParser) ParseSettings(content []byte, filename string) (*Settings, error) {
	val := cp.ctx.CompileBytes(content, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, cp.convertCUEErrors(err)
	}
	unified, err := cp.schemas.Unify(SchemaSettings, val)
	if err != nil {
		return nil, cp.convertCUEErrors(err)
	}

	data, err := unified.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to export settings: %w", err)
	}
	s := DefaultSettings()
	if err := decodeJSON(data, s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}

	if err := cp.validator.Struct(s); err != nil {
		return nil, fmt.Errorf("invalid settings in %s: %w", filename, err)
	}
	if s.Telemetry != nil {
		if err := s.Telemetry.Validate(); err != nil {
			return nil, fmt.Errorf("invalid telemetry settings in %s: %w", filename, err)
		}
	}
	return s, nil
}

// LoadDocument reads a configuration document from a .cue file or from a
// directory holding one CUE package.
func (cp *CUEParser) LoadDocument(path string) (*confdb.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat source %s: %w", path, err)
	}

	var val cue.Value
	if info.IsDir() {
		insts := load.Instances([]string{"."}, &load.Config{Dir: path})
		if len(insts) == 0 {
			return nil, ValidationErrors{{File: path, Message: "no CUE files found"}}
		}
		if insts[0].Err != nil {
			return nil, cp.convertCUEErrors(insts[0].Err)
		}
		val = cp.ctx.BuildInstance(insts[0])
	} else {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		val = cp.ctx.CompileBytes(content, cue.Filename(path))
	}
	return cp.document(val, path)
}

// ParseDocument parses a configuration document from CUE source.
func (cp *CUEParser) ParseDocument(content []byte, filename string) (*confdb.Document, error) {
	return cp.document(cp.ctx.CompileBytes(content, cue.Filename(filename)), filename)
}

func (cp *CUEParser) document(val cue.Value, source string) (*confdb.Document, error) {
	if err := val.Err(); err != nil {
		return nil, invalidDocument(source, cp.convertCUEErrors(err))
	}
	unified, err := cp.schemas.Unify(SchemaDocument, val)
	if err != nil {
		return nil, invalidDocument(source, cp.convertCUEErrors(err))
	}
	data, err := unified.MarshalJSON()
	if err != nil {
		return nil, invalidDocument(source, err)
	}
	return confdb.DecodeJSON(data)
}

func invalidDocument(source string, err error) error {
	return dal.NewBadConfigurationError(fmt.Sprintf("invalid CUE document %s", source), err).
		WithCode(dal.ErrCodeInvalidDocument)
}

// convertCUEErrors flattens a CUE error into ValidationErrors.
func (cp *CUEParser) convertCUEErrors(err error) ValidationErrors {
	var out ValidationErrors
	for _, e := range errors.Errors(err) {
		ve := ValidationError{Message: errors.Details(e, nil)}
		// Report the position in the user's file rather than in the schema.
		for _, pos := range errors.Positions(e) {
			if strings.HasPrefix(pos.Filename(), schemaFilePrefix) && ve.File != "" {
				continue
			}
			ve.File = pos.Filename()
			ve.Line = pos.Line()
			ve.Column = pos.Column()
			if !strings.HasPrefix(ve.File, schemaFilePrefix) {
				break
			}
		}
		if path := e.Path(); len(path) > 0 {
			ve.Path = cue.MakePath(selectors(path)...).String()
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error()})
	}
	return out
}

func selectors(path []string) []cue.Selector {
	sels := make([]cue.Selector, len(path))
	for i, p := range path {
		sels[i] = cue.Str(p)
	}
	return sels
}
