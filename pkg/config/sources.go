package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/daqconf/pkg/confdb"
	"github.com/openfroyo/daqconf/pkg/dal"
)

// Extensions lists the file extensions LoadSources understands.
var Extensions = []string{".yaml", ".yml", ".json", ".cue", ".star", ".db", ".sqlite"}

// Loader decodes configuration sources in any supported format into one
// document.
type Loader struct {
	parser    *CUEParser
	starlark  *StarlarkEvaluator
	logger    zerolog.Logger
	scriptEnv map[string]interface{}
}

// NewLoader creates a loader. Starlark scripts see scriptEnv as predeclared
// globals.
func NewLoader(logger zerolog.Logger, scriptEnv map[string]interface{}) *Loader {
	return &Loader{
		parser:    NewCUEParser(),
		starlark:  NewStarlarkEvaluator(DefaultStarlarkTimeout),
		logger:    logger.With().Str("component", "loader").Logger(),
		scriptEnv: scriptEnv,
	}
}

// Parser returns the CUE parser used for .cue sources.
func (l *Loader) Parser() *CUEParser {
	return l.parser
}

// LoadSources decodes every file under paths and merges them in order.
// Directories are walked in lexical order; files with unknown extensions
// inside them are skipped.
func (l *Loader) LoadSources(ctx context.Context, paths []string) (*confdb.Document, error) {
	files, err := expandSources(paths)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, dal.NewBadConfigurationError("no configuration sources found", nil).
			WithCode(dal.ErrCodeInvalidDocument).
			WithDetail("paths", strings.Join(paths, ","))
	}

	merged := confdb.NewDocument()
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := l.LoadFile(ctx, file)
		if err != nil {
			return nil, err
		}
		l.logger.Debug().
			Str("file", file).
			Int("objects", len(doc.Objects)).
			Int("classes", len(doc.Schema)).
			Msg("Decoded configuration source")
		merged.Merge(doc)
	}

	if err := merged.Validate(); err != nil {
		return nil, err
	}
	l.logger.Info().Int("files", len(files)).Int("objects", len(merged.Objects)).Msg("Loaded configuration sources")
	return merged, nil
}

// Reload decodes paths and loads the result into db.
func (l *Loader) Reload(ctx context.Context, db *confdb.DB, paths []string) error {
	doc, err := l.LoadSources(ctx, paths)
	if err != nil {
		return err
	}
	return db.Load(doc)
}

// LoadFile decodes a single source, choosing the decoder by extension.
func (l *Loader) LoadFile(ctx context.Context, path string) (*confdb.Document, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()
		doc, err := confdb.DecodeYAML(f)
		return withSource(path, doc, err)

	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		doc, err := confdb.DecodeJSON(data)
		return withSource(path, doc, err)

	case ".cue":
		return l.parser.LoadDocument(path)

	case ".star":
		script, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		return l.starlark.GenerateDocument(ctx, string(script), filepath.Base(path), l.scriptEnv)

	case ".db", ".sqlite":
		store, err := confdb.OpenSQLite(ctx, path)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		return store.Load(ctx)

	default:
		return nil, dal.NewBadConfigurationError(fmt.Sprintf("unsupported source format %q", ext), nil).
			WithCode(dal.ErrCodeInvalidDocument).
			WithDetail("file", path)
	}
}

// withSource attaches the file name to decode errors.
func withSource(path string, doc *confdb.Document, err error) (*confdb.Document, error) {
	if err == nil {
		return doc, nil
	}
	var cerr *dal.ConfigError
	if errors.As(err, &cerr) {
		return nil, cerr.WithDetail("file", path)
	}
	return nil, fmt.Errorf("%s: %w", path, err)
}

func expandSources(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != p && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if knownExtension(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", p, err)
		}
	}
	return files, nil
}

func knownExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

func decodeJSON(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
