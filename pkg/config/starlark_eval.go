package config

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/daqconf/pkg/confdb"
	"github.com/openfroyo/daqconf/pkg/dal"
)

// DefaultStarlarkTimeout bounds a script run when no timeout is given.
const DefaultStarlarkTimeout = 30 * time.Second

// StarlarkResult is the outcome of a script run.
type StarlarkResult struct {
	// Output holds the public globals of the script.
	Output        map[string]interface{}
	ExecutionTime time.Duration
	Error         string
}

// StarlarkEvaluator runs Starlark scripts with a timeout. Scripts have no
// access to the filesystem or the network.
type StarlarkEvaluator struct {
	timeout time.Duration
}

// NewStarlarkEvaluator creates a new Starlark evaluator.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout == 0 {
		timeout = DefaultStarlarkTimeout
	}
	return &StarlarkEvaluator{
		timeout: timeout,
	}
}

// Evaluate runs script with input bound as predeclared globals.
func (se *StarlarkEvaluator) Evaluate(ctx context.Context, script string, input map[string]interface{}) (*StarlarkResult, error) {
	return se.run(ctx, "config.star", script, input)
}

func (se *StarlarkEvaluator) run(ctx context.Context, filename, script string, input map[string]interface{}) (*StarlarkResult, error) {
	startTime := time.Now()

	evalCtx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name:  filename,
		Print: func(*starlark.Thread, string) {},
	}

	resultCh := make(chan *StarlarkResult, 1)
	errCh := make(chan error, 1)

	go func() {
		result, err := evaluateSync(thread, filename, script, input)
		if err != nil {
			errCh <- err
		} else {
			resultCh <- result
		}
	}()

	select {
	case <-evalCtx.Done():
		thread.Cancel(evalCtx.Err().Error())
		return &StarlarkResult{
			ExecutionTime: time.Since(startTime),
			Error:         fmt.Sprintf("execution timeout after %v", se.timeout),
		}, fmt.Errorf("starlark execution of %s interrupted: %w", filename, evalCtx.Err())
	case err := <-errCh:
		return &StarlarkResult{
			ExecutionTime: time.Since(startTime),
			Error:         err.Error(),
		}, err
	case result := <-resultCh:
		result.ExecutionTime = time.Since(startTime)
		return result, nil
	}
}

func evaluateSync(thread *starlark.Thread, filename, script string, input map[string]interface{}) (*StarlarkResult, error) {
	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
		"object": starlark.NewBuiltin("object", builtinObject),
	}
	for key, val := range input {
		starlarkVal, err := toStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert input %s: %w", key, err)
		}
		predeclared[key] = starlarkVal
	}

	globals, err := starlark.ExecFile(thread, filename, script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}

	output := make(map[string]interface{})
	for name, val := range globals {
		if len(name) > 0 && name[0] == '_' {
			continue
		}
		// Helper functions defined by the script are not output.
		if _, ok := val.(starlark.Callable); ok {
			continue
		}
		goVal, err := fromStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert output %s: %w", name, err)
		}
		output[name] = goVal
	}

	return &StarlarkResult{
		Output: output,
	}, nil
}

// GenerateDocument runs a script that builds a configuration document. The
// script assigns a list of objects to the global "objects" and may assign
// class declarations to "schema". The builtin object(id, cls, attrs, rels)
// returns one object entry.
func (se *StarlarkEvaluator) GenerateDocument(ctx context.Context, script, filename string, input map[string]interface{}) (*confdb.Document, error) {
	result, err := se.run(ctx, filename, script, input)
	if err != nil {
		return nil, dal.NewBadConfigurationError(fmt.Sprintf("failed to run %s", filename), err).
			WithCode(dal.ErrCodeInvalidDocument)
	}

	raw := map[string]interface{}{}
	objects, ok := result.Output["objects"]
	if !ok {
		return nil, dal.NewBadConfigurationError(fmt.Sprintf("%s does not define objects", filename), nil).
			WithCode(dal.ErrCodeInvalidDocument)
	}
	raw["objects"] = objects
	if schema, ok := result.Output["schema"]; ok {
		raw["schema"] = schema
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, dal.NewBadConfigurationError(fmt.Sprintf("failed to encode output of %s", filename), err).
			WithCode(dal.ErrCodeInvalidDocument)
	}
	return confdb.DecodeJSON(data)
}

func builtinObject(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		id, cls string
		attrs   *starlark.Dict
		rels    *starlark.Dict
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"id", &id, "cls", &cls, "attrs?", &attrs, "rels?", &rels); err != nil {
		return nil, err
	}
	if id == "" || cls == "" {
		return nil, fmt.Errorf("%s: id and cls must not be empty", b.Name())
	}

	obj := starlark.NewDict(4)
	if err := obj.SetKey(starlark.String("id"), starlark.String(id)); err != nil {
		return nil, err
	}
	if err := obj.SetKey(starlark.String("class"), starlark.String(cls)); err != nil {
		return nil, err
	}
	if attrs != nil {
		if err := obj.SetKey(starlark.String("attrs"), attrs); err != nil {
			return nil, err
		}
	}
	if rels != nil {
		if err := obj.SetKey(starlark.String("rels"), rels); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, s := range val {
			list[i] = starlark.String(s)
		}
		return starlark.NewList(list), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		dict := starlark.NewDict(len(val))
		for _, k := range keys {
			starlarkVal, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]interface{}, len(val))
		for i, e := range val {
			item, err := fromStarlarkValue(e)
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
