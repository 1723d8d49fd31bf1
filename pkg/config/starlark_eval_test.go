package config

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/daqconf/pkg/dal"
)

func TestStarlarkEvaluator_Evaluate(t *testing.T) {
	evaluator := NewStarlarkEvaluator(5 * time.Second)
	ctx := context.Background()

	tests := []struct {
		name      string
		script    string
		input     map[string]interface{}
		checkFunc func(*testing.T, *StarlarkResult)
		wantErr   bool
	}{
		{
			name:   "simple arithmetic",
			script: `result = 2 + 2`,
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if sr.Output["result"] != int64(4) {
					t.Errorf("expected result=4, got %v", sr.Output["result"])
				}
			},
		},
		{
			name:   "use input variables",
			script: `doubled = count * 2`,
			input:  map[string]interface{}{"count": 5},
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				if sr.Output["doubled"] != int64(10) {
					t.Errorf("expected doubled=10, got %v", sr.Output["doubled"])
				}
			},
		},
		{
			name: "helper functions are not output",
			script: `
def make_list(n):
    result = []
    for i in range(n):
        result.append(i * 2)
    return result

output = make_list(5)
_hidden = 1
`,
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				output, ok := sr.Output["output"].([]interface{})
				if !ok {
					t.Fatalf("expected output to be a list, got %T", sr.Output["output"])
				}
				if len(output) != 5 || output[4] != int64(8) {
					t.Errorf("unexpected list values: %v", output)
				}
				if _, ok := sr.Output["make_list"]; ok {
					t.Error("function make_list leaked into output")
				}
				if _, ok := sr.Output["_hidden"]; ok {
					t.Error("private global leaked into output")
				}
			},
		},
		{
			name:   "tuple becomes list",
			script: `pair = ("a", 1)`,
			checkFunc: func(t *testing.T, sr *StarlarkResult) {
				pair, ok := sr.Output["pair"].([]interface{})
				if !ok || len(pair) != 2 || pair[0] != "a" {
					t.Errorf("pair = %#v", sr.Output["pair"])
				}
			},
		},
		{
			name:    "syntax error",
			script:  `invalid syntax here`,
			wantErr: true,
		},
		{
			name:    "runtime error",
			script:  `result = undefined_variable`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := evaluator.Evaluate(ctx, tt.script, tt.input)

			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got none")
				}
				if result == nil || result.Error == "" {
					t.Errorf("expected error in result")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.checkFunc != nil {
				tt.checkFunc(t, result)
			}
		})
	}
}

func TestStarlarkEvaluator_Timeout(t *testing.T) {
	evaluator := NewStarlarkEvaluator(100 * time.Millisecond)

	script := `
def slow_function():
    result = 0
    for i in range(100000000):
        result = result + i
    return result

output = slow_function()
`

	result, err := evaluator.Evaluate(context.Background(), script, nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if result == nil || !strings.Contains(result.Error, "timeout") {
		t.Errorf("expected timeout error in result, got %+v", result)
	}
}

func TestStarlarkEvaluator_TypeConversion(t *testing.T) {
	evaluator := NewStarlarkEvaluator(5 * time.Second)
	ctx := context.Background()

	tests := []struct {
		name   string
		input  map[string]interface{}
		script string
		want   interface{}
	}{
		{"bool", map[string]interface{}{"enabled": true}, `result = enabled and True`, true},
		{"int", map[string]interface{}{"count": 42}, `result = count + 8`, int64(50)},
		{"int64", map[string]interface{}{"count": int64(7)}, `result = count * 2`, int64(14)},
		{"float", map[string]interface{}{"price": 1.5}, `result = price * 2`, 3.0},
		{"string", map[string]interface{}{"name": "test"}, `result = name + "-suffix"`, "test-suffix"},
		{"string list", map[string]interface{}{"hosts": []string{"a", "b"}}, `result = ",".join(hosts)`, "a,b"},
		{"list", map[string]interface{}{"items": []interface{}{"a", "b", "c"}}, `result = len(items)`, int64(3)},
		{"none", map[string]interface{}{"nothing": nil}, `result = nothing == None`, true},
		{
			"dict",
			map[string]interface{}{"config": map[string]interface{}{"host": "localhost", "port": 8080}},
			`result = config["host"] + ":" + str(config["port"])`,
			"localhost:8080",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := evaluator.Evaluate(ctx, tt.script, tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Output["result"] != tt.want {
				t.Errorf("result = %#v, want %#v", result.Output["result"], tt.want)
			}
		})
	}

	if _, err := evaluator.Evaluate(ctx, `x = 1`, map[string]interface{}{"bad": struct{}{}}); err == nil {
		t.Error("expected error for unsupported input type")
	}
}

func TestStarlarkEvaluator_PrintSuppressed(t *testing.T) {
	evaluator := NewStarlarkEvaluator(5 * time.Second)

	script := `
print("this should not appear")
result = "done"
`
	result, err := evaluator.Evaluate(context.Background(), script, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Output["result"] != "done" {
		t.Errorf("expected result='done', got %v", result.Output["result"])
	}
}

func TestStarlarkEvaluator_GenerateDocument(t *testing.T) {
	evaluator := NewStarlarkEvaluator(5 * time.Second)

	script := `
schema = [{"name": "ReadoutApplication", "superclasses": ["Application"]}]

objects = [
    object("pc-%d" % i, "Computer", attrs = {"HW_Tag": "x86_64"})
    for i in range(count)
] + [
    object("ros-%d" % i, "ReadoutApplication",
           attrs = {"ExitTimeout": 5, "Weight": 0.5, "Args": ["-v", "-n"]},
           rels = {"RunsOn": "pc-%d" % i, "Uses": ["pc-0", "pc-1"]})
    for i in range(count)
]
`
	doc, err := evaluator.GenerateDocument(context.Background(), script, "ros.star", map[string]interface{}{"count": 2})
	if err != nil {
		t.Fatalf("GenerateDocument failed: %v", err)
	}

	if len(doc.Schema) != 1 || doc.Schema[0].Name != "ReadoutApplication" {
		t.Errorf("schema = %+v", doc.Schema)
	}
	if len(doc.Objects) != 4 {
		t.Fatalf("got %d objects, want 4", len(doc.Objects))
	}
	if err := doc.Validate(); err != nil {
		t.Errorf("generated document does not validate: %v", err)
	}

	ros := doc.Objects[3]
	if ros.ID != "ros-1" || ros.Class != "ReadoutApplication" {
		t.Errorf("object = %s@%s", ros.ID, ros.Class)
	}
	if got := strings.Join(ros.Rels["RunsOn"], ","); got != "pc-1" {
		t.Errorf("RunsOn = %q, want pc-1", got)
	}
	if got := strings.Join(ros.Rels["Uses"], ","); got != "pc-0,pc-1" {
		t.Errorf("Uses = %q", got)
	}
	if len(ros.Attrs) != 3 {
		t.Errorf("attrs = %v", ros.Attrs)
	}
}

func TestStarlarkEvaluator_GenerateDocumentErrors(t *testing.T) {
	evaluator := NewStarlarkEvaluator(5 * time.Second)

	tests := []struct {
		name   string
		script string
	}{
		{"no objects", `schema = []`},
		{"empty id", `objects = [object("", "Computer")]`},
		{"bad attrs", `objects = [object("a", "Computer", attrs = [1])]`},
		{"script error", `objects = missing`},
		{"not a list", `objects = "a"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := evaluator.GenerateDocument(context.Background(), tt.script, "bad.star", nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if !dal.HasCode(err, dal.ErrCodeInvalidDocument) {
				t.Errorf("error = %v, want INVALID_DOCUMENT", err)
			}
		})
	}
}
