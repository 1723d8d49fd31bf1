package policy

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.Nop(), true)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

// cleanInput describes a partition no builtin rule complains about.
func cleanInput() *Input {
	return &Input{
		Partition: "ATLAS",
		Segments: []SegmentInput{
			{ID: "online", Class: "OnlineSegment", Controller: "online-ctrl", Hosts: []string{"pc-1"}, Applications: 1, Nested: 1, ActionTimeout: 20, ShortTimeout: 10},
			{ID: "ros", Class: "Segment", Parent: "online", Controller: "ros-ctrl", Hosts: []string{"pc-1"}, Applications: 2, ActionTimeout: 20, ShortTimeout: 10},
		},
		Applications: []ApplicationInput{
			{ID: "ros-1", Class: "Application", Segment: "ros", Host: "pc-1", BackupHosts: []string{"pc-2"}, Tag: "x86_64-opt"},
			{ID: "ros-2", Class: "Application", Segment: "ros", Host: "pc-2", BackupHosts: []string{}, Tag: "x86_64-opt"},
		},
		Hosts: []HostInput{
			{ID: "pc-1", HWTag: "x86_64", Enabled: true},
			{ID: "pc-2", HWTag: "x86_64", Enabled: true},
		},
		Disabled: []string{},
	}
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	var names []string
	for _, p := range eng.ListPolicies() {
		if !p.Builtin {
			t.Errorf("policy %s not marked builtin", p.Name)
		}
		names = append(names, p.Name)
	}
	want := "backup-hosts,disabled-hosts,empty-segment,environment,naming,timeouts"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("policies = %q, want %q", got, want)
	}

	bare, err := NewEngine(zerolog.Nop(), false)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	if n := len(bare.ListPolicies()); n != 0 {
		t.Errorf("engine without builtins has %d policies", n)
	}
}

func TestEvaluate_BuiltinRules(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		mutate   func(*Input)
		policy   string
		object   string
		severity Severity
	}{
		{
			name: "environment failure",
			mutate: func(in *Input) {
				in.Applications[0].EnvironmentError = "no compatible tag"
				in.Applications[0].ErrorCode = "BAD_TAG"
			},
			policy:   "environment",
			object:   "ros-1",
			severity: SeverityError,
		},
		{
			name:     "missing action timeout",
			mutate:   func(in *Input) { in.Segments[1].ActionTimeout, in.Segments[1].ShortTimeout = 0, 0 },
			policy:   "timeouts",
			object:   "ros",
			severity: SeverityWarning,
		},
		{
			name:     "short timeout above action timeout",
			mutate:   func(in *Input) { in.Segments[1].ShortTimeout = 30 },
			policy:   "timeouts",
			object:   "ros",
			severity: SeverityWarning,
		},
		{
			name:     "backup equals host",
			mutate:   func(in *Input) { in.Applications[1].BackupHosts = []string{"pc-2"} },
			policy:   "backup-hosts",
			object:   "ros-2",
			severity: SeverityWarning,
		},
		{
			name:     "disabled host",
			mutate:   func(in *Input) { in.Hosts[1].Enabled = false },
			policy:   "disabled-hosts",
			object:   "ros-2",
			severity: SeverityError,
		},
		{
			name:     "segment with only a controller",
			mutate:   func(in *Input) { in.Segments[1].Applications = 0 },
			policy:   "empty-segment",
			object:   "ros",
			severity: SeverityInfo,
		},
		{
			name:     "bad id",
			mutate:   func(in *Input) { in.Applications[0].ID = "ros 1" },
			policy:   "naming",
			object:   "ros 1",
			severity: SeverityWarning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := cleanInput()
			tt.mutate(in)

			report, err := eng.Evaluate(ctx, in)
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if len(report.Errors) > 0 {
				t.Fatalf("policy errors: %v", report.Errors)
			}
			if len(report.Violations) != 1 {
				t.Fatalf("got %d violations, want 1: %+v", len(report.Violations), report.Violations)
			}
			v := report.Violations[0]
			if v.Policy != tt.policy || v.Object != tt.object || v.Severity != tt.severity {
				t.Errorf("violation = %+v, want %s on %s (%s)", v, tt.policy, tt.object, tt.severity)
			}
			if v.Message == "" {
				t.Error("violation has no message")
			}
		})
	}
}

func TestEvaluate_Clean(t *testing.T) {
	eng := newTestEngine(t)

	report, err := eng.Evaluate(context.Background(), cleanInput())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(report.Violations) != 0 {
		t.Errorf("unexpected violations: %+v", report.Violations)
	}
	if len(report.Evaluated) != 6 {
		t.Errorf("evaluated %d policies, want 6", len(report.Evaluated))
	}
	if report.Failed(SeverityInfo) {
		t.Error("clean report should not fail")
	}
	if report.Partition != "ATLAS" {
		t.Errorf("partition = %q", report.Partition)
	}
}

func TestEvaluate_DisabledSegmentsSkipped(t *testing.T) {
	eng := newTestEngine(t)

	in := cleanInput()
	in.Segments[1].Disabled = true
	in.Segments[1].ActionTimeout = 0
	in.Segments[1].Applications = 0
	in.Disabled = []string{"ros"}

	report, err := eng.Evaluate(context.Background(), in)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(report.Violations) != 0 {
		t.Errorf("disabled segment reported: %+v", report.Violations)
	}
}

func TestAddPolicy(t *testing.T) {
	eng, err := NewEngine(zerolog.Nop(), false)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	ctx := context.Background()

	custom := Policy{
		Name:     "two-hosts",
		Severity: SeverityError,
		Enabled:  true,
		Rego: `package site.hosts

deny contains "partition needs at least three hosts" if {
	count(input.hosts) < 3
}

deny contains violation if {
	some host in input.hosts
	host.hw_tag != "x86_64"
	violation := {"object": host.id, "message": "unsupported hardware", "severity": "info", "details": {"tag": host.hw_tag}}
}
`,
	}
	if err := eng.AddPolicy(ctx, custom); err != nil {
		t.Fatalf("AddPolicy failed: %v", err)
	}

	in := cleanInput()
	in.Hosts[1].HWTag = "aarch64"
	report, err := eng.Evaluate(ctx, in)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(report.Violations) != 2 {
		t.Fatalf("got %d violations, want 2: %+v", len(report.Violations), report.Violations)
	}

	// errors sort before infos
	first, second := report.Violations[0], report.Violations[1]
	if first.Severity != SeverityError || first.Message != "partition needs at least three hosts" || first.Object != "" {
		t.Errorf("first violation = %+v", first)
	}
	if second.Severity != SeverityInfo || second.Object != "pc-2" || second.Details["tag"] != "aarch64" {
		t.Errorf("second violation = %+v", second)
	}
	if report.Count(SeverityError) != 1 || report.Count(SeverityInfo) != 1 {
		t.Errorf("counts = %d errors, %d infos", report.Count(SeverityError), report.Count(SeverityInfo))
	}
	if !report.Failed(SeverityError) {
		t.Error("report with an error should fail")
	}
}

func TestAddPolicy_Invalid(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name string
		rego string
	}{
		{"syntax", "package bad\n\ndeny contains x if {"},
		{"v0 syntax", "package bad\n\ndeny[msg] { msg := \"x\" }"},
		{"unsafe variable", "package bad\n\ndeny contains x if { y == 1 }"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := eng.AddPolicy(context.Background(), Policy{Name: "bad", Rego: tt.rego, Enabled: true}); err == nil {
				t.Error("expected compile error")
			}
		})
	}
	if _, err := eng.GetPolicy("bad"); err == nil {
		t.Error("invalid policy was added")
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	in := cleanInput()
	in.Segments[1].Applications = 0

	if err := eng.DisablePolicy("empty-segment"); err != nil {
		t.Fatalf("DisablePolicy failed: %v", err)
	}
	report, err := eng.Evaluate(ctx, in)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(report.Violations) != 0 || len(report.Evaluated) != 5 {
		t.Errorf("disabled policy still evaluated: %+v", report)
	}

	if err := eng.EnablePolicy("empty-segment"); err != nil {
		t.Fatalf("EnablePolicy failed: %v", err)
	}
	report, err = eng.Evaluate(ctx, in)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(report.Violations) != 1 {
		t.Errorf("got %d violations after enabling, want 1", len(report.Violations))
	}

	if err := eng.EnablePolicy("missing"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestReplacePolicies(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	first := []Policy{{Name: "site-a", Enabled: true, Severity: SeverityWarning, Rego: "package site.a\n\ndeny contains \"a\" if { true }\n"}}
	if err := eng.ReplacePolicies(ctx, first); err != nil {
		t.Fatalf("ReplacePolicies failed: %v", err)
	}
	second := []Policy{{Name: "site-b", Enabled: true, Severity: SeverityWarning, Rego: "package site.b\n\ndeny contains \"b\" if { true }\n"}}
	if err := eng.ReplacePolicies(ctx, second); err != nil {
		t.Fatalf("ReplacePolicies failed: %v", err)
	}

	if _, err := eng.GetPolicy("site-a"); err == nil {
		t.Error("site-a survived replacement")
	}
	if _, err := eng.GetPolicy("site-b"); err != nil {
		t.Errorf("site-b missing: %v", err)
	}
	if _, err := eng.GetPolicy("naming"); err != nil {
		t.Errorf("builtin policy removed: %v", err)
	}

	broken := []Policy{{Name: "broken", Rego: "package x\ndeny contains"}}
	if err := eng.ReplacePolicies(ctx, broken); err == nil {
		t.Fatal("expected error for broken policy")
	}
	if _, err := eng.GetPolicy("site-b"); err != nil {
		t.Error("failed replacement removed existing policies")
	}
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		in        string
		want      Severity
		atLeastWn bool
	}{
		{"error", SeverityError, true},
		{"warning", SeverityWarning, true},
		{"info", SeverityInfo, false},
		{"critical", SeverityWarning, true},
		{"", SeverityWarning, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			s := ParseSeverity(tt.in)
			if s != tt.want {
				t.Errorf("ParseSeverity(%q) = %s, want %s", tt.in, s, tt.want)
			}
			if s.AtLeast(SeverityWarning) != tt.atLeastWn {
				t.Errorf("%s.AtLeast(warning) = %v", s, !tt.atLeastWn)
			}
		})
	}
}
