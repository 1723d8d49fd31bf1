package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const partitionYAML = `
objects:
  - id: h1
    class: Computer
    attrs: {State: true, HW_Tag: x86_64}
  - id: t-opt
    class: Tag
    attrs: {HW_Tag: x86_64, SW_Tag: gcc-opt}
  - id: sw
    class: SW_Repository
    attrs:
      InstallationPath: /sw
      Tags: [x86_64-gcc-opt]
  - id: bin
    class: Binary
    attrs: {BinaryName: app}
    rels: {BelongsTo: sw}
  - id: online-ctrl
    class: RunControlApplication
    rels: {Program: bin}
  - id: online
    class: OnlineSegment
    rels: {Hosts: h1, IsControlledBy: online-ctrl}
  - id: daq-ctrl
    class: RunControlApplication
    attrs: {ActionTimeout: 10}
    rels: {Program: bin}
  - id: a
    class: Application
    rels: {Program: bin}
  - id: b
    class: Application
    rels: {Program: bin, InitializationDependsFrom: a}
  - id: c
    class: Application
  - id: daq
    class: Segment
    rels:
      Hosts: h1
      IsControlledBy: daq-ctrl
      Applications: [a, b, c]
  - id: p
    class: Partition
    attrs: {LogRoot: /logs}
    rels:
      OnlineInfrastructure: online
      Segments: daq
      DefaultTags: t-opt
`

// fixture writes the partition document and returns its path and a state
// database path.
func fixture(t *testing.T) (data, state string) {
	t.Helper()
	dir := t.TempDir()
	data = filepath.Join(dir, "partition.yaml")
	if err := os.WriteFile(data, []byte(partitionYAML), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	return data, filepath.Join(dir, "state.db")
}

// run executes the command line with fresh global flags.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, verbose, jsonOutput = "", false, false
	dataPaths, partitionID, statePath = nil, "", ""

	cmd := newRootCommand("test", "none", "today")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSegments(t *testing.T) {
	data, state := fixture(t)

	out, err := run(t, "segments", "-d", data, "-p", "p", "--state", state)
	if err != nil {
		t.Fatalf("segments failed: %v", err)
	}
	if out != "online\n  daq\n" {
		t.Errorf("segments output = %q", out)
	}

	out, err = run(t, "segments", "-d", data, "-p", "p", "--state", state, "--json")
	if err != nil {
		t.Fatalf("segments --json failed: %v", err)
	}
	var tree segmentNode
	if err := json.Unmarshal([]byte(out), &tree); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if tree.ID != "online" || len(tree.Nested) != 1 || tree.Nested[0].ID != "daq" {
		t.Errorf("tree = %+v", tree)
	}
}

func TestApps(t *testing.T) {
	data, state := fixture(t)

	out, err := run(t, "apps", "-d", data, "-p", "p", "--state", state, "--segment", "daq", "--json")
	if err != nil {
		t.Fatalf("apps failed: %v", err)
	}
	var apps []appInfo
	if err := json.Unmarshal([]byte(out), &apps); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	ids := make([]string, 0, len(apps))
	for _, a := range apps {
		ids = append(ids, a.ID)
		if a.Segment != "daq" || a.Host != "h1" {
			t.Errorf("app = %+v", a)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		if !strings.Contains(","+strings.Join(ids, ",")+",", ","+want+",") {
			t.Errorf("application %s missing from %v", want, ids)
		}
	}
}

func TestAppDepends(t *testing.T) {
	data, state := fixture(t)

	out, err := run(t, "app-depends", "b", "-d", data, "-p", "p", "--state", state)
	if err != nil {
		t.Fatalf("app-depends failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[1], "b ") || !strings.Contains(lines[1], " a ") {
		t.Errorf("app-depends output = %q", out)
	}

	out, err = run(t, "app-depends", "--order", "startup", "--dot", "-d", data, "-p", "p", "--state", state)
	if err != nil {
		t.Fatalf("app-depends --order failed: %v", err)
	}
	if !strings.Contains(out, `"a" -> "b";`) {
		t.Errorf("DOT output misses a -> b:\n%s", out)
	}

	if _, err := run(t, "app-depends", "--order", "sideways", "-d", data, "-p", "p", "--state", state); err == nil {
		t.Error("expected error for unknown order")
	}
}

func TestTimeoutsAndParents(t *testing.T) {
	data, state := fixture(t)

	out, err := run(t, "timeouts", "daq", "-d", data, "-p", "p", "--state", state, "--json")
	if err != nil {
		t.Fatalf("timeouts failed: %v", err)
	}
	var timeouts []struct {
		Segment string
		Action  int64
	}
	if err := json.Unmarshal([]byte(out), &timeouts); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(timeouts) != 1 || timeouts[0].Action != 10 {
		t.Errorf("timeouts = %+v", timeouts)
	}

	out, err = run(t, "parents", "a", "-d", data, "-p", "p", "--state", state)
	if err != nil {
		t.Fatalf("parents failed: %v", err)
	}
	if !strings.HasSuffix(strings.TrimSpace(out), "daq -> a") {
		t.Errorf("parents output = %q", out)
	}
}

func TestDisabledOverrides(t *testing.T) {
	data, state := fixture(t)
	base := []string{"-d", data, "-p", "p", "--state", state}

	out, err := run(t, append([]string{"disabled", "daq", "--disable", "daq"}, base...)...)
	if err != nil {
		t.Fatalf("disabled failed: %v", err)
	}
	if !strings.Contains(out, "true") {
		t.Errorf("daq not disabled for the run: %q", out)
	}

	// run-only overrides are not kept
	out, _ = run(t, append([]string{"segments"}, base...)...)
	if strings.Contains(out, "(disabled)") {
		t.Errorf("override leaked into a later run: %q", out)
	}

	if _, err := run(t, append([]string{"disabled", "--disable", "daq", "--save"}, base...)...); err != nil {
		t.Fatalf("disabled --save failed: %v", err)
	}
	out, err = run(t, append([]string{"segments"}, base...)...)
	if err != nil {
		t.Fatalf("segments failed: %v", err)
	}
	if !strings.Contains(out, "daq (disabled)") {
		t.Errorf("saved override not applied: %q", out)
	}

	out, err = run(t, append([]string{"disabled", "--list"}, base...)...)
	if err != nil {
		t.Fatalf("disabled --list failed: %v", err)
	}
	if !strings.Contains(out, "daq") || !strings.Contains(out, "disabled") {
		t.Errorf("list output = %q", out)
	}

	if _, err := run(t, append([]string{"disabled", "--clear"}, base...)...); err != nil {
		t.Fatalf("disabled --clear failed: %v", err)
	}
	out, _ = run(t, append([]string{"segments"}, base...)...)
	if strings.Contains(out, "(disabled)") {
		t.Errorf("cleared override still applied: %q", out)
	}
}

func TestValidate(t *testing.T) {
	data, state := fixture(t)
	base := []string{"-d", data, "-p", "p", "--state", state}

	out, err := run(t, append([]string{"validate", "--json"}, base...)...)
	if !errors.Is(err, errLintFailed) {
		t.Fatalf("validate error = %v, want lint failure", err)
	}
	if ExitCode(err) != 2 {
		t.Errorf("exit code = %d, want 2", ExitCode(err))
	}
	var report struct {
		Violations []struct {
			Policy   string `json:"policy"`
			Object   string `json:"object"`
			Severity string `json:"severity"`
		} `json:"violations"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	found := false
	for _, v := range report.Violations {
		if v.Policy == "environment" && v.Object == "c" && v.Severity == "error" {
			found = true
		}
	}
	if !found {
		t.Errorf("no environment error on c: %+v", report.Violations)
	}

	// the builtin rules are the only ones failing
	if _, err := run(t, append([]string{"validate", "--no-builtin"}, base...)...); err != nil {
		t.Errorf("validate --no-builtin failed: %v", err)
	}

	out, err = run(t, append([]string{"validate", "--history", "5", "--json"}, base...)...)
	if err != nil {
		t.Fatalf("validate --history failed: %v", err)
	}
	var runs []struct {
		Failed bool `json:"failed"`
		Errors int  `json:"errors"`
	}
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d recorded runs, want 2", len(runs))
	}
	if runs[1].Errors != 1 || !runs[1].Failed {
		t.Errorf("first run = %+v", runs[1])
	}
}

func TestValidate_SitePolicy(t *testing.T) {
	data, state := fixture(t)
	policies := t.TempDir()
	rule := `# severity: warning
package site.segments

deny contains violation if {
	some seg in input.segments
	seg.id == "daq"
	violation := {"object": seg.id, "message": "daq segment found"}
}
`
	if err := os.WriteFile(filepath.Join(policies, "daq.rego"), []byte(rule), 0o644); err != nil {
		t.Fatalf("failed to write policy: %v", err)
	}

	out, err := run(t, "validate", "--no-builtin", "--policy", policies, "--fail-on", "warning", "-d", data, "-p", "p", "--state", state)
	if !errors.Is(err, errLintFailed) {
		t.Fatalf("validate error = %v, want lint failure", err)
	}
	if !strings.Contains(out, "daq segment found") {
		t.Errorf("site violation missing:\n%s", out)
	}
}

func TestDBExportImport(t *testing.T) {
	data, state := fixture(t)
	snapshot := filepath.Join(t.TempDir(), "snapshot.db")

	if _, err := run(t, "db", "export", snapshot, "-d", data); err != nil {
		t.Fatalf("db export failed: %v", err)
	}

	out, err := run(t, "db", "info", snapshot, "--json")
	if err != nil {
		t.Fatalf("db info failed: %v", err)
	}
	var info struct{ Objects int }
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if info.Objects != 12 {
		t.Errorf("snapshot has %d objects, want 12", info.Objects)
	}

	exported := filepath.Join(t.TempDir(), "partition.yaml")
	if _, err := run(t, "db", "import", snapshot, "-o", exported); err != nil {
		t.Fatalf("db import failed: %v", err)
	}

	// the snapshot is a source on its own, and so is its YAML form
	for _, src := range []string{snapshot, exported} {
		out, err := run(t, "segments", "-d", src, "-p", "p", "--state", state)
		if err != nil {
			t.Fatalf("segments from %s failed: %v", src, err)
		}
		if out != "online\n  daq\n" {
			t.Errorf("segments from %s = %q", src, out)
		}
	}
}

func TestSessionErrors(t *testing.T) {
	data, state := fixture(t)

	tests := []struct {
		name string
		args []string
	}{
		{"no partition", []string{"segments", "-d", data, "--state", state}},
		{"no sources", []string{"segments", "-p", "p", "--state", state}},
		{"unknown partition", []string{"segments", "-d", data, "-p", "q", "--state", state}},
		{"missing source", []string{"segments", "-d", data + ".missing", "-p", "p", "--state", state}},
		{"app-env without app", []string{"app-env", "-d", data, "-p", "p", "--state", state}},
		{"program without tag", []string{"app-env", "--program", "bin", "-d", data, "-p", "p", "--state", state}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DAQCONF_PARTITION", "")
			if _, err := run(t, tt.args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}
