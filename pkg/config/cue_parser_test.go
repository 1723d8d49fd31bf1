package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/daqconf/pkg/confdb"
	"github.com/openfroyo/daqconf/pkg/dal"
)

func TestCUEParser_ParseSettings(t *testing.T) {
	parser := NewCUEParser()

	tests := []struct {
		name      string
		content   string
		wantErr   bool
		checkFunc func(*testing.T, *Settings)
	}{
		{
			name: "full settings",
			content: `
partition: "ATLAS"
hostname:  "pc-tdq-01"
sources: {
	files: ["db/partition.yaml", "db/segments"]
	watch: true
}
limits: {
	fuse_depth:     200
	max_iterations: 50
	parallelism:    4
}
policy: {
	dir:     "policies"
	fail_on: "warning"
}
telemetry: logging: level: "debug"
`,
			checkFunc: func(t *testing.T, s *Settings) {
				if s.Partition != "ATLAS" || s.Hostname != "pc-tdq-01" {
					t.Errorf("partition/hostname = %q/%q", s.Partition, s.Hostname)
				}
				if len(s.Sources.Files) != 2 || !s.Sources.Watch {
					t.Errorf("sources = %+v", s.Sources)
				}
				if s.Limits.FuseDepth != 200 || s.Limits.MaxIterations != 50 || s.Limits.Parallelism != 4 {
					t.Errorf("limits = %+v", s.Limits)
				}
				if s.Policy.FailOn != "warning" || !s.Policy.Builtin {
					t.Errorf("policy = %+v", s.Policy)
				}
				if s.Telemetry.Logging.Level != "debug" {
					t.Errorf("log level = %q", s.Telemetry.Logging.Level)
				}
				if s.Telemetry.Logging.Format != "console" {
					t.Errorf("default log format lost: %q", s.Telemetry.Logging.Format)
				}
			},
		},
		{
			name:    "empty file keeps defaults",
			content: ``,
			checkFunc: func(t *testing.T, s *Settings) {
				def := DefaultSettings()
				if s.Policy != def.Policy || s.Telemetry.ServiceName != def.Telemetry.ServiceName {
					t.Errorf("defaults not kept: %+v", s)
				}
			},
		},
		{
			name: "remote source",
			content: `
sources: remote: {
	host:  "atlas-gw"
	user:  "daq"
	paths: ["/atlas/oks/partitions"]
	dir:   "/tmp/oks"
}
`,
			checkFunc: func(t *testing.T, s *Settings) {
				r := s.Sources.Remote
				if r == nil || r.Host != "atlas-gw" || r.Paths[0] != "/atlas/oks/partitions" {
					t.Errorf("remote = %+v", r)
				}
			},
		},
		{
			name:    "invalid CUE syntax",
			content: "partition: {\n\tinvalid syntax here\n}\n",
			wantErr: true,
		},
		{
			name:    "schema violation",
			content: `limits: fuse_depth: -3`,
			wantErr: true,
		},
		{
			name:    "unknown field",
			content: `partitions: "ATLAS"`,
			wantErr: true,
		},
		{
			name:    "bad log level",
			content: `telemetry: logging: level: "loud"`,
			wantErr: true,
		},
		{
			name:    "remote without user",
			content: `sources: remote: {host: "gw", paths: ["/x"], dir: "/tmp"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := parser.ParseSettings([]byte(tt.content), "settings.cue")
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got settings %+v", s)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.checkFunc != nil {
				tt.checkFunc(t, s)
			}
		})
	}
}

func TestCUEParser_ErrorPositions(t *testing.T) {
	parser := NewCUEParser()

	_, err := parser.ParseSettings([]byte("partition: \"ok\"\nlimits: fuse_depth: \"deep\"\n"), "settings.cue")
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("error %T is not ValidationErrors: %v", err, err)
	}
	if len(verrs) == 0 {
		t.Fatal("no validation errors reported")
	}
	found := false
	for _, ve := range verrs {
		if ve.File == "settings.cue" && ve.Line == 2 {
			found = true
		}
	}
	if !found {
		t.Errorf("no error located at settings.cue:2: %v", verrs)
	}
	if !strings.Contains(err.Error(), "settings.cue") {
		t.Errorf("error text lacks file name: %v", err)
	}
}

func TestCUEParser_LoadSettings(t *testing.T) {
	parser := NewCUEParser()
	path := filepath.Join(t.TempDir(), "daqconf.cue")
	if err := os.WriteFile(path, []byte(`partition: "test-bed"`), 0o644); err != nil {
		t.Fatalf("failed to write settings: %v", err)
	}

	s, err := parser.LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if s.Partition != "test-bed" {
		t.Errorf("partition = %q", s.Partition)
	}

	if _, err := parser.LoadSettings(filepath.Join(t.TempDir(), "missing.cue")); err == nil {
		t.Error("expected error for missing file")
	}
}

const cueDocument = `
_hosts: ["pc-1", "pc-2"]

schema: [{name: "ReadoutApplication", superclasses: ["RunControlApplication"]}]

objects: [
	for h in _hosts {
		id:    h
		class: "Computer"
		attrs: {State: true, NumberOfCores: 8}
	},
	for i, h in _hosts {
		id:    "ros-\(i)"
		class: "ReadoutApplication"
		attrs: {ActionTimeout: 20, Parameters: "-n ros-\(i)"}
		rels: RunsOn: h
	},
	{
		id:    "hosts"
		class: "ComputerSet"
		rels: Contains: _hosts
	},
]
`

func TestCUEParser_ParseDocument(t *testing.T) {
	parser := NewCUEParser()

	doc, err := parser.ParseDocument([]byte(cueDocument), "ros.cue")
	if err != nil {
		t.Fatalf("ParseDocument failed: %v", err)
	}
	if len(doc.Objects) != 5 {
		t.Fatalf("got %d objects, want 5", len(doc.Objects))
	}

	db := confdb.New()
	if err := db.Load(doc); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	ros, err := db.GetAs("ros-1", dal.ClassRunControlApplication)
	if err != nil {
		t.Fatalf("GetAs failed: %v", err)
	}
	if ros.Int(dal.AttrActionTimeout) != 20 {
		t.Errorf("ActionTimeout = %d", ros.Int(dal.AttrActionTimeout))
	}
	if pc := ros.Ref(dal.RelRunsOn); pc == nil || pc.UID() != "pc-2" || pc.Int(dal.AttrNumberOfCores) != 8 {
		t.Errorf("RunsOn = %v", pc)
	}
	hosts, _ := db.Get("hosts")
	if got := strings.Join(hosts.RelIDs(dal.RelContains), ","); got != "pc-1,pc-2" {
		t.Errorf("Contains = %q", got)
	}
}

func TestCUEParser_ParseDocumentErrors(t *testing.T) {
	parser := NewCUEParser()

	tests := []struct {
		name    string
		content string
	}{
		{"syntax", `objects: [`},
		{"missing class", `objects: [{id: "a"}]`},
		{"bad attribute", `objects: [{id: "a", class: "Computer", attrs: x: {y: 1}}]`},
		{"unknown top level field", `objects: [], extra: 1`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parser.ParseDocument([]byte(tt.content), "bad.cue")
			if !dal.HasCode(err, dal.ErrCodeInvalidDocument) {
				t.Fatalf("error = %v, want INVALID_DOCUMENT", err)
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Errorf("error does not carry ValidationErrors: %v", err)
			}
		})
	}
}

func TestCUEParser_LoadDocumentDirectory(t *testing.T) {
	parser := NewCUEParser()
	dir := t.TempDir()

	files := map[string]string{
		"hosts.cue": "package db\n\n_hosts: [\"pc-1\"]\n",
		"apps.cue": `package db

objects: [for h in _hosts {id: h, class: "Computer"}]
`,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}

	doc, err := parser.LoadDocument(dir)
	if err != nil {
		t.Fatalf("LoadDocument failed: %v", err)
	}
	if len(doc.Objects) != 1 || doc.Objects[0].ID != "pc-1" {
		t.Errorf("objects = %+v", doc.Objects)
	}

	if _, err := parser.LoadDocument(filepath.Join(dir, "missing.cue")); err == nil {
		t.Error("expected error for missing file")
	}
}
