package config

import (
	"fmt"
	"strings"

	"github.com/openfroyo/daqconf/pkg/telemetry"
)

// Environment variables overriding the settings file.
const (
	EnvPartition = "DAQCONF_PARTITION"
	EnvLogLevel  = "LOG_LEVEL"
)

// Settings is the configuration of the daqconf tool.
type Settings struct {
	// Partition is the id of the partition object to resolve.
	Partition string `json:"partition,omitempty"`

	// Hostname replaces the local host name used for segments without
	// enabled hosts.
	Hostname string `json:"hostname,omitempty"`

	Sources SourcesConfig `json:"sources"`
	Limits  LimitsConfig  `json:"limits"`
	Policy  PolicyConfig  `json:"policy"`

	Telemetry *telemetry.Config `json:"telemetry,omitempty"`
}

// SourcesConfig lists where configuration documents come from.
type SourcesConfig struct {
	// Files are documents or directories of documents (.yaml, .yml, .cue,
	// .star, .db).
	Files []string `json:"files,omitempty"`

	// Watch reloads the files when they change.
	Watch bool `json:"watch,omitempty"`

	// Remote is an optional SFTP location the documents are fetched from.
	Remote *RemoteConfig `json:"remote,omitempty"`
}

// RemoteConfig is an SFTP location holding configuration documents.
type RemoteConfig struct {
	Host    string   `json:"host" validate:"required"`
	Port    int      `json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	User    string   `json:"user" validate:"required"`
	KeyFile string   `json:"key_file,omitempty"`
	Paths   []string `json:"paths" validate:"required,min=1"`

	// Dir is the local directory the documents are copied to.
	Dir string `json:"dir" validate:"required"`

	// InsecureHostKey skips the known_hosts check.
	InsecureHostKey bool `json:"insecure_host_key,omitempty"`
}

// LimitsConfig bounds the resolution algorithms. Zero selects the default
// of each algorithm.
type LimitsConfig struct {
	// FuseDepth bounds every recursive descent.
	FuseDepth int `json:"fuse_depth,omitempty" validate:"gte=0"`

	// MaxIterations caps the disabled closure passes.
	MaxIterations int `json:"max_iterations,omitempty" validate:"gte=0"`

	// Parallelism bounds concurrent environment builds.
	Parallelism int `json:"parallelism,omitempty" validate:"gte=0"`
}

// PolicyConfig configures the Rego lint rules.
type PolicyConfig struct {
	// Dir holds .rego files. Empty disables linting unless the builtin
	// rules are enabled.
	Dir string `json:"dir,omitempty"`

	// Builtin enables the rules shipped with the tool.
	Builtin bool `json:"builtin,omitempty"`

	// FailOn is the lowest severity failing validation (error, warning).
	FailOn string `json:"fail_on,omitempty" validate:"omitempty,oneof=error warning"`
}

// DefaultSettings returns the settings used without a settings file.
func DefaultSettings() *Settings {
	return &Settings{
		Policy: PolicyConfig{
			Builtin: true,
			FailOn:  "error",
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// ApplyEnv overrides the settings from the environment read by getenv.
func (s *Settings) ApplyEnv(getenv func(string) (string, bool)) {
	if v, ok := getenv(EnvPartition); ok && v != "" {
		s.Partition = v
	}
	if v, ok := getenv(EnvLogLevel); ok && v != "" {
		if s.Telemetry == nil {
			s.Telemetry = telemetry.DefaultConfig()
		}
		s.Telemetry.Logging.Level = strings.ToLower(v)
	}
}

// ValidationError describes one problem found in a settings file or a CUE
// document.
type ValidationError struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// ValidationErrors is returned when a file does not pass its schema.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return "validation failed"
	case 1:
		return e[0].String()
	}
	lines := make([]string, len(e))
	for i, v := range e {
		lines[i] = v.String()
	}
	return fmt.Sprintf("%d validation errors:\n  %s", len(e), strings.Join(lines, "\n  "))
}
