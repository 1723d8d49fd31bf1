package policy

import (
	"sort"
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational findings.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for findings that make the partition unusable.
	SeverityError Severity = "error"
)

func (s Severity) rank() int {
	switch s {
	case SeverityError:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s is as severe as threshold.
func (s Severity) AtLeast(threshold Severity) bool {
	return s.rank() >= threshold.rank()
}

// ParseSeverity converts a string to a Severity, defaulting to warning.
func ParseSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityInfo, SeverityWarning, SeverityError:
		return Severity(s)
	}
	return SeverityWarning
}

// Policy is a Rego module whose deny set reports violations.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	Description string `json:"description,omitempty"`

	// Rego contains the module source.
	Rego string `json:"rego"`

	// Severity applies to violations that do not set their own.
	Severity Severity `json:"severity"`

	Enabled bool `json:"enabled"`

	// Builtin marks the rules shipped with the tool.
	Builtin bool `json:"builtin,omitempty"`

	// Source is the file the policy was read from.
	Source string `json:"source,omitempty"`
}

// Violation is one finding of a policy.
type Violation struct {
	Policy   string   `json:"policy"`
	Object   string   `json:"object,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`

	Details map[string]interface{} `json:"details,omitempty"`
}

// Report is the result of linting one partition.
type Report struct {
	Partition  string      `json:"partition"`
	Violations []Violation `json:"violations"`

	// Evaluated lists the policies that ran.
	Evaluated []string `json:"evaluated"`

	// Errors lists policies that failed to evaluate.
	Errors []string `json:"errors,omitempty"`

	EvaluatedAt time.Time     `json:"evaluated_at"`
	Duration    time.Duration `json:"duration"`
}

// Count returns the number of violations with exactly severity s.
func (r *Report) Count(s Severity) int {
	n := 0
	for _, v := range r.Violations {
		if v.Severity == s {
			n++
		}
	}
	return n
}

// Failed reports whether any violation reaches threshold or a policy could
// not be evaluated.
func (r *Report) Failed(threshold Severity) bool {
	if len(r.Errors) > 0 {
		return true
	}
	for _, v := range r.Violations {
		if v.Severity.AtLeast(threshold) {
			return true
		}
	}
	return false
}

func (r *Report) sort() {
	sort.SliceStable(r.Violations, func(i, j int) bool {
		a, b := r.Violations[i], r.Violations[j]
		if a.Severity.rank() != b.Severity.rank() {
			return a.Severity.rank() > b.Severity.rank()
		}
		if a.Policy != b.Policy {
			return a.Policy < b.Policy
		}
		if a.Object != b.Object {
			return a.Object < b.Object
		}
		return a.Message < b.Message
	})
	sort.Strings(r.Evaluated)
}

// Input is the document policies are evaluated against. It describes the
// resolved partition as seen through the engine.
type Input struct {
	Partition    string             `json:"partition"`
	LogDirectory string             `json:"log_directory,omitempty"`
	Segments     []SegmentInput     `json:"segments"`
	Applications []ApplicationInput `json:"applications"`
	Hosts        []HostInput        `json:"hosts"`

	// Disabled lists the ids of disabled segments.
	Disabled []string `json:"disabled"`

	// Errors holds resolution failures that did not stop the lint.
	Errors []string `json:"errors,omitempty"`
}

// SegmentInput describes a resolved segment.
type SegmentInput struct {
	ID         string   `json:"id"`
	Class      string   `json:"class"`
	Parent     string   `json:"parent,omitempty"`
	Templated  bool     `json:"templated"`
	Disabled   bool     `json:"disabled"`
	Controller string   `json:"controller,omitempty"`
	Hosts      []string `json:"hosts"`

	// Applications counts the infrastructure and ordinary applications.
	Applications int `json:"applications"`
	Nested       int `json:"nested"`

	ActionTimeout int64 `json:"action_timeout"`
	ShortTimeout  int64 `json:"short_timeout"`
}

// ApplicationInput describes a resolved application.
type ApplicationInput struct {
	ID          string   `json:"id"`
	Class       string   `json:"class"`
	Segment     string   `json:"segment"`
	Host        string   `json:"host,omitempty"`
	BackupHosts []string `json:"backup_hosts"`
	Templated   bool     `json:"templated"`

	// Tag is the tag the environment was built for.
	Tag string `json:"tag,omitempty"`

	// EnvironmentError is set when the environment cannot be built.
	EnvironmentError string `json:"environment_error,omitempty"`
	ErrorCode        string `json:"error_code,omitempty"`

	InitDependsFrom     []string `json:"init_depends_from"`
	ShutdownDependsFrom []string `json:"shutdown_depends_from"`
}

// HostInput describes a computer used by the partition.
type HostInput struct {
	ID      string `json:"id"`
	HWTag   string `json:"hw_tag,omitempty"`
	Enabled bool   `json:"enabled"`
}
