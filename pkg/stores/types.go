package stores

import (
	"context"
	"database/sql"
	"time"
)

// Audit actions.
const (
	ActionOverrideSet     = "override.set"
	ActionOverrideCleared = "override.cleared"
)

// Override is a user decision to disable or re-enable one object of a
// partition. Overrides are replayed into the engine on every run.
type Override struct {
	Partition string    `json:"partition"`
	ObjectID  string    `json:"object_id"`
	Disabled  bool      `json:"disabled"`
	Actor     string    `json:"actor"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LintRun is one recorded policy evaluation.
type LintRun struct {
	ID        string        `json:"id"`
	Partition string        `json:"partition"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Errors    int           `json:"errors"`
	Warnings  int           `json:"warnings"`
	Infos     int           `json:"infos"`
	Failed    bool          `json:"failed"`
	Report    string        `json:"report"` // JSON blob
}

// Event is a persisted cache event (tree built, invalidated, reloaded).
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Partition string    `json:"partition"`
	Component string    `json:"component"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Data      *string   `json:"data,omitempty"` // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// AuditEntry represents an audit trail entry
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Partition string    `json:"partition"`
	TargetID  *string   `json:"target_id,omitempty"`
	Details   *string   `json:"details,omitempty"` // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// EventQuery filters GetEvents. Empty fields match everything.
type EventQuery struct {
	Partition string
	Type      string
	Since     time.Time
	Limit     int
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)

	// Overrides
	SetOverrides(ctx context.Context, partition string, ids []string, disabled bool, actor string) error
	ClearOverrides(ctx context.Context, partition string, ids []string, actor string) (int64, error)
	Overrides(ctx context.Context, partition string) ([]*Override, error)

	// Lint history
	RecordLintRun(ctx context.Context, run *LintRun) error
	GetLintRun(ctx context.Context, id string) (*LintRun, error)
	ListLintRuns(ctx context.Context, partition string, limit int) ([]*LintRun, error)

	// Events
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, q EventQuery) ([]*Event, error)
	DeleteEventsBefore(ctx context.Context, t time.Time) (int64, error)

	// Audit operations
	ListAuditEntries(ctx context.Context, partition string, action *string, limit, offset int) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}

// SplitOverrides returns the disabled and re-enabled object ids of overrides.
func SplitOverrides(overrides []*Override) (disabled, enabled []string) {
	for _, o := range overrides {
		if o.Disabled {
			disabled = append(disabled, o.ObjectID)
		} else {
			enabled = append(enabled, o.ObjectID)
		}
	}
	return disabled, enabled
}
