package stores

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/daqconf/pkg/telemetry"
)

// setupTestStore creates a migrated store in a temporary directory
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreLifecycle(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Error("expected error for empty path")
	}

	store, err := NewSQLiteStore(Config{Path: filepath.Join(t.TempDir(), "state.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("health check before Init should fail")
	}
	if err := store.Migrate(ctx); err == nil {
		t.Error("Migrate before Init should fail")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"overrides", "lint_runs", "events", "audit"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// migrating twice is a no-op
	if err := store.Migrate(ctx); err != nil {
		t.Errorf("second Migrate failed: %v", err)
	}
}

func TestOverrides(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.SetOverrides(ctx, "ATLAS", []string{"ros-2", "ros-1"}, true, "shifter"); err != nil {
		t.Fatalf("SetOverrides failed: %v", err)
	}
	if err := store.SetOverrides(ctx, "ATLAS", []string{"hlt"}, false, "shifter"); err != nil {
		t.Fatalf("SetOverrides failed: %v", err)
	}
	if err := store.SetOverrides(ctx, "CMS", []string{"ros-1"}, true, "expert"); err != nil {
		t.Fatalf("SetOverrides failed: %v", err)
	}

	overrides, err := store.Overrides(ctx, "ATLAS")
	if err != nil {
		t.Fatalf("Overrides failed: %v", err)
	}
	disabled, enabled := SplitOverrides(overrides)
	if got := strings.Join(disabled, ","); got != "ros-1,ros-2" {
		t.Errorf("disabled = %q, want ros-1,ros-2", got)
	}
	if got := strings.Join(enabled, ","); got != "hlt" {
		t.Errorf("enabled = %q, want hlt", got)
	}
	if overrides[0].Actor != "shifter" || overrides[0].UpdatedAt.IsZero() {
		t.Errorf("override = %+v", overrides[0])
	}

	// re-enabling replaces the earlier decision
	if err := store.SetOverrides(ctx, "ATLAS", []string{"ros-2"}, false, "expert"); err != nil {
		t.Fatalf("SetOverrides failed: %v", err)
	}
	overrides, err = store.Overrides(ctx, "ATLAS")
	if err != nil {
		t.Fatalf("Overrides failed: %v", err)
	}
	disabled, enabled = SplitOverrides(overrides)
	if strings.Join(disabled, ",") != "ros-1" || strings.Join(enabled, ",") != "hlt,ros-2" {
		t.Errorf("after re-enable: disabled = %v, enabled = %v", disabled, enabled)
	}

	if err := store.SetOverrides(ctx, "", []string{"x"}, true, "shifter"); err == nil {
		t.Error("expected error for empty partition")
	}
}

func TestClearOverrides(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.SetOverrides(ctx, "ATLAS", []string{"a", "b", "c"}, true, "shifter"); err != nil {
		t.Fatalf("SetOverrides failed: %v", err)
	}
	if err := store.SetOverrides(ctx, "CMS", []string{"a"}, true, "shifter"); err != nil {
		t.Fatalf("SetOverrides failed: %v", err)
	}

	n, err := store.ClearOverrides(ctx, "ATLAS", []string{"a", "missing"}, "shifter")
	if err != nil {
		t.Fatalf("ClearOverrides failed: %v", err)
	}
	if n != 1 {
		t.Errorf("removed %d overrides, want 1", n)
	}

	n, err = store.ClearOverrides(ctx, "ATLAS", nil, "shifter")
	if err != nil {
		t.Fatalf("ClearOverrides failed: %v", err)
	}
	if n != 2 {
		t.Errorf("removed %d overrides, want 2", n)
	}

	if overrides, _ := store.Overrides(ctx, "ATLAS"); len(overrides) != 0 {
		t.Errorf("ATLAS still has %d overrides", len(overrides))
	}
	if overrides, _ := store.Overrides(ctx, "CMS"); len(overrides) != 1 {
		t.Errorf("CMS has %d overrides, want 1", len(overrides))
	}
}

func TestAuditTrail(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.SetOverrides(ctx, "ATLAS", []string{"ros-1"}, true, "shifter"); err != nil {
		t.Fatalf("SetOverrides failed: %v", err)
	}
	if _, err := store.ClearOverrides(ctx, "ATLAS", nil, "expert"); err != nil {
		t.Fatalf("ClearOverrides failed: %v", err)
	}
	if err := store.SetOverrides(ctx, "CMS", []string{"ros-1"}, true, "shifter"); err != nil {
		t.Fatalf("SetOverrides failed: %v", err)
	}

	entries, err := store.ListAuditEntries(ctx, "ATLAS", nil, 0, 0)
	if err != nil {
		t.Fatalf("ListAuditEntries failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	// newest first
	if entries[0].Action != ActionOverrideCleared || entries[0].Actor != "expert" {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[1].Details == nil || !strings.Contains(*entries[1].Details, "ros-1") {
		t.Errorf("details = %v", entries[1].Details)
	}

	action := ActionOverrideSet
	all, err := store.ListAuditEntries(ctx, "", &action, 10, 0)
	if err != nil {
		t.Fatalf("ListAuditEntries failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("got %d %s entries, want 2", len(all), action)
	}
}

func TestLintRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	runs := []*LintRun{
		{Partition: "ATLAS", StartedAt: base, Duration: 1500 * time.Millisecond, Warnings: 2, Report: `{"violations":[]}`},
		{Partition: "ATLAS", StartedAt: base.Add(time.Hour), Errors: 1, Failed: true},
		{Partition: "CMS", StartedAt: base.Add(2 * time.Hour)},
	}
	for _, run := range runs {
		if err := store.RecordLintRun(ctx, run); err != nil {
			t.Fatalf("RecordLintRun failed: %v", err)
		}
		if run.ID == "" {
			t.Fatal("no id assigned")
		}
	}

	got, err := store.GetLintRun(ctx, runs[0].ID)
	if err != nil {
		t.Fatalf("GetLintRun failed: %v", err)
	}
	if got.Duration != 1500*time.Millisecond || got.Warnings != 2 || got.Failed {
		t.Errorf("run = %+v", got)
	}
	if !got.StartedAt.Equal(base) {
		t.Errorf("started at %v, want %v", got.StartedAt, base)
	}
	if got.Report != `{"violations":[]}` {
		t.Errorf("report = %q", got.Report)
	}

	atlas, err := store.ListLintRuns(ctx, "ATLAS", 0)
	if err != nil {
		t.Fatalf("ListLintRuns failed: %v", err)
	}
	if len(atlas) != 2 || atlas[0].ID != runs[1].ID || !atlas[0].Failed {
		t.Errorf("ATLAS runs = %+v", atlas)
	}
	if atlas[0].Report != "{}" {
		t.Errorf("default report = %q", atlas[0].Report)
	}

	latest, err := store.ListLintRuns(ctx, "", 1)
	if err != nil {
		t.Fatalf("ListLintRuns failed: %v", err)
	}
	if len(latest) != 1 || latest[0].Partition != "CMS" {
		t.Errorf("latest = %+v", latest)
	}

	if _, err := store.GetLintRun(ctx, "missing"); err == nil {
		t.Error("expected error for missing run")
	}
}

func TestEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	events := []*Event{
		{Type: telemetry.EventTypeTreeBuilt, Partition: "ATLAS", Level: "info", Message: "built", Timestamp: base},
		{Type: telemetry.EventTypeTreeInvalidated, Partition: "ATLAS", Level: "info", Message: "changed", Timestamp: base.Add(time.Minute)},
		{Type: telemetry.EventTypeTreeBuilt, Partition: "CMS", Level: "info", Message: "built", Timestamp: base.Add(2 * time.Minute)},
	}
	for _, e := range events {
		if err := store.AppendEvent(ctx, e); err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
	}

	tests := []struct {
		name  string
		query EventQuery
		want  int
	}{
		{"all", EventQuery{}, 3},
		{"partition", EventQuery{Partition: "ATLAS"}, 2},
		{"type", EventQuery{Type: telemetry.EventTypeTreeBuilt}, 2},
		{"partition and type", EventQuery{Partition: "ATLAS", Type: telemetry.EventTypeTreeBuilt}, 1},
		{"since", EventQuery{Since: base.Add(30 * time.Second)}, 2},
		{"limit", EventQuery{Limit: 1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.GetEvents(ctx, tt.query)
			if err != nil {
				t.Fatalf("GetEvents failed: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d events, want %d", len(got), tt.want)
			}
		})
	}

	newest, _ := store.GetEvents(ctx, EventQuery{Limit: 1})
	if len(newest) == 1 && newest[0].Partition != "CMS" {
		t.Errorf("newest event = %+v", newest[0])
	}

	n, err := store.DeleteEventsBefore(ctx, base.Add(90*time.Second))
	if err != nil {
		t.Fatalf("DeleteEventsBefore failed: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d events, want 2", n)
	}
}

func TestEventSink(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	var sinkErr error
	sink := store.EventSink(ctx, func(err error) { sinkErr = err })
	sink(telemetry.Event{
		ID:        "evt-1",
		Timestamp: time.Now(),
		Type:      telemetry.EventTypeClosureComputed,
		Source:    "disabled",
		Partition: "ATLAS",
		Level:     telemetry.EventLevelInfo,
		Message:   "closure computed",
		Data:      map[string]interface{}{"disabled": 3},
	})
	if sinkErr != nil {
		t.Fatalf("sink failed: %v", sinkErr)
	}

	got, err := store.GetEvents(ctx, EventQuery{Partition: "ATLAS"})
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "evt-1" || got[0].Source != "disabled" {
		t.Fatalf("events = %+v", got)
	}
	if got[0].Data == nil || *got[0].Data != `{"disabled":3}` {
		t.Errorf("data = %v", got[0].Data)
	}

	// a duplicate id is reported through onError
	sink(telemetry.Event{ID: "evt-1", Type: telemetry.EventTypeClosureComputed, Level: "info", Message: "again"})
	if sinkErr == nil {
		t.Error("expected error for duplicate event id")
	}
	if errors.Unwrap(sinkErr) == nil {
		t.Error("storage error not wrapped")
	}
}
