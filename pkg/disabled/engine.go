// Package disabled computes which configuration components of a partition are
// disabled. Explicitly disabled components (from the partition and from user
// overrides) disable everything they contain, and AND/OR resource sets are
// then propagated to a fixed point.
package disabled

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/openfroyo/daqconf/pkg/confdb"
	"github.com/openfroyo/daqconf/pkg/dal"
)

// DefaultMaxIterations caps the number of fixed-point passes.
const DefaultMaxIterations = 1000

const goal = "component 'is-disabled' status"

// Options configures an Engine.
type Options struct {
	// MaxIterations caps the fixed-point passes; <= 0 selects DefaultMaxIterations.
	MaxIterations int

	// FuseLimit bounds the containment depth; <= 0 selects fuse.DefaultLimit.
	FuseLimit int

	// Logger receives diagnostics.
	Logger zerolog.Logger

	// Observer, when set, is called with every newly computed closure.
	Observer func(*Closure)
}

// Closure is the immutable result of one computation.
type Closure struct {
	disabled map[string]struct{}

	// Passes is the number of fixed-point passes that disabled something new.
	Passes int

	// Capped is set when the iteration cap stopped the computation early.
	Capped bool

	// Gates is the number of AND/OR resource sets considered.
	Gates int
}

// Contains reports whether id is in the closure.
func (c *Closure) Contains(id string) bool {
	if c == nil {
		return false
	}
	_, ok := c.disabled[id]
	return ok
}

// Len returns the number of disabled components.
func (c *Closure) Len() int {
	if c == nil {
		return 0
	}
	return len(c.disabled)
}

// IDs returns the disabled ids, sorted.
func (c *Closure) IDs() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.disabled))
	for id := range c.disabled {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Engine holds the disabled-status state of one partition.
type Engine struct {
	db          *confdb.DB
	partitionID string
	opts        Options

	// mu serializes closure computation and user-set mutation
	mu           sync.Mutex
	closure      atomic.Pointer[Closure]
	userDisabled map[string]struct{}
	userEnabled  map[string]struct{}
}

// New creates an engine for the given partition.
func New(db *confdb.DB, partitionID string, opts Options) *Engine {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	return &Engine{
		db:           db,
		partitionID:  partitionID,
		opts:         opts,
		userDisabled: make(map[string]struct{}),
		userEnabled:  make(map[string]struct{}),
	}
}

func (e *Engine) partition() (*confdb.Object, error) {
	p, err := e.db.GetAs(e.partitionID, dal.ClassPartition)
	if err != nil {
		return nil, fmt.Errorf("partition %q: %w", e.partitionID, err)
	}
	return p, nil
}

// IsDisabled reports whether id belongs to the disabled closure, computing
// it first if needed.
func (e *Engine) IsDisabled(id string) (bool, error) {
	if c := e.closure.Load(); c != nil {
		return c.Contains(id), nil
	}

	p, err := e.partition()
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	noUser := len(e.userDisabled) == 0
	e.mu.Unlock()
	if noUser && len(p.RelIDs(dal.RelDisabled)) == 0 {
		return false, nil
	}

	c, err := e.Closure()
	if err != nil {
		return false, err
	}
	return c.Contains(id), nil
}

// Closure returns the current closure, computing it if it is not cached.
func (e *Engine) Closure() (*Closure, error) {
	if c := e.closure.Load(); c != nil {
		return c, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if c := e.closure.Load(); c != nil {
		return c, nil
	}

	p, err := e.partition()
	if err != nil {
		return nil, err
	}
	c, err := e.compute(p)
	if err != nil {
		return nil, err
	}
	e.closure.Store(c)
	if e.opts.Observer != nil {
		e.opts.Observer(c)
	}
	return c, nil
}

// SetDisabled replaces the user-disabled set and drops the cached closure.
func (e *Engine) SetDisabled(ids []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.userDisabled = toSet(ids)
	e.closure.Store(nil)
	e.opts.Logger.Debug().Int("count", len(ids)).Msg("user-disabled components replaced")
}

// SetEnabled replaces the user-enabled set and drops the cached closure.
func (e *Engine) SetEnabled(ids []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.userEnabled = toSet(ids)
	e.closure.Store(nil)
	e.opts.Logger.Debug().Int("count", len(ids)).Msg("user-enabled components replaced")
}

// UserOverrides returns the current user-disabled and user-enabled ids.
func (e *Engine) UserOverrides() (disabledIDs, enabledIDs []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return sortedKeys(e.userDisabled), sortedKeys(e.userEnabled)
}

// Reset drops the cached closure, keeping the user overrides.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closure.Store(nil)
}

// Clear drops the cached closure and the user overrides. It is called when
// the underlying store changes.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closure.Store(nil)
	e.userDisabled = make(map[string]struct{})
	e.userEnabled = make(map[string]struct{})
}

func toSet(ids []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
