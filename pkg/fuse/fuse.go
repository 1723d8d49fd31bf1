// Package fuse provides a bounded recursion guard for traversals over
// user-authored configuration graphs that may contain cycles.
package fuse

import (
	"fmt"
	"strings"

	"github.com/openfroyo/daqconf/pkg/dal"
)

// DefaultLimit is the maximum depth used when none is configured.
const DefaultLimit = 64

// Fuse is a stack of the object ids currently being visited.
// It is not safe for concurrent use; every traversal owns its own Fuse.
type Fuse struct {
	goal  string
	limit int
	stack []string
}

// New creates a fuse for the given goal with first already on the stack.
// A limit <= 0 selects DefaultLimit.
func New(goal, first string, limit int) *Fuse {
	if limit <= 0 {
		limit = DefaultLimit
	}
	f := &Fuse{
		goal:  goal,
		limit: limit,
		stack: make([]string, 0, 8),
	}
	if first != "" {
		f.stack = append(f.stack, first)
	}
	return f
}

// Push appends id to the visited chain. It fails once the chain already holds
// limit entries; the caller must not Pop after a failed Push.
func (f *Fuse) Push(id string) error {
	if len(f.stack) >= f.limit {
		chain := append(append([]string(nil), f.stack...), id)
		return dal.NewBadConfigurationError(
			fmt.Sprintf("Reach maximum allowed recursion (%d) during calculation of %s; possibly there is circular dependency between these objects: %s",
				f.limit, f.goal, strings.Join(f.stack, ", ")), nil).
			WithCode(dal.ErrCodeCircularDependency).
			WithObjectID(id, "").
			WithChain(chain).
			WithDetail("goal", f.goal)
	}
	f.stack = append(f.stack, id)
	return nil
}

// Pop removes the most recently pushed id.
func (f *Fuse) Pop() {
	if len(f.stack) > 0 {
		f.stack = f.stack[:len(f.stack)-1]
	}
}

// Enter pushes id and returns the matching release function.
//
//	release, err := f.Enter(obj.UID())
//	if err != nil {
//		return err
//	}
//	defer release()
func (f *Fuse) Enter(id string) (func(), error) {
	if err := f.Push(id); err != nil {
		return nil, err
	}
	return f.Pop, nil
}

// Depth returns the number of ids on the stack.
func (f *Fuse) Depth() int { return len(f.stack) }

// Goal returns the description given at construction.
func (f *Fuse) Goal() string { return f.goal }

// Chain returns a copy of the visited ids, oldest first.
func (f *Fuse) Chain() []string { return append([]string(nil), f.stack...) }
