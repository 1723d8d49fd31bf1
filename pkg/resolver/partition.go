// Package resolver builds the enabled view of a partition: the segment tree
// with template segments and template applications expanded, hosts and
// backup hosts assigned, and applications filtered on request.
//
// A Partition caches the built tree until the underlying store changes or
// user overrides are replaced. Segment and Application handles belong to the
// tree that produced them; once that tree is dropped every accessor returning
// derived data fails with a STALE_HANDLE error.
package resolver

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/daqconf/pkg/confdb"
	"github.com/openfroyo/daqconf/pkg/dal"
	"github.com/openfroyo/daqconf/pkg/disabled"
)

// Options configures a Partition.
type Options struct {
	// FuseLimit bounds every recursive descent; <= 0 selects fuse.DefaultLimit.
	FuseLimit int

	// MaxIterations caps the disabled closure passes; <= 0 selects the default.
	MaxIterations int

	// Hostname returns the local host name, used when a segment has no
	// enabled host at all. Defaults to os.Hostname.
	Hostname func() (string, error)

	// Logger receives diagnostics.
	Logger zerolog.Logger

	// OnBuild is called after every successful tree build.
	OnBuild func(BuildStats)

	// OnClosure is called with every newly computed disabled closure.
	OnClosure func(*disabled.Closure)

	// OnInvalidate is called whenever the cached tree is dropped.
	OnInvalidate func(reason string)
}

// BuildStats describes one tree build.
type BuildStats struct {
	Epoch        string
	Generation   uint64
	Segments     int
	Applications int
	Duration     time.Duration
}

// Partition is the resolution state of one partition object.
type Partition struct {
	db   *confdb.DB
	id   string
	opts Options

	// mu serializes tree builds and invalidation
	mu       sync.Mutex
	current  atomic.Pointer[tree]
	disabled *disabled.Engine

	unsubscribe func()
}

// Open prepares resolution of partition id and subscribes to store changes.
// The tree itself is built lazily on first use.
func Open(db *confdb.DB, id string, opts Options) (*Partition, error) {
	if id == "" {
		return nil, dal.NewNotFoundError("no partition id provided", nil).WithCode(dal.ErrCodeBadPartition)
	}
	if _, err := db.GetAs(id, dal.ClassPartition); err != nil {
		return nil, dal.NewNotFoundError(fmt.Sprintf("cannot open partition %q", id), err).
			WithCode(dal.ErrCodeBadPartition).
			WithObjectID(id, dal.ClassPartition)
	}
	if opts.Hostname == nil {
		opts.Hostname = os.Hostname
	}

	p := &Partition{
		db:   db,
		id:   id,
		opts: opts,
		disabled: disabled.New(db, id, disabled.Options{
			MaxIterations: opts.MaxIterations,
			FuseLimit:     opts.FuseLimit,
			Logger:        opts.Logger,
			Observer:      opts.OnClosure,
		}),
	}
	p.unsubscribe = db.Subscribe(confdb.ListenerFuncs{
		Load:   func() { p.invalidate(true, "load") },
		Unload: func() { p.invalidate(true, "unload") },
		Change: func([]confdb.Change) { p.invalidate(true, "change") },
		Update: func(*confdb.Object, string) { p.invalidate(true, "update") },
	})
	return p, nil
}

// Close detaches the partition from store notifications.
func (p *Partition) Close() {
	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
}

// ID returns the partition object id.
func (p *Partition) ID() string { return p.id }

// DB returns the store the partition reads from.
func (p *Partition) DB() *confdb.DB { return p.db }

// FuseLimit returns the configured recursion bound.
func (p *Partition) FuseLimit() int { return p.opts.FuseLimit }

// Object returns the partition store object.
func (p *Partition) Object() (*confdb.Object, error) {
	return p.db.GetAs(p.id, dal.ClassPartition)
}

// Disabled returns the disabled-status engine of the partition.
func (p *Partition) Disabled() *disabled.Engine { return p.disabled }

func (p *Partition) invalidate(store bool, reason string) {
	p.mu.Lock()
	p.current.Store(nil)
	if store {
		p.disabled.Clear()
	} else {
		p.disabled.Reset()
	}
	p.mu.Unlock()

	p.opts.Logger.Debug().Str("partition", p.id).Str("reason", reason).Msg("resolved tree invalidated")
	if p.opts.OnInvalidate != nil {
		p.opts.OnInvalidate(reason)
	}
}

// Invalidate drops the cached tree and disabled closure. User overrides are kept.
func (p *Partition) Invalidate() { p.invalidate(false, "explicit") }

// SetUserDisabled replaces the set of components disabled by the user.
// The disabled closure and the tree are dropped together.
func (p *Partition) SetUserDisabled(ids []string) {
	p.mu.Lock()
	p.disabled.SetDisabled(ids)
	p.current.Store(nil)
	p.mu.Unlock()

	if p.opts.OnInvalidate != nil {
		p.opts.OnInvalidate("user-disabled")
	}
}

// SetUserEnabled replaces the set of components enabled by the user.
// The disabled closure and the tree are dropped together.
func (p *Partition) SetUserEnabled(ids []string) {
	p.mu.Lock()
	p.disabled.SetEnabled(ids)
	p.current.Store(nil)
	p.mu.Unlock()

	if p.opts.OnInvalidate != nil {
		p.opts.OnInvalidate("user-enabled")
	}
}

// tree returns the current tree, building it if needed.
func (p *Partition) tree() (*tree, error) {
	if t := p.current.Load(); t != nil {
		return t, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if t := p.current.Load(); t != nil {
		return t, nil
	}

	start := time.Now()
	t, err := p.build()
	if err != nil {
		p.opts.Logger.Error().Err(err).Str("partition", p.id).Msg("failed to build segment tree")
		return nil, err
	}
	p.current.Store(t)

	stats := BuildStats{
		Epoch:        t.epoch,
		Generation:   t.generation,
		Segments:     len(t.segments),
		Applications: len(t.apps),
		Duration:     time.Since(start),
	}
	p.opts.Logger.Debug().
		Str("partition", p.id).
		Str("epoch", stats.Epoch).
		Int("segments", stats.Segments).
		Int("applications", stats.Applications).
		Dur("duration", stats.Duration).
		Msg("segment tree built")
	if p.opts.OnBuild != nil {
		p.opts.OnBuild(stats)
	}
	return t, nil
}

// Epoch returns the id of the current tree, building it if needed.
func (p *Partition) Epoch() (string, error) {
	t, err := p.tree()
	if err != nil {
		return "", err
	}
	return t.epoch, nil
}

// IsDisabled reports whether the component with the given id is disabled.
// Resolved segments answer with the flag computed while building the tree,
// template application instances also require their template to be enabled,
// and anything else is looked up in the disabled closure. An id that names no
// database object can only be a template instance, so the tree is built first.
func (p *Partition) IsDisabled(id string) (bool, error) {
	t := p.current.Load()
	if t == nil && p.db.Lookup(id) == nil {
		built, err := p.tree()
		if err != nil {
			return false, err
		}
		t = built
	}
	if t != nil {
		if s, ok := t.segments[id]; ok {
			return s.disabled, nil
		}
		if a, ok := t.appIndex[id]; ok {
			if a.base.UID() != id {
				d, err := p.disabled.IsDisabled(a.base.UID())
				if err != nil || d {
					return d, err
				}
			}
		}
	}
	return p.disabled.IsDisabled(id)
}

// UserOverrides returns the current user-disabled and user-enabled ids.
func (p *Partition) UserOverrides() (disabledIDs, enabledIDs []string) {
	return p.disabled.UserOverrides()
}
