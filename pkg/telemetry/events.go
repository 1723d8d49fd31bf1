package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a notification about the state of the resolution caches.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`

	// Source names the emitting component (resolver, disabled, watcher, policy).
	Source string `json:"source"`

	Partition string `json:"partition,omitempty"`
	Component string `json:"component,omitempty"`
	Message   string `json:"message"`

	// Level is the event severity (info, warning, error).
	Level string `json:"level"`

	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeTreeBuilt        = "tree.built"
	EventTypeTreeInvalidated  = "tree.invalidated"
	EventTypeClosureComputed  = "closure.computed"
	EventTypeSourcesReloaded  = "sources.reloaded"
	EventTypeReloadFailed     = "sources.reload_failed"
	EventTypePolicyViolation  = "policy.violation"
	EventTypeOverridesChanged = "overrides.changed"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles events.
type EventSubscriber func(event Event)

// EventFilter selects events.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers, either synchronously or
// from a background goroutine fed by a bounded buffer.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates an event publisher.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}
	if cfg.EnableAsync {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}
	return ep, nil
}

// Publish sends an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}
	ep.deliverEvent(event)
	return nil
}

// PublishTreeBuilt announces a new segment tree.
func (ep *EventPublisher) PublishTreeBuilt(partition, epoch string, segments, applications int, duration time.Duration) error {
	return ep.Publish(Event{
		Type:      EventTypeTreeBuilt,
		Source:    "resolver",
		Partition: partition,
		Message:   fmt.Sprintf("segment tree %s built with %d segments and %d applications", epoch, segments, applications),
		Data: map[string]interface{}{
			"epoch":        epoch,
			"segments":     segments,
			"applications": applications,
			"duration":     duration.Seconds(),
		},
	})
}

// PublishInvalidated announces a dropped segment tree.
func (ep *EventPublisher) PublishInvalidated(partition, reason string) error {
	return ep.Publish(Event{
		Type:      EventTypeTreeInvalidated,
		Source:    "resolver",
		Partition: partition,
		Message:   fmt.Sprintf("segment tree invalidated (%s)", reason),
		Data:      map[string]interface{}{"reason": reason},
	})
}

// PublishClosure announces a new disabled closure.
func (ep *EventPublisher) PublishClosure(partition string, disabled, passes int, capped bool) error {
	level := EventLevelInfo
	if capped {
		level = EventLevelWarning
	}
	return ep.Publish(Event{
		Type:      EventTypeClosureComputed,
		Source:    "disabled",
		Partition: partition,
		Level:     level,
		Message:   fmt.Sprintf("%d components disabled after %d passes", disabled, passes),
		Data: map[string]interface{}{
			"disabled": disabled,
			"passes":   passes,
			"capped":   capped,
		},
	})
}

// PublishReload announces a reload of the configuration sources.
func (ep *EventPublisher) PublishReload(sources []string, err error) error {
	if err != nil {
		return ep.Publish(Event{
			Type:    EventTypeReloadFailed,
			Source:  "watcher",
			Level:   EventLevelError,
			Message: fmt.Sprintf("reload failed: %v", err),
			Data:    map[string]interface{}{"sources": sources},
		})
	}
	return ep.Publish(Event{
		Type:    EventTypeSourcesReloaded,
		Source:  "watcher",
		Message: fmt.Sprintf("%d sources reloaded", len(sources)),
		Data:    map[string]interface{}{"sources": sources},
	})
}

// PublishPolicyViolation announces a lint finding.
func (ep *EventPublisher) PublishPolicyViolation(partition, component, policy, message string) error {
	return ep.Publish(Event{
		Type:      EventTypePolicyViolation,
		Source:    "policy",
		Partition: partition,
		Component: component,
		Level:     EventLevelWarning,
		Message:   fmt.Sprintf("%s: %s", policy, message),
		Data:      map[string]interface{}{"policy": policy},
	})
}

// Subscribe adds a subscriber; filter may be nil.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscriberEntry{subscriber: subscriber, filter: filter})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.filters = append(ep.filters, filter)
}

func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	flush := func() {
		for _, e := range batch {
			ep.deliverEvent(e)
		}
		batch = batch[:0]
	}
	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			if len(batch) >= ep.config.MaxBatchSize || len(ep.buffer) == 0 {
				flush()
			}
		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	entries := append([]subscriberEntry(nil), ep.subscribers...)
	ep.mu.RUnlock()

	for _, entry := range entries {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops the publisher after delivering buffered events.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}
	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel allows events of minLevel or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	minValue := levels[minLevel]
	return func(event Event) bool {
		return levels[event.Level] >= minValue
	}
}

// FilterByType allows events of the given types.
func FilterByType(types ...string) EventFilter {
	set := make(map[string]bool)
	for _, t := range types {
		set[t] = true
	}
	return func(event Event) bool {
		return set[event.Type]
	}
}

// FilterByPartition allows events about one partition.
func FilterByPartition(partition string) EventFilter {
	return func(event Event) bool {
		return event.Partition == partition
	}
}
