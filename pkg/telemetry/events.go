package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a run, resource or policy notification.
type Event struct {
	ID           string                 `json:"id"`
	Timestamp    time.Time              `json:"timestamp"`
	Type         string                 `json:"type"`
	RunID        string                 `json:"run_id,omitempty"`
	ResourceType string                 `json:"resource_type,omitempty"`
	Resource     string                 `json:"resource,omitempty"`
	Message      string                 `json:"message"`
	Level        string                 `json:"level"`
	Data         map[string]interface{} `json:"data,omitempty"`
}

const (
	EventTypeRunStarted         = "run.started"
	EventTypeRunCompleted       = "run.completed"
	EventTypeResourceReconciled = "resource.reconciled"
	EventTypeResourceFailed     = "resource.failed"
	EventTypePolicyViolation    = "policy.violation"
)

const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

var levelRank = map[string]int{
	EventLevelInfo:    0,
	EventLevelWarning: 1,
	EventLevelError:   2,
}

var (
	errPublisherStopped = errors.New("event publisher stopped")
	errBufferFull       = errors.New("event buffer full, event dropped")
)

// EventSubscriber receives delivered events.
type EventSubscriber func(event Event)

// EventFilter reports whether a subscriber wants the event.
type EventFilter func(event Event) bool

type subscription struct {
	fn     EventSubscriber
	filter EventFilter
}

// EventPublisher fans events out to subscribers. With EnableAsync events go
// through a buffered channel drained by one goroutine, so delivery order
// always matches publish order.
type EventPublisher struct {
	cfg   EventsConfig
	queue chan Event
	done  chan struct{}
	stop  context.CancelFunc
	ctx   context.Context

	mu   sync.RWMutex
	subs []subscription
}

// NewEventPublisher creates a publisher. A disabled publisher accepts and
// drops every event.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ep := &EventPublisher{cfg: cfg}
	if !cfg.Enabled {
		return ep, nil
	}
	ep.ctx, ep.stop = context.WithCancel(context.Background())
	if cfg.EnableAsync {
		ep.queue = make(chan Event, cfg.BufferSize)
		ep.done = make(chan struct{})
		go ep.drain()
	}
	return ep, nil
}

// Publish fills in ID, timestamp and level, then delivers the event.
// Asynchronous publishers fail instead of blocking when the buffer is full.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.cfg.Enabled {
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

	if ep.ctx.Err() != nil {
		return errPublisherStopped
	}
	if ep.queue == nil {
		ep.deliver(event)
		return nil
	}
	select {
	case ep.queue <- event:
		return nil
	default:
		return errBufferFull
	}
}

func (ep *EventPublisher) PublishRunStarted(runID string, total int) error {
	return ep.Publish(Event{
		Type:    EventTypeRunStarted,
		RunID:   runID,
		Message: fmt.Sprintf("run %s started with %d resources", runID, total),
		Data:    map[string]interface{}{"total": total},
	})
}

// PublishRunCompleted raises the level to error for any status but succeeded.
func (ep *EventPublisher) PublishRunCompleted(runID, status string, duration time.Duration) error {
	level := EventLevelInfo
	if status != "succeeded" {
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:    EventTypeRunCompleted,
		RunID:   runID,
		Level:   level,
		Message: fmt.Sprintf("run %s %s in %s", runID, status, duration.Round(time.Millisecond)),
		Data:    map[string]interface{}{"status": status, "duration_ms": duration.Milliseconds()},
	})
}

func (ep *EventPublisher) PublishResourceReconciled(runID, resourceType, name, operation string, changed, dryRun bool) error {
	return ep.Publish(Event{
		Type:         EventTypeResourceReconciled,
		RunID:        runID,
		ResourceType: resourceType,
		Resource:     name,
		Message:      fmt.Sprintf("%s %s: %s", resourceType, name, operation),
		Data:         map[string]interface{}{"operation": operation, "changed": changed, "dry_run": dryRun},
	})
}

func (ep *EventPublisher) PublishResourceFailed(runID, resourceType, name, reason string) error {
	return ep.Publish(Event{
		Type:         EventTypeResourceFailed,
		RunID:        runID,
		ResourceType: resourceType,
		Resource:     name,
		Level:        EventLevelError,
		Message:      reason,
	})
}

// PublishPolicyViolation maps error and critical severities to the error level.
func (ep *EventPublisher) PublishPolicyViolation(resourceType, name, policyName, severity, reason string) error {
	level := EventLevelWarning
	if severity == "error" || severity == "critical" {
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:         EventTypePolicyViolation,
		ResourceType: resourceType,
		Resource:     name,
		Level:        level,
		Message:      reason,
		Data:         map[string]interface{}{"policy": policyName, "severity": severity},
	})
}

// Subscribe registers fn. A nil filter accepts every event.
func (ep *EventPublisher) Subscribe(fn EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	ep.subs = append(ep.subs, subscription{fn: fn, filter: filter})
	ep.mu.Unlock()
}

func (ep *EventPublisher) drain() {
	defer close(ep.done)
	for {
		select {
		case event := <-ep.queue:
			ep.deliver(event)
		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.queue:
					ep.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliver(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, s := range ep.subs {
		if s.filter == nil || s.filter(event) {
			s.fn(event)
		}
	}
}

// Shutdown stops accepting events and waits for buffered ones to be delivered.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.cfg.Enabled {
		return nil
	}
	ep.stop()
	if ep.done == nil {
		return nil
	}
	select {
	case <-ep.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown: %w", ctx.Err())
	}
}

// FilterByLevel accepts events at minLevel or above.
func FilterByLevel(minLevel string) EventFilter {
	floor := levelRank[minLevel]
	return func(event Event) bool { return levelRank[event.Level] >= floor }
}

// FilterByType accepts only the listed event types.
func FilterByType(types ...string) EventFilter {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(event Event) bool {
		_, ok := set[event.Type]
		return ok
	}
}

// FilterByRunID accepts events of one run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool { return event.RunID == runID }
}
