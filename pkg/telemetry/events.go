package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one in-process telemetry event. The CLI subscribes to these for
// progress output.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Workflow is the workflow name, if applicable.
	Workflow string `json:"workflow,omitempty"`

	// Network is the network name, if applicable.
	Network string `json:"network,omitempty"`

	// App is the app name, if applicable.
	App string `json:"app,omitempty"`

	// Phase is the phase name, for phase events.
	Phase string `json:"phase,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity (info, warning, error).
	Level string `json:"level"`

	// Data carries extra event-specific values.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeWorkflowStarted   = "workflow.started"
	EventTypeWorkflowCompleted = "workflow.completed"
	EventTypeWorkflowFailed    = "workflow.failed"
	EventTypePhaseCompleted    = "phase.completed"
	EventTypeAuditRepair       = "audit.repair"
	EventTypePolicyUpdated     = "policy.updated"
)

// Event severity levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles published events.
type EventSubscriber func(event Event)

// EventFilter decides whether a subscriber sees an event.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers, optionally through an
// async buffer.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates an event publisher. A disabled config yields a
// publisher whose Publish is a no-op.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}
	if cfg.Async {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}
	return ep, nil
}

// Publish delivers an event to subscribers. Async publishers drop events
// when the buffer is full rather than blocking a workflow.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if ep.config.Async {
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

// PublishWorkflowStarted publishes a workflow.started event.
func (ep *EventPublisher) PublishWorkflowStarted(workflow, network string) error {
	return ep.Publish(Event{
		Type:     EventTypeWorkflowStarted,
		Workflow: workflow,
		Network:  network,
		Message:  fmt.Sprintf("%s started on network %s", workflow, network),
		Level:    EventLevelInfo,
	})
}

// PublishWorkflowCompleted publishes a workflow.completed event.
func (ep *EventPublisher) PublishWorkflowCompleted(workflow, network string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:     EventTypeWorkflowCompleted,
		Workflow: workflow,
		Network:  network,
		Message:  fmt.Sprintf("%s completed on network %s", workflow, network),
		Level:    EventLevelInfo,
		Data:     map[string]interface{}{"duration": duration.Seconds()},
	})
}

// PublishWorkflowFailed publishes a workflow.failed event.
func (ep *EventPublisher) PublishWorkflowFailed(workflow, network, reason string) error {
	return ep.Publish(Event{
		Type:     EventTypeWorkflowFailed,
		Workflow: workflow,
		Network:  network,
		Message:  fmt.Sprintf("%s failed on network %s: %s", workflow, network, reason),
		Level:    EventLevelError,
		Data:     map[string]interface{}{"reason": reason},
	})
}

// PublishPhaseCompleted publishes a phase.completed event.
func (ep *EventPublisher) PublishPhaseCompleted(workflow, network, phase string) error {
	return ep.Publish(Event{
		Type:     EventTypePhaseCompleted,
		Workflow: workflow,
		Network:  network,
		Phase:    phase,
		Message:  fmt.Sprintf("%s: phase %s completed", workflow, phase),
		Level:    EventLevelInfo,
	})
}

// PublishAuditRepair publishes an audit.repair event for one repair the
// deploy audit performed.
func (ep *EventPublisher) PublishAuditRepair(app, repair string) error {
	return ep.Publish(Event{
		Type:    EventTypeAuditRepair,
		App:     app,
		Message: fmt.Sprintf("audit repaired %s: %s", app, repair),
		Level:   EventLevelWarning,
		Data:    map[string]interface{}{"repair": repair},
	})
}

// PublishPolicyUpdated publishes a policy.updated event.
func (ep *EventPublisher) PublishPolicyUpdated(network string, patches int) error {
	return ep.Publish(Event{
		Type:    EventTypePolicyUpdated,
		Network: network,
		Message: fmt.Sprintf("policy document updated (%d patches)", patches),
		Level:   EventLevelInfo,
		Data:    map[string]interface{}{"patches": patches},
	})
}

// Subscribe registers a subscriber with an optional filter.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()
	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)
		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops the publisher, draining buffered events first.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled || ep.cancel == nil {
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

// FilterByLevel allows events at or above the given severity.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	min := levels[minLevel]
	return func(event Event) bool {
		return levels[event.Level] >= min
	}
}

// FilterByType allows events of the given types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}
	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByWorkflow allows events for one workflow.
func FilterByWorkflow(workflow string) EventFilter {
	return func(event Event) bool {
		return event.Workflow == workflow
	}
}

// FilterByNetwork allows events for one network.
func FilterByNetwork(network string) EventFilter {
	return func(event Event) bool {
		return event.Network == network
	}
}
