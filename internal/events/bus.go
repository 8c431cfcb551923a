// Package events carries supervision, assignment and gate notifications from
// the engines to subscribers such as the audit log.
package events

import (
	"sync"
	"time"

	"github.com/msageha/orchestra/internal/logging"
)

type EventType string

const (
	// EventAgentStateChanged is published on every health state transition.
	EventAgentStateChanged EventType = "agent_state_changed"
	// EventAgentRecovery is published when a recovery strategy has run.
	EventAgentRecovery EventType = "agent_recovery"
	// EventAgentAlert is published by the notify_only strategy.
	EventAgentAlert EventType = "agent_alert"
	// EventTaskAssigned is published when a task gets an agent.
	EventTaskAssigned EventType = "task_assigned"
	// EventQualityGateRun is published after every quality gate run.
	EventQualityGateRun EventType = "quality_gate_run"
)

// AllEventTypes lists every type the engines publish.
var AllEventTypes = []EventType{
	EventAgentStateChanged,
	EventAgentRecovery,
	EventAgentAlert,
	EventTaskAssigned,
	EventQualityGateRun,
}

type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]any
}

type Subscriber func(Event)

// Publisher is the side of Bus the engines depend on.
type Publisher interface {
	Publish(eventType EventType, data map[string]any)
}

// Bus delivers events asynchronously over one buffered channel per
// subscriber. Publish never blocks; a full subscriber drops the event.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
	logger      *logging.Logger
	now         func() time.Time
}

func NewBus(bufferSize int, logger *logging.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
		logger:      logger.With("events"),
		now:         time.Now,
	}
}

// Subscribe registers fn for eventType and returns its unsubscribe func.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	go func() {
		for event := range ch {
			b.deliver(fn, event)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			subs := b.subscribers[eventType]
			for i, subCh := range subs {
				if subCh == ch {
					b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
					close(ch)
					break
				}
			}
		})
	}
}

// SubscribeAll registers fn for every type in AllEventTypes.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	unsubs := make([]func(), 0, len(AllEventTypes))
	for _, t := range AllEventTypes {
		unsubs = append(unsubs, b.Subscribe(t, fn))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (b *Bus) deliver(fn Subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Errorf("subscriber panic type=%s panic=%v", event.Type, r)
		}
	}()
	fn(event)
}

func (b *Bus) Publish(eventType EventType, data map[string]any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	event := Event{
		Type:      eventType,
		Timestamp: b.now().UTC(),
		Data:      data,
	}

	for _, ch := range b.subscribers[eventType] {
		select {
		case ch <- event:
		default:
			b.logger.Debugf("subscriber full, dropping type=%s", eventType)
		}
	}
}

// Close closes all subscriber channels. Unsubscribe funcs become no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
}
