package services

import (
	"log/slog"
	"sync"
	"time"

	"github.com/castellan-ai/castellan/internal/core/domain"
)

type EventType string

const (
	EventActionCreated   EventType = "action_created"
	EventActionApproved  EventType = "action_approved"
	EventActionRejected  EventType = "action_rejected"
	EventActionModified  EventType = "action_modified"
	EventActionCompleted EventType = "action_completed"
	EventActionFailed    EventType = "action_failed"
)

// ActionsTopic is the firehose topic carrying every lifecycle event.
// Subscribing to an action id narrows the stream to that action.
const ActionsTopic = "actions"

type Event struct {
	Type      EventType
	ActionID  domain.ActionID
	Agent     string
	Data      string
	Timestamp int64
}

type EventBus struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[string][]chan Event // key: topic or action id
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		subs:   make(map[string][]chan Event),
	}
}

// Subscribe returns a channel receiving events for a topic (ActionsTopic or
// a specific action id) plus an unsubscribe function.
func (b *EventBus) Subscribe(topic string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 100) // buffer to prevent blocking publisher
	b.subs[topic] = append(b.subs[topic], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subscribers := b.subs[topic]
		for i, sub := range subscribers {
			if sub == ch {
				close(ch)
				b.subs[topic] = append(subscribers[:i], subscribers[i+1:]...)
				break
			}
		}
		if len(b.subs[topic]) == 0 {
			delete(b.subs, topic)
		}
	}

	return ch, unsub
}

// Publish delivers the event to the firehose topic and to subscribers of
// the specific action id. Slow subscribers lose events rather than block
// the publisher.
func (b *EventBus) Publish(e Event) {
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().Unix()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	targets := b.subs[ActionsTopic]
	if e.ActionID != "" {
		targets = append(targets, b.subs[string(e.ActionID)]...)
	}

	for _, ch := range targets {
		select {
		case ch <- e:
		default:
			b.logger.Warn("event bus channel full, dropping event",
				"action_id", e.ActionID, "type", e.Type)
		}
	}
}
