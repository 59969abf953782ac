// Package events fans turn lifecycle changes out to live subscribers
// (SSE streams and websocket sessions).
package events

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/genie-room/backend/internal/model/conversation"
)

// Type names a turn lifecycle event.
type Type string

const (
	TurnCreated   Type = "turn.created"
	TurnUpdated   Type = "turn.updated"
	TurnCompleted Type = "turn.completed"
	TurnFailed    Type = "turn.failed"
)

const defaultBuffer = 16

// Event carries a snapshot of the turn after the change.
type Event struct {
	Type           Type              `json:"type"`
	ConversationID string            `json:"conversationId"`
	Turn           conversation.Turn `json:"turn"`
}

// ForTurn picks the event type that matches the turn's current status.
func ForTurn(turn conversation.Turn) Event {
	typ := TurnUpdated
	switch turn.Status {
	case conversation.StatusCompleted:
		typ = TurnCompleted
	case conversation.StatusFailed:
		typ = TurnFailed
	}
	return Event{Type: typ, ConversationID: turn.ConversationID, Turn: turn}
}

// Terminal reports whether no further events will follow for this turn.
func (e Event) Terminal() bool {
	return e.Type == TurnCompleted || e.Type == TurnFailed
}

// Broker is an in-memory publish/subscribe hub keyed by conversation.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscription]struct{}
	buffer int
}

type subscription struct {
	ch   chan Event
	once sync.Once
}

// NewBroker creates a broker whose subscriber channels hold buffer events.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Broker{
		subs:   make(map[string]map[*subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers for events on one conversation. The returned cancel
// func must be called; it closes the channel.
func (b *Broker) Subscribe(conversationID string) (<-chan Event, func()) {
	sub := &subscription{ch: make(chan Event, b.buffer)}

	b.mu.Lock()
	set, ok := b.subs[conversationID]
	if !ok {
		set = make(map[*subscription]struct{})
		b.subs[conversationID] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if set, ok := b.subs[conversationID]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(b.subs, conversationID)
			}
		}
		b.mu.Unlock()
		sub.once.Do(func() { close(sub.ch) })
	}
	return sub.ch, cancel
}

// Publish delivers evt to every subscriber without blocking. A subscriber
// whose buffer is full misses the event.
func (b *Broker) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs[evt.ConversationID] {
		select {
		case sub.ch <- evt:
		default:
			log.Warn().
				Str("conversation_id", evt.ConversationID).
				Str("event", string(evt.Type)).
				Msg("subscriber too slow, dropping event")
		}
	}
}

// Subscribers returns the number of live subscriptions for a conversation.
func (b *Broker) Subscribers(conversationID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[conversationID])
}
