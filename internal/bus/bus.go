// Package bus is the in-process publish/subscribe broker that decouples the
// review scheduler, the stability scorer and the synthesis resolver.
//
// Dispatch is synchronous: Publish calls every handler registered for the
// message type in registration order and returns once all of them have
// returned. A failing handler is logged and skipped.
package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type subscription struct {
	id      uint64
	handler Handler
}

// MessageBus routes messages to typed subscribers and diagnostic observers.
type MessageBus struct {
	mu        sync.RWMutex
	handlers  map[EventType][]subscription
	observers []subscription
	nextID    atomic.Uint64
	log       *messageLog
	logger    *zap.Logger
}

// New creates a bus retaining the last logSize messages (DefaultLogSize if <= 0).
func New(logSize int, logger *zap.Logger) *MessageBus {
	return &MessageBus{
		handlers: make(map[EventType][]subscription),
		log:      newMessageLog(logSize),
		logger:   logger,
	}
}

// Subscribe registers h for messages of type t. Subscribing to Wildcard is
// equivalent to Observe.
func (b *MessageBus) Subscribe(t EventType, h Handler) Unsubscribe {
	if t == Wildcard {
		return b.Observe(h)
	}
	if !t.Valid() {
		b.logger.Warn("subscribing to unknown event type", zap.String("type", string(t)))
	}

	sub := subscription{id: b.nextID.Add(1), handler: h}
	b.mu.Lock()
	b.handlers[t] = append(b.handlers[t], sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(t, sub.id) })
	}
}

// Observe registers h to receive every message after its typed handlers have
// run. Observers are for diagnostics (relays, logs) and must not drive
// functional behavior.
func (b *MessageBus) Observe(h Handler) Unsubscribe {
	sub := subscription{id: b.nextID.Add(1), handler: h}
	b.mu.Lock()
	b.observers = append(b.observers, sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(Wildcard, sub.id) })
	}
}

func (b *MessageBus) remove(t EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.observers
	if t != Wildcard {
		subs = b.handlers[t]
	}
	kept := make([]subscription, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			kept = append(kept, s)
		}
	}
	if t == Wildcard {
		b.observers = kept
		return
	}
	if len(kept) == 0 {
		delete(b.handlers, t)
		return
	}
	b.handlers[t] = kept
}

// Publish records msg in the ring log and delivers it to every subscriber of
// its type, then to every observer. Handlers run one after another in
// registration order; the call returns when the last one has returned.
func (b *MessageBus) Publish(ctx context.Context, msg *Message) {
	if msg == nil {
		return
	}
	b.log.append(msg)
	metricPublished.WithLabelValues(string(msg.Type)).Inc()

	b.mu.RLock()
	typed := append([]subscription(nil), b.handlers[msg.Type]...)
	observers := append([]subscription(nil), b.observers...)
	b.mu.RUnlock()

	for _, s := range typed {
		b.dispatch(ctx, s, msg)
	}
	for _, s := range observers {
		b.dispatch(ctx, s, msg)
	}
}

// Send builds a message with a fresh id and timestamp and publishes it.
func (b *MessageBus) Send(ctx context.Context, t EventType, payload any, source string) *Message {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      t,
		Payload:   payload,
		Source:    source,
		Timestamp: time.Now(),
	}
	b.Publish(ctx, msg)
	return msg
}

// Log returns the retained messages, oldest first.
func (b *MessageBus) Log() []*Message {
	return b.log.snapshot()
}

// Subscribers returns the number of typed handlers registered for t.
func (b *MessageBus) Subscribers(t EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if t == Wildcard {
		return len(b.observers)
	}
	return len(b.handlers[t])
}

func (b *MessageBus) dispatch(ctx context.Context, s subscription, msg *Message) {
	if err := b.invoke(ctx, s.handler, msg); err != nil {
		metricHandlerFaults.WithLabelValues(string(msg.Type)).Inc()
		b.logger.Error("bus handler failed",
			zap.String("type", string(msg.Type)),
			zap.String("message", msg.ID),
			zap.Uint64("subscription", s.id),
			zap.Error(err))
	}
}

func (b *MessageBus) invoke(ctx context.Context, h Handler, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, msg)
}
