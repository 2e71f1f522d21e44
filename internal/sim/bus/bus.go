// Package bus is the publish/subscribe channel between simulation
// components. Delivery is per-subscriber FIFO in publish order; handlers run
// on their own goroutine so one slow subscriber cannot stall another, and a
// publisher never blocks.
package bus

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"scrai/internal/schema"
)

// Handler receives matching events. A panicking handler is logged and
// reported as a handler_fault event; it never reaches the publisher.
type Handler func(schema.Event)

// Subscription identifies a registered handler for Unsubscribe.
type Subscription struct {
	id uint64
}

type subscriber struct {
	id      uint64
	pattern string
	handler Handler

	mu      sync.Mutex
	pending []schema.Event
	wake    chan struct{}
	done    chan struct{}
}

// Bus routes events to subscribers by type pattern. An event with no
// matching subscriber is dropped; there is no persistence.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool

	logger *log.Logger
}

func New(logger *log.Logger) *Bus {
	return &Bus{
		subs:   map[uint64]*subscriber{},
		logger: logger,
	}
}

// Subscribe registers a handler for events whose type matches the pattern.
// Patterns: "*" matches everything, a trailing "*" matches by prefix
// ("actor.*"), anything else matches exactly.
func (b *Bus) Subscribe(pattern string, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &subscriber{
		id:      b.nextID,
		pattern: pattern,
		handler: handler,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	b.subs[sub.id] = sub
	go b.drain(sub)
	return Subscription{id: sub.id}
}

// Unsubscribe removes a subscription. Events already queued for it may still
// be delivered.
func (b *Bus) Unsubscribe(s Subscription) {
	b.mu.Lock()
	sub, ok := b.subs[s.id]
	if ok {
		delete(b.subs, s.id)
	}
	b.mu.Unlock()
	if ok {
		close(sub.done)
	}
}

// Publish enqueues the event for every matching subscriber and returns
// immediately. Queues are unbounded so delivery is at-least-once to every
// subscriber registered at publish time.
func (b *Bus) Publish(e schema.Event) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	var targets []*subscriber
	for _, sub := range b.subs {
		if match(sub.pattern, e.Type) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		sub.mu.Lock()
		sub.pending = append(sub.pending, e)
		sub.mu.Unlock()
		select {
		case sub.wake <- struct{}{}:
		default:
		}
	}
}

// Close stops routing. Pending queues finish draining asynchronously.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.done)
	}
}

func (b *Bus) drain(sub *subscriber) {
	for {
		sub.mu.Lock()
		batch := sub.pending
		sub.pending = nil
		sub.mu.Unlock()

		for _, e := range batch {
			b.invoke(sub, e)
		}

		select {
		case <-sub.wake:
		case <-sub.done:
			// Final drain so already-published events are not lost.
			sub.mu.Lock()
			rest := sub.pending
			sub.pending = nil
			sub.mu.Unlock()
			for _, e := range rest {
				b.invoke(sub, e)
			}
			return
		}
	}
}

func (b *Bus) invoke(sub *subscriber, e schema.Event) {
	defer func() {
		if r := recover(); r != nil {
			if b.logger != nil {
				b.logger.Printf("handler fault: pattern=%q event=%s: %v", sub.pattern, e.Type, r)
			}
			if e.Type == schema.EventHandlerFault {
				return // do not fault-loop
			}
			fault := schema.NewEvent(schema.EventHandlerFault, schema.Bag{
				"pattern":    schema.String(sub.pattern),
				"event_type": schema.String(e.Type),
				"panic":      schema.String(fmt.Sprint(r)),
			})
			fault.Round = e.Round
			b.Publish(fault)
		}
	}()
	sub.handler(e)
}

func match(pattern, eventType string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(eventType, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == eventType
}
