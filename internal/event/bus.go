// Package event provides a process-local pub/sub bus for gateway lifecycle
// events using watermill.
package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const topic = "executor.events"

// ErrClosed is returned when publishing on a closed bus.
var ErrClosed = errors.New("event bus closed")

// EventType represents the type of event.
type EventType string

// Event is a published event. Data holds the JSON encoding of the payload.
type Event struct {
	Type EventType       `json:"type"`
	Time time.Time       `json:"time"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s has no data", e.Type)
	}
	return json.Unmarshal(e.Data, v)
}

// Subscriber is a function that receives events.
type Subscriber func(event Event)

// subscriberEntry wraps a subscriber with an ID.
type subscriberEntry struct {
	id uint64
	fn Subscriber
}

// Bus fans events out to subscribers. Events are carried as watermill
// messages on a gochannel pub/sub and delivered by a single router
// goroutine, so subscribers see events from one publisher in publish order.
type Bus struct {
	mu sync.RWMutex

	pubsub *gochannel.GoChannel
	cancel context.CancelFunc
	done   chan struct{}

	subscribers map[EventType][]subscriberEntry
	global      []subscriberEntry

	nextID uint64
	closed bool
}

// NewBus creates a new event bus with watermill infrastructure.
func NewBus() *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            256,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: true,
		},
		watermill.NopLogger{},
	)

	b := &Bus{
		pubsub:      pubsub,
		cancel:      cancel,
		done:        make(chan struct{}),
		subscribers: make(map[EventType][]subscriberEntry),
	}

	msgs, err := pubsub.Subscribe(ctx, topic)
	if err != nil {
		// Only possible on a closed GoChannel, which this one is not.
		panic(fmt.Sprintf("event: subscribe: %v", err))
	}
	go b.route(msgs)

	return b
}

func (b *Bus) route(msgs <-chan *message.Message) {
	defer close(b.done)
	for msg := range msgs {
		msg.Ack()

		var ev Event
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			continue
		}
		for _, fn := range b.subscribersFor(ev.Type) {
			fn(ev)
		}
	}
}

func (b *Bus) subscribersFor(t EventType) []Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := make([]Subscriber, 0, len(b.subscribers[t])+len(b.global))
	for _, entry := range b.subscribers[t] {
		subs = append(subs, entry.fn)
	}
	for _, entry := range b.global {
		subs = append(subs, entry.fn)
	}
	return subs
}

// newID generates a unique subscriber ID.
func (b *Bus) newID() uint64 {
	return atomic.AddUint64(&b.nextID, 1)
}

// Subscribe registers a subscriber for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriberEntry{id: id, fn: fn})

	return func() {
		b.unsubscribe(eventType, id)
	}
}

// SubscribeAll registers a subscriber for all events.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.global = append(b.global, subscriberEntry{id: id, fn: fn})

	return func() {
		b.unsubscribeGlobal(id)
	}
}

// unsubscribe removes a subscriber for a specific event type.
func (b *Bus) unsubscribe(eventType EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[eventType]
	for i, entry := range subs {
		if entry.id == id {
			b.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
}

// unsubscribeGlobal removes a global subscriber.
func (b *Bus) unsubscribeGlobal(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, entry := range b.global {
		if entry.id == id {
			b.global = append(b.global[:i:i], b.global[i+1:]...)
			break
		}
	}
}

// Publish encodes data and hands it to the router. It returns once the
// router has taken the event; subscribers run on the router goroutine.
func (b *Bus) Publish(eventType EventType, data any) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", eventType, err)
	}
	payload, err := json.Marshal(Event{Type: eventType, Time: time.Now(), Data: raw})
	if err != nil {
		return fmt.Errorf("encode %s: %w", eventType, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("type", string(eventType))
	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}

// Close closes the bus and waits for the router to finish.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subscribers = make(map[EventType][]subscriberEntry)
	b.global = nil
	b.mu.Unlock()

	b.cancel()
	err := b.pubsub.Close()
	<-b.done
	return err
}
