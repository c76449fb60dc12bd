package bus

import (
	"sync"
	"sync/atomic"

	"github.com/fushengyk/tickflow/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// subscriberQueueSize bounds how far a slow consumer may lag before drops
const subscriberQueueSize = 256

// Handler receives events published on a subscribed topic
type Handler func(topic domain.Topic, event domain.Event)

// Bus is the in-process publish/subscribe surface. Publish never blocks:
// each subscriber owns a buffered queue drained by its own goroutine, and
// events beyond the queue capacity are dropped and counted.
type Bus struct {
	logger *zap.SugaredLogger

	mu      sync.RWMutex
	subs    map[domain.Topic]map[string]*subscriber
	byID    map[string]*subscriber
	closed  bool
	dropped atomic.Uint64
}

type envelope struct {
	topic domain.Topic
	event domain.Event
}

type subscriber struct {
	id      string
	topic   domain.Topic
	handler Handler
	queue   chan envelope
	done    chan struct{}
}

func (s *subscriber) run() {
	defer close(s.done)
	for env := range s.queue {
		s.handler(env.topic, env.event)
	}
}

// New creates an empty bus
func New(logger *zap.SugaredLogger) *Bus {
	return &Bus{
		logger: logger,
		subs:   make(map[domain.Topic]map[string]*subscriber),
		byID:   make(map[string]*subscriber),
	}
}

// Subscribe registers a handler for a topic and returns its subscription id
func (b *Bus) Subscribe(topic domain.Topic, handler Handler) string {
	sub := &subscriber{
		id:      uuid.NewString(),
		topic:   topic,
		handler: handler,
		queue:   make(chan envelope, subscriberQueueSize),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.queue)
		close(sub.done)
		return sub.id
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[string]*subscriber)
	}
	b.subs[topic][sub.id] = sub
	b.byID[sub.id] = sub
	b.mu.Unlock()

	go sub.run()
	return sub.id
}

// Unsubscribe removes a subscription and waits for its handler to drain
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.byID[id]
	if ok {
		delete(b.byID, id)
		delete(b.subs[sub.topic], id)
		close(sub.queue)
	}
	b.mu.Unlock()

	if ok {
		<-sub.done
	}
}

// Publish delivers an event to every subscriber of the topic, fire-and-forget
func (b *Bus) Publish(topic domain.Topic, event domain.Event) {
	env := envelope{topic: topic, event: event}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs[topic] {
		select {
		case sub.queue <- env:
		default:
			b.dropped.Add(1)
			b.logger.Debugf("[Bus] Dropped event on %s: subscriber %s queue full", topic, sub.id)
		}
	}
}

// Dropped returns how many events were discarded due to full subscriber queues
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close tears down every subscription; further publishes are no-ops
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true

	var subs []*subscriber
	for _, sub := range b.byID {
		subs = append(subs, sub)
		close(sub.queue)
	}
	b.subs = make(map[domain.Topic]map[string]*subscriber)
	b.byID = make(map[string]*subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		<-sub.done
	}
}
