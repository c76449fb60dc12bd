package relay

import (
	"encoding/json"

	"github.com/fushengyk/tickflow/internal/bus"
	"github.com/fushengyk/tickflow/internal/domain"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Relay republishes bus events to NATS JetStream so out-of-process consumers
// can follow the stream without touching the engine.
type Relay struct {
	js     nats.JetStreamContext
	bus    *bus.Bus
	logger *zap.SugaredLogger

	subIDs []string
}

// New creates a relay bound to a bus and a JetStream context
func New(js nats.JetStreamContext, b *bus.Bus, logger *zap.SugaredLogger) *Relay {
	return &Relay{
		js:     js,
		bus:    b,
		logger: logger,
	}
}

// Start subscribes the relay to the data and candle topics
func (r *Relay) Start() error {
	r.logger.Info("📊 Starting Relay...")

	topics := []domain.Topic{
		domain.TopicData(domain.KindTrade),
		domain.TopicData(domain.KindTicker),
		domain.TopicCandleUpdate,
		domain.TopicCandleComplete,
	}
	for _, topic := range topics {
		r.subIDs = append(r.subIDs, r.bus.Subscribe(topic, r.handle))
	}

	r.logger.Infof("✅ Relay subscribed to %d topics", len(topics))
	return nil
}

// Stop detaches the relay from the bus
func (r *Relay) Stop() {
	r.logger.Info("🛑 Stopping Relay...")
	for _, id := range r.subIDs {
		r.bus.Unsubscribe(id)
	}
	r.subIDs = nil
}

func (r *Relay) handle(topic domain.Topic, event domain.Event) {
	switch e := event.(type) {
	case domain.BatchEvent:
		r.publish(domain.SubjectTick(e.Kind, e.Symbol), e)
	case domain.CandleEvent:
		if e.IsComplete {
			r.publish(domain.SubjectCandleClosed(e.Symbol), e)
		} else {
			r.publish(domain.SubjectCandleUpdate(e.Symbol), e)
		}
	}
}

func (r *Relay) publish(subject string, event domain.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		r.logger.Errorf("[Relay] Marshal for %s failed: %v", subject, err)
		return
	}
	if _, err := r.js.Publish(subject, data); err != nil {
		r.logger.Errorf("[Relay] Publish to %s failed: %v", subject, err)
	}
}
