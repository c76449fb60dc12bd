package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/fushengyk/tickflow/internal/config"
	"github.com/fushengyk/tickflow/internal/domain"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaConsumer feeds JSON-encoded data items from a Kafka topic into the
// processor. A message holds either one item or an array of items; malformed
// messages are logged and skipped.
type KafkaConsumer struct {
	reader  *kafka.Reader
	handler domain.StreamHandler
	logger  *zap.SugaredLogger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewKafkaConsumer creates a consumer reading from the configured topic
func NewKafkaConsumer(cfg config.KafkaConfig, handler domain.StreamHandler, logger *zap.SugaredLogger) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	})
	return &KafkaConsumer{
		reader:  reader,
		handler: handler,
		logger:  logger,
	}
}

func (c *KafkaConsumer) Name() string {
	return "kafka"
}

func (c *KafkaConsumer) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	c.logger.Infof("[Kafka] Consuming %s (group %s)", c.reader.Config().Topic, c.reader.Config().GroupID)

	c.wg.Add(1)
	go c.run(ctx)
	return nil
}

func (c *KafkaConsumer) Stop() error {
	c.logger.Info("[Kafka] Stopping consumer...")
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.reader.Close()
}

func (c *KafkaConsumer) run(ctx context.Context) {
	defer c.wg.Done()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.logger.Errorf("[Kafka] Read failed: %v", err)
			continue
		}
		c.handleMessage(msg.Value)
	}
}

func (c *KafkaConsumer) handleMessage(value []byte) {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 {
		return
	}

	if trimmed[0] == '[' {
		var items []*domain.DataItem
		if err := json.Unmarshal(trimmed, &items); err != nil {
			c.logger.Warnf("[Kafka] Skipping malformed batch: %v", err)
			return
		}
		c.handler.ProcessBatch(items)
		return
	}

	var item domain.DataItem
	if err := json.Unmarshal(trimmed, &item); err != nil {
		c.logger.Warnf("[Kafka] Skipping malformed item: %v", err)
		return
	}
	c.handler.ProcessData(&item)
}
