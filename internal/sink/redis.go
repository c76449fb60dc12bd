package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fushengyk/tickflow/internal/bus"
	"github.com/fushengyk/tickflow/internal/config"
	"github.com/fushengyk/tickflow/internal/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CandleCache mirrors completed candles into Redis: the latest candle per
// symbol under a TTL key, plus a bounded recent-history list. Writes are best
// effort; a Redis failure never touches the engine.
type CandleCache struct {
	rdb    *redis.Client
	bus    *bus.Bus
	logger *zap.SugaredLogger

	ttl         time.Duration
	recentLimit int
	namespace   string

	subID string
}

// NewCandleCache creates a cache sink. Zero ttl defaults to 5 minutes, zero
// recentLimit to 100 entries.
func NewCandleCache(cfg config.RedisConfig, rdb *redis.Client, b *bus.Bus, logger *zap.SugaredLogger) *CandleCache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	recentLimit := cfg.RecentLimit
	if recentLimit <= 0 {
		recentLimit = 100
	}
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "candles"
	}

	return &CandleCache{
		rdb:         rdb,
		bus:         b,
		logger:      logger,
		ttl:         ttl,
		recentLimit: recentLimit,
		namespace:   namespace,
	}
}

// Start subscribes the cache to completed candles
func (c *CandleCache) Start() error {
	c.logger.Info("📊 Starting Redis candle cache...")
	c.subID = c.bus.Subscribe(domain.TopicCandleComplete, func(_ domain.Topic, event domain.Event) {
		ce, ok := event.(domain.CandleEvent)
		if !ok {
			return
		}
		c.store(ce)
	})
	c.logger.Info("✅ Redis candle cache started")
	return nil
}

// Stop detaches the cache from the bus
func (c *CandleCache) Stop() {
	c.logger.Info("🛑 Stopping Redis candle cache...")
	if c.subID != "" {
		c.bus.Unsubscribe(c.subID)
		c.subID = ""
	}
}

func (c *CandleCache) store(event domain.CandleEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	data, err := json.Marshal(event)
	if err != nil {
		c.logger.Errorf("[Redis] Marshal candle for %s failed: %v", event.Symbol, err)
		return
	}

	latestKey := c.latestKey(event.Symbol)
	if err := c.rdb.Set(ctx, latestKey, data, c.ttl).Err(); err != nil {
		c.logger.Errorf("[Redis] SET %s failed: %v", latestKey, err)
		return
	}

	recentKey := c.recentKey(event.Symbol)
	if err := c.rdb.LPush(ctx, recentKey, data).Err(); err != nil {
		c.logger.Errorf("[Redis] LPUSH %s failed: %v", recentKey, err)
		return
	}
	if err := c.rdb.LTrim(ctx, recentKey, 0, int64(c.recentLimit-1)).Err(); err != nil {
		c.logger.Errorf("[Redis] LTRIM %s failed: %v", recentKey, err)
	}
}

func (c *CandleCache) latestKey(symbol string) string {
	return fmt.Sprintf("%s:latest:%s", c.namespace, safe(symbol))
}

func (c *CandleCache) recentKey(symbol string) string {
	return fmt.Sprintf("%s:recent:%s", c.namespace, safe(symbol))
}

// safe escapes characters that are problematic for Redis keys
func safe(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, ":", "_")
	return s
}
