package alert

import (
	"math"
	"sync"
	"time"

	"github.com/fushengyk/tickflow/internal/bus"
	"github.com/fushengyk/tickflow/internal/config"
	"github.com/fushengyk/tickflow/internal/domain"
	"go.uber.org/zap"
)

// Service watches completed candles and raises an alert when the close moved
// past the configured threshold relative to the open. A per-symbol cooldown
// suppresses repeats unless the move expanded beyond the last alerted one.
type Service struct {
	cfg    *config.Config
	bus    *bus.Bus
	logger *zap.SugaredLogger

	mu    sync.Mutex
	state map[string]triggerState

	notifier *Notifier
	subID    string
}

type triggerState struct {
	LastTriggerTime int64
	LastTriggerPct  float64
}

// NewService creates an alert service bound to the bus
func NewService(cfg *config.Config, b *bus.Bus, logger *zap.SugaredLogger) *Service {
	return &Service{
		cfg:      cfg,
		bus:      b,
		logger:   logger,
		state:    make(map[string]triggerState),
		notifier: NewNotifier(cfg, logger),
	}
}

// Start subscribes the service to completed candles
func (s *Service) Start() error {
	s.logger.Info("🛡️ Starting Alert Service...")

	if len(s.cfg.Alert.Channels) == 0 {
		s.logger.Warn("⚠️ No alert channels configured!")
	}
	s.logger.Infof("📋 Alert rule: |close-open|/open >= %.2f%% (cooldown %v, expansion %.2f) → channels %v",
		s.cfg.Alert.ThresholdPct, s.cfg.Alert.Cooldown, s.expansionFactor(), s.cfg.Alert.Channels)

	s.subID = s.bus.Subscribe(domain.TopicCandleComplete, func(_ domain.Topic, event domain.Event) {
		ce, ok := event.(domain.CandleEvent)
		if !ok {
			return
		}
		s.onCandle(ce)
	})

	s.logger.Info("✅ Alert Service listening on candle-complete")
	return nil
}

// Stop detaches the service from the bus
func (s *Service) Stop() {
	s.logger.Info("🛑 Stopping Alert Service...")
	if s.subID != "" {
		s.bus.Unsubscribe(s.subID)
		s.subID = ""
	}
}

func (s *Service) expansionFactor() float64 {
	if s.cfg.Alert.ExpansionFactor == 0 {
		return 1.2
	}
	return s.cfg.Alert.ExpansionFactor
}

func (s *Service) onCandle(event domain.CandleEvent) {
	candle := event.Candle
	if candle.Open == 0 {
		return
	}

	pct := (candle.Close - candle.Open) / candle.Open * 100
	if math.Abs(pct) < s.cfg.Alert.ThresholdPct {
		return
	}

	now := time.Now().UnixMilli()
	if !s.shouldTrigger(event.Symbol, pct, now) {
		return
	}

	payload := AlertPayload{
		Symbol:      event.Symbol,
		Timeframe:   event.Timeframe,
		PriceStart:  candle.Open,
		PriceEnd:    candle.Close,
		ChangePct:   pct,
		Volume:      candle.Volume,
		TradeCount:  candle.TradeCount,
		TriggerTime: time.UnixMilli(now),
	}

	go s.notifier.Send(payload, s.cfg.Alert.Channels)
}

// shouldTrigger applies the cooldown and records the trigger when it fires.
// During a cooldown only an expansion past lastPct*factor re-triggers.
func (s *Service) shouldTrigger(symbol string, pct float64, now int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.state[symbol]
	inCooldown := now-state.LastTriggerTime < s.cfg.Alert.Cooldown.Milliseconds()

	if inCooldown && math.Abs(pct) < math.Abs(state.LastTriggerPct)*s.expansionFactor() {
		return false
	}

	s.state[symbol] = triggerState{
		LastTriggerTime: now,
		LastTriggerPct:  pct,
	}
	return true
}
