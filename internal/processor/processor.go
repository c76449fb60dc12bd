package processor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fushengyk/tickflow/internal/bus"
	"github.com/fushengyk/tickflow/internal/config"
	"github.com/fushengyk/tickflow/internal/domain"
	"go.uber.org/zap"
)

// Processor is the stream ingestion, buffering, and candle aggregation
// engine. One mutex funnels every mutation: ingestion calls and the flush
// tick never observe half-updated buffers or candles.
type Processor struct {
	cfg    config.EngineConfig
	bus    *bus.Bus
	logger *zap.SugaredLogger

	timeframe string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	symbols map[string]bool
	buffers map[string]map[domain.DataKind]*historyBuffer
	agg     *aggregator
	pending *emitQueue

	stats procStats
}

// procStats tracks ingestion statistics (per minute deltas in the logger)
type procStats struct {
	accepted  atomic.Uint64
	malformed atomic.Uint64
	emitted   atomic.Uint64

	lastAccepted  uint64
	lastMalformed uint64
	lastEmitted   uint64
}

// Stats is a read-only snapshot of the engine state
type Stats struct {
	SymbolCount        int            `json:"symbol_count"`
	BufferSizes        map[string]int `json:"buffer_sizes"`
	IsRunning          bool           `json:"is_running"`
	TotalDataProcessed uint64         `json:"total_data_processed"`
}

// New validates the engine configuration and builds a stopped processor.
// This is the only failing path: every other operation recovers locally.
func New(cfg config.EngineConfig, b *bus.Bus, logger *zap.SugaredLogger) (*Processor, error) {
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("buffer_size must be positive, got %d", cfg.BufferSize)
	}
	if cfg.ThrottleMs <= 0 {
		return nil, fmt.Errorf("throttle_ms must be positive, got %d", cfg.ThrottleMs)
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch_size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.CandlePeriodMs <= 0 {
		return nil, fmt.Errorf("candle_period_ms must be positive, got %d", cfg.CandlePeriodMs)
	}

	symbols := make(map[string]bool, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		if s != "" {
			symbols[s] = true
		}
	}

	return &Processor{
		cfg:       cfg,
		bus:       b,
		logger:    logger,
		timeframe: domain.TimeframeLabel(cfg.CandlePeriodMs),
		symbols:   symbols,
		buffers:   make(map[string]map[domain.DataKind]*historyBuffer),
		agg:       newAggregator(cfg.CandlePeriodMs),
		pending:   newEmitQueue(),
	}, nil
}

// Start arms the flush scheduler. Idempotent while running.
func (p *Processor) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		p.logger.Debug("[Processor] Start ignored: already running")
		return
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(context.Background())

	p.wg.Add(2)
	go p.runFlusher(p.ctx)
	go p.runStatsLogger(p.ctx)
	p.mu.Unlock()

	p.logger.Infof("📊 Processor started (timeframe=%s throttle=%dms batch=%d buffer=%d)",
		p.timeframe, p.cfg.ThrottleMs, p.cfg.BatchSize, p.cfg.BufferSize)
}

// Stop disarms the scheduler and waits for it, so no flush can fire after
// Stop returns. Buffers and candle state are kept. Idempotent while stopped.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		p.logger.Debug("[Processor] Stop ignored: not running")
		return
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()

	p.logger.Info("🛑 Processor stopped")
}

// ProcessData ingests one item. While stopped it is a silent no-op; malformed
// items are logged and dropped. It never panics and never returns an error.
func (p *Processor) ProcessData(item *domain.DataItem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processLocked(item)
}

// ProcessBatch ingests items in order; one bad element never stops the rest
func (p *Processor) ProcessBatch(items []*domain.DataItem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, item := range items {
		p.processLocked(item)
	}
}

func (p *Processor) processLocked(item *domain.DataItem) {
	if !p.running {
		return
	}

	if err := item.Validate(); err != nil {
		p.stats.malformed.Add(1)
		p.logger.Warnf("[Processor] Dropping malformed item: %v", err)
		return
	}

	kinds, ok := p.buffers[item.Symbol]
	if !ok {
		kinds = make(map[domain.DataKind]*historyBuffer)
		p.buffers[item.Symbol] = kinds
	}
	buf, ok := kinds[item.Kind]
	if !ok {
		buf = newHistoryBuffer(p.cfg.BufferSize)
		kinds[item.Kind] = buf
	}
	buf.append(*item)

	if item.Kind == domain.KindTrade {
		if completed, current, changed := p.agg.apply(*item); changed {
			p.pending.enqueueCandle(item.Symbol, completed, current)
		}
	}

	p.stats.accepted.Add(1)
	p.pending.enqueueItem(*item)
}

// AddSymbols registers symbols for tracking
func (p *Processor) AddSymbols(symbols []string) {
	p.mu.Lock()
	for _, s := range symbols {
		if s != "" {
			p.symbols[s] = true
		}
	}
	count := len(p.symbols)
	p.mu.Unlock()

	p.logger.Infof("[Processor] Added symbols %v (tracking %d)", symbols, count)
}

// RemoveSymbols unregisters symbols and deletes their buffers for all kinds.
// Tracking is bookkeeping, not a hard allow-list: a later item for a removed
// symbol recreates its buffer lazily.
func (p *Processor) RemoveSymbols(symbols []string) {
	p.mu.Lock()
	for _, s := range symbols {
		delete(p.symbols, s)
		delete(p.buffers, s)
	}
	count := len(p.symbols)
	p.mu.Unlock()

	p.logger.Infof("[Processor] Removed symbols %v (tracking %d)", symbols, count)
}

// Symbols returns the tracked symbol set, sorted
func (p *Processor) Symbols() []string {
	p.mu.Lock()
	out := make([]string, 0, len(p.symbols))
	for s := range p.symbols {
		out = append(out, s)
	}
	p.mu.Unlock()

	sort.Strings(out)
	return out
}

// ClearBuffers empties history buffers matching the filters; empty strings
// act as wildcards. The processed counter is never reset.
func (p *Processor) ClearBuffers(symbol string, kind domain.DataKind) {
	p.mu.Lock()
	switch {
	case symbol == "" && kind == "":
		p.buffers = make(map[string]map[domain.DataKind]*historyBuffer)
	case kind == "":
		delete(p.buffers, symbol)
	case symbol == "":
		for s, kinds := range p.buffers {
			delete(kinds, kind)
			if len(kinds) == 0 {
				delete(p.buffers, s)
			}
		}
	default:
		if kinds, ok := p.buffers[symbol]; ok {
			delete(kinds, kind)
			if len(kinds) == 0 {
				delete(p.buffers, symbol)
			}
		}
	}
	p.mu.Unlock()

	p.logger.Infof("[Processor] Cleared buffers (symbol=%q kind=%q)", symbol, kind)
}

// GetLatest returns the last min(n, len) items for a key, oldest to newest.
// Unknown keys yield an empty slice, never an error.
func (p *Processor) GetLatest(symbol string, kind domain.DataKind, n int) []domain.DataItem {
	p.mu.Lock()
	defer p.mu.Unlock()

	kinds, ok := p.buffers[symbol]
	if !ok {
		return []domain.DataItem{}
	}
	buf, ok := kinds[kind]
	if !ok {
		return []domain.DataItem{}
	}
	return buf.latest(n)
}

// GetStats returns a snapshot of the engine state
func (p *Processor) GetStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	sizes := make(map[string]int)
	for symbol, kinds := range p.buffers {
		for kind, buf := range kinds {
			sizes[domain.BufferKey(symbol, kind)] = buf.size()
		}
	}

	return Stats{
		SymbolCount:        len(p.symbols),
		BufferSizes:        sizes,
		IsRunning:          p.running,
		TotalDataProcessed: p.stats.accepted.Load(),
	}
}

// runFlusher drives the throttled emission schedule
func (p *Processor) runFlusher(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(time.Duration(p.cfg.ThrottleMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.flush()
		}
	}
}

// flush drains the pending queues under the mutex and publishes afterwards,
// so the lock is never held across bus calls.
func (p *Processor) flush() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	batches, candles := p.pending.drain(p.cfg.BatchSize, p.timeframe)
	p.mu.Unlock()

	for _, b := range batches {
		p.stats.emitted.Add(uint64(len(b.Items)))
		p.bus.Publish(domain.TopicData(b.Kind), b)
		p.bus.Publish(domain.TopicKindAlias(b.Kind), b)
	}

	for _, c := range candles {
		if c.IsComplete {
			p.bus.Publish(domain.TopicCandleComplete, c)
		} else {
			p.bus.Publish(domain.TopicCandleUpdate, c)
		}
	}
}

func (p *Processor) runStatsLogger(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.logStats()
		}
	}
}

func (p *Processor) logStats() {
	accepted := p.stats.accepted.Load()
	malformed := p.stats.malformed.Load()
	emitted := p.stats.emitted.Load()

	deltaAccepted := accepted - p.stats.lastAccepted
	deltaMalformed := malformed - p.stats.lastMalformed
	deltaEmitted := emitted - p.stats.lastEmitted

	p.stats.lastAccepted = accepted
	p.stats.lastMalformed = malformed
	p.stats.lastEmitted = emitted

	p.mu.Lock()
	symbolCount := len(p.symbols)
	bufferCount := 0
	for _, kinds := range p.buffers {
		bufferCount += len(kinds)
	}
	queued := p.pending.depth()
	p.mu.Unlock()

	p.logger.Infof("[Processor 1min] In:%d Bad:%d Out:%d | Symbols:%d Buffers:%d Queue:%d",
		deltaAccepted, deltaMalformed, deltaEmitted, symbolCount, bufferCount, queued)
}
