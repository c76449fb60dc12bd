package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fushengyk/tickflow/internal/config"
	"github.com/fushengyk/tickflow/internal/domain"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// SymbolSource supplies the symbol set the feed should be subscribed to.
// The processor's registry satisfies it.
type SymbolSource interface {
	Symbols() []string
}

// BinanceCollector streams trades and mini-tickers from Binance combined
// streams and hands parsed items to a StreamHandler. Subscriptions follow the
// symbol registry: a periodic resync hot-swaps the websocket clients whenever
// the tracked set changes.
type BinanceCollector struct {
	cfg     config.BinanceConfig
	handler domain.StreamHandler
	source  SymbolSource
	logger  *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.RWMutex
	clients     []*wsClient
	lastSymbols map[string]bool
	rawToSymbol map[string]string

	stats feedStats
}

// feedStats tracks message statistics (per minute deltas in the logger)
type feedStats struct {
	msgRecv     atomic.Uint64
	msgParsed   atomic.Uint64
	msgFailed   atomic.Uint64
	lastMsgRecv uint64
	lastParsed  uint64
	lastFailed  uint64

	mu   sync.Mutex
	seen map[string]bool
}

// NewBinanceCollector creates a Binance feed bound to a handler and a symbol
// source.
func NewBinanceCollector(cfg config.BinanceConfig, handler domain.StreamHandler, source SymbolSource, logger *zap.SugaredLogger) *BinanceCollector {
	ctx, cancel := context.WithCancel(context.Background())
	return &BinanceCollector{
		cfg:         cfg,
		handler:     handler,
		source:      source,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		lastSymbols: make(map[string]bool),
		rawToSymbol: make(map[string]string),
	}
}

func (c *BinanceCollector) Name() string {
	return "binance"
}

func (c *BinanceCollector) Start(ctx context.Context) error {
	go c.runStatsLogger()
	go c.runResync()
	return nil
}

func (c *BinanceCollector) Stop() error {
	c.logger.Info("[Binance] Stopping feed...")
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, client := range c.clients {
		client.Stop()
	}
	return nil
}

// runResync periodically re-reads the symbol registry and refreshes
// subscriptions when the set changed
func (c *BinanceCollector) runResync() {
	interval := c.cfg.ResyncInterval
	if interval == 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Infof("[Binance] Starting registry resync (%v interval)...", interval)

	c.resync()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.resync()
		}
	}
}

func (c *BinanceCollector) resync() {
	symbols := c.source.Symbols()

	c.mu.Lock()
	changed := len(symbols) != len(c.lastSymbols)
	currentMap := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		currentMap[s] = true
		if !c.lastSymbols[s] {
			changed = true
		}
	}
	if changed {
		c.lastSymbols = currentMap
	}
	c.mu.Unlock()

	if !changed {
		return
	}

	c.logger.Infof("[Binance] Symbol set changed, now tracking %d", len(symbols))
	c.refresh(symbols)
}

// refresh implements hot-swap subscription update
func (c *BinanceCollector) refresh(symbols []string) {
	streams, rawToSymbol := c.buildStreams(symbols)

	c.mu.Lock()
	c.rawToSymbol = rawToSymbol
	c.mu.Unlock()

	newClients := c.createClients(streams)

	c.logger.Infof("[Binance] Streams: %d across %d connections", len(streams), len(newClients))

	c.startClients(newClients)

	c.mu.Lock()
	oldClients := c.clients
	c.clients = newClients
	c.mu.Unlock()

	if len(oldClients) > 0 {
		go c.stopClients(oldClients)
	}

	c.logger.Info("[Binance] Refresh complete")
}

// buildStreams derives trade + miniTicker stream names and the reverse
// exchange-symbol mapping
func (c *BinanceCollector) buildStreams(symbols []string) ([]string, map[string]string) {
	streams := make([]string, 0, len(symbols)*2)
	rawToSymbol := make(map[string]string, len(symbols))

	for _, sym := range symbols {
		raw := strings.ToUpper(strings.ReplaceAll(sym, "/", ""))
		if raw == "" {
			continue
		}
		rawToSymbol[raw] = sym

		stream := strings.ToLower(raw)
		streams = append(streams, stream+"@trade", stream+"@miniTicker")
	}
	return streams, rawToSymbol
}

// createClients chunks streams across websocket connections
func (c *BinanceCollector) createClients(streams []string) []*wsClient {
	var clients []*wsClient
	maxStreams := c.cfg.WebSocket.MaxStreamsPerConn
	if maxStreams == 0 {
		maxStreams = 50
	}

	for i := 0; i < len(streams); i += maxStreams {
		end := min(i+maxStreams, len(streams))
		chunk := streams[i:end]
		name := fmt.Sprintf("Binance-%d", i/maxStreams)
		client := newWSClient(c.cfg.WSBaseURL, chunk, c.handleMessage, c.logger, name, c.cfg.WebSocket)
		clients = append(clients, client)
	}
	return clients
}

// startClients starts clients with staggered connections
func (c *BinanceCollector) startClients(clients []*wsClient) {
	stagger := c.cfg.WebSocket.ConnectStagger
	if stagger == 0 {
		stagger = 200 * time.Millisecond
	}

	for i, client := range clients {
		if i > 0 {
			time.Sleep(stagger)
		}
		client.Start()

		if (i+1)%10 == 0 {
			c.logger.Infof("[Binance] Started %d/%d clients", i+1, len(clients))
		}
	}
}

// stopClients gracefully stops old clients
func (c *BinanceCollector) stopClients(clients []*wsClient) {
	c.logger.Infof("[Binance] Closing %d old clients...", len(clients))
	for _, client := range clients {
		client.Stop()
	}
}

// --- Message Processing ---

// combinedStreamPayload represents Binance combined stream message format
type combinedStreamPayload struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

func (c *BinanceCollector) handleMessage(msg []byte) {
	c.stats.msgRecv.Add(1)

	if len(msg) == 0 {
		c.stats.msgFailed.Add(1)
		return
	}

	if c.isErrorResponse(msg) {
		return
	}

	var payload combinedStreamPayload
	if err := json.Unmarshal(msg, &payload); err != nil {
		c.stats.msgFailed.Add(1)
		return
	}

	if payload.Data == nil {
		c.stats.msgFailed.Add(1)
		return
	}

	item := c.parseEvent(payload.Data)
	if item == nil {
		c.stats.msgFailed.Add(1)
		return
	}

	c.stats.msgParsed.Add(1)
	c.recordSymbol(item.Symbol)

	if c.handler != nil {
		c.handler.ProcessData(item)
	}
}

// isErrorResponse checks if message is an API error
func (c *BinanceCollector) isErrorResponse(msg []byte) bool {
	if !strings.Contains(string(msg), `"code":`) {
		return false
	}

	var errResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(msg, &errResp); err == nil && errResp.Code != 0 {
		c.logger.Errorf("[Binance] API Error: code=%d msg=%s", errResp.Code, errResp.Msg)
		c.stats.msgFailed.Add(1)
		return true
	}
	return false
}

// streamEvent covers both @trade and @miniTicker event shapes. Fields are
// spelled out because the json decoder matches case-insensitively.
type streamEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`

	// trade fields
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`

	// miniTicker fields
	ClosePrice string `json:"c"`
	OpenPrice  string `json:"o"`
	HighPrice  string `json:"h"`
	LowPrice   string `json:"l"`
	BaseVolume string `json:"v"`
}

func (c *BinanceCollector) parseEvent(data []byte) *domain.DataItem {
	var event streamEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil
	}
	if event.Symbol == "" {
		return nil
	}

	c.mu.RLock()
	symbol, ok := c.rawToSymbol[event.Symbol]
	c.mu.RUnlock()
	if !ok {
		return nil
	}

	switch event.EventType {
	case "trade":
		price, _ := strconv.ParseFloat(event.Price, 64)
		amount, _ := strconv.ParseFloat(event.Quantity, 64)
		ts := event.TradeTime
		if ts == 0 {
			ts = event.EventTime
		}
		return &domain.DataItem{
			Symbol:    symbol,
			Kind:      domain.KindTrade,
			Timestamp: ts,
			Payload:   &domain.TickPayload{Price: price, Amount: amount},
		}

	case "24hrMiniTicker":
		price, _ := strconv.ParseFloat(event.ClosePrice, 64)
		volume, _ := strconv.ParseFloat(event.BaseVolume, 64)
		return &domain.DataItem{
			Symbol:    symbol,
			Kind:      domain.KindTicker,
			Timestamp: event.EventTime,
			Payload:   &domain.TickPayload{Price: price, Volume: volume},
		}

	default:
		return nil
	}
}

// --- Statistics ---

func (c *BinanceCollector) recordSymbol(symbol string) {
	c.stats.mu.Lock()
	defer c.stats.mu.Unlock()

	if c.stats.seen == nil {
		c.stats.seen = make(map[string]bool)
	}
	c.stats.seen[symbol] = true
}

func (c *BinanceCollector) runStatsLogger() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.logStats()
		}
	}
}

func (c *BinanceCollector) logStats() {
	recv := c.stats.msgRecv.Load()
	parsed := c.stats.msgParsed.Load()
	failed := c.stats.msgFailed.Load()

	deltaRecv := recv - c.stats.lastMsgRecv
	deltaParsed := parsed - c.stats.lastParsed
	deltaFailed := failed - c.stats.lastFailed

	c.stats.lastMsgRecv = recv
	c.stats.lastParsed = parsed
	c.stats.lastFailed = failed

	c.stats.mu.Lock()
	seenCount := len(c.stats.seen)
	c.stats.seen = make(map[string]bool)
	c.stats.mu.Unlock()

	c.mu.RLock()
	clientCount := len(c.clients)
	subCount := 0
	for _, client := range c.clients {
		subCount += len(client.streams)
	}
	c.mu.RUnlock()

	c.logger.Infof("[Binance 1min] WS:%d Subs:%d | Recv:%d OK:%d Fail:%d | Active symbols:%d",
		clientCount, subCount, deltaRecv, deltaParsed, deltaFailed, seenCount)
}

// --- WebSocket Client ---

type wsClient struct {
	baseURL string
	streams []string
	handler func([]byte)
	logger  *zap.SugaredLogger
	name    string
	wsCfg   config.WebSocketConfig

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newWSClient(baseURL string, streams []string, handler func([]byte), logger *zap.SugaredLogger, name string, wsCfg config.WebSocketConfig) *wsClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &wsClient{
		baseURL: baseURL,
		streams: streams,
		handler: handler,
		logger:  logger,
		name:    name,
		wsCfg:   wsCfg,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

func (c *wsClient) Start() {
	go c.run()
}

func (c *wsClient) Stop() {
	c.cancel()
	<-c.done
}

func (c *wsClient) run() {
	defer close(c.done)

	backoff := c.getBackoff()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		err := c.connectAndRead()

		select {
		case <-c.ctx.Done():
			return
		default:
			if err != nil {
				c.logger.Warnf("[%s] Disconnected: %v. Retry in %v", c.name, err, backoff.current)
			}
			c.waitWithBackoff(&backoff)
		}
	}
}

type backoffState struct {
	current time.Duration
	min     time.Duration
	max     time.Duration
}

func (c *wsClient) getBackoff() backoffState {
	minB := c.wsCfg.ReconnectDelay
	if minB == 0 {
		minB = time.Second
	}
	maxB := c.wsCfg.MaxReconnectDelay
	if maxB == 0 {
		maxB = 30 * time.Second
	}
	return backoffState{current: minB, min: minB, max: maxB}
}

func (c *wsClient) waitWithBackoff(b *backoffState) {
	select {
	case <-time.After(b.current):
		b.current *= 2
		if b.current > b.max {
			b.current = b.max
		}
	case <-c.ctx.Done():
	}
}

func (c *wsClient) connectAndRead() error {
	url := c.buildURL()

	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, resp, err := dialer.Dial(url, c.headers())
	if err != nil {
		status := ""
		if resp != nil {
			status = resp.Status
		}
		return fmt.Errorf("dial: %v (status: %s)", err, status)
	}
	defer conn.Close()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if c.handler != nil {
			c.handler(msg)
		}
	}
}

func (c *wsClient) buildURL() string {
	streams := strings.Join(c.streams, "/")
	return fmt.Sprintf("%s/stream?streams=%s", c.baseURL, streams)
}

func (c *wsClient) headers() http.Header {
	h := http.Header{}
	h.Add("User-Agent", "Tickflow/1.0")
	return h
}
