package relay

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/fushengyk/tickflow/internal/bus"
	"github.com/fushengyk/tickflow/internal/domain"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeJS records published messages; the embedded interface covers the
// methods the relay never calls.
type fakeJS struct {
	nats.JetStreamContext

	mu       sync.Mutex
	payloads map[string][]byte
}

func newFakeJS() *fakeJS {
	return &fakeJS{payloads: make(map[string][]byte)}
}

func (f *fakeJS) Publish(subject string, data []byte, _ ...nats.PubOpt) (*nats.PubAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads[subject] = data
	return &nats.PubAck{Stream: domain.StreamMarket}, nil
}

func (f *fakeJS) payload(subject string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.payloads[subject]
	return data, ok
}

func newTestRelay(t *testing.T) (*Relay, *fakeJS, *bus.Bus) {
	t.Helper()
	logger := zap.NewNop().Sugar()
	eventBus := bus.New(logger)
	t.Cleanup(eventBus.Close)

	js := newFakeJS()
	r := New(js, eventBus, logger)
	require.NoError(t, r.Start())
	t.Cleanup(r.Stop)

	return r, js, eventBus
}

func TestRelay_BatchEvent(t *testing.T) {
	_, js, eventBus := newTestRelay(t)

	event := domain.BatchEvent{
		Symbol: "BTC/USDT",
		Kind:   domain.KindTrade,
		Items: []domain.DataItem{
			{Symbol: "BTC/USDT", Kind: domain.KindTrade, Timestamp: 1700000000000, Payload: &domain.TickPayload{Price: 40000, Amount: 0.5}},
		},
	}
	eventBus.Publish(domain.TopicData(domain.KindTrade), event)

	require.Eventually(t, func() bool {
		_, ok := js.payload("market.tick.trade.btc_usdt")
		return ok
	}, time.Second, 5*time.Millisecond)

	data, _ := js.payload("market.tick.trade.btc_usdt")
	var got domain.BatchEvent
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "BTC/USDT", got.Symbol)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 40000.0, got.Items[0].Payload.Price)
}

func TestRelay_CandleEvents(t *testing.T) {
	_, js, eventBus := newTestRelay(t)

	candle := domain.Candle{
		Symbol:      "ETH/USDT",
		PeriodStart: 1700000040000,
		Open:        2000,
		High:        2010,
		Low:         1995,
		Close:       2005,
		Volume:      31.2,
		TradeCount:  80,
	}
	eventBus.Publish(domain.TopicCandleComplete, domain.CandleEvent{
		Symbol: "ETH/USDT", Timeframe: "1m", Candle: candle, IsComplete: true,
	})
	eventBus.Publish(domain.TopicCandleUpdate, domain.CandleEvent{
		Symbol: "ETH/USDT", Timeframe: "1m", Candle: candle,
	})

	require.Eventually(t, func() bool {
		_, closed := js.payload("market.candle.closed.eth_usdt")
		_, update := js.payload("market.candle.update.eth_usdt")
		return closed && update
	}, time.Second, 5*time.Millisecond)

	data, _ := js.payload("market.candle.closed.eth_usdt")
	var got domain.CandleEvent
	require.NoError(t, json.Unmarshal(data, &got))
	assert.True(t, got.IsComplete)
	assert.Equal(t, 2005.0, got.Candle.Close)
}

func TestRelay_TickerBatchSubject(t *testing.T) {
	_, js, eventBus := newTestRelay(t)

	eventBus.Publish(domain.TopicData(domain.KindTicker), domain.BatchEvent{
		Symbol: "BTC/USDT",
		Kind:   domain.KindTicker,
	})

	require.Eventually(t, func() bool {
		_, ok := js.payload("market.tick.ticker.btc_usdt")
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestRelay_StopDetaches(t *testing.T) {
	r, js, eventBus := newTestRelay(t)

	r.Stop()
	eventBus.Publish(domain.TopicData(domain.KindTrade), domain.BatchEvent{
		Symbol: "BTC/USDT",
		Kind:   domain.KindTrade,
	})

	time.Sleep(50 * time.Millisecond)
	_, ok := js.payload("market.tick.trade.btc_usdt")
	assert.False(t, ok)
}
