package alert

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fushengyk/tickflow/internal/bus"
	"github.com/fushengyk/tickflow/internal/config"
	"github.com/fushengyk/tickflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func alertConfig() *config.Config {
	cfg, _ := config.Load("")
	cfg.Alert.Enabled = true
	cfg.Alert.ThresholdPct = 2.0
	cfg.Alert.Cooldown = 5 * time.Minute
	cfg.Alert.ExpansionFactor = 1.5
	return cfg
}

func TestShouldTrigger_Cooldown(t *testing.T) {
	s := NewService(alertConfig(), nil, zap.NewNop().Sugar())
	now := time.Now().UnixMilli()

	assert.True(t, s.shouldTrigger("BTC/USDT", 3.0, now), "first trigger always fires")
	assert.False(t, s.shouldTrigger("BTC/USDT", 3.5, now+1000), "same magnitude inside cooldown is suppressed")
	assert.True(t, s.shouldTrigger("BTC/USDT", 4.6, now+2000), "expansion past lastPct*factor fires")
	assert.True(t, s.shouldTrigger("ETH/USDT", 2.1, now+3000), "symbols have independent state")
	assert.True(t, s.shouldTrigger("BTC/USDT", 2.1, now+2000+s.cfg.Alert.Cooldown.Milliseconds()),
		"after the cooldown any threshold move fires")
}

func TestShouldTrigger_NegativeMoves(t *testing.T) {
	s := NewService(alertConfig(), nil, zap.NewNop().Sugar())
	now := time.Now().UnixMilli()

	assert.True(t, s.shouldTrigger("BTC/USDT", -3.0, now))
	assert.False(t, s.shouldTrigger("BTC/USDT", -3.1, now+1000))
	assert.True(t, s.shouldTrigger("BTC/USDT", 4.6, now+2000), "expansion compares magnitudes across directions")
}

func TestAlert_EndToEndWebhook(t *testing.T) {
	received := make(chan string, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 4096)
		n, _ := r.Body.Read(buf)
		received <- string(buf[:n])
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := alertConfig()
	cfg.Alert.Channels = []string{"hook"}
	cfg.Channels["hook"] = config.ChannelConfig{Type: "webhook", Enabled: true, EnvPrefix: "ALERT_TEST_HOOK"}
	t.Setenv("ALERT_TEST_HOOK_URL", server.URL)

	b := bus.New(zap.NewNop().Sugar())
	t.Cleanup(b.Close)

	s := NewService(cfg, b, zap.NewNop().Sugar())
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)

	// Below threshold: no alert
	b.Publish(domain.TopicCandleComplete, domain.CandleEvent{
		Symbol:    "BTC/USDT",
		Timeframe: "1m",
		Candle:    domain.Candle{Symbol: "BTC/USDT", Open: 40000, Close: 40100},
	})

	select {
	case body := <-received:
		t.Fatalf("unexpected alert for a small move: %s", body)
	case <-time.After(100 * time.Millisecond):
	}

	// 2.5% move: alert fires
	b.Publish(domain.TopicCandleComplete, domain.CandleEvent{
		Symbol:     "BTC/USDT",
		Timeframe:  "1m",
		Candle:     domain.Candle{Symbol: "BTC/USDT", Open: 40000, Close: 41000, Volume: 12, TradeCount: 99},
		IsComplete: true,
	})

	select {
	case body := <-received:
		assert.Contains(t, body, "BTC/USDT")
		assert.Contains(t, body, "2.50%")
	case <-time.After(2 * time.Second):
		t.Fatal("alert webhook never called")
	}
}

func TestOnCandle_ZeroOpenIgnored(t *testing.T) {
	s := NewService(alertConfig(), nil, zap.NewNop().Sugar())

	assert.NotPanics(t, func() {
		s.onCandle(domain.CandleEvent{
			Symbol: "BTC/USDT",
			Candle: domain.Candle{Open: 0, Close: 100},
		})
	})
	assert.Empty(t, s.state)
}
