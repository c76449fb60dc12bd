package processor

import (
	"testing"

	"github.com/fushengyk/tickflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregator_SeedFromFirstTrade(t *testing.T) {
	agg := newAggregator(60000)

	completed, current, ok := agg.apply(*trade("BTC/USDT", 1700000012345, 40000, 1.5))

	require.True(t, ok)
	assert.Nil(t, completed)
	assert.Equal(t, domain.PeriodStart(1700000012345, 60000), current.PeriodStart)
	assert.Equal(t, int64(1699999980000), current.PeriodStart)
	assert.Equal(t, 40000.0, current.Open)
	assert.Equal(t, 40000.0, current.High)
	assert.Equal(t, 40000.0, current.Low)
	assert.Equal(t, 40000.0, current.Close)
	assert.Equal(t, 1.5, current.Volume)
	assert.Equal(t, int64(1), current.TradeCount)
}

func TestAggregator_SamePeriodUpdates(t *testing.T) {
	agg := newAggregator(60000)
	base := int64(1700000040000)

	agg.apply(*trade("BTC/USDT", base, 40000, 1))

	completed, current, ok := agg.apply(*trade("BTC/USDT", base+1000, 40500, 2))
	require.True(t, ok)
	assert.Nil(t, completed)
	assert.Equal(t, 40500.0, current.High)
	assert.Equal(t, 40000.0, current.Low)
	assert.Equal(t, 40500.0, current.Close)

	completed, current, ok = agg.apply(*trade("BTC/USDT", base+2000, 39500, 0.5))
	require.True(t, ok)
	assert.Nil(t, completed)
	assert.Equal(t, 40000.0, current.Open)
	assert.Equal(t, 40500.0, current.High)
	assert.Equal(t, 39500.0, current.Low)
	assert.Equal(t, 39500.0, current.Close)
	assert.Equal(t, 3.5, current.Volume)
	assert.Equal(t, int64(3), current.TradeCount)
}

func TestAggregator_Rollover(t *testing.T) {
	agg := newAggregator(60000)
	base := int64(1700000040000)

	agg.apply(*trade("BTC/USDT", base, 40000, 1))
	agg.apply(*trade("BTC/USDT", base+30000, 40200, 1))

	completed, current, ok := agg.apply(*trade("BTC/USDT", base+60000, 40100, 3))
	require.True(t, ok)
	require.NotNil(t, completed)

	assert.Equal(t, base, completed.PeriodStart)
	assert.Equal(t, 40000.0, completed.Open)
	assert.Equal(t, 40200.0, completed.Close)
	assert.Equal(t, int64(2), completed.TradeCount)

	assert.Equal(t, base+60000, current.PeriodStart)
	assert.Equal(t, 40100.0, current.Open)
	assert.Equal(t, 40100.0, current.High)
	assert.Equal(t, 40100.0, current.Low)
	assert.Equal(t, 40100.0, current.Close)
	assert.Equal(t, 3.0, current.Volume)
	assert.Equal(t, int64(1), current.TradeCount)
}

func TestAggregator_LateTickIgnored(t *testing.T) {
	agg := newAggregator(60000)
	base := int64(1700000100000)

	agg.apply(*trade("BTC/USDT", base, 40000, 1))

	completed, _, ok := agg.apply(*trade("BTC/USDT", base-60000, 39000, 1))
	assert.False(t, ok)
	assert.Nil(t, completed)

	// The open candle is untouched
	_, current, ok := agg.apply(*trade("BTC/USDT", base+1000, 40050, 1))
	require.True(t, ok)
	assert.Equal(t, 40000.0, current.Low)
	assert.Equal(t, int64(2), current.TradeCount)
}

func TestAggregator_SymbolsAreIndependent(t *testing.T) {
	agg := newAggregator(60000)
	base := int64(1700000040000)

	agg.apply(*trade("BTC/USDT", base, 40000, 1))
	_, current, ok := agg.apply(*trade("ETH/USDT", base, 2000, 5))

	require.True(t, ok)
	assert.Equal(t, "ETH/USDT", current.Symbol)
	assert.Equal(t, 2000.0, current.Open)

	// Rolling BTC over leaves ETH open
	completed, _, _ := agg.apply(*trade("BTC/USDT", base+60000, 40100, 1))
	require.NotNil(t, completed)
	assert.Equal(t, "BTC/USDT", completed.Symbol)

	_, ethCurrent, _ := agg.apply(*trade("ETH/USDT", base+1000, 2010, 1))
	assert.Equal(t, base, ethCurrent.PeriodStart)
}
