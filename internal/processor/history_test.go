package processor

import (
	"testing"

	"github.com/fushengyk/tickflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func item(price float64) domain.DataItem {
	return domain.DataItem{
		Symbol:  "BTC/USDT",
		Kind:    domain.KindTrade,
		Payload: &domain.TickPayload{Price: price},
	}
}

func prices(items []domain.DataItem) []float64 {
	out := make([]float64, len(items))
	for i, it := range items {
		out[i] = it.Payload.Price
	}
	return out
}

func TestHistoryBuffer_AppendWithinCapacity(t *testing.T) {
	b := newHistoryBuffer(5)

	b.append(item(1))
	b.append(item(2))
	b.append(item(3))

	assert.Equal(t, 3, b.size())
	assert.Equal(t, []float64{1, 2, 3}, prices(b.latest(3)))
}

func TestHistoryBuffer_EvictsOldestFirst(t *testing.T) {
	b := newHistoryBuffer(3)

	for i := 1; i <= 7; i++ {
		b.append(item(float64(i)))
	}

	assert.Equal(t, 3, b.size())
	assert.Equal(t, []float64{5, 6, 7}, prices(b.latest(3)))
}

func TestHistoryBuffer_LatestClampsToSize(t *testing.T) {
	b := newHistoryBuffer(10)
	b.append(item(1))
	b.append(item(2))

	assert.Equal(t, []float64{1, 2}, prices(b.latest(100)))
	assert.Equal(t, []float64{2}, prices(b.latest(1)))
}

func TestHistoryBuffer_LatestEdgeCases(t *testing.T) {
	b := newHistoryBuffer(3)

	assert.Empty(t, b.latest(5))
	assert.NotNil(t, b.latest(5))

	b.append(item(1))
	assert.Empty(t, b.latest(0))
	assert.Empty(t, b.latest(-1))
}

func TestHistoryBuffer_LatestReturnsCopy(t *testing.T) {
	b := newHistoryBuffer(3)
	b.append(item(1))
	b.append(item(2))

	got := b.latest(2)
	got[0] = item(99)

	require.Equal(t, []float64{1, 2}, prices(b.latest(2)))
}

func TestHistoryBuffer_WrapAroundOrder(t *testing.T) {
	b := newHistoryBuffer(4)

	// Fill, evict twice, then read a window that straddles the wrap point
	for i := 1; i <= 6; i++ {
		b.append(item(float64(i)))
	}

	assert.Equal(t, []float64{3, 4, 5, 6}, prices(b.latest(4)))
	assert.Equal(t, []float64{5, 6}, prices(b.latest(2)))
}
