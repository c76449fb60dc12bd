package processor

import (
	"github.com/fushengyk/tickflow/internal/domain"
)

// emitQueue accumulates per-key item deltas and per-symbol candle transitions
// between scheduler flushes. Keys drain in first-enqueue order; a key whose
// queue exceeds the batch cap keeps its remainder at the front for the next
// flush.
type emitQueue struct {
	batches    map[string]*pendingBatch
	batchOrder []string

	candles     map[string]*pendingCandle
	candleOrder []string
}

type pendingBatch struct {
	symbol string
	kind   domain.DataKind
	items  []domain.DataItem
}

type pendingCandle struct {
	completed []domain.Candle
	dirty     bool
	current   domain.Candle
}

func newEmitQueue() *emitQueue {
	return &emitQueue{
		batches: make(map[string]*pendingBatch),
		candles: make(map[string]*pendingCandle),
	}
}

func (q *emitQueue) enqueueItem(item domain.DataItem) {
	key := domain.BufferKey(item.Symbol, item.Kind)
	pb, ok := q.batches[key]
	if !ok {
		pb = &pendingBatch{symbol: item.Symbol, kind: item.Kind}
		q.batches[key] = pb
		q.batchOrder = append(q.batchOrder, key)
	}
	pb.items = append(pb.items, item)
}

func (q *emitQueue) enqueueCandle(symbol string, completed *domain.Candle, current domain.Candle) {
	pc, ok := q.candles[symbol]
	if !ok {
		pc = &pendingCandle{}
		q.candles[symbol] = pc
		q.candleOrder = append(q.candleOrder, symbol)
	}
	if completed != nil {
		pc.completed = append(pc.completed, *completed)
	}
	pc.dirty = true
	pc.current = current
}

// depth reports how many items are currently queued across all keys
func (q *emitQueue) depth() int {
	total := 0
	for _, pb := range q.batches {
		total += len(pb.items)
	}
	return total
}

// drain slices up to batchSize items per key into batch events and converts
// every pending candle transition into candle events: completions first, in
// rollover order, then one coalesced update carrying the open candle state.
func (q *emitQueue) drain(batchSize int, timeframe string) ([]domain.BatchEvent, []domain.CandleEvent) {
	var batches []domain.BatchEvent
	var keep []string

	for _, key := range q.batchOrder {
		pb := q.batches[key]
		take := len(pb.items)
		if take > batchSize {
			take = batchSize
		}

		items := make([]domain.DataItem, take)
		copy(items, pb.items[:take])
		batches = append(batches, domain.BatchEvent{
			Symbol: pb.symbol,
			Kind:   pb.kind,
			Items:  items,
		})

		if take < len(pb.items) {
			pb.items = pb.items[take:]
			keep = append(keep, key)
		} else {
			delete(q.batches, key)
		}
	}
	q.batchOrder = keep

	var candles []domain.CandleEvent
	for _, symbol := range q.candleOrder {
		pc := q.candles[symbol]
		for _, c := range pc.completed {
			candles = append(candles, domain.CandleEvent{
				Symbol:     symbol,
				Timeframe:  timeframe,
				Candle:     c,
				IsComplete: true,
			})
		}
		if pc.dirty {
			candles = append(candles, domain.CandleEvent{
				Symbol:    symbol,
				Timeframe: timeframe,
				Candle:    pc.current,
			})
		}
		delete(q.candles, symbol)
	}
	q.candleOrder = nil

	return batches, candles
}
