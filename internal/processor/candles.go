package processor

import (
	"github.com/fushengyk/tickflow/internal/domain"
)

// aggregator maintains one in-progress OHLCV candle per symbol for a single
// fixed window duration.
type aggregator struct {
	periodMs int64
	open     map[string]*domain.Candle
}

func newAggregator(periodMs int64) *aggregator {
	return &aggregator{
		periodMs: periodMs,
		open:     make(map[string]*domain.Candle),
	}
}

// apply feeds one trade into the symbol's candle. It returns the finalized
// candle when the trade rolled the window over, the state of the open candle
// after the update, and whether the trade changed anything at all. Trades
// whose window lies before the open candle's are ignored.
func (a *aggregator) apply(item domain.DataItem) (completed *domain.Candle, current domain.Candle, ok bool) {
	periodStart := domain.PeriodStart(item.Timestamp, a.periodMs)
	price := item.Payload.Price
	amount := item.Payload.Amount

	candle, exists := a.open[item.Symbol]
	if !exists {
		candle = seedCandle(item.Symbol, periodStart, price, amount)
		a.open[item.Symbol] = candle
		return nil, *candle, true
	}

	switch {
	case periodStart == candle.PeriodStart:
		if price > candle.High {
			candle.High = price
		}
		if price < candle.Low {
			candle.Low = price
		}
		candle.Close = price
		candle.Volume += amount
		candle.TradeCount++
		return nil, *candle, true

	case periodStart > candle.PeriodStart:
		finalized := *candle
		next := seedCandle(item.Symbol, periodStart, price, amount)
		a.open[item.Symbol] = next
		return &finalized, *next, true

	default:
		// Late tick from an already-closed window
		return nil, domain.Candle{}, false
	}
}

func seedCandle(symbol string, periodStart int64, price, amount float64) *domain.Candle {
	return &domain.Candle{
		Symbol:      symbol,
		PeriodStart: periodStart,
		Open:        price,
		High:        price,
		Low:         price,
		Close:       price,
		Volume:      amount,
		TradeCount:  1,
	}
}
