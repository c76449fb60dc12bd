package domain

import (
	"context"
	"fmt"
)

// DataKind categorizes an ingested market data item
type DataKind string

const (
	KindTrade  DataKind = "trade"
	KindTicker DataKind = "ticker"
)

// TickPayload carries the kind-specific numeric fields of a data item.
// Trades use Price/Amount, tickers use Price/Volume.
type TickPayload struct {
	Price  float64 `json:"p"`
	Amount float64 `json:"a,omitempty"`
	Volume float64 `json:"v,omitempty"`
}

// DataItem is one raw ingested unit (trade execution or quote update)
type DataItem struct {
	Symbol    string       `json:"s"`
	Kind      DataKind     `json:"k"`
	Timestamp int64        `json:"T"`
	Payload   *TickPayload `json:"d"`
}

// Validate reports why an item must be discarded, nil if it is acceptable
func (d *DataItem) Validate() error {
	if d == nil {
		return fmt.Errorf("nil item")
	}
	if d.Symbol == "" {
		return fmt.Errorf("missing symbol")
	}
	if d.Kind == "" {
		return fmt.Errorf("missing kind")
	}
	if d.Payload == nil {
		return fmt.Errorf("missing payload")
	}
	switch d.Kind {
	case KindTrade:
		if d.Payload.Price <= 0 {
			return fmt.Errorf("non-positive trade price %.8f", d.Payload.Price)
		}
		if d.Payload.Amount < 0 {
			return fmt.Errorf("negative trade amount %.8f", d.Payload.Amount)
		}
	case KindTicker:
		if d.Payload.Price <= 0 {
			return fmt.Errorf("non-positive ticker price %.8f", d.Payload.Price)
		}
		if d.Payload.Volume < 0 {
			return fmt.Errorf("negative ticker volume %.8f", d.Payload.Volume)
		}
	}
	return nil
}

// Candle is one OHLCV aggregation window for a symbol
type Candle struct {
	Symbol      string  `json:"s"`
	PeriodStart int64   `json:"t"`
	Open        float64 `json:"o"`
	High        float64 `json:"h"`
	Low         float64 `json:"l"`
	Close       float64 `json:"c"`
	Volume      float64 `json:"v"`
	TradeCount  int64   `json:"n"`
}

// PeriodStart floors an epoch-millis timestamp onto a period boundary
func PeriodStart(timestamp, periodMs int64) int64 {
	return timestamp / periodMs * periodMs
}

// TimeframeLabel renders a period duration as a compact timeframe name
// (60000 -> "1m", 3600000 -> "1h").
func TimeframeLabel(periodMs int64) string {
	switch {
	case periodMs >= 3600000 && periodMs%3600000 == 0:
		return fmt.Sprintf("%dh", periodMs/3600000)
	case periodMs >= 60000 && periodMs%60000 == 0:
		return fmt.Sprintf("%dm", periodMs/60000)
	case periodMs >= 1000 && periodMs%1000 == 0:
		return fmt.Sprintf("%ds", periodMs/1000)
	default:
		return fmt.Sprintf("%dms", periodMs)
	}
}

// Event is a bus payload variant: BatchEvent or CandleEvent
type Event interface {
	isEvent()
}

// BatchEvent groups queued items of one (symbol, kind) for a single flush
type BatchEvent struct {
	Symbol string     `json:"symbol"`
	Kind   DataKind   `json:"kind"`
	Items  []DataItem `json:"data"`
}

// CandleEvent carries a candle snapshot; IsComplete marks a finalized window
type CandleEvent struct {
	Symbol     string `json:"symbol"`
	Timeframe  string `json:"timeframe"`
	Candle     Candle `json:"candle"`
	IsComplete bool   `json:"isComplete,omitempty"`
}

func (BatchEvent) isEvent()  {}
func (CandleEvent) isEvent() {}

// StreamHandler accepts raw items from a feed source
type StreamHandler interface {
	ProcessData(item *DataItem)
	ProcessBatch(items []*DataItem)
}

// FeedSource produces market data from an upstream transport
type FeedSource interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}
