package domain

import (
	"fmt"
	"strings"
)

// BufferKey identifies one bounded history buffer
func BufferKey(symbol string, kind DataKind) string {
	return symbol + ":" + string(kind)
}

// Topic names an event bus channel
type Topic string

// Fixed candle topics
const (
	TopicCandleUpdate   Topic = "candle-update"
	TopicCandleComplete Topic = "candle-complete"
)

// Topic builders for per-kind data batches
func TopicData(kind DataKind) Topic {
	return Topic("data-" + string(kind))
}

// TopicKindAlias is the pluralized per-kind alias ("trade" -> "trades")
func TopicKindAlias(kind DataKind) Topic {
	return Topic(string(kind) + "s")
}

// NATS subject constants
const (
	SubjectPrefixMarket = "market"
)

// sanitizeSymbol makes a pair name usable as a subject token
func sanitizeSymbol(symbol string) string {
	return strings.ToLower(strings.ReplaceAll(symbol, "/", "_"))
}

// Subject builders for relayed market data
func SubjectTick(kind DataKind, symbol string) string {
	return fmt.Sprintf("%s.tick.%s.%s", SubjectPrefixMarket, kind, sanitizeSymbol(symbol))
}

func SubjectCandleUpdate(symbol string) string {
	return fmt.Sprintf("%s.candle.update.%s", SubjectPrefixMarket, sanitizeSymbol(symbol))
}

func SubjectCandleClosed(symbol string) string {
	return fmt.Sprintf("%s.candle.closed.%s", SubjectPrefixMarket, sanitizeSymbol(symbol))
}

// Stream names
const (
	StreamMarket = "MARKET"
)

// Stream subject patterns
var (
	StreamMarketSubjects = []string{"market.>"}
)
