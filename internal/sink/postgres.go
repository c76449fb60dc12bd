package sink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fushengyk/tickflow/internal/bus"
	"github.com/fushengyk/tickflow/internal/config"
	"github.com/fushengyk/tickflow/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// PGClient is the slice of the pgx pool API the archive needs. Using an
// interface keeps the repository testable with a hand-written fake.
type PGClient interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

var archiveColumns = []string{"period_start", "symbol", "timeframe", "open", "high", "low", "close", "volume", "trade_count"}

const archiveSchema = `CREATE TABLE IF NOT EXISTS candles (
	period_start BIGINT NOT NULL,
	symbol TEXT NOT NULL,
	timeframe TEXT NOT NULL,
	open DOUBLE PRECISION NOT NULL,
	high DOUBLE PRECISION NOT NULL,
	low DOUBLE PRECISION NOT NULL,
	close DOUBLE PRECISION NOT NULL,
	volume DOUBLE PRECISION NOT NULL,
	trade_count BIGINT NOT NULL
)`

// Archive buffers completed candles and batch-writes them to Postgres with
// CopyFrom, flushing on a size threshold or a timer.
type Archive struct {
	client PGClient
	bus    *bus.Bus
	logger *zap.SugaredLogger

	flushInterval time.Duration
	batchSize     int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu  sync.Mutex
	buf []domain.CandleEvent

	subID string
}

// NewArchive creates an archive sink. Zero flushInterval defaults to 10s,
// zero batchSize to 200 rows.
func NewArchive(cfg config.PostgresConfig, client PGClient, b *bus.Bus, logger *zap.SugaredLogger) *Archive {
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 10 * time.Second
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 200
	}

	return &Archive{
		client:        client,
		bus:           b,
		logger:        logger,
		flushInterval: flushInterval,
		batchSize:     batchSize,
	}
}

// Start ensures the schema and subscribes the archive to completed candles
func (a *Archive) Start() error {
	a.logger.Info("📊 Starting Postgres candle archive...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := a.client.Exec(ctx, archiveSchema); err != nil {
		return fmt.Errorf("ensure candles schema: %w", err)
	}

	a.ctx, a.cancel = context.WithCancel(context.Background())

	a.subID = a.bus.Subscribe(domain.TopicCandleComplete, func(_ domain.Topic, event domain.Event) {
		ce, ok := event.(domain.CandleEvent)
		if !ok {
			return
		}
		a.append(ce)
	})

	a.wg.Add(1)
	go a.runFlusher()

	a.logger.Infof("✅ Postgres archive started (flush=%v batch=%d)", a.flushInterval, a.batchSize)
	return nil
}

// Stop detaches from the bus, stops the flusher, and writes the remainder
func (a *Archive) Stop() {
	a.logger.Info("🛑 Stopping Postgres candle archive...")
	if a.subID != "" {
		a.bus.Unsubscribe(a.subID)
		a.subID = ""
	}
	if a.cancel != nil {
		a.cancel()
		a.wg.Wait()
	}
	a.flush()
}

func (a *Archive) append(event domain.CandleEvent) {
	a.mu.Lock()
	a.buf = append(a.buf, event)
	full := len(a.buf) >= a.batchSize
	a.mu.Unlock()

	if full {
		a.flush()
	}
}

func (a *Archive) runFlusher() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.flush()
		}
	}
}

func (a *Archive) flush() {
	a.mu.Lock()
	if len(a.buf) == 0 {
		a.mu.Unlock()
		return
	}
	batch := a.buf
	a.buf = nil
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.write(ctx, batch); err != nil {
		a.logger.Errorf("[Postgres] Flush of %d candles failed: %v", len(batch), err)
	}
}

func (a *Archive) write(ctx context.Context, events []domain.CandleEvent) error {
	copied, err := a.client.CopyFrom(
		ctx,
		pgx.Identifier{"candles"},
		archiveColumns,
		pgx.CopyFromSlice(len(events), func(i int) ([]any, error) {
			e := events[i]
			return []any{
				e.Candle.PeriodStart,
				e.Candle.Symbol,
				e.Timeframe,
				e.Candle.Open,
				e.Candle.High,
				e.Candle.Low,
				e.Candle.Close,
				e.Candle.Volume,
				e.Candle.TradeCount,
			}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy candles batch: %w", err)
	}

	a.logger.Debugf("[Postgres] Archived %d candles", copied)
	return nil
}
