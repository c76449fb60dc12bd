package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fushengyk/tickflow/internal/alert"
	"github.com/fushengyk/tickflow/internal/api"
	"github.com/fushengyk/tickflow/internal/bus"
	"github.com/fushengyk/tickflow/internal/config"
	"github.com/fushengyk/tickflow/internal/domain"
	"github.com/fushengyk/tickflow/internal/feed"
	"github.com/fushengyk/tickflow/internal/natsutil"
	"github.com/fushengyk/tickflow/internal/processor"
	"github.com/fushengyk/tickflow/internal/relay"
	"github.com/fushengyk/tickflow/internal/sink"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()
	sugar := logger.Sugar()

	sugar.Info("📊 Starting Tickflow...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		sugar.Fatalf("❌ Failed to load config: %v", err)
	}

	eventBus := bus.New(sugar)

	proc, err := processor.New(cfg.Engine, eventBus, sugar)
	if err != nil {
		sugar.Fatalf("❌ Failed to create processor: %v", err)
	}
	proc.Start()

	// NATS relay
	var nc *nats.Conn
	var rel *relay.Relay
	if cfg.NATS.Enabled {
		nc, err = nats.Connect(cfg.NATS.URL,
			nats.Name("Tickflow"),
			nats.ReconnectWait(cfg.NATS.ReconnectWait),
			nats.MaxReconnects(cfg.NATS.MaxReconnects),
		)
		if err != nil {
			sugar.Fatalf("❌ Failed to connect to NATS: %v", err)
		}
		defer nc.Close()

		js, err := nc.JetStream()
		if err != nil {
			sugar.Fatalf("❌ Failed to create JetStream context: %v", err)
		}
		sugar.Info("✅ Connected to NATS JetStream")

		natsutil.EnsureStream(js, domain.StreamMarket, domain.StreamMarketSubjects, cfg.NATS.StreamMaxAge, sugar)

		rel = relay.New(js, eventBus, sugar)
		if err := rel.Start(); err != nil {
			sugar.Fatalf("❌ Failed to start relay: %v", err)
		}
	}

	// Sinks
	var candleCache *sink.CandleCache
	if cfg.Redis.Enabled {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		candleCache = sink.NewCandleCache(cfg.Redis, rdb, eventBus, sugar)
		if err := candleCache.Start(); err != nil {
			sugar.Fatalf("❌ Failed to start Redis cache: %v", err)
		}
	}

	var archive *sink.Archive
	if cfg.Postgres.Enabled {
		pool, err := pgxpool.New(context.Background(), cfg.Postgres.URL)
		if err != nil {
			sugar.Fatalf("❌ Failed to connect to Postgres: %v", err)
		}
		defer pool.Close()

		archive = sink.NewArchive(cfg.Postgres, pool, eventBus, sugar)
		if err := archive.Start(); err != nil {
			sugar.Fatalf("❌ Failed to start Postgres archive: %v", err)
		}
	}

	// Alerts
	var alerts *alert.Service
	if cfg.Alert.Enabled {
		alerts = alert.NewService(cfg, eventBus, sugar)
		if err := alerts.Start(); err != nil {
			sugar.Fatalf("❌ Failed to start alerts: %v", err)
		}
	}

	// API
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.New(cfg.API, proc, eventBus, sugar)
		if err := apiServer.Start(); err != nil {
			sugar.Fatalf("❌ Failed to start API server: %v", err)
		}
	}

	// Feeds last, so everything downstream is ready for data
	var feeds []domain.FeedSource
	if cfg.Binance.Enabled {
		feeds = append(feeds, feed.NewBinanceCollector(cfg.Binance, proc, proc, sugar))
	}
	if cfg.Kafka.Enabled {
		feeds = append(feeds, feed.NewKafkaConsumer(cfg.Kafka, proc, sugar))
	}
	for _, f := range feeds {
		if err := f.Start(context.Background()); err != nil {
			sugar.Fatalf("❌ Failed to start %s feed: %v", f.Name(), err)
		}
		sugar.Infof("✅ Started %s feed", f.Name())
	}

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	sugar.Info("🛑 Shutting down Tickflow...")

	for _, f := range feeds {
		if err := f.Stop(); err != nil {
			sugar.Errorf("Error stopping %s feed: %v", f.Name(), err)
		}
	}
	if apiServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		apiServer.Stop(ctx)
		cancel()
	}
	if alerts != nil {
		alerts.Stop()
	}
	if archive != nil {
		archive.Stop()
	}
	if candleCache != nil {
		candleCache.Stop()
	}
	if rel != nil {
		rel.Stop()
	}
	proc.Stop()
	eventBus.Close()
}
