// Command engine wires and runs the CLOB matching and settlement
// engine: ledger adapter selection, read-model bootstrap and live
// consumption, order placement, matching, settlement, stop-loss, event
// publication, the websocket bridge, and metrics, all assembled with
// go.uber.org/fx the way the teacher's cmd/ binaries are.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tradsys/clobcore/internal/balance"
	"github.com/tradsys/clobcore/internal/cache"
	commonerrors "github.com/tradsys/clobcore/internal/common/errors"
	"github.com/tradsys/clobcore/internal/config"
	"github.com/tradsys/clobcore/internal/dedupe"
	"github.com/tradsys/clobcore/internal/domain"
	"github.com/tradsys/clobcore/internal/events"
	"github.com/tradsys/clobcore/internal/events/wsbridge"
	"github.com/tradsys/clobcore/internal/ledger"
	"github.com/tradsys/clobcore/internal/ledger/localdriver"
	"github.com/tradsys/clobcore/internal/ledger/restdriver"
	"github.com/tradsys/clobcore/internal/matching"
	"github.com/tradsys/clobcore/internal/metrics"
	"github.com/tradsys/clobcore/internal/orders"
	"github.com/tradsys/clobcore/internal/readmodel"
	"github.com/tradsys/clobcore/internal/settlement"
	"github.com/tradsys/clobcore/internal/stoploss"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newPrometheusRegistry,
			newMetrics,
			newLedgerAdapter,
			newReadModel,
			newReadModelConsumer,
			newBalanceReserver,
			newDedupeRegistry,
			newTradeCache,
			newEventsPublisher,
			newWsBridge,
			newOrderService,
			newSettler,
			newMatchingEngine,
			newStopLossEngine,
		),
		fx.Invoke(
			runReadModel,
			runMatchingEngine,
			runStopLoss,
			runEventsBridge,
			runTradeCacheBridge,
			runHTTPServer,
		),
	)
	app.Run()
}

func newConfig() (*config.Config, error) {
	return config.LoadConfig("")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return config.InitLogger(cfg)
}

func newPrometheusRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

func newMetrics(registry *prometheus.Registry) *metrics.EngineMetrics {
	return metrics.New(registry)
}

func newLedgerAdapter(cfg *config.Config, logger *zap.Logger) (ledger.Adapter, error) {
	timeouts := ledger.DefaultTimeouts()

	switch cfg.Ledger.Driver {
	case "rest":
		client := restdriver.NewClient(restdriver.Config{
			BaseURL:           cfg.Ledger.BaseURL,
			RequestsPerSecond: cfg.Ledger.RequestsPerSecond,
			Burst:             cfg.Ledger.Burst,
			Timeouts:          timeouts,
		}, logger)
		return client, nil
	case "local", "":
		db, err := openGormDB(cfg.Ledger.DSN)
		if err != nil {
			return nil, fmt.Errorf("open ledger database: %w", err)
		}
		return localdriver.Open(db, logger)
	default:
		return nil, commonerrors.Newf(commonerrors.Configuration, "unknown ledger driver %q", cfg.Ledger.Driver)
	}
}

func openGormDB(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		dsn = "file::memory:?cache=shared"
	}
	if strings.HasPrefix(dsn, "postgres://") {
		return gorm.Open(postgres.Open(dsn), &gorm.Config{})
	}
	return gorm.Open(sqlite.Open(dsn), &gorm.Config{})
}

func newReadModel() *readmodel.Model {
	return readmodel.New()
}

func newReadModelConsumer(model *readmodel.Model, adapter ledger.Adapter, logger *zap.Logger) (*readmodel.Consumer, error) {
	registry, err := ledger.NewTemplateRegistry(map[ledger.TemplateID]string{
		ledger.TemplateOrder: ">=0.0.0",
		ledger.TemplateTrade: ">=0.0.0",
	})
	if err != nil {
		return nil, err
	}
	return readmodel.NewConsumer(model, adapter, registry, logger, ledger.DefaultTimeouts()), nil
}

func newBalanceReserver() *balance.Reserver {
	return balance.New()
}

func newDedupeRegistry(cfg *config.Config) *dedupe.Registry {
	return dedupe.New(5*time.Minute, cfg.Order.SubmissionsPerMinute)
}

func newTradeCache(cfg *config.Config, logger *zap.Logger) *cache.RecentTradeCache {
	return cache.New(cache.Options{
		PerPairLimit:  cfg.Cache.MaxTradesPerPair,
		Path:          cfg.Cache.Path,
		FlushDebounce: time.Duration(cfg.Cache.SaveDebounceMs) * time.Millisecond,
	}, logger)
}

func newEventsPublisher(cfg *config.Config, logger *zap.Logger) (*events.Publisher, message.Subscriber, error) {
	if cfg.Events.Backend == "nats" {
		return events.NewNATS(cfg.Events.NATSURL, logger)
	}
	return events.NewInProcess(logger)
}

func newOrderService(adapter ledger.Adapter, model *readmodel.Model, reserver *balance.Reserver, registry *dedupe.Registry, m *metrics.EngineMetrics, logger *zap.Logger) *orders.Service {
	return orders.New(adapter, model, reserver, registry, m, logger)
}

func newSettler(adapter ledger.Adapter, reserver *balance.Reserver, publisher *events.Publisher, m *metrics.EngineMetrics, cfg *config.Config, stop *stoploss.Engine, logger *zap.Logger) (*settlement.Settler, error) {
	thresholds := settlement.DustThresholds{Overrides: map[string]decimal.Decimal{}}
	if d, err := decimal.NewFromString(cfg.Settlement.DustThreshold); err == nil {
		thresholds.Default = d
	}
	for asset, raw := range cfg.Settlement.DustThresholdOverrides {
		if d, err := decimal.NewFromString(raw); err == nil {
			thresholds.Overrides[asset] = d
		}
	}

	return settlement.New(adapter, reserver, publisher, logger, settlement.Options{
		Thresholds: thresholds,
		PoolSize:   cfg.Settlement.AllocationPoolSize,
		Metrics:    m,
		OnTrade: func(pair domain.Pair, price decimal.Decimal) {
			stop.CheckTriggers(context.Background(), pair, price)
		},
	})
}

func newMatchingEngine(model *readmodel.Model, settler *settlement.Settler, m *metrics.EngineMetrics, cfg *config.Config, logger *zap.Logger) *matching.Engine {
	intervals := matching.Intervals{
		Base:            time.Duration(cfg.MatchingEngine.BaseIntervalMs) * time.Millisecond,
		Medium:          time.Duration(cfg.MatchingEngine.MediumIdleIntervalMs) * time.Millisecond,
		Slow:            time.Duration(cfg.MatchingEngine.SlowIdleIntervalMs) * time.Millisecond,
		QuietForMedium:  5 * time.Duration(cfg.MatchingEngine.BaseIntervalMs) * time.Millisecond,
		QuietForSlow:    20 * time.Duration(cfg.MatchingEngine.BaseIntervalMs) * time.Millisecond,
		Watchdog:        time.Duration(cfg.MatchingEngine.WatchdogMs) * time.Millisecond,
		RematchCooldown: time.Duration(cfg.MatchingEngine.RematchCooldownMs) * time.Millisecond,
	}

	settle := func(ctx context.Context, buy, sell *domain.Order) (bool, error) {
		price, ok := matching.MatchPrice(buy, sell)
		if !ok {
			return false, nil
		}
		return settler.Settle(ctx, buy, sell, price)
	}

	return matching.New(model, settle, logger, intervals, m)
}

func newStopLossEngine(cfg *config.Config, model *readmodel.Model, adapter ledger.Adapter, publisher *events.Publisher, m *metrics.EngineMetrics, logger *zap.Logger) *stoploss.Engine {
	pollInterval := time.Duration(cfg.StopLoss.BackupPollMs) * time.Millisecond
	return stoploss.New(model, adapter, publisher, m, logger, pollInterval)
}

func newWsBridge(logger *zap.Logger) *wsbridge.Hub {
	return wsbridge.New(logger)
}

func runReadModel(lc fx.Lifecycle, adapter ledger.Adapter, consumer *readmodel.Consumer, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			offset, err := consumer.Bootstrap(ctx)
			if err != nil {
				cancel()
				return fmt.Errorf("readmodel bootstrap: %w", err)
			}
			go consumer.Run(ctx, offset)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func runMatchingEngine(lc fx.Lifecycle, engine *matching.Engine) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go engine.Run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func runStopLoss(lc fx.Lifecycle, engine *stoploss.Engine) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go engine.RunBackupPoll(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

var wsTopics = []events.Topic{
	events.TopicTradeExecuted,
	events.TopicOrderFilled,
	events.TopicOrderCancelled,
	events.TopicStopLossTriggered,
	events.TopicPartialSettlement,
}

func runEventsBridge(lc fx.Lifecycle, hub *wsbridge.Hub, sub message.Subscriber, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return hub.Subscribe(ctx, sub, wsTopics)
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

// runTradeCacheBridge keeps the recent-trade window current off the
// same trade.executed stream the websocket bridge relays, rather than
// threading cache writes through the settlement call path.
func runTradeCacheBridge(lc fx.Lifecycle, tradeCache *cache.RecentTradeCache, sub message.Subscriber, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			msgs, err := sub.Subscribe(ctx, string(events.TopicTradeExecuted))
			if err != nil {
				cancel()
				return fmt.Errorf("subscribe trade cache: %w", err)
			}
			go consumeTradeExecuted(ctx, msgs, tradeCache, logger)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			tradeCache.Flush()
			return nil
		},
	})
}

func consumeTradeExecuted(ctx context.Context, msgs <-chan *message.Message, tradeCache *cache.RecentTradeCache, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			var evt events.TradeExecuted
			if err := json.Unmarshal(m.Payload, &evt); err != nil {
				logger.Warn("engine: malformed trade.executed payload", zap.Error(err))
				m.Ack()
				continue
			}
			m.Ack()

			pair, err := domain.ParsePair(evt.Pair)
			if err != nil {
				logger.Warn("engine: trade.executed with invalid pair", zap.String("pair", evt.Pair), zap.Error(err))
				continue
			}
			basePrice, _ := decimal.NewFromString(evt.BasePrice)
			baseAmount, _ := decimal.NewFromString(evt.BaseAmount)
			quoteAmount, _ := decimal.NewFromString(evt.QuoteAmount)

			tradeCache.Record(domain.Trade{
				TradeID:     evt.TradeID,
				Buyer:       evt.Buyer,
				Seller:      evt.Seller,
				Pair:        pair,
				BasePrice:   basePrice,
				BaseAmount:  baseAmount,
				QuoteAmount: quoteAmount,
				BuyOrderID:  evt.BuyOrderID,
				SellOrderID: evt.SellOrderID,
				Timestamp:   evt.Timestamp,
			})
		}
	}
}

func runHTTPServer(lc fx.Lifecycle, cfg *config.Config, registry *prometheus.Registry, hub *wsbridge.Hub, orderSvc *orders.Service, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle(cfg.WsBridge.Path, hub)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.WsBridge.Host, cfg.WsBridge.Port),
		Handler: mux,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("engine: http server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
}
