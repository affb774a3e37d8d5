package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"farb/internal/application/container"
	"farb/internal/application/port"
	"farb/internal/application/usecase/trader"
	dsvc "farb/internal/domain/service"
	"farb/internal/infrastructure/config"
	"farb/internal/infrastructure/logger"
	"farb/internal/infrastructure/storage/composite"
	"farb/internal/infrastructure/storage/postgres"
	"farb/internal/infrastructure/storage/redis"
	"farb/internal/infrastructure/storage/sqlite"
	"farb/internal/infrastructure/venue"
	"farb/internal/infrastructure/venue/drift"
	"farb/internal/interfaces/console"
)

func main() {
	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	scanOnly := flag.Bool("scan-only", false, "run one detection cycle and exit without trading")
	status := flag.Bool("status", false, "print ledger status and exit")
	debug := flag.Bool("debug", false, "verbose logging")
	flag.Parse()

	logger.Setup(*debug)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ledger storage (sqlite, write-through)
	store, err := sqlite.New(cfg.Storage.SqlitePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Storage.SqlitePath).Msg("open ledger store failed")
	}

	// optional backends: postgres archive, redis signal sink
	var archivers []port.TradeArchiver
	if cfg.Storage.PostgresDSN != "" {
		pg, err := postgres.New(cfg.Storage.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("open trade archive failed")
		}
		archivers = append(archivers, pg)
		log.Info().Msg("postgres trade archive enabled")
	}

	var oppSink port.OpportunitySink
	if cfg.Redis.Enabled {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		sink := redis.NewSignalSink(rdb, cfg.Redis.Prefix, cfg.Redis.OppStream, cfg.Redis.OppChannel)
		oppSink = sink
		archivers = append(archivers, sink)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("redis opportunity sink enabled")
	}

	var archiver port.TradeArchiver
	if len(archivers) > 0 {
		archiver = composite.New(archivers...)
	}

	c := container.New(store, archiver)
	defer c.Close()

	pm, err := c.PositionManager(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("restore ledger failed")
	}

	if *status {
		now := time.Now()
		_ = console.NewSink().WriteReport(now, trader.NewFormatter().Render(now, nil, pm))
		return
	}

	venues, err := venue.Build(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("venue setup failed")
	}

	cache := c.RateCache()

	// optional drift mark price feed
	if cfg.Venue.Drift.WsEnabled {
		markets := driftMarkets(ctx, venues)
		feed := drift.NewPriceFeed(cfg.Venue.Drift.WsURL, markets)
		go feed.Run(ctx, func(market string, price float64, ts int64) {
			cache.ApplyMarkPrice("drift", dsvc.NormalizeAsset(market), price, ts)
		})
	}

	svc := trader.NewService(trader.ServiceDeps{
		Venues:             venues,
		Cache:              cache,
		Detector:           dsvc.NewDetector(cfg.Strategy.TrustedVenues),
		Positions:          pm,
		Sink:               console.NewSink(),
		OppSink:            oppSink,
		Clock:              trader.NewRealClock(),
		ScanInterval:       time.Duration(cfg.App.ScanIntervalSec) * time.Second,
		MinSpreadApy:       cfg.Strategy.MinSpreadApy,
		MinNetApy:          cfg.Strategy.MinNetApy,
		MinConfidence:      cfg.Strategy.MinConfidence,
		RebalanceSpreadApy: cfg.Strategy.RebalanceSpreadApy,
		MaxDrawdownPct:     cfg.Strategy.MaxDrawdownPct,
		MaxOpenPairs:       cfg.Strategy.MaxOpenPairs,
		NotionalPerLegUsd:  cfg.Trading.NotionalPerLegUsd,
		Leverage:           cfg.Trading.Leverage,
		WriteTimeout:       time.Duration(cfg.Trading.WriteTimeoutSec) * time.Second,
		ScanOnly:           *scanOnly,
	})

	log.Info().
		Str("config", *configPath).
		Bool("dry_run", cfg.App.DryRun).
		Bool("scan_only", *scanOnly).
		Float64("min_spread_apy", cfg.Strategy.MinSpreadApy).
		Float64("max_drawdown_pct", cfg.Strategy.MaxDrawdownPct).
		Msg("farb started")

	if *scanOnly {
		svc.RunCycle(ctx)
		return
	}

	if err := svc.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("trader exited")
	}
}

// driftMarkets 列出 drift 的市场代号供 ws 订阅，失败时退回空订阅
func driftMarkets(ctx context.Context, venues []port.VenueAdapter) []string {
	for _, v := range venues {
		if v.Name() != "drift" {
			continue
		}
		lctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		markets, err := v.ListMarkets(lctx)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("drift market list failed, ws feed disabled")
			return nil
		}
		out := make([]string, 0, len(markets))
		for _, m := range markets {
			out = append(out, m.Symbol)
		}
		return out
	}
	return nil
}
