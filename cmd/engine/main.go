package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"BourseCast/internal/config"
	"BourseCast/internal/forecast"
	"BourseCast/internal/history"
	"BourseCast/internal/model"
	"BourseCast/internal/quote"
	"BourseCast/internal/scheduler"
	"BourseCast/internal/store"
	"BourseCast/internal/trend"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
	log.Info().Msg("BourseCast starting...")

	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("config validation")
	}
	if lvl, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		log = log.Level(lvl)
	}

	// Init store; a broken store degrades to noop rather than aborting.
	var st store.Store
	if cfg.Database.SQLitePath != "" {
		sq, err := store.NewSQLite(cfg.Database.SQLitePath, log)
		if err != nil {
			log.Warn().Err(err).Msg("sqlite store init failed, using noop")
			st = store.NewNoop()
		} else {
			st = sq
			defer sq.Close()
		}
	} else {
		st = store.NewNoop()
	}

	// Init fetchers
	client := quote.NewHTTPClient(cfg.Proxy)
	adapters := quote.BuildAdapters(cfg.Providers.Quote, client)
	quotes := quote.NewFetcher(adapters, st, quote.Options{
		Timeout:  cfg.Fetch.Timeout,
		CacheTTL: cfg.Fetch.QuoteCacheTTL,
	}, log)

	providers := history.BuildProviders(cfg.Providers.History, client)
	histories := history.NewFetcher(providers, st, quotes, history.Options{
		Timeout:   cfg.Fetch.Timeout,
		Freshness: cfg.Fetch.Freshness,
	}, log)

	// Init forecasting
	daily := trend.NewForecaster(trend.Options{}, log)
	orch := forecast.NewOrchestrator(quotes, histories, daily, st, forecast.Options{
		Session: forecast.Session{
			Location: cfg.Location(),
			Open:     cfg.Exchange.SessionOpen,
			Close:    cfg.Exchange.SessionClose,
		},
		Regime: trend.DetectRegime,
	}, log)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init scheduler
	sched := scheduler.NewScheduler(ctx, quotes, histories, st, cfg.Schedule.Watchlist, log)
	if err := sched.Register(cfg.Schedule.RefreshCron); err != nil {
		log.Fatal().Err(err).Msg("register refresh task")
	}
	sched.Start()
	defer sched.Stop()

	// Optional: warm the watchlist immediately on start and log a
	// next-day forecast per symbol.
	if os.Getenv("RUN_ON_START") == "true" {
		log.Info().Msg("RUN_ON_START enabled, refreshing watchlist now")
		go func() {
			sched.RunNow()
			for _, symbol := range cfg.Schedule.Watchlist {
				resp, err := orch.Forecast(ctx, forecast.Request{Symbol: symbol, Kind: model.HorizonNextDay})
				if err != nil {
					log.Error().Str("symbol", symbol).Err(err).Msg("startup forecast failed")
					continue
				}
				p := resp.Record.Points[0]
				log.Info().Str("symbol", symbol).Str("model", resp.Record.ModelTag).
					Str("regime", string(resp.Regime)).
					Float64("yhat", p.Yhat).Float64("lower", p.YhatLower).Float64("upper", p.YhatUpper).
					Msg("next-day forecast")
			}
		}()
	}

	log.Info().Str("db", cfg.Database.SQLitePath).
		Strs("watchlist", cfg.Schedule.Watchlist).
		Msg("BourseCast is running. Press Ctrl+C to stop.")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutdown signal received, stopping...")
	cancel()
	log.Info().Msg("BourseCast stopped")
}
