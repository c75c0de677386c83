package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"BourseCast/internal/model"
	"BourseCast/internal/store"
)

// refreshHistoryBars is how much daily history a scheduled refresh
// keeps warm per symbol.
const refreshHistoryBars = 30

// QuoteSource is the scheduled quote refresher. Satisfied by
// *quote.Fetcher.
type QuoteSource interface {
	Quote(ctx context.Context, symbol string) model.Quote
	Evict(symbol string)
}

// HistorySource is the scheduled history refresher. Satisfied by
// *history.Fetcher.
type HistorySource interface {
	History(ctx context.Context, symbol string, minBars int) ([]model.Bar, error)
}

// Scheduler keeps the watch list warm on a cron cadence so interactive
// forecasts usually hit fresh stored data. Every run appends a refresh
// or refresh_error event to the store.
type Scheduler struct {
	cron      *cron.Cron
	quotes    QuoteSource
	histories HistorySource
	store     store.Store
	watchlist []string
	ctx       context.Context
	log       zerolog.Logger
}

func NewScheduler(ctx context.Context, quotes QuoteSource, histories HistorySource, st store.Store, watchlist []string, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:      cron.New(cron.WithSeconds()),
		quotes:    quotes,
		histories: histories,
		store:     st,
		watchlist: watchlist,
		ctx:       ctx,
		log:       log,
	}
}

// Register installs the refresh job on the given cron spec.
func (s *Scheduler) Register(refreshCron string) error {
	if _, err := s.cron.AddFunc(refreshCron, s.refreshTask); err != nil {
		return fmt.Errorf("register refresh task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("symbols", len(s.watchlist)).Msg("scheduler started")
}

// Stop stops the cron scheduler gracefully.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.log.Info().Msg("scheduler stopped")
}

// RunNow executes the refresh immediately, for manual trigger and
// RUN_ON_START.
func (s *Scheduler) RunNow() { s.refreshTask() }

func (s *Scheduler) refreshTask() {
	started := time.Now()
	s.log.Info().Msg("running watchlist refresh")

	for _, symbol := range s.watchlist {
		if s.ctx.Err() != nil {
			return
		}
		s.refreshSymbol(symbol)
	}
	s.log.Info().Dur("took", time.Since(started)).Msg("watchlist refresh done")
}

func (s *Scheduler) refreshSymbol(symbol string) {
	// Evict first so the fetch below is a real one, not a cache read.
	s.quotes.Evict(symbol)
	q := s.quotes.Quote(s.ctx, symbol)

	bars, err := s.histories.History(s.ctx, symbol, refreshHistoryBars)
	if err != nil {
		s.log.Error().Str("symbol", symbol).Err(err).Msg("history refresh failed")
		s.appendEvent("refresh_error", symbol, map[string]any{"error": err.Error()})
		return
	}

	s.appendEvent("refresh", symbol, map[string]any{
		"price":  q.Price,
		"source": q.Source,
		"bars":   len(bars),
	})
}

func (s *Scheduler) appendEvent(kind, symbol string, payload map[string]any) {
	body, err := json.Marshal(payload)
	if err != nil {
		body = []byte("{}")
	}
	evt := store.Event{Kind: kind, Symbol: symbol, Payload: string(body), Timestamp: time.Now().UTC()}
	if err := s.store.AppendEvent(s.ctx, evt); err != nil {
		s.log.Error().Str("symbol", symbol).Err(err).Msg("event append failed")
	}
}
