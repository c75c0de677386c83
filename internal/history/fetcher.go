package history

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"BourseCast/internal/errs"
	"BourseCast/internal/model"
	"BourseCast/internal/store"
)

// minUsableBars is the floor below which a provider series is treated
// as unusable and synthesis takes over.
const minUsableBars = 10

// QuoteSource supplies the synthesis anchor when the store holds no
// close for the symbol. Satisfied by *quote.Fetcher.
type QuoteSource interface {
	Quote(ctx context.Context, symbol string) model.Quote
}

// Options tune the history fetcher.
type Options struct {
	Timeout   time.Duration // per-provider call, default 10s
	Freshness time.Duration // store staleness window, default 5m
	Now       func() time.Time
}

// Fetcher retrieves daily series store-first, then through the provider
// cascade, and synthesizes as a last resort. It owns all bar writes.
type Fetcher struct {
	providers []Provider
	store     store.Store
	quotes    QuoteSource
	timeout   time.Duration
	freshness time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

func NewFetcher(providers []Provider, st store.Store, quotes QuoteSource, opts Options, log zerolog.Logger) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Freshness <= 0 {
		opts.Freshness = 5 * time.Minute
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Fetcher{
		providers: providers,
		store:     st,
		quotes:    quotes,
		timeout:   opts.Timeout,
		freshness: opts.Freshness,
		now:       now,
		log:       log,
	}
}

// History returns at least minBars daily bars sorted ascending with no
// duplicate dates. Fresh stored data short-circuits the cascade; a full
// cascade failure yields a synthetic series rather than an error.
func (f *Fetcher) History(ctx context.Context, symbol string, minBars int) ([]model.Bar, error) {
	if minBars < minUsableBars {
		minBars = minUsableBars
	}
	meta, known := model.LookupSymbol(symbol)
	displayName := ""
	if known {
		displayName = meta.DisplayName
	}

	// Fresh-enough stored series wins outright.
	if stored := f.freshStored(ctx, symbol, minBars); stored != nil {
		return stored, nil
	}

	for _, p := range f.providers {
		bars, err := f.tryProvider(ctx, p, symbol, minBars)
		if err != nil {
			f.log.Debug().Str("symbol", symbol).Str("provider", p.Name()).
				Err(err).Msg("history provider failed")
			continue
		}
		if len(bars) < minUsableBars {
			f.log.Warn().Str("symbol", symbol).Str("provider", p.Name()).
				Int("bars", len(bars)).Msg("series too short, trying next provider")
			continue
		}
		for i := range bars {
			bars[i].Source = p.Name()
		}
		if err := f.store.UpsertBars(ctx, symbol, displayName, bars); err != nil {
			// The in-memory series is still usable.
			f.log.Error().Str("symbol", symbol).Err(err).Msg("bar upsert failed")
		}
		return bars, nil
	}

	return f.synthesize(ctx, symbol, displayName, minBars)
}

// freshStored returns an ascending stored series when the store holds
// at least minBars whose newest bar is inside the freshness window.
func (f *Fetcher) freshStored(ctx context.Context, symbol string, minBars int) []model.Bar {
	stored, err := f.store.GetBars(ctx, symbol, maxInt(minBars, 200))
	if err != nil || len(stored) < minBars {
		return nil
	}
	// Store returns newest-first.
	newest := stored[0]
	if f.now().Sub(newest.UpdatedAt) > f.freshness {
		return nil
	}
	out := make([]model.Bar, len(stored))
	for i, b := range stored {
		b.Source = model.SourceCached
		out[len(stored)-1-i] = b
	}
	return out
}

func (f *Fetcher) tryProvider(ctx context.Context, p Provider, symbol string, minBars int) (bars []model.Bar, err error) {
	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			f.log.Error().Str("provider", p.Name()).Any("panic", r).Msg("provider panicked")
			bars, err = nil, errs.New(errs.NoUpstream, symbol, "provider %s panicked", p.Name())
		}
	}()
	fetchDays := maxInt(minBars, 60)
	return p.FetchDaily(callCtx, symbol, fetchDays)
}

// synthesize anchors on the last known close, else the current quote.
// Synthetic bars are persisted only when no real bars exist for the
// symbol, so they never shadow genuine history.
func (f *Fetcher) synthesize(ctx context.Context, symbol, displayName string, minBars int) ([]model.Bar, error) {
	anchor, _, err := f.store.LastClose(ctx, symbol)
	if err != nil {
		f.log.Warn().Str("symbol", symbol).Err(err).Msg("last close lookup failed")
	}
	if anchor <= 0 && f.quotes != nil {
		anchor = f.quotes.Quote(ctx, symbol).Price
	}
	if anchor <= 0 {
		return nil, errs.New(errs.NoUpstream, symbol, "no provider, stored close or quote to anchor synthesis")
	}

	bars := Synthesize(symbol, anchor, minBars, f.now())
	f.log.Info().Str("symbol", symbol).Int("bars", len(bars)).
		Float64("anchor", anchor).Msg("synthesized series, all providers failed")

	count, err := f.store.CountBars(ctx, symbol)
	if err == nil && count == 0 {
		if err := f.store.UpsertBars(ctx, symbol, displayName, bars); err != nil {
			f.log.Error().Str("symbol", symbol).Err(err).Msg("synthetic upsert failed")
		}
	}
	return bars, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
