package quote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BourseCast/internal/model"
	"BourseCast/internal/store"
)

type closeStore struct {
	store.Noop
	price float64
	date  time.Time
}

func (s *closeStore) LastClose(context.Context, string) (float64, time.Time, error) {
	return s.price, s.date, nil
}

func fixed(price float64) *FuncAdapter {
	return &FuncAdapter{
		AdapterName: "fixed",
		Fn: func(context.Context, string) (float64, error) {
			return price, nil
		},
	}
}

func failing(name string) *FuncAdapter {
	return &FuncAdapter{
		AdapterName: name,
		Fn: func(context.Context, string) (float64, error) {
			return 0, errors.New("boom")
		},
	}
}

func TestQuote_ProviderCascade(t *testing.T) {
	// P1 throws, P2 returns an out-of-range value, P3 succeeds.
	p1 := failing("P1")
	p2 := &FuncAdapter{AdapterName: "P2", Fn: func(context.Context, string) (float64, error) {
		return 50000, nil // below IDX plausibility floor of 80000
	}}
	p3 := &FuncAdapter{AdapterName: "P3", Fn: func(context.Context, string) (float64, error) {
		return 128000, nil
	}}

	f := NewFetcher([]Adapter{p1, p2, p3}, store.NewNoop(), Options{}, zerolog.Nop())
	q := f.Quote(context.Background(), "IDX")

	assert.Equal(t, 128000.0, q.Price)
	assert.Equal(t, "P3", q.Source)
	assert.True(t, q.PlausibleOK)
}

func TestQuote_CacheIdempotentWithinTTL(t *testing.T) {
	calls := 0
	adapter := &FuncAdapter{AdapterName: "live", Fn: func(context.Context, string) (float64, error) {
		calls++
		return 128000 + float64(calls), nil
	}}

	f := NewFetcher([]Adapter{adapter}, store.NewNoop(), Options{CacheTTL: 30 * time.Second}, zerolog.Nop())

	q1 := f.Quote(context.Background(), "IDX")
	q2 := f.Quote(context.Background(), "IDX")

	assert.Equal(t, 1, calls, "second call within TTL must not refetch")
	assert.Equal(t, q1.Price, q2.Price)
	assert.Equal(t, q1.Source, q2.Source)
}

func TestQuote_CacheExpiry(t *testing.T) {
	clock := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	calls := 0
	adapter := &FuncAdapter{AdapterName: "live", Fn: func(context.Context, string) (float64, error) {
		calls++
		return 128000, nil
	}}

	f := NewFetcher([]Adapter{adapter}, store.NewNoop(), Options{CacheTTL: 30 * time.Second, Now: now}, zerolog.Nop())

	f.Quote(context.Background(), "IDX")
	clock = clock.Add(31 * time.Second)
	f.Quote(context.Background(), "IDX")

	assert.Equal(t, 2, calls, "expired cache entry must refetch")
}

func TestQuote_EstimateFromLastClose(t *testing.T) {
	st := &closeStore{price: 127500, date: time.Now().AddDate(0, 0, -1)}
	f := NewFetcher([]Adapter{failing("P1"), failing("P2")}, st, Options{}, zerolog.Nop())

	q := f.Quote(context.Background(), "IDX")
	assert.Equal(t, model.SourceEstimate, q.Source)
	assert.Equal(t, 127500.0, q.Price)
	assert.True(t, q.PlausibleOK)
}

func TestQuote_EstimateNotCached(t *testing.T) {
	calls := 0
	flaky := &FuncAdapter{AdapterName: "flaky", Fn: func(context.Context, string) (float64, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("down")
		}
		return 128000, nil
	}}

	f := NewFetcher([]Adapter{flaky}, store.NewNoop(), Options{}, zerolog.Nop())

	q1 := f.Quote(context.Background(), "IDX")
	require.Equal(t, model.SourceEstimate, q1.Source)

	// Estimate provenance must not suppress a refetch.
	q2 := f.Quote(context.Background(), "IDX")
	assert.Equal(t, "flaky", q2.Source)
	assert.Equal(t, 128000.0, q2.Price)
}

func TestQuote_AnchorFallbackIsPositive(t *testing.T) {
	f := NewFetcher(nil, store.NewNoop(), Options{}, zerolog.Nop())
	q := f.Quote(context.Background(), "TLKM")

	meta, ok := model.LookupSymbol("TLKM")
	require.True(t, ok)

	assert.Equal(t, model.SourceEstimate, q.Source)
	assert.Greater(t, q.Price, 0.0)
	assert.InDelta(t, meta.Anchor, q.Price, meta.Anchor*0.06)
}

func TestQuote_UnknownSymbolStillAnswers(t *testing.T) {
	f := NewFetcher([]Adapter{fixed(42)}, store.NewNoop(), Options{}, zerolog.Nop())
	q := f.Quote(context.Background(), "ZZZZ")

	// No plausibility table entry: provider value passes through.
	assert.Equal(t, 42.0, q.Price)
	assert.Equal(t, "fixed", q.Source)
}

func TestQuote_PanickingAdapterIsContained(t *testing.T) {
	angry := &FuncAdapter{AdapterName: "angry", Fn: func(context.Context, string) (float64, error) {
		panic("malformed page")
	}}
	f := NewFetcher([]Adapter{angry, fixed(128000)}, store.NewNoop(), Options{}, zerolog.Nop())

	q := f.Quote(context.Background(), "IDX")
	assert.Equal(t, "fixed", q.Source)
	assert.Equal(t, 128000.0, q.Price)
}
