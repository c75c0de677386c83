package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BourseCast/internal/errs"
	"BourseCast/internal/model"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testBars(symbol string, n int) []model.Bar {
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]model.Bar, n)
	for i := range bars {
		c := 9000.0 + 10*float64(i)
		bars[i] = model.Bar{
			Symbol: symbol, Date: start.AddDate(0, 0, i),
			Open: c - 5, High: c + 20, Low: c - 20, Close: c, Volume: 1e6,
			Source: "yahoo-csv",
		}
	}
	return bars
}

func TestUpsertBars_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	bars := testBars("BBCA", 10)

	require.NoError(t, s.UpsertBars(ctx, "BBCA", "Bank Central Asia", bars))

	got, err := s.GetBars(ctx, "BBCA", 100)
	require.NoError(t, err)
	require.Len(t, got, 10)

	// Newest-first, dates at UTC midnight, payload intact.
	assert.True(t, got[0].Date.After(got[1].Date))
	assert.Equal(t, bars[9].Close, got[0].Close)
	assert.Equal(t, "yahoo-csv", got[0].Source)
	assert.False(t, got[0].UpdatedAt.IsZero())

	n, err := s.CountBars(ctx, "BBCA")
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestUpsertBars_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	bars := testBars("BBCA", 10)

	require.NoError(t, s.UpsertBars(ctx, "BBCA", "", bars))
	require.NoError(t, s.UpsertBars(ctx, "BBCA", "", bars))

	n, err := s.CountBars(ctx, "BBCA")
	require.NoError(t, err)
	assert.Equal(t, 10, n, "re-ingesting the same payload must not grow the table")
}

func TestUpsertBars_LastWriterWinsOnCollision(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	bars := testBars("BBCA", 5)
	require.NoError(t, s.UpsertBars(ctx, "BBCA", "", bars))

	revised := bars[2]
	revised.Close = 7777
	revised.High = 7800
	revised.Low = 7700
	revised.Open = 7750
	revised.Source = "exchange-page"
	require.NoError(t, s.UpsertBars(ctx, "BBCA", "", []model.Bar{revised}))

	got, err := s.GetBars(ctx, "BBCA", 100)
	require.NoError(t, err)
	require.Len(t, got, 5)
	// got is newest-first; bars[2] sits in the middle.
	assert.Equal(t, 7777.0, got[2].Close)
	assert.Equal(t, "exchange-page", got[2].Source)
}

func TestUpsertBars_SkipsInvalidRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	bars := testBars("BBCA", 5)
	bars[1].Low = -10
	bars[3].High = bars[3].Low - 1

	require.NoError(t, s.UpsertBars(ctx, "BBCA", "", bars))
	n, err := s.CountBars(ctx, "BBCA")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestLastClose(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	px, at, err := s.LastClose(ctx, "GHOST")
	require.NoError(t, err)
	assert.Zero(t, px)
	assert.True(t, at.IsZero())

	bars := testBars("BBCA", 10)
	require.NoError(t, s.UpsertBars(ctx, "BBCA", "", bars))

	px, at, err = s.LastClose(ctx, "BBCA")
	require.NoError(t, err)
	assert.Equal(t, bars[9].Close, px)
	assert.Equal(t, model.DayKey(bars[9].Date), at)
}

func TestAppendForecast_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	rec := &model.ForecastRecord{
		ID: "run-1", Symbol: "IDX", CreatedAt: created,
		HorizonKind: model.HorizonMultiDay, ModelTag: model.ModelAdditiveTrend,
		ParamsDigest: "abcd1234abcd1234",
		Points: []model.ForecastPoint{
			{Symbol: "IDX", ForecastTS: created.AddDate(0, 0, 2), Yhat: 129000, YhatLower: 127000, YhatUpper: 131000, IntervalWidth: 0.80},
			{Symbol: "IDX", ForecastTS: created.AddDate(0, 0, 1), Yhat: 128500, YhatLower: 126500, YhatUpper: 130500, IntervalWidth: 0.80},
		},
	}
	require.NoError(t, s.AppendForecast(ctx, rec))

	recs, err := s.QueryForecasts(ctx, "IDX", created.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, recs, 1)

	got := recs[0]
	assert.Equal(t, "run-1", got.ID)
	assert.Equal(t, model.HorizonMultiDay, got.HorizonKind)
	assert.Equal(t, "abcd1234abcd1234", got.ParamsDigest)
	require.Len(t, got.Points, 2)
	assert.True(t, got.Points[0].ForecastTS.Before(got.Points[1].ForecastTS), "points come back ascending")
	assert.Equal(t, model.ModelAdditiveTrend, got.Points[0].ModelTag)

	// A record from before the window stays out.
	recs, err = s.QueryForecasts(ctx, "IDX", created.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestAppendForecast_RejectsEmptyRecord(t *testing.T) {
	s := openTestStore(t)
	err := s.AppendForecast(context.Background(), &model.ForecastRecord{ID: "x", Symbol: "IDX"})
	assert.True(t, errs.Is(err, errs.BadInput))
	assert.True(t, errs.Is(s.AppendForecast(context.Background(), nil), errs.BadInput))
}

func TestPreferences(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var grid int
	found, err := s.GetPreference(ctx, "grid_minutes", &grid)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.PutPreference(ctx, "grid_minutes", 15))
	found, err = s.GetPreference(ctx, "grid_minutes", &grid)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 15, grid)

	// Overwrite wins.
	require.NoError(t, s.PutPreference(ctx, "grid_minutes", 30))
	_, err = s.GetPreference(ctx, "grid_minutes", &grid)
	require.NoError(t, err)
	assert.Equal(t, 30, grid)

	// Structured values survive the JSON round trip.
	type prefs struct {
		Watchlist []string `json:"watchlist"`
	}
	require.NoError(t, s.PutPreference(ctx, "ui", prefs{Watchlist: []string{"IDX", "TLKM"}}))
	var p prefs
	found, err = s.GetPreference(ctx, "ui", &p)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"IDX", "TLKM"}, p.Watchlist)
}

func TestAppendEvent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendEvent(ctx, Event{Kind: "refresh", Symbol: "IDX", Payload: `{"bars":30}`}))
	require.NoError(t, s.AppendEvent(ctx, Event{Kind: "refresh_error", Symbol: "BBCA", Payload: `{"error":"down"}`}))

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n))
	assert.Equal(t, 2, n)
}
