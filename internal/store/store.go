package store

import (
	"context"
	"time"

	"BourseCast/internal/model"
)

// Event is one row of the append-only event log.
type Event struct {
	Kind      string
	Symbol    string
	Payload   string
	Timestamp time.Time
}

// Store persists bars, forecast records, preferences and events.
//
// Bars are idempotent on (symbol, date): re-ingesting the same payload
// leaves the row count unchanged, a colliding date overwrites numeric
// fields and bumps updated_at. All write failures surface as StoreError.
type Store interface {
	UpsertBars(ctx context.Context, symbol, displayName string, bars []model.Bar) error
	GetBars(ctx context.Context, symbol string, nDays int) ([]model.Bar, error)
	CountBars(ctx context.Context, symbol string) (int, error)
	LastClose(ctx context.Context, symbol string) (float64, time.Time, error)

	AppendForecast(ctx context.Context, rec *model.ForecastRecord) error
	QueryForecasts(ctx context.Context, symbol string, since time.Time) ([]model.ForecastRecord, error)

	PutPreference(ctx context.Context, key string, value any) error
	GetPreference(ctx context.Context, key string, dest any) (bool, error)

	AppendEvent(ctx context.Context, evt Event) error

	Close() error
}

// Noop discards all writes and reports no data. Used when the store
// path is not configured.
type Noop struct{}

func NewNoop() *Noop { return &Noop{} }

func (n *Noop) UpsertBars(context.Context, string, string, []model.Bar) error { return nil }
func (n *Noop) GetBars(context.Context, string, int) ([]model.Bar, error)    { return nil, nil }
func (n *Noop) CountBars(context.Context, string) (int, error)               { return 0, nil }
func (n *Noop) LastClose(context.Context, string) (float64, time.Time, error) {
	return 0, time.Time{}, nil
}
func (n *Noop) AppendForecast(context.Context, *model.ForecastRecord) error { return nil }
func (n *Noop) QueryForecasts(context.Context, string, time.Time) ([]model.ForecastRecord, error) {
	return nil, nil
}
func (n *Noop) PutPreference(context.Context, string, any) error          { return nil }
func (n *Noop) GetPreference(context.Context, string, any) (bool, error)  { return false, nil }
func (n *Noop) AppendEvent(context.Context, Event) error                  { return nil }
func (n *Noop) Close() error                                              { return nil }
