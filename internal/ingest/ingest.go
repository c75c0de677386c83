package ingest

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"BourseCast/internal/errs"
	"BourseCast/internal/history"
	"BourseCast/internal/model"
)

// QuoteSource supplies the appended "latest" row. Satisfied by
// *quote.Fetcher.
type QuoteSource interface {
	Quote(ctx context.Context, symbol string) model.Quote
}

// Ingester turns user-supplied tabular files into normalized bar
// series. It never persists; callers decide what to do with the result.
type Ingester struct {
	quotes QuoteSource
	now    func() time.Time
	log    zerolog.Logger
}

// Options tune the ingester.
type Options struct {
	Now func() time.Time
}

func NewIngester(quotes QuoteSource, opts Options, log zerolog.Logger) *Ingester {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Ingester{quotes: quotes, now: now, log: log}
}

// UserFile parses a CSV or XLSX payload into daily bars for brand,
// appends one "latest" row priced from the current quote, and returns
// the sequence ascending by date with no duplicate dates.
//
// The table needs at least a date column and a close/price column;
// header names match case-insensitively through the usual aliases.
func (g *Ingester) UserFile(ctx context.Context, data []byte, format, brand string) ([]model.Bar, error) {
	if brand == "" {
		return nil, errs.New(errs.BadInput, "", "brand symbol is required")
	}
	if len(data) == 0 {
		return nil, errs.New(errs.BadInput, brand, "empty file")
	}

	var (
		bars []model.Bar
		err  error
	)
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "csv":
		bars, err = history.ParseCSVBars(brand, data)
	case "xlsx":
		bars, err = g.parseXLSX(brand, data)
	default:
		return nil, errs.New(errs.BadInput, brand, "unsupported format %q, want csv or xlsx", format)
	}
	if err != nil {
		return nil, errs.Wrap(errs.BadInput, brand, err, "parse %s file", format)
	}
	if len(bars) == 0 {
		return nil, errs.New(errs.BadInput, brand, "no usable rows in file")
	}

	return g.appendLatest(ctx, brand, bars), nil
}

// parseXLSX reads the first sheet and feeds its rows through the same
// column conventions the CSV path uses.
func (g *Ingester) parseXLSX(brand string, data []byte) ([]model.Bar, error) {
	wb, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return nil, errs.New(errs.BadInput, brand, "workbook has no sheets")
	}
	rows, err := wb.GetRows(sheets[0])
	if err != nil {
		return nil, err
	}
	return history.ParseRows(brand, rows)
}

// appendLatest adds today's quote as the newest bar. A file row already
// carrying today's date is replaced so the live price wins.
func (g *Ingester) appendLatest(ctx context.Context, brand string, bars []model.Bar) []model.Bar {
	q := g.quotes.Quote(ctx, brand)
	if q.Price <= 0 {
		g.log.Warn().Str("symbol", brand).Msg("no usable quote for latest row, returning file rows only")
		return bars
	}

	today := model.DayKey(g.now())
	latest := model.Bar{
		Symbol: brand,
		Date:   today,
		Open:   q.Price,
		High:   q.Price,
		Low:    q.Price,
		Close:  q.Price,
		Source: q.Source,
	}

	out := make([]model.Bar, 0, len(bars)+1)
	for _, b := range bars {
		if !model.DayKey(b.Date).Equal(today) {
			out = append(out, b)
		}
	}
	return append(out, latest)
}
