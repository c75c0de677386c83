package forecast

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"BourseCast/internal/errs"
	"BourseCast/internal/intraday"
	"BourseCast/internal/model"
	"BourseCast/internal/store"
)

// defaultGridMinutes is used when an intraday request leaves the grid
// unset.
const defaultGridMinutes = 15

// minHistoryBars is the series length requested for daily forecasts.
const minHistoryBars = 30

// QuoteSource supplies the intraday anchor. Satisfied by *quote.Fetcher.
type QuoteSource interface {
	Quote(ctx context.Context, symbol string) model.Quote
}

// HistorySource supplies daily series. Satisfied by *history.Fetcher.
type HistorySource interface {
	History(ctx context.Context, symbol string, minBars int) ([]model.Bar, error)
}

// DailyForecaster fits and predicts over a daily series. Satisfied by
// *trend.Forecaster.
type DailyForecaster interface {
	ForecastDaily(bars []model.Bar, horizonDays int) ([]model.ForecastPoint, error)
}

// RegimeFunc classifies recent bars. Defaults to trend.DetectRegime.
type RegimeFunc func(bars []model.Bar) model.Regime

// Request is one forecast demand.
type Request struct {
	Symbol      string
	Kind        model.HorizonKind
	GridMinutes int       // intraday only; 5, 15 or 30
	HorizonDays int       // multi_day only
	TargetDate  time.Time // custom_date only
}

// Response bundles the persisted record with advisory context.
type Response struct {
	Record *model.ForecastRecord
	Quote  *model.Quote // set for intraday: the anchor with its provenance
	Regime model.Regime // set for daily kinds
}

// Session holds the exchange trading window.
type Session struct {
	Location *time.Location
	Open     string // "09:30"
	Close    string // "15:00"
}

// Orchestrator is the single entry point for forecasts. It resolves the
// inputs a horizon kind needs, runs the matching model, and is the only
// component that writes forecast records to the store.
type Orchestrator struct {
	quotes  QuoteSource
	history HistorySource
	daily   DailyForecaster
	regime  RegimeFunc
	store   store.Store
	session Session
	now     func() time.Time
	log     zerolog.Logger
}

// Options tune the orchestrator.
type Options struct {
	Session Session
	Regime  RegimeFunc
	Now     func() time.Time
}

func NewOrchestrator(quotes QuoteSource, history HistorySource, daily DailyForecaster, st store.Store, opts Options, log zerolog.Logger) *Orchestrator {
	sess := opts.Session
	if sess.Location == nil {
		sess.Location = time.UTC
	}
	if sess.Open == "" {
		sess.Open = "09:30"
	}
	if sess.Close == "" {
		sess.Close = "15:00"
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		quotes:  quotes,
		history: history,
		daily:   daily,
		regime:  opts.Regime,
		store:   st,
		session: sess,
		now:     now,
		log:     log,
	}
}

// Forecast dispatches on the request's horizon kind, persists the
// resulting record and returns it.
//
// A store write failure does not discard the forecast: the response is
// returned alongside the StoreError so callers can still show it.
func (o *Orchestrator) Forecast(ctx context.Context, req Request) (*Response, error) {
	if req.Symbol == "" {
		return nil, errs.New(errs.BadInput, "", "symbol is required")
	}

	var (
		resp *Response
		err  error
	)
	switch req.Kind {
	case model.HorizonIntraday:
		resp, err = o.intradayForecast(ctx, req)
	case model.HorizonNextDay:
		resp, err = o.dailyForecast(ctx, req, 1)
	case model.HorizonMultiDay:
		if req.HorizonDays < 1 {
			return nil, errs.New(errs.BadInput, req.Symbol, "multi_day needs horizon_days >= 1, got %d", req.HorizonDays)
		}
		resp, err = o.dailyForecast(ctx, req, req.HorizonDays)
	case model.HorizonCustomDate:
		resp, err = o.customDateForecast(ctx, req)
	default:
		return nil, errs.New(errs.BadInput, req.Symbol, "unknown horizon kind %q", req.Kind)
	}
	if err != nil {
		return nil, translate(err, req.Symbol)
	}

	if perr := o.store.AppendForecast(ctx, resp.Record); perr != nil {
		o.log.Error().Str("symbol", req.Symbol).Err(perr).Msg("forecast record not persisted")
		return resp, translate(perr, req.Symbol)
	}
	return resp, nil
}

func (o *Orchestrator) intradayForecast(ctx context.Context, req Request) (*Response, error) {
	grid := req.GridMinutes
	if grid == 0 {
		grid = defaultGridMinutes
	}

	q := o.quotes.Quote(ctx, req.Symbol)
	day := o.now().In(o.session.Location)
	openTS, closeTS, err := o.sessionWindow(day)
	if err != nil {
		return nil, err
	}

	proj := intraday.Request{
		Symbol:       req.Symbol,
		Day:          day,
		AnchorPrice:  q.Price,
		SessionOpen:  openTS,
		SessionClose: closeTS,
		GridMinutes:  grid,
	}
	// Keep the walk inside a widened plausibility corridor when the
	// symbol is known.
	if meta, known := model.LookupSymbol(req.Symbol); known {
		proj.Bounds = &intraday.Bounds{Min: meta.PlausibleLo * 0.5, Max: meta.PlausibleHi * 2.0}
	}

	points, err := intraday.Project(proj)
	if err != nil {
		return nil, err
	}
	params := fmt.Sprintf("grid=%d|day=%s", grid, model.DayKey(day).Format("2006-01-02"))
	return &Response{
		Record: o.record(req.Symbol, model.HorizonIntraday, params, points),
		Quote:  &q,
	}, nil
}

func (o *Orchestrator) dailyForecast(ctx context.Context, req Request, horizonDays int) (*Response, error) {
	need := minHistoryBars
	if horizonDays > need {
		need = horizonDays
	}
	bars, err := o.history.History(ctx, req.Symbol, need)
	if err != nil {
		return nil, err
	}
	points, err := o.daily.ForecastDaily(bars, horizonDays)
	if err != nil {
		return nil, err
	}
	params := fmt.Sprintf("h=%d", horizonDays)
	return &Response{
		Record: o.record(req.Symbol, req.Kind, params, points),
		Regime: o.detectRegime(bars),
	}, nil
}

// customDateForecast forecasts out to a concrete calendar date. A
// target on or before the last stored bar answers from history instead
// of a model.
func (o *Orchestrator) customDateForecast(ctx context.Context, req Request) (*Response, error) {
	if req.TargetDate.IsZero() {
		return nil, errs.New(errs.BadInput, req.Symbol, "custom_date needs a target date")
	}
	target := model.DayKey(req.TargetDate)

	bars, err := o.history.History(ctx, req.Symbol, minHistoryBars)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, errs.New(errs.InsufficientData, req.Symbol, "no history available")
	}
	last := model.DayKey(bars[len(bars)-1].Date)
	params := fmt.Sprintf("target=%s", target.Format("2006-01-02"))

	if !target.After(last) {
		for _, b := range bars {
			if model.DayKey(b.Date).Equal(target) {
				point := model.ForecastPoint{
					Symbol:        b.Symbol,
					ForecastTS:    target,
					Yhat:          b.Close,
					YhatLower:     b.Close,
					YhatUpper:     b.Close,
					IntervalWidth: 0.80,
					ModelTag:      model.ModelHistorical,
				}
				return &Response{
					Record: o.record(req.Symbol, req.Kind, params, []model.ForecastPoint{point}),
					Regime: o.detectRegime(bars),
				}, nil
			}
		}
		return nil, errs.New(errs.InsufficientData, req.Symbol,
			"no bar on %s, likely a non-trading day", target.Format("2006-01-02"))
	}

	horizon := int(target.Sub(last).Hours() / 24)
	points, err := o.daily.ForecastDaily(bars, horizon)
	if err != nil {
		return nil, err
	}
	return &Response{
		Record: o.record(req.Symbol, req.Kind, params, points),
		Regime: o.detectRegime(bars),
	}, nil
}

// record assembles the persistable run metadata around the points.
// Every emitted point is held inside the widened plausibility corridor
// for known symbols, whatever model produced it.
func (o *Orchestrator) record(symbol string, kind model.HorizonKind, params string, points []model.ForecastPoint) *model.ForecastRecord {
	if meta, known := model.LookupSymbol(symbol); known {
		lo, hi := meta.PlausibleLo*0.5, meta.PlausibleHi*2.0
		for i := range points {
			points[i].Yhat = clampTo(points[i].Yhat, lo, hi)
			points[i].YhatLower = clampTo(points[i].YhatLower, lo, hi)
			points[i].YhatUpper = clampTo(points[i].YhatUpper, lo, hi)
		}
	}
	tag := ""
	if len(points) > 0 {
		tag = points[0].ModelTag
	}
	return &model.ForecastRecord{
		ID:           uuid.NewString(),
		Symbol:       symbol,
		CreatedAt:    o.now().UTC(),
		HorizonKind:  kind,
		ModelTag:     tag,
		ParamsDigest: paramsDigest(kind, params, tag),
		Points:       points,
	}
}

// sessionWindow materializes the configured open/close on a calendar
// day in the exchange timezone.
func (o *Orchestrator) sessionWindow(day time.Time) (time.Time, time.Time, error) {
	openT, err := time.Parse("15:04", o.session.Open)
	if err != nil {
		return time.Time{}, time.Time{}, errs.Wrap(errs.BadInput, "", err, "session open %q", o.session.Open)
	}
	closeT, err := time.Parse("15:04", o.session.Close)
	if err != nil {
		return time.Time{}, time.Time{}, errs.Wrap(errs.BadInput, "", err, "session close %q", o.session.Close)
	}
	y, m, d := day.Date()
	loc := o.session.Location
	openTS := time.Date(y, m, d, openT.Hour(), openT.Minute(), 0, 0, loc)
	closeTS := time.Date(y, m, d, closeT.Hour(), closeT.Minute(), 0, 0, loc)
	return openTS, closeTS, nil
}

func (o *Orchestrator) detectRegime(bars []model.Bar) model.Regime {
	if o.regime == nil {
		return ""
	}
	return o.regime(bars)
}

func clampTo(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// paramsDigest is a stable hash over what shaped the run, so identical
// requests are recognizable across restarts.
func paramsDigest(kind model.HorizonKind, params, modelTag string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(string(kind)+"|"+params+"|"+modelTag))
}

// translate guarantees the caller always sees a typed error.
func translate(err error, symbol string) error {
	if err == nil {
		return nil
	}
	if errs.KindOf(err) != "" {
		return err
	}
	return errs.Wrap(errs.ModelFailure, symbol, err, "forecast failed")
}
