package trend

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"BourseCast/internal/errs"
	"BourseCast/internal/model"
)

// intervalWidth is the nominal prediction interval confidence.
const intervalWidth = 0.80

// minBars is the minimum usable series length for any model.
const minBars = 10

// maWindow is the rolling window of the moving-average fallback.
const maWindow = 10

// Options tune the forecaster.
type Options struct {
	Holidays []time.Time // optional holiday regressors for the primary model
}

// Forecaster fits a trend/seasonality model to a daily series and emits
// calibrated prediction intervals, degrading through a moving-average
// and then a linear-trend model when the primary fit fails.
type Forecaster struct {
	holidays []time.Time
	log      zerolog.Logger
}

func NewForecaster(opts Options, log zerolog.Logger) *Forecaster {
	return &Forecaster{holidays: opts.Holidays, log: log}
}

// ForecastDaily returns one point per future calendar day for
// horizonDays. It either returns a valid non-empty sequence or a typed
// error; never a partial one.
func (f *Forecaster) ForecastDaily(bars []model.Bar, horizonDays int) ([]model.ForecastPoint, error) {
	if horizonDays < 1 {
		return nil, errs.New(errs.BadInput, symbolOf(bars), "horizon must be at least one day, got %d", horizonDays)
	}
	clean := cleanSeries(bars)
	if len(clean) < minBars {
		return nil, errs.New(errs.InsufficientData, symbolOf(bars),
			"need at least %d valid bars, got %d", minBars, len(clean))
	}

	points, err := f.primary(clean, horizonDays)
	if err == nil {
		return points, nil
	}
	f.log.Warn().Str("symbol", symbolOf(clean)).Err(err).
		Msg("additive fit failed, trying moving-average fallback")

	points, err = f.movingAverage(clean, horizonDays)
	if err == nil {
		return points, nil
	}
	f.log.Warn().Str("symbol", symbolOf(clean)).Err(err).
		Msg("moving-average fallback failed, trying linear trend")

	points, err = f.linear(clean, horizonDays)
	if err == nil {
		return points, nil
	}
	return nil, errs.Wrap(errs.ModelFailure, symbolOf(clean), err, "every model failed")
}

func (f *Forecaster) primary(bars []model.Bar, horizonDays int) ([]model.ForecastPoint, error) {
	fit, err := fitAdditive(bars, f.holidays)
	if err != nil {
		return nil, errs.Wrap(errs.ModelFailure, symbolOf(bars), err, "additive fit")
	}

	lastDate := model.DayKey(bars[len(bars)-1].Date)
	points := make([]model.ForecastPoint, 0, horizonDays)
	for h := 1; h <= horizonDays; h++ {
		date := lastDate.AddDate(0, 0, h)
		mu, sigmaH := fit.predict(date, h)
		yhat := math.Exp(mu)
		lower := math.Exp(mu - z80*sigmaH)
		upper := math.Exp(mu + z80*sigmaH)
		if !finitePositive(yhat, lower, upper) {
			return nil, errs.New(errs.ModelFailure, symbolOf(bars), "non-finite additive forecast at step %d", h)
		}
		points = append(points, clampInterval(model.ForecastPoint{
			Symbol:        symbolOf(bars),
			ForecastTS:    date,
			Yhat:          yhat,
			YhatLower:     lower,
			YhatUpper:     upper,
			IntervalWidth: intervalWidth,
			ModelTag:      model.ModelAdditiveTrend,
		}))
	}
	return points, nil
}

// movingAverage projects the rolling mean of the last maWindow closes
// flat across the horizon with a +-5% band.
func (f *Forecaster) movingAverage(bars []model.Bar, horizonDays int) ([]model.ForecastPoint, error) {
	window := maWindow
	if len(bars) < window {
		window = len(bars)
	}
	var sum float64
	for _, b := range bars[len(bars)-window:] {
		sum += b.Close
	}
	mean := sum / float64(window)
	if !finitePositive(mean) {
		return nil, errs.New(errs.ModelFailure, symbolOf(bars), "degenerate moving average")
	}

	lastDate := model.DayKey(bars[len(bars)-1].Date)
	points := make([]model.ForecastPoint, 0, horizonDays)
	for h := 1; h <= horizonDays; h++ {
		points = append(points, clampInterval(model.ForecastPoint{
			Symbol:        symbolOf(bars),
			ForecastTS:    lastDate.AddDate(0, 0, h),
			Yhat:          mean,
			YhatLower:     mean * 0.95,
			YhatUpper:     mean * 1.05,
			IntervalWidth: intervalWidth,
			ModelTag:      model.ModelMovingAverage,
		}))
	}
	return points, nil
}

// linear fits a least-squares line to close against bar index and
// extrapolates, with a 95% Gaussian band from the return std.
func (f *Forecaster) linear(bars []model.Bar, horizonDays int) ([]model.ForecastPoint, error) {
	n := len(bars)
	slope, intercept, _ := linearFit(closes(bars))
	retStd := returnStd(bars)

	lastDate := model.DayKey(bars[n-1].Date)
	points := make([]model.ForecastPoint, 0, horizonDays)
	for h := 1; h <= horizonDays; h++ {
		yhat := intercept + slope*float64(n-1+h)
		if yhat <= 0 {
			yhat = bars[n-1].Close
		}
		band := 1.96 * retStd * math.Sqrt(float64(h)) * yhat
		if !finitePositive(yhat) {
			return nil, errs.New(errs.ModelFailure, symbolOf(bars), "non-finite linear forecast")
		}
		points = append(points, clampInterval(model.ForecastPoint{
			Symbol:        symbolOf(bars),
			ForecastTS:    lastDate.AddDate(0, 0, h),
			Yhat:          yhat,
			YhatLower:     yhat - band,
			YhatUpper:     yhat + band,
			IntervalWidth: intervalWidth,
			ModelTag:      model.ModelLinearTrend,
		}))
	}
	return points, nil
}

// cleanSeries drops bars with non-finite or non-positive closes.
func cleanSeries(bars []model.Bar) []model.Bar {
	out := make([]model.Bar, 0, len(bars))
	for _, b := range bars {
		if b.Close > 0 && !math.IsNaN(b.Close) && !math.IsInf(b.Close, 0) {
			out = append(out, b)
		}
	}
	return out
}

// clampInterval enforces lower <= yhat <= upper and widens a degenerate
// interval to +-1% of yhat.
func clampInterval(p model.ForecastPoint) model.ForecastPoint {
	if p.YhatLower > p.Yhat {
		p.YhatLower = p.Yhat
	}
	if p.YhatUpper < p.Yhat {
		p.YhatUpper = p.Yhat
	}
	if p.YhatLower <= 0 {
		p.YhatLower = p.Yhat * 0.99
	}
	if p.YhatUpper-p.YhatLower < p.Yhat*0.001 {
		p.YhatLower = p.Yhat * 0.99
		p.YhatUpper = p.Yhat * 1.01
	}
	return p
}

func finitePositive(vals ...float64) bool {
	for _, v := range vals {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func symbolOf(bars []model.Bar) string {
	if len(bars) > 0 {
		return bars[0].Symbol
	}
	return ""
}

func closes(bars []model.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// linearFit returns slope, intercept and R^2 of y over its index.
func linearFit(y []float64) (slope, intercept, r2 float64) {
	n := float64(len(y))
	if n < 2 {
		return 0, meanOf(y), 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, v := range y {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}
	den := n*sumXX - sumX*sumX
	if den == 0 {
		return 0, sumY / n, 0
	}
	slope = (n*sumXY - sumX*sumY) / den
	intercept = (sumY - slope*sumX) / n

	meanY := sumY / n
	var ssRes, ssTot float64
	for i, v := range y {
		fit := intercept + slope*float64(i)
		ssRes += (v - fit) * (v - fit)
		ssTot += (v - meanY) * (v - meanY)
	}
	if ssTot > 0 {
		r2 = 1 - ssRes/ssTot
	}
	return slope, intercept, r2
}

// returnStd is the standard deviation of daily simple returns.
func returnStd(bars []model.Bar) float64 {
	if len(bars) < 3 {
		return 0.02
	}
	rets := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		if bars[i-1].Close > 0 {
			rets = append(rets, bars[i].Close/bars[i-1].Close-1)
		}
	}
	m := meanOf(rets)
	var ss float64
	for _, r := range rets {
		ss += (r - m) * (r - m)
	}
	return math.Sqrt(ss / float64(len(rets)))
}

func meanOf(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var s float64
	for _, v := range vals {
		s += v
	}
	return s / float64(len(vals))
}
