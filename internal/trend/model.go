package trend

import (
	"errors"
	"math"
	"time"

	"BourseCast/internal/model"
)

// Additive model tuning. Financial series benefit from few strong trend
// changes, so the changepoint prior is kept tight while seasonal terms
// are allowed to be sharp.
const (
	changepointPriorScale = 0.05
	seasonalityPriorScale = 10.0
	maxChangepoints       = 10
	weeklyOrder           = 3
	yearlyOrder           = 6

	// Seasonality is fitted only when the series can support it.
	minBarsForWeekly = 14
	minSpanForYearly = 370 // days
)

// z80 is the two-sided 80% normal quantile.
const z80 = 1.2816

// additiveFit is the fitted decomposable model. The fit runs on
// log(close), which makes seasonal effects multiplicative on the price
// scale and keeps every forecast positive.
type additiveFit struct {
	origin       time.Time // date of the first bar
	spanDays     float64
	beta         []float64
	changepoints []float64 // day offsets of hinge knots
	useWeekly    bool
	useYearly    bool
	holidays     map[string]int // date key -> regressor column slot
	nHoliday     int
	sigma        float64 // residual std on the log scale
}

// fitAdditive fits the trend + seasonality model to the bars.
// Bars must be ascending with positive closes.
func fitAdditive(bars []model.Bar, holidays []time.Time) (*additiveFit, error) {
	n := len(bars)
	if n < 10 {
		return nil, errors.New("additive fit needs at least 10 bars")
	}

	origin := model.DayKey(bars[0].Date)
	span := model.DayKey(bars[n-1].Date).Sub(origin).Hours() / 24

	f := &additiveFit{
		origin:    origin,
		spanDays:  span,
		useWeekly: n >= minBarsForWeekly,
		useYearly: span >= minSpanForYearly,
	}

	// Candidate changepoints sit at even quantiles over the first 80%
	// of the observed range; ridge shrinkage keeps only strong ones.
	nCP := n / 4
	if nCP > maxChangepoints {
		nCP = maxChangepoints
	}
	for j := 1; j <= nCP; j++ {
		f.changepoints = append(f.changepoints, span*0.8*float64(j)/float64(nCP+1))
	}

	f.holidays = map[string]int{}
	for _, h := range holidays {
		key := model.DayKey(h).Format("2006-01-02")
		if _, ok := f.holidays[key]; !ok {
			f.holidays[key] = f.nHoliday
			f.nHoliday++
		}
	}

	X := make([][]float64, n)
	y := make([]float64, n)
	for i, b := range bars {
		if b.Close <= 0 || math.IsNaN(b.Close) || math.IsInf(b.Close, 0) {
			return nil, errors.New("non-positive close in series")
		}
		X[i] = f.row(model.DayKey(b.Date))
		y[i] = math.Log(b.Close)
	}

	beta, err := ridgeSolve(X, y, f.penalties())
	if err != nil {
		return nil, err
	}
	f.beta = beta

	// Residual sigma drives the prediction interval.
	var ss float64
	for i := range y {
		r := y[i] - dot(X[i], beta)
		ss += r * r
	}
	f.sigma = math.Sqrt(ss / float64(n))
	if math.IsNaN(f.sigma) || math.IsInf(f.sigma, 0) {
		return nil, errors.New("non-finite residual sigma")
	}
	return f, nil
}

func (f *additiveFit) numCols() int {
	cols := 2 + len(f.changepoints) // intercept, slope, hinges
	if f.useWeekly {
		cols += 2 * weeklyOrder
	}
	if f.useYearly {
		cols += 2 * yearlyOrder
	}
	return cols + f.nHoliday
}

// row builds the design row for a calendar date.
func (f *additiveFit) row(date time.Time) []float64 {
	t := date.Sub(f.origin).Hours() / 24
	scale := f.spanDays
	if scale <= 0 {
		scale = 1
	}

	row := make([]float64, 0, f.numCols())
	row = append(row, 1, t/scale)
	for _, cp := range f.changepoints {
		if t > cp {
			row = append(row, (t-cp)/scale)
		} else {
			row = append(row, 0)
		}
	}
	if f.useWeekly {
		row = appendFourier(row, t, 7, weeklyOrder)
	}
	if f.useYearly {
		row = appendFourier(row, t, 365.25, yearlyOrder)
	}
	if f.nHoliday > 0 {
		h := make([]float64, f.nHoliday)
		if slot, ok := f.holidays[date.Format("2006-01-02")]; ok {
			h[slot] = 1
		}
		row = append(row, h...)
	}
	return row
}

// penalties returns the per-column ridge weights: none on the base
// trend, tight on changepoints, loose on seasonal and holiday terms.
func (f *additiveFit) penalties() []float64 {
	p := make([]float64, 0, f.numCols())
	p = append(p, 0, 0)
	for range f.changepoints {
		p = append(p, 1/changepointPriorScale)
	}
	seasonal := 2*weeklyOrder*boolInt(f.useWeekly) + 2*yearlyOrder*boolInt(f.useYearly) + f.nHoliday
	for i := 0; i < seasonal; i++ {
		p = append(p, 1/seasonalityPriorScale)
	}
	return p
}

// predict returns the log-scale mean and the widened sigma for a
// future date h steps past the last observation.
func (f *additiveFit) predict(date time.Time, h int) (mu, sigmaH float64) {
	mu = dot(f.row(model.DayKey(date)), f.beta)
	// Trend uncertainty grows with the horizon.
	sigmaH = f.sigma * math.Sqrt(1+0.1*float64(h))
	return mu, sigmaH
}

func appendFourier(row []float64, t, period float64, order int) []float64 {
	for k := 1; k <= order; k++ {
		arg := 2 * math.Pi * float64(k) * t / period
		row = append(row, math.Sin(arg), math.Cos(arg))
	}
	return row
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ridgeSolve solves (X'X + diag(penalty))b = X'y via Cholesky. The
// design here is a few dozen columns at most, so a dense solve is fine.
func ridgeSolve(X [][]float64, y []float64, penalty []float64) ([]float64, error) {
	if len(X) == 0 {
		return nil, errors.New("empty design matrix")
	}
	p := len(X[0])
	A := make([][]float64, p)
	for i := range A {
		A[i] = make([]float64, p)
	}
	b := make([]float64, p)

	for r := range X {
		row := X[r]
		for i := 0; i < p; i++ {
			b[i] += row[i] * y[r]
			for j := i; j < p; j++ {
				A[i][j] += row[i] * row[j]
			}
		}
	}
	for i := 0; i < p; i++ {
		A[i][i] += penalty[i] + 1e-8
		for j := 0; j < i; j++ {
			A[i][j] = A[j][i]
		}
	}
	return choleskySolve(A, b)
}

func choleskySolve(A [][]float64, b []float64) ([]float64, error) {
	n := len(A)
	L := make([][]float64, n)
	for i := range L {
		L[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			sum := A[i][j]
			for k := 0; k < j; k++ {
				sum -= L[i][k] * L[j][k]
			}
			if i == j {
				if sum <= 0 {
					return nil, errors.New("matrix not positive definite")
				}
				L[i][i] = math.Sqrt(sum)
			} else {
				L[i][j] = sum / L[j][j]
			}
		}
	}
	// Forward then back substitution.
	z := make([]float64, n)
	for i := 0; i < n; i++ {
		sum := b[i]
		for k := 0; k < i; k++ {
			sum -= L[i][k] * z[k]
		}
		z[i] = sum / L[i][i]
	}
	out := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		sum := z[i]
		for k := i + 1; k < n; k++ {
			sum -= L[k][i] * out[k]
		}
		out[i] = sum / L[i][i]
	}
	return out, nil
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
