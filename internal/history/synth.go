package history

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/cespare/xxhash/v2"

	"BourseCast/internal/model"
)

// Synthesize generates minBars daily bars backward from an anchor price
// when every live source has failed. The walk is lognormal-like with a
// small per-symbol volatility, seeded from (symbol, day) so repeated
// calls within one trading day agree. Every bar carries
// source="synthetic" and closes stay within +-30% of the anchor.
func Synthesize(symbol string, anchor float64, minBars int, asOf time.Time) []model.Bar {
	if anchor <= 0 || minBars <= 0 {
		return nil
	}

	day := model.DayKey(asOf)
	seed := xxhash.Sum64String(fmt.Sprintf("synth|%s|%s", symbol, day.Format("2006-01-02")))
	rng := rand.New(rand.NewSource(int64(seed)))

	// Per-symbol volatility in [0.8%, 2.0%] per day, stable across runs.
	vol := 0.008 + 0.012*float64(seed%1000)/1000.0

	dates := make([]time.Time, 0, minBars)
	d := day
	for len(dates) < minBars {
		d = d.AddDate(0, 0, -1)
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		dates = append(dates, d)
	}
	// dates are newest-first; walk backward from the anchor.
	closes := make([]float64, minBars)
	px := anchor
	for i := 0; i < minBars; i++ {
		closes[i] = px
		px *= math.Exp(vol * rng.NormFloat64())
		px = clamp(px, anchor*0.72, anchor*1.28)
	}

	bars := make([]model.Bar, minBars)
	for i := 0; i < minBars; i++ {
		// Reverse into ascending order.
		j := minBars - 1 - i
		closePx := closes[j]
		openPx := closePx
		if j+1 < minBars {
			openPx = closes[j+1]
		}
		spread := closePx * vol * (0.5 + 0.5*rng.Float64())
		high := math.Max(openPx, closePx) + spread
		low := math.Min(openPx, closePx) - spread
		if low <= 0 {
			low = math.Min(openPx, closePx) * 0.99
		}
		bars[i] = model.Bar{
			Symbol: symbol,
			Date:   dates[j],
			Open:   openPx,
			High:   high,
			Low:    low,
			Close:  closePx,
			Volume: math.Floor(1e5 + 9e5*rng.Float64()),
			Source: model.SourceSynthetic,
		}
	}
	return bars
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
