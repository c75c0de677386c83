package model

import (
	"math"
	"time"
)

// Source attribution values carried by bars and quotes.
const (
	SourceCached    = "cached"
	SourceEstimate  = "estimate"
	SourceSynthetic = "synthetic"
)

// Bar represents a single period's OHLCV candle. Daily bars use a
// timezone-naive UTC midnight timestamp.
type Bar struct {
	Symbol    string
	Date      time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Source    string
	UpdatedAt time.Time
}

// Valid reports whether the bar satisfies the OHLCV invariants:
// low <= open,close <= high, low > 0, volume >= 0, all finite.
func (b Bar) Valid() bool {
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close, b.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	if b.Low <= 0 || b.Volume < 0 {
		return false
	}
	return b.Low <= b.Open && b.Open <= b.High &&
		b.Low <= b.Close && b.Close <= b.High
}

// DayKey truncates the bar date to UTC midnight. Bars with the same
// DayKey collide on the (symbol, date) uniqueness constraint.
func DayKey(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Quote is a single point-in-time price sample. It is never persisted
// as a bar.
type Quote struct {
	Symbol      string
	Price       float64
	CapturedAt  time.Time
	Source      string
	PlausibleOK bool
}

// SeriesRequest is a resolved demand for a daily series.
type SeriesRequest struct {
	Symbol         string
	MinBars        int
	FreshnessLimit time.Duration
}
