package intraday

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/cespare/xxhash/v2"

	"BourseCast/internal/errs"
	"BourseCast/internal/model"
)

// Grid intervals accepted by the projector, in minutes.
var validGrids = map[int]bool{5: true, 15: true, 30: true}

// bandWidth is the relative half-width of the emitted interval.
const bandWidth = 0.01

// maxStepReturn caps a single grid step's relative move.
const maxStepReturn = 0.03

// Bounds optionally clamps the walk; callers pass the plausibility
// range widened to [0.5x, 2.0x].
type Bounds struct {
	Min float64
	Max float64
}

// Request describes one intraday projection.
type Request struct {
	Symbol       string
	Day          time.Time // calendar date of the session
	AnchorPrice  float64
	SessionOpen  time.Time // concrete open on Day
	SessionClose time.Time // concrete close on Day
	GridMinutes  int
	Bounds       *Bounds
}

// Project produces one predicted price per grid tick from session open
// to close inclusive.
//
// The walk is a random one for shape only: volatility is widest just
// after the open, elevated into the close, and calm in between, with a
// small bounded drift. All randomness is seeded from (symbol, day,
// grid), so repeated calls within one trading day return an identical
// trajectory.
func Project(req Request) ([]model.ForecastPoint, error) {
	if req.AnchorPrice <= 0 {
		return nil, errs.New(errs.BadInput, req.Symbol, "anchor price must be positive, got %v", req.AnchorPrice)
	}
	if !validGrids[req.GridMinutes] {
		return nil, errs.New(errs.BadInput, req.Symbol, "grid must be 5, 15 or 30 minutes, got %d", req.GridMinutes)
	}
	if !req.SessionClose.After(req.SessionOpen) {
		return nil, errs.New(errs.BadInput, req.Symbol, "session close must be after open")
	}

	grid := time.Duration(req.GridMinutes) * time.Minute
	steps := int(req.SessionClose.Sub(req.SessionOpen)/grid) + 1

	rng := rand.New(rand.NewSource(seed(req.Symbol, req.Day, req.GridMinutes)))

	// Per-session drift, constant across steps, |drift| <= 0.2%.
	drift := (rng.Float64()*2 - 1) * 0.002

	points := make([]model.ForecastPoint, 0, steps)
	running := req.AnchorPrice
	for i := 0; i < steps; i++ {
		eps := rng.NormFloat64() * sigma(i, steps, req.GridMinutes)
		step := drift + eps
		if step > maxStepReturn {
			step = maxStepReturn
		}
		if step < -maxStepReturn {
			step = -maxStepReturn
		}
		running *= 1 + step
		if req.Bounds != nil {
			if running < req.Bounds.Min {
				running = req.Bounds.Min
			}
			if running > req.Bounds.Max {
				running = req.Bounds.Max
			}
		}

		points = append(points, model.ForecastPoint{
			Symbol:        req.Symbol,
			ForecastTS:    req.SessionOpen.Add(time.Duration(i) * grid),
			Yhat:          running,
			YhatLower:     running * (1 - bandWidth),
			YhatUpper:     running * (1 + bandWidth),
			IntervalWidth: bandWidth,
			ModelTag:      model.ModelIntradayWalk,
		})
	}
	return points, nil
}

// sigma shapes time-of-day volatility: the first two steps after the
// open run at 2.0%, the last two before the close at 1.5%, the interior
// at 1.0%, each scaled by grid/30min.
func sigma(step, steps, gridMinutes int) float64 {
	scale := float64(gridMinutes) / 30.0
	switch {
	case step < 2:
		return 0.020 * scale
	case step >= steps-2:
		return 0.015 * scale
	default:
		return 0.010 * scale
	}
}

// seed derives the deterministic source from (symbol, day, grid).
func seed(symbol string, day time.Time, gridMinutes int) int64 {
	key := fmt.Sprintf("%s|%s|%d", symbol, model.DayKey(day).Format("2006-01-02"), gridMinutes)
	return int64(xxhash.Sum64String(key))
}
