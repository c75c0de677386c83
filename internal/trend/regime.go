package trend

import (
	"math"

	"BourseCast/internal/model"
)

// regimeWindow is the number of recent bars classified.
const regimeWindow = 30

// DetectRegime classifies the recent window from the R^2 of a linear
// trend fit and the coefficient of variation. Advisory only.
func DetectRegime(bars []model.Bar) model.Regime {
	clean := cleanSeries(bars)
	if len(clean) > regimeWindow {
		clean = clean[len(clean)-regimeWindow:]
	}
	if len(clean) < 3 {
		return model.RegimeSideways
	}

	y := closes(clean)
	slope, _, r2 := linearFit(y)
	mean := meanOf(y)
	if mean <= 0 {
		return model.RegimeSideways
	}

	// Total relative move implied by the fitted line over the window.
	trendMove := slope * float64(len(y)-1) / mean

	var ss float64
	for _, v := range y {
		ss += (v - mean) * (v - mean)
	}
	cv := math.Sqrt(ss/float64(len(y))) / mean

	switch {
	case r2 >= 0.6 && trendMove >= 0.05:
		return model.RegimeStrongUptrend
	case r2 >= 0.6 && trendMove <= -0.05:
		return model.RegimeStrongDowntrend
	case r2 >= 0.3 && trendMove >= 0.02:
		return model.RegimeModerateUptrend
	case r2 >= 0.3 && trendMove <= -0.02:
		return model.RegimeModerateDown
	case cv >= 0.04:
		return model.RegimeHighVolatility
	default:
		return model.RegimeSideways
	}
}
