package model

import "time"

// HorizonKind selects the dispatch path in the orchestrator.
type HorizonKind string

const (
	HorizonIntraday   HorizonKind = "intraday"
	HorizonNextDay    HorizonKind = "next_day"
	HorizonMultiDay   HorizonKind = "multi_day"
	HorizonCustomDate HorizonKind = "custom_date"
)

// Model tags recorded with each forecast.
const (
	ModelIntradayWalk  = "intraday_walk"
	ModelAdditiveTrend = "additive_trend"
	ModelMovingAverage = "moving_average"
	ModelLinearTrend   = "linear_trend"
	ModelHistorical    = "historical"
)

// ForecastPoint is one predicted value with its prediction interval.
type ForecastPoint struct {
	Symbol        string
	ForecastTS    time.Time
	Yhat          float64
	YhatLower     float64
	YhatUpper     float64
	IntervalWidth float64
	ModelTag      string
}

// ForecastRecord bundles one run's metadata with its emitted points.
// Points are sorted ascending by ForecastTS.
type ForecastRecord struct {
	ID           string
	Symbol       string
	CreatedAt    time.Time
	HorizonKind  HorizonKind
	ModelTag     string
	ParamsDigest string
	Points       []ForecastPoint
}

// Regime labels classifying recent price dynamics. Advisory only.
type Regime string

const (
	RegimeStrongUptrend   Regime = "Strong Uptrend"
	RegimeStrongDowntrend Regime = "Strong Downtrend"
	RegimeModerateUptrend Regime = "Moderate Uptrend"
	RegimeModerateDown    Regime = "Moderate Downtrend"
	RegimeHighVolatility  Regime = "High Volatility"
	RegimeSideways        Regime = "Sideways"
)
