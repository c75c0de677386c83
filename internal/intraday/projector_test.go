package intraday

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BourseCast/internal/errs"
)

func sessionRequest(grid int) Request {
	day := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	return Request{
		Symbol:       "IDX",
		Day:          day,
		AnchorPrice:  128000,
		SessionOpen:  time.Date(2026, 8, 28, 9, 30, 0, 0, time.UTC),
		SessionClose: time.Date(2026, 8, 28, 15, 0, 0, 0, time.UTC),
		GridMinutes:  grid,
	}
}

func TestProject_GridShape(t *testing.T) {
	points, err := Project(sessionRequest(15))
	require.NoError(t, err)

	// 09:30-15:00 at 15 minutes is 23 ticks inclusive.
	require.Len(t, points, 23)
	assert.Equal(t, "09:30", points[0].ForecastTS.Format("15:04"))
	assert.Equal(t, "15:00", points[len(points)-1].ForecastTS.Format("15:04"))

	for i := 1; i < len(points); i++ {
		ratio := points[i].Yhat/points[i-1].Yhat - 1
		assert.LessOrEqual(t, math.Abs(ratio), 0.03, "step %d moved too far", i)
	}
	for i, p := range points {
		half := (p.YhatUpper - p.YhatLower) / 2
		assert.InDelta(t, 0.01*p.Yhat, half, 0.001*p.Yhat, "interval half-width off at %d", i)
		assert.True(t, p.YhatLower <= p.Yhat && p.Yhat <= p.YhatUpper)
		assert.Greater(t, p.YhatLower, 0.0)
	}
}

func TestProject_Deterministic(t *testing.T) {
	a, err := Project(sessionRequest(15))
	require.NoError(t, err)
	b, err := Project(sessionRequest(15))
	require.NoError(t, err)

	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].Yhat, b[i].Yhat, "tick %d differs between runs", i)
		assert.Equal(t, a[i].ForecastTS, b[i].ForecastTS)
	}
}

func TestProject_SeedVariesWithInputs(t *testing.T) {
	base, err := Project(sessionRequest(15))
	require.NoError(t, err)

	otherGrid := sessionRequest(5)
	grid5, err := Project(otherGrid)
	require.NoError(t, err)

	otherDay := sessionRequest(15)
	otherDay.Day = otherDay.Day.AddDate(0, 0, 1)
	nextDay, err := Project(otherDay)
	require.NoError(t, err)

	assert.NotEqual(t, base[1].Yhat, grid5[1].Yhat, "different grid must reseed")
	assert.NotEqual(t, base[1].Yhat, nextDay[1].Yhat, "different day must reseed")
}

func TestProject_GridCounts(t *testing.T) {
	tests := []struct {
		grid int
		want int
	}{
		{5, 67},
		{15, 23},
		{30, 12},
	}
	for _, tt := range tests {
		points, err := Project(sessionRequest(tt.grid))
		require.NoError(t, err)
		assert.Len(t, points, tt.want, "grid %d", tt.grid)
	}
}

func TestProject_BoundsClamp(t *testing.T) {
	req := sessionRequest(5)
	req.Bounds = &Bounds{Min: 127000, Max: 129000}
	points, err := Project(req)
	require.NoError(t, err)
	for _, p := range points {
		assert.GreaterOrEqual(t, p.Yhat, 127000.0)
		assert.LessOrEqual(t, p.Yhat, 129000.0)
	}
}

func TestProject_BadInput(t *testing.T) {
	bad := sessionRequest(15)
	bad.AnchorPrice = 0
	_, err := Project(bad)
	assert.True(t, errs.Is(err, errs.BadInput))

	bad = sessionRequest(10)
	_, err = Project(bad)
	assert.True(t, errs.Is(err, errs.BadInput))

	bad = sessionRequest(15)
	bad.SessionClose = bad.SessionOpen
	_, err = Project(bad)
	assert.True(t, errs.Is(err, errs.BadInput))
}
