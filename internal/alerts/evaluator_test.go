package alerts

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stockterm/terminalapi/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constantAlert(t *testing.T, operator string, value float64) models.AlertModel {
	t.Helper()
	attr, err := json.Marshal(models.RhsAttr{Constant: &value})
	require.NoError(t, err)
	return models.AlertModel{
		ID:       "a1",
		Symbol:   "NSE:RELIANCE",
		IsActive: true,
		Type:     "simple",
		LhsType:  "last_price",
		Operator: operator,
		RhsType:  models.RhsTypeConstant,
		RhsAttr:  attr,
	}
}

func trendlineAlert(t *testing.T, operator string, points []models.TrendlinePoint) models.AlertModel {
	t.Helper()
	attr, err := json.Marshal(models.RhsAttr{TrendLine: points})
	require.NoError(t, err)
	a := constantAlert(t, operator, 0)
	a.RhsType = models.RhsTypeTrendLine
	a.RhsAttr = attr
	return a
}

func tick(price float64, at time.Time) models.ChangeUpdate {
	return models.ChangeUpdate{Symbol: "NSE:RELIANCE", Ltp: price, Ltq: 1, Ltt: at}
}

func TestEvaluateConstantOperators(t *testing.T) {
	now := time.Now()
	cases := []struct {
		operator string
		ltp      float64
		want     bool
	}{
		{models.OperatorGT, 101, true},
		{models.OperatorGT, 100, false},
		{models.OperatorGTE, 100, true},
		{models.OperatorLT, 99, true},
		{models.OperatorLT, 100, false},
		{models.OperatorLTE, 100, true},
		{models.OperatorEQ, 100, true},
		{models.OperatorEQ, 100.5, false},
		{models.OperatorNEQ, 100.5, true},
		{models.OperatorNEQ, 100, false},
	}
	for _, c := range cases {
		alert := constantAlert(t, c.operator, 100)
		got := Evaluate(&alert, tick(c.ltp, now))
		assert.Equalf(t, c.want, got, "ltp %v %s 100", c.ltp, c.operator)
	}
}

func TestEvaluateUnknownsAreFalse(t *testing.T) {
	now := time.Now()

	alert := constantAlert(t, ">", 100)
	alert.LhsType = "volume"
	assert.False(t, Evaluate(&alert, tick(200, now)))

	alert = constantAlert(t, "between", 100)
	assert.False(t, Evaluate(&alert, tick(200, now)))

	alert = constantAlert(t, ">", 100)
	alert.RhsType = "channel"
	assert.False(t, Evaluate(&alert, tick(200, now)))

	alert = constantAlert(t, ">", 100)
	alert.RhsAttr = json.RawMessage(`{"trend_line": []}`)
	assert.False(t, Evaluate(&alert, tick(200, now)))
}

func TestInterpolateTrendline(t *testing.T) {
	t0 := time.Date(2026, 8, 24, 9, 15, 0, 0, time.UTC)
	t1 := t0.Add(100 * time.Second)
	p0 := models.TrendlinePoint{Timestamp: t0, Price: 100}
	p1 := models.TrendlinePoint{Timestamp: t1, Price: 200}

	assert.InDelta(t, 100, interpolateTrendline(p0, p1, t0), 1e-9)
	assert.InDelta(t, 200, interpolateTrendline(p0, p1, t1), 1e-9)
	assert.InDelta(t, 150, interpolateTrendline(p0, p1, t0.Add(50*time.Second)), 1e-9)

	// Point order must not matter
	assert.InDelta(t, 150, interpolateTrendline(p1, p0, t0.Add(50*time.Second)), 1e-9)

	// The line extends beyond both anchors
	assert.InDelta(t, 250, interpolateTrendline(p0, p1, t1.Add(50*time.Second)), 1e-9)
	assert.InDelta(t, 50, interpolateTrendline(p0, p1, t0.Add(-50*time.Second)), 1e-9)

	// Degenerate vertical line falls back to the newer anchor
	same := models.TrendlinePoint{Timestamp: t0, Price: 300}
	assert.InDelta(t, 300, interpolateTrendline(p0, same, t1), 1e-9)
}

func TestEvaluateTrendlineCrossing(t *testing.T) {
	t0 := time.Date(2026, 8, 24, 9, 15, 0, 0, time.UTC)
	points := []models.TrendlinePoint{
		{Timestamp: t0, Price: 100},
		{Timestamp: t0.Add(100 * time.Second), Price: 200},
	}
	alert := trendlineAlert(t, models.OperatorGT, points)

	// Line is at 150 halfway through
	at := t0.Add(50 * time.Second)
	assert.False(t, Evaluate(&alert, tick(149, at)))
	assert.True(t, Evaluate(&alert, tick(151, at)))
}
