package scanner

import (
	"math"
	"testing"

	"github.com/stockterm/terminalapi/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOHLCV(closes ...float64) *OHLCV {
	candles := make([]models.Candle, len(closes))
	for i, c := range closes {
		candles[i] = models.Candle{Open: c - 1, High: c + 1, Low: c - 2, Close: c, Volume: 1000}
	}
	return NewOHLCV(candles)
}

func evalOn(t *testing.T, data *OHLCV, meta map[string]interface{}, expression string) exprValue {
	t.Helper()
	node, err := parseExpression(expression)
	require.NoError(t, err)
	v, err := evalExpr(node, newOHLCVEnv(data, meta))
	require.NoError(t, err)
	return v
}

func TestExprArithmetic(t *testing.T) {
	data := testOHLCV(10, 20, 30)

	v := evalOn(t, data, nil, "c * 2 + 1")
	s, ok := v.(Series)
	require.True(t, ok)
	assert.Equal(t, Series{21, 41, 61}, s)

	v = evalOn(t, data, nil, "(h - l) / 2")
	s = v.(Series)
	assert.Equal(t, Series{1.5, 1.5, 1.5}, s)
}

func TestExprComparisonYieldsBoolSeries(t *testing.T) {
	data := testOHLCV(10, 20, 30)
	v := evalOn(t, data, nil, "c > 15")
	bs, ok := v.(BoolSeries)
	require.True(t, ok)
	assert.Equal(t, BoolSeries{false, true, true}, bs)
}

func TestExprLogicalOperators(t *testing.T) {
	data := testOHLCV(10, 20, 30)

	bs := evalOn(t, data, nil, "c > 15 & c < 25").(BoolSeries)
	assert.Equal(t, BoolSeries{false, true, false}, bs)

	bs = evalOn(t, data, nil, "c < 15 or c > 25").(BoolSeries)
	assert.Equal(t, BoolSeries{true, false, true}, bs)

	bs = evalOn(t, data, nil, "not (c > 15)").(BoolSeries)
	assert.Equal(t, BoolSeries{true, false, false}, bs)
}

func TestExprIndicatorCalls(t *testing.T) {
	data := testOHLCV(10, 20, 30)

	s := evalOn(t, data, nil, "sma(c, 2)").(Series)
	assert.Equal(t, Series{10, 15, 25}, s)

	s = evalOn(t, data, nil, "prv(c)").(Series)
	assert.True(t, math.IsNaN(s[0]))
	assert.Equal(t, Series{10, 20}, s[1:])

	bs := evalOn(t, data, nil, "c > sma(c, 2)").(BoolSeries)
	assert.Equal(t, BoolSeries{false, true, true}, bs)
}

func TestExprMetadataScalars(t *testing.T) {
	data := testOHLCV(10, 20)
	meta := map[string]interface{}{"mcap": 5e10, "sector": "Energy"}

	b := evalOn(t, data, meta, "mcap > 1e10").(boolValue)
	assert.True(t, bool(b))

	b = evalOn(t, data, meta, "sector == 'Energy'").(boolValue)
	assert.True(t, bool(b))

	b = evalOn(t, data, meta, `sector != "Energy"`).(boolValue)
	assert.False(t, bool(b))
}

func TestExprNullComparisonsAreFalse(t *testing.T) {
	env := newScalarEnv(map[string]interface{}{"mcap": nil})
	node, err := parseExpression("mcap > 10")
	require.NoError(t, err)
	v, err := evalExpr(node, env)
	require.NoError(t, err)
	assert.False(t, bool(v.(boolValue)))
}

func TestExprErrors(t *testing.T) {
	_, err := parseExpression("c >")
	assert.Error(t, err)

	_, err = parseExpression("sma(c, 2")
	assert.Error(t, err)

	node, err := parseExpression("unknown_name + 1")
	require.NoError(t, err)
	_, err = evalExpr(node, newOHLCVEnv(testOHLCV(1), nil))
	assert.Error(t, err)

	node, err = parseExpression("bogus(c, 2)")
	require.NoError(t, err)
	_, err = evalExpr(node, newOHLCVEnv(testOHLCV(1), nil))
	assert.Error(t, err)
}

func TestReduceByPeriod(t *testing.T) {
	s := BoolSeries{false, true, false, false}

	assert.False(t, reduceByPeriod(s, models.PeriodNow, 0))
	assert.True(t, reduceByPeriod(BoolSeries{false, true}, models.PeriodNow, 0))

	assert.True(t, reduceByPeriod(s, models.PeriodXBarAgo, 3))
	assert.False(t, reduceByPeriod(s, models.PeriodXBarAgo, 10))

	assert.True(t, reduceByPeriod(s, models.PeriodWithinLast, 3))
	assert.False(t, reduceByPeriod(s, models.PeriodWithinLast, 2))

	assert.True(t, reduceByPeriod(BoolSeries{false, true, true}, models.PeriodInRow, 2))
	assert.False(t, reduceByPeriod(BoolSeries{true, true}, models.PeriodInRow, 3))
	assert.False(t, reduceByPeriod(BoolSeries{}, models.PeriodNow, 0))
}

func TestIndicators(t *testing.T) {
	s := Series{10, 20, 30, 40}

	assert.Equal(t, Series{10, 15, 25, 35}, SMA(s, 2))
	assert.Equal(t, Series{10, 10, 20, 30}, Min(s, 2))
	assert.Equal(t, Series{10, 20, 30, 40}, Max(s, 2))
	assert.Equal(t, Series{1, 2, 2, 2}, Count(s, 2))

	shifted := Prv(s, 2)
	assert.True(t, math.IsNaN(shifted[0]))
	assert.True(t, math.IsNaN(shifted[1]))
	assert.Equal(t, Series{10, 20}, shifted[2:])

	// EMA with span 2: alpha = 2/3
	ema := EMA(Series{10, 20, 30}, 2)
	assert.InDelta(t, 10, ema[0], 1e-9)
	assert.InDelta(t, 10+2.0/3*(20-10), ema[1], 1e-9)

	ct := CountTrue(BoolSeries{true, false, true, true}, 2)
	assert.Equal(t, Series{1, 1, 1, 2}, ct)

	ch := Change(Series{100, 110, 99}, 1)
	assert.True(t, math.IsNaN(ch[0]))
	assert.InDelta(t, 0.10, ch[1], 1e-9)
	assert.InDelta(t, -0.10, ch[2], 1e-9)

	// Division by zero yields null, not infinity
	ch = Change(Series{0, 10}, 1)
	assert.True(t, math.IsNaN(ch[1]))
}

func TestPercentileRank(t *testing.T) {
	values := []float64{10, 20, 30, 40, 50}
	assert.InDelta(t, 20, percentileRank(values, 10), 1e-9)
	assert.InDelta(t, 100, percentileRank(values, 50), 1e-9)
	assert.InDelta(t, 60, percentileRank(values, 30), 1e-9)
	assert.Zero(t, percentileRank(nil, 10))
}
