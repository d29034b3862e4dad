package scanner

import (
	"context"
	"testing"

	"github.com/stockterm/terminalapi/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCandleProvider struct {
	data map[string][]models.Candle
}

func (p *memCandleProvider) LoadData() (map[string][]models.Candle, error) { return p.data, nil }
func (p *memCandleProvider) Refresh(ctx context.Context) error            { return nil }

type memMetadataProvider struct {
	table map[string]map[string]interface{}
}

func (p *memMetadataProvider) MetadataTable(symbols []string) (map[string]map[string]interface{}, error) {
	return p.table, nil
}
func (p *memMetadataProvider) Refresh(ctx context.Context) error { return nil }

// candlesRising builds a history whose closes end at last, rising by one
// per bar.
func candlesRising(bars int, last float64) []models.Candle {
	out := make([]models.Candle, bars)
	for i := range out {
		c := last - float64(bars-1-i)
		out[i] = models.Candle{Open: c, High: c, Low: c, Close: c, Volume: 100}
	}
	return out
}

// candlesFalling builds a history whose closes end at last, falling by one
// per bar.
func candlesFalling(bars int, last float64) []models.Candle {
	out := make([]models.Candle, bars)
	for i := range out {
		c := last + float64(bars-1-i)
		out[i] = models.Candle{Open: c, High: c, Low: c, Close: c, Volume: 100}
	}
	return out
}

func newTestEngine(t *testing.T, cacheEnabled bool) *Engine {
	t.Helper()
	candles := map[string][]models.Candle{
		"NSE:BIG1":   candlesRising(60, 100),   // rising, large cap
		"NSE:BIG2":   candlesRising(60, 200),   // rising, large cap
		"NSE:BIG3":   candlesFalling(60, 300),  // falling, large cap
		"NSE:SMALL1": candlesRising(60, 50),    // rising, small cap
		"NSE:SHORT":  candlesRising(5, 400),    // rising, large cap, short history
	}
	meta := map[string]map[string]interface{}{
		"NSE:BIG1":   {"mcap": 5e10, "name": "Big One", "sector": "Energy"},
		"NSE:BIG2":   {"mcap": 8e10, "name": "Big Two", "sector": "Tech"},
		"NSE:BIG3":   {"mcap": 9e10, "name": "Big Three", "sector": "Tech"},
		"NSE:SMALL1": {"mcap": 1e9, "name": "Small One", "sector": "Energy"},
		"NSE:SHORT":  {"mcap": 7e10, "name": "Shorty", "sector": "Tech"},
	}
	engine, err := NewEngine(&memCandleProvider{data: candles}, &memMetadataProvider{table: meta}, cacheEnabled)
	require.NoError(t, err)
	return engine
}

func scanRequest() *models.ScanRequest {
	return &models.ScanRequest{
		Conditions: []models.Condition{
			{Expression: "mcap > 1e10", ConditionType: models.ConditionStatic},
			{Expression: "c > sma(c, 50)", ConditionType: models.ConditionComputed, EvaluationPeriod: models.PeriodNow},
		},
		Columns: []models.ColumnDef{
			{ID: "name", Name: "name", Type: "static", PropertyName: "name"},
			{ID: "last", Name: "last", Type: "computed", Expression: "c"},
		},
		SortColumns: []models.SortColumn{
			{Column: "last", Direction: "desc"},
			{Column: "symbol", Direction: "asc"},
		},
	}
}

func TestScanTwoPhase(t *testing.T) {
	engine := newTestEngine(t, true)
	req := scanRequest()
	require.NoError(t, req.Normalize())

	resp, err := engine.Scan(req)
	require.NoError(t, err)

	// Static filter cuts SMALL1; computed filter cuts the falling BIG3.
	// SHORT still rises (sma over available bars), so it survives.
	assert.True(t, resp.Success)
	assert.Equal(t, []string{"symbol", "name", "last"}, resp.Columns)
	require.Equal(t, 3, resp.Count)

	symbols := make([]string, 0, len(resp.Data))
	lasts := make([]float64, 0, len(resp.Data))
	for _, row := range resp.Data {
		symbols = append(symbols, row[0].(string))
		lasts = append(lasts, row[2].(float64))
	}
	assert.Equal(t, []string{"NSE:SHORT", "NSE:BIG2", "NSE:BIG1"}, symbols)
	for i := 1; i < len(lasts); i++ {
		assert.GreaterOrEqual(t, lasts[i-1], lasts[i])
	}
}

func TestScanDeterminismAndCacheAgreement(t *testing.T) {
	req := scanRequest()
	require.NoError(t, req.Normalize())

	cached := newTestEngine(t, true)
	uncached := newTestEngine(t, false)

	first, err := cached.Scan(req)
	require.NoError(t, err)
	second, err := cached.Scan(req)
	require.NoError(t, err)
	cold, err := uncached.Scan(req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, first, cold)

	stats := cached.CacheStats()
	assert.Greater(t, stats["cache_hits"].(int), 0)
	assert.False(t, uncached.CacheStats()["cache_enabled"].(bool))
}

func TestScanRankCondition(t *testing.T) {
	engine := newTestEngine(t, true)
	min, max := 50, 100
	req := &models.ScanRequest{
		Conditions: []models.Condition{
			{
				Expression:       "c",
				ConditionType:    models.ConditionComputed,
				EvaluationType:   models.EvaluationRank,
				EvaluationPeriod: models.PeriodNow,
				RankMin:          &min,
				RankMax:          &max,
			},
		},
		Columns: []models.ColumnDef{
			{ID: "last", Name: "last", Type: "computed", Expression: "c"},
		},
		SortColumns: []models.SortColumn{{Column: "last", Direction: "asc"}},
	}
	require.NoError(t, req.Normalize())

	resp, err := engine.Scan(req)
	require.NoError(t, err)

	// Last closes are 50,100,200,300,400; the top half by percentile
	// keeps the three highest.
	require.Equal(t, 3, resp.Count)
	assert.Equal(t, 200.0, resp.Data[0][1])
	assert.Equal(t, 400.0, resp.Data[2][1])
}

func TestScanPreConditionsRestrictUniverse(t *testing.T) {
	engine := newTestEngine(t, true)
	req := &models.ScanRequest{
		PreConditions: []models.Condition{
			{Expression: "sector == 'Tech'", ConditionType: models.ConditionStatic},
		},
		Conditions: []models.Condition{
			{Expression: "c > 0", ConditionType: models.ConditionComputed, EvaluationPeriod: models.PeriodNow},
		},
		Columns: []models.ColumnDef{
			{ID: "name", Name: "name", Type: "static", PropertyName: "name"},
		},
		SortColumns: []models.SortColumn{{Column: "symbol", Direction: "asc"}},
	}
	require.NoError(t, req.Normalize())

	resp, err := engine.Scan(req)
	require.NoError(t, err)
	require.Equal(t, 3, resp.Count)
	assert.Equal(t, "NSE:BIG2", resp.Data[0][0])
	assert.Equal(t, "NSE:BIG3", resp.Data[1][0])
	assert.Equal(t, "NSE:SHORT", resp.Data[2][0])
}

func TestScanConditionColumn(t *testing.T) {
	engine := newTestEngine(t, true)
	req := &models.ScanRequest{
		Columns: []models.ColumnDef{
			{
				ID:   "rising",
				Name: "rising",
				Type: "condition",
				Conditions: []models.Condition{
					{Expression: "c > prv(c)", ConditionType: models.ConditionComputed, EvaluationPeriod: models.PeriodNow},
				},
			},
		},
		SortColumns: []models.SortColumn{{Column: "symbol", Direction: "asc"}},
	}
	require.NoError(t, req.Normalize())

	resp, err := engine.Scan(req)
	require.NoError(t, err)
	require.Equal(t, 5, resp.Count)

	byName := map[string]bool{}
	for _, row := range resp.Data {
		byName[row[0].(string)] = row[1].(bool)
	}
	assert.True(t, byName["NSE:BIG1"])
	assert.False(t, byName["NSE:BIG3"])
}

func TestScanFailedExpressionsDegrade(t *testing.T) {
	engine := newTestEngine(t, true)
	req := &models.ScanRequest{
		Conditions: []models.Condition{
			{Expression: "nonsense_column > 1", ConditionType: models.ConditionComputed, EvaluationPeriod: models.PeriodNow},
		},
		Columns: []models.ColumnDef{
			{ID: "name", Name: "name", Type: "static", PropertyName: "name"},
		},
	}
	require.NoError(t, req.Normalize())

	resp, err := engine.Scan(req)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Empty(t, resp.Data)
}

func TestSortRowsDropsNullKeyRows(t *testing.T) {
	columns := []models.ColumnDef{
		{ID: "rs", Name: "rs", Type: "computed", Expression: "c / sma(c, 50)"},
	}
	rows := []map[string]interface{}{
		{"symbol": "NSE:A", "rs": 2.0},
		{"symbol": "NSE:B", "rs": nil},
		{"symbol": "NSE:C", "rs": 1.0},
	}

	sorted := sortRows(rows, columns, []models.SortColumn{{Column: "rs", Direction: "desc"}})

	// The row with a null sort key is removed, not ordered last.
	require.Len(t, sorted, 2)
	assert.Equal(t, "NSE:A", sorted[0]["symbol"])
	assert.Equal(t, "NSE:C", sorted[1]["symbol"])
}

func TestFingerprintShape(t *testing.T) {
	fp := Fingerprint("NSE:TCS", modeValue, "c > sma(c, 50)")
	assert.Contains(t, fp, "NSE:TCS_val_")
	assert.NotEqual(t, fp, Fingerprint("NSE:TCS", modeCondition, "c > sma(c, 50)"))
	assert.NotEqual(t, fp, Fingerprint("NSE:TCS", modeValue, "c > sma(c, 20)"))
}
