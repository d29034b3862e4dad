package scanner

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/stockterm/terminalapi/internal/models"
	"github.com/stockterm/terminalapi/pkg/utils/zaplogger"
)

// Engine runs two-phase technical scans: static conditions filter the
// universe on metadata, computed conditions evaluate each survivor's candle
// history. Candle data is held in memory and swapped atomically on refresh.
type Engine struct {
	candleProvider   CandleProvider
	metadataProvider MetadataProvider
	evaluator        *ExpressionEvaluator

	mu         sync.RWMutex
	symbolData map[string]*OHLCV
}

// NewEngine creates an engine and loads the candle snapshot
func NewEngine(candleProvider CandleProvider, metadataProvider MetadataProvider, cacheEnabled bool) (*Engine, error) {
	e := &Engine{
		candleProvider:   candleProvider,
		metadataProvider: metadataProvider,
		evaluator:        NewExpressionEvaluator(cacheEnabled),
	}
	if err := e.reload(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) reload() error {
	candles, err := e.candleProvider.LoadData()
	if err != nil {
		return fmt.Errorf("failed to load candle data: %w", err)
	}
	data := make(map[string]*OHLCV, len(candles))
	for symbol, history := range candles {
		data[symbol] = NewOHLCV(history)
	}
	e.mu.Lock()
	e.symbolData = data
	e.mu.Unlock()
	zaplogger.Info("Scanner data loaded", zaplogger.Fields{"symbols": len(data)})
	return nil
}

// Refresh re-downloads candles and metadata and clears the expression cache
func (e *Engine) Refresh(ctx context.Context) error {
	if err := e.metadataProvider.Refresh(ctx); err != nil {
		return err
	}
	if err := e.candleProvider.Refresh(ctx); err != nil {
		return err
	}
	if err := e.reload(); err != nil {
		return err
	}
	e.evaluator.Cache().Clear()
	return nil
}

// CacheStats reports expression cache performance plus data shape
func (e *Engine) CacheStats() map[string]interface{} {
	stats := e.evaluator.Cache().Stats()
	e.mu.RLock()
	loaded := len(e.symbolData)
	e.mu.RUnlock()
	return map[string]interface{}{
		"cache_enabled":      stats.Enabled,
		"cache_hits":         stats.Hits,
		"cache_misses":       stats.Misses,
		"hit_rate_percent":   stats.HitRatePercent,
		"cached_expressions": stats.Entries,
		"loaded_symbols":     loaded,
	}
}

// Scan executes a normalized scan request
func (e *Engine) Scan(req *models.ScanRequest) (*models.ScanResponse, error) {
	e.mu.RLock()
	symbolData := e.symbolData
	e.mu.RUnlock()

	header := []string{"symbol"}
	for _, c := range req.Columns {
		header = append(header, c.Name)
	}
	empty := &models.ScanResponse{Columns: header, Data: [][]interface{}{}}

	if len(symbolData) == 0 {
		return empty, nil
	}

	universe := make([]string, 0, len(symbolData))
	for symbol := range symbolData {
		universe = append(universe, symbol)
	}
	sort.Strings(universe)

	metaTable, err := e.metadataProvider.MetadataTable(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load metadata: %w", err)
	}

	// Pre-conditions restrict the universe the main scan sees
	if len(req.PreConditions) > 0 {
		universe = e.runScan(symbolData, metaTable, universe, req.PreConditions, req.PreConditionLogic)
		zaplogger.Info("Pre-conditions applied", zaplogger.Fields{"remaining": len(universe)})
		if len(universe) == 0 {
			return empty, nil
		}
	}

	selected := e.runScan(symbolData, metaTable, universe, req.Conditions, req.Logic)
	if len(selected) == 0 {
		return empty, nil
	}

	rows := e.evaluateColumns(symbolData, metaTable, selected, req.Columns)
	rows = dropAllNullRows(rows, req.Columns)
	if len(rows) == 0 {
		return empty, nil
	}

	rows = sortRows(rows, req.Columns, req.SortColumns)

	data := make([][]interface{}, 0, len(rows))
	for _, row := range rows {
		out := make([]interface{}, 0, len(header))
		for _, name := range header {
			out = append(out, row[name])
		}
		data = append(data, out)
	}
	return &models.ScanResponse{
		Count:   len(data),
		Columns: header,
		Data:    data,
		Success: true,
	}, nil
}

// runScan applies one condition set over the universe: phase 1 filters on
// static conditions, phase 2 evaluates computed and rank conditions against
// candle data.
func (e *Engine) runScan(
	symbolData map[string]*OHLCV,
	metaTable map[string]map[string]interface{},
	universe []string,
	conditions []models.Condition,
	logic string,
) []string {
	var static, boolean, rank []models.Condition
	for _, c := range conditions {
		switch {
		case c.ConditionType == models.ConditionStatic:
			static = append(static, c)
		case c.EvaluationType == models.EvaluationRank:
			rank = append(rank, c)
		default:
			boolean = append(boolean, c)
		}
	}

	phase1 := universe
	if len(static) > 0 {
		phase1 = phase1[:0:0]
		for _, symbol := range universe {
			results := make([]bool, 0, len(static))
			for _, c := range static {
				results = append(results, e.evaluator.EvaluateStatic(symbol, metaTable[symbol], c.Expression))
			}
			if combineBools(results, logic) {
				phase1 = append(phase1, symbol)
			}
		}
	}
	zaplogger.Info("Phase 1 (static) completed", zaplogger.Fields{"passed": len(phase1), "universe": len(universe)})
	if len(phase1) == 0 || (len(boolean) == 0 && len(rank) == 0) {
		return phase1
	}

	// Rank conditions score the whole phase-1 set before per-symbol checks
	rankPass := make([]map[string]bool, len(rank))
	for i, c := range rank {
		rankPass[i] = e.evaluateRankCondition(symbolData, metaTable, phase1, c)
	}

	selected := make([]string, 0, len(phase1))
	for _, symbol := range phase1 {
		results := make([]bool, 0, len(boolean)+len(rank))
		data, hasData := symbolData[symbol]
		for _, c := range boolean {
			if !hasData {
				results = append(results, false)
				continue
			}
			series := e.evaluator.EvaluateCondition(symbol, data, metaTable[symbol], c.Expression)
			results = append(results, reduceByPeriod(series, c.EvaluationPeriod, condValue(c)))
		}
		for i := range rank {
			results = append(results, rankPass[i][symbol])
		}
		if combineBools(results, logic) {
			selected = append(selected, symbol)
		}
	}
	zaplogger.Info("Phase 2 (computed) completed", zaplogger.Fields{"passed": len(selected), "candidates": len(phase1)})
	return selected
}

// evaluateRankCondition percentile-ranks the expression's last value across
// the candidate set; a symbol passes when its rank lies in
// [rank_min, rank_max].
func (e *Engine) evaluateRankCondition(
	symbolData map[string]*OHLCV,
	metaTable map[string]map[string]interface{},
	symbols []string,
	cond models.Condition,
) map[string]bool {
	values := make(map[string]float64, len(symbols))
	all := make([]float64, 0, len(symbols))
	for _, symbol := range symbols {
		data, ok := symbolData[symbol]
		if !ok {
			continue
		}
		v := e.evaluator.EvaluateValue(symbol, data, metaTable[symbol], cond.Expression)
		f, ok := v.(float64)
		if !ok {
			continue
		}
		values[symbol] = f
		all = append(all, f)
	}

	pass := make(map[string]bool, len(symbols))
	for symbol, v := range values {
		r := percentileRank(all, v)
		pass[symbol] = r >= float64(*cond.RankMin) && r <= float64(*cond.RankMax)
	}
	return pass
}

// evaluateColumns builds one output row per surviving symbol
func (e *Engine) evaluateColumns(
	symbolData map[string]*OHLCV,
	metaTable map[string]map[string]interface{},
	symbols []string,
	columns []models.ColumnDef,
) []map[string]interface{} {
	rows := make([]map[string]interface{}, 0, len(symbols))
	for _, symbol := range symbols {
		row := map[string]interface{}{"symbol": symbol}
		meta := metaTable[symbol]
		data, hasData := symbolData[symbol]

		for _, col := range columns {
			switch col.Type {
			case "static":
				if meta != nil {
					row[col.Name] = meta[col.PropertyName]
				} else {
					row[col.Name] = nil
				}
			case "computed":
				if hasData {
					row[col.Name] = e.evaluator.EvaluateValue(symbol, data, meta, col.Expression)
				} else {
					row[col.Name] = nil
				}
			case "condition":
				if hasData {
					row[col.Name] = e.evaluator.EvaluateConditionColumn(symbol, data, meta, col.Conditions, col.Logic)
				} else {
					row[col.Name] = false
				}
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// dropAllNullRows removes rows whose computed and condition columns are all
// null. Static-only result sets are kept as is.
func dropAllNullRows(rows []map[string]interface{}, columns []models.ColumnDef) []map[string]interface{} {
	var nonStatic []string
	for _, c := range columns {
		if c.Type == "computed" || c.Type == "condition" {
			nonStatic = append(nonStatic, c.Name)
		}
	}
	if len(nonStatic) == 0 {
		return rows
	}
	kept := rows[:0]
	for _, row := range rows {
		allNull := true
		for _, name := range nonStatic {
			if row[name] != nil {
				allNull = false
				break
			}
		}
		if !allNull {
			kept = append(kept, row)
		}
	}
	return kept
}

type sortKey struct {
	name string
	asc  bool
}

// sortRows performs a stable multi-key sort. Sort columns reference column
// ids; unknown ids are dropped, and rows with a null in any sort column are
// excluded from the result.
func sortRows(rows []map[string]interface{}, columns []models.ColumnDef, sortColumns []models.SortColumn) []map[string]interface{} {
	if len(sortColumns) == 0 {
		return rows
	}
	idToName := map[string]string{"symbol": "symbol"}
	for _, c := range columns {
		idToName[c.ID] = c.Name
	}

	keys := make([]sortKey, 0, len(sortColumns))
	for _, sc := range sortColumns {
		name, ok := idToName[sc.Column]
		if !ok {
			zaplogger.Warn("Unknown sort column", zaplogger.Fields{"column": sc.Column})
			continue
		}
		keys = append(keys, sortKey{name: name, asc: sc.Direction != "desc"})
	}
	if len(keys) == 0 {
		return rows
	}

	kept := rows[:0]
	for _, row := range rows {
		if !hasNullKey(row, keys) {
			kept = append(kept, row)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		for _, k := range keys {
			c := compareValues(kept[i][k.name], kept[j][k.name])
			if c == 0 {
				continue
			}
			if k.asc {
				return c < 0
			}
			return c > 0
		}
		return false
	})
	return kept
}

func hasNullKey(row map[string]interface{}, keys []sortKey) bool {
	for _, k := range keys {
		if row[k.name] == nil {
			return true
		}
	}
	return false
}

// compareValues orders scan cell values: numbers before anything else,
// then strings, then booleans (false < true).
func compareValues(a, b interface{}) int {
	af, aNum := a.(float64)
	bf, bNum := b.(float64)
	if aNum && bNum {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		}
		return 0
	}
	ab, aBool := a.(bool)
	bb, bBool := b.(bool)
	if aBool && bBool {
		switch {
		case !ab && bb:
			return -1
		case ab && !bb:
			return 1
		}
		return 0
	}
	return 0
}
