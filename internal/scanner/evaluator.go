package scanner

import (
	"strconv"

	"github.com/stockterm/terminalapi/internal/models"
	"github.com/stockterm/terminalapi/pkg/utils/zaplogger"
)

// Cache modes distinguishing what a fingerprint memoizes
const (
	modeValue           = "val"
	modeCondition       = "cond"
	modeConditionColumn = "condcol"
	modeStatic          = "static_vectorized"
)

// ExpressionEvaluator evaluates scan expressions against symbol data with
// memoization. Evaluation failures never propagate: value expressions
// degrade to null and condition expressions to false.
type ExpressionEvaluator struct {
	cache *ExpressionCache
}

// NewExpressionEvaluator creates an evaluator with its own cache
func NewExpressionEvaluator(cacheEnabled bool) *ExpressionEvaluator {
	return &ExpressionEvaluator{cache: NewExpressionCache(cacheEnabled)}
}

// Cache exposes the underlying cache for stats and lifecycle control
func (e *ExpressionEvaluator) Cache() *ExpressionCache {
	return e.cache
}

// EvaluateValue evaluates an expression over a symbol's candles and returns
// its last value, or nil on failure.
func (e *ExpressionEvaluator) EvaluateValue(symbol string, data *OHLCV, metadata map[string]interface{}, expression string) interface{} {
	key := Fingerprint(symbol, modeValue, expression)
	if cached, ok := e.cache.Get(key); ok {
		return cached
	}

	var result interface{}
	if v, err := e.eval(expression, newOHLCVEnv(data, metadata)); err != nil {
		zaplogger.Debug("Value expression failed", zaplogger.Fields{"symbol": symbol, "expression": expression, "error": err})
	} else {
		result = lastValue(v)
	}
	e.cache.Set(key, result)
	return result
}

// EvaluateCondition evaluates an expression to a boolean series for period
// reduction. Failures yield an all-false series.
func (e *ExpressionEvaluator) EvaluateCondition(symbol string, data *OHLCV, metadata map[string]interface{}, expression string) BoolSeries {
	key := Fingerprint(symbol, modeCondition, expression)
	if cached, ok := e.cache.Get(key); ok {
		if bs, ok := cached.(BoolSeries); ok {
			return bs
		}
	}

	result := make(BoolSeries, data.Len())
	v, err := e.eval(expression, newOHLCVEnv(data, metadata))
	if err == nil {
		if bs, coerceErr := asBoolSeries(v, data.Len()); coerceErr == nil {
			result = bs
		} else {
			err = coerceErr
		}
	}
	if err != nil {
		zaplogger.Debug("Condition expression failed", zaplogger.Fields{"symbol": symbol, "expression": expression, "error": err})
	}
	e.cache.Set(key, result)
	return result
}

// EvaluateConditionColumn evaluates nested conditions for a condition
// column and combines them under the column's logic.
func (e *ExpressionEvaluator) EvaluateConditionColumn(symbol string, data *OHLCV, metadata map[string]interface{}, conditions []models.Condition, logic string) bool {
	key := Fingerprint(symbol, modeConditionColumn, conditionsFingerprint(conditions, logic))
	if cached, ok := e.cache.Get(key); ok {
		if b, ok := cached.(bool); ok {
			return b
		}
	}

	results := make([]bool, 0, len(conditions))
	for _, cond := range conditions {
		series := e.EvaluateCondition(symbol, data, metadata, cond.Expression)
		results = append(results, reduceByPeriod(series, cond.EvaluationPeriod, condValue(cond)))
	}
	result := combineBools(results, logic)
	e.cache.Set(key, result)
	return result
}

// EvaluateStatic evaluates a static expression against a symbol's metadata
// scalars. Failures and unknown identifiers yield false.
func (e *ExpressionEvaluator) EvaluateStatic(symbol string, metadata map[string]interface{}, expression string) bool {
	key := Fingerprint(symbol, modeStatic, expression)
	if cached, ok := e.cache.Get(key); ok {
		if b, ok := cached.(bool); ok {
			return b
		}
	}

	result := false
	if v, err := e.eval(expression, newScalarEnv(metadata)); err != nil {
		zaplogger.Debug("Static expression failed", zaplogger.Fields{"symbol": symbol, "expression": expression, "error": err})
	} else if b, err := asBool(v); err == nil {
		result = b
	}
	e.cache.Set(key, result)
	return result
}

func (e *ExpressionEvaluator) eval(expression string, env *exprEnv) (exprValue, error) {
	node, err := parseExpression(expression)
	if err != nil {
		return nil, err
	}
	return evalExpr(node, env)
}

func condValue(c models.Condition) int {
	if c.Value == nil {
		return 0
	}
	return *c.Value
}

func combineBools(results []bool, logic string) bool {
	if len(results) == 0 {
		return true
	}
	if logic == models.LogicOr {
		for _, r := range results {
			if r {
				return true
			}
		}
		return false
	}
	for _, r := range results {
		if !r {
			return false
		}
	}
	return true
}

// conditionsFingerprint builds a stable string for a condition tuple so a
// condition column can be cached as one unit.
func conditionsFingerprint(conditions []models.Condition, logic string) string {
	s := logic
	for _, c := range conditions {
		s += "|" + c.Expression + ";" + c.EvaluationPeriod
		if c.Value != nil {
			s += ";" + strconv.Itoa(*c.Value)
		}
	}
	return s
}
