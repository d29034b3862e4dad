package scanner

import (
	"fmt"
	"math"
)

// exprValue is a runtime value of the expression language: a scalar number,
// string or boolean, or a vector aligned to the candle history.
type exprValue interface{ exprValue() }

type numValue float64
type strValue string
type boolValue bool

func (numValue) exprValue()  {}
func (strValue) exprValue()  {}
func (boolValue) exprValue() {}
func (Series) exprValue()    {}
func (BoolSeries) exprValue() {}

// exprEnv binds identifiers for one evaluation: the OHLCV short names,
// optional metadata scalars, and the indicator functions.
type exprEnv struct {
	vars map[string]exprValue
}

func newOHLCVEnv(data *OHLCV, metadata map[string]interface{}) *exprEnv {
	env := &exprEnv{vars: make(map[string]exprValue, 6+len(metadata))}
	env.vars["c"] = data.Close
	env.vars["o"] = data.Open
	env.vars["h"] = data.High
	env.vars["l"] = data.Low
	env.vars["v"] = data.Volume
	env.vars["i"] = data.Index
	for k, v := range metadata {
		if val, ok := scalarValue(v); ok {
			env.vars[k] = val
		}
	}
	return env
}

func newScalarEnv(metadata map[string]interface{}) *exprEnv {
	env := &exprEnv{vars: make(map[string]exprValue, len(metadata))}
	for k, v := range metadata {
		if val, ok := scalarValue(v); ok {
			env.vars[k] = val
		}
	}
	return env
}

func scalarValue(v interface{}) (exprValue, bool) {
	switch t := v.(type) {
	case nil:
		return numValue(math.NaN()), true
	case float64:
		return numValue(t), true
	case float32:
		return numValue(t), true
	case int:
		return numValue(t), true
	case int64:
		return numValue(t), true
	case *float64:
		if t == nil {
			return numValue(math.NaN()), true
		}
		return numValue(*t), true
	case string:
		return strValue(t), true
	case *string:
		if t == nil {
			return strValue(""), true
		}
		return strValue(*t), true
	case bool:
		return boolValue(t), true
	}
	return nil, false
}

// evalExpr walks the AST against the environment
func evalExpr(node exprNode, env *exprEnv) (exprValue, error) {
	switch n := node.(type) {
	case numberLit:
		return numValue(n), nil
	case stringLit:
		return strValue(n), nil
	case boolLit:
		return boolValue(n), nil
	case identExpr:
		v, ok := env.vars[string(n)]
		if !ok {
			return nil, fmt.Errorf("unknown identifier %q", string(n))
		}
		return v, nil
	case unaryExpr:
		return evalUnary(n, env)
	case binaryExpr:
		return evalBinary(n, env)
	case callExpr:
		return evalCall(n, env)
	}
	return nil, fmt.Errorf("unsupported expression node %T", node)
}

func evalUnary(n unaryExpr, env *exprEnv) (exprValue, error) {
	x, err := evalExpr(n.x, env)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "-":
		switch v := x.(type) {
		case numValue:
			return -v, nil
		case Series:
			out := make(Series, len(v))
			for i, f := range v {
				out[i] = -f
			}
			return out, nil
		}
		return nil, fmt.Errorf("cannot negate %T", x)
	case "not":
		switch v := x.(type) {
		case boolValue:
			return !v, nil
		case BoolSeries:
			out := make(BoolSeries, len(v))
			for i, b := range v {
				out[i] = !b
			}
			return out, nil
		}
		return nil, fmt.Errorf("cannot apply not to %T", x)
	}
	return nil, fmt.Errorf("unknown unary operator %q", n.op)
}

func evalBinary(n binaryExpr, env *exprEnv) (exprValue, error) {
	x, err := evalExpr(n.x, env)
	if err != nil {
		return nil, err
	}
	y, err := evalExpr(n.y, env)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "+", "-", "*", "/", "%":
		return evalArith(n.op, x, y)
	case ">", ">=", "<", "<=", "==", "!=":
		return evalCompare(n.op, x, y)
	case "and", "or":
		return evalLogical(n.op, x, y)
	}
	return nil, fmt.Errorf("unknown operator %q", n.op)
}

func applyArith(op string, a, b float64) float64 {
	if isNull(a) || isNull(b) {
		return math.NaN()
	}
	var r float64
	switch op {
	case "+":
		r = a + b
	case "-":
		r = a - b
	case "*":
		r = a * b
	case "/":
		if b == 0 {
			return math.NaN()
		}
		r = a / b
	case "%":
		if b == 0 {
			return math.NaN()
		}
		r = math.Mod(a, b)
	}
	if math.IsInf(r, 0) {
		return math.NaN()
	}
	return r
}

func evalArith(op string, x, y exprValue) (exprValue, error) {
	xs, xIsSeries := x.(Series)
	ys, yIsSeries := y.(Series)
	xn, xIsNum := x.(numValue)
	yn, yIsNum := y.(numValue)

	switch {
	case xIsNum && yIsNum:
		r := applyArith(op, float64(xn), float64(yn))
		return numValue(r), nil
	case xIsSeries && yIsSeries:
		if len(xs) != len(ys) {
			return nil, fmt.Errorf("series length mismatch: %d vs %d", len(xs), len(ys))
		}
		out := make(Series, len(xs))
		for i := range xs {
			out[i] = applyArith(op, xs[i], ys[i])
		}
		return out, nil
	case xIsSeries && yIsNum:
		out := make(Series, len(xs))
		for i := range xs {
			out[i] = applyArith(op, xs[i], float64(yn))
		}
		return out, nil
	case xIsNum && yIsSeries:
		out := make(Series, len(ys))
		for i := range ys {
			out[i] = applyArith(op, float64(xn), ys[i])
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot apply %q to %T and %T", op, x, y)
}

func applyCompare(op string, a, b float64) bool {
	if isNull(a) || isNull(b) {
		// Null never satisfies a comparison, mirroring NaN semantics
		return op == "!=" && !(isNull(a) && isNull(b))
	}
	switch op {
	case ">":
		return a > b
	case ">=":
		return a >= b
	case "<":
		return a < b
	case "<=":
		return a <= b
	case "==":
		return a == b
	case "!=":
		return a != b
	}
	return false
}

func evalCompare(op string, x, y exprValue) (exprValue, error) {
	if xs, ok := x.(strValue); ok {
		ys, ok := y.(strValue)
		if !ok {
			return nil, fmt.Errorf("cannot compare string with %T", y)
		}
		switch op {
		case "==":
			return boolValue(xs == ys), nil
		case "!=":
			return boolValue(xs != ys), nil
		}
		return nil, fmt.Errorf("operator %q not supported on strings", op)
	}

	xs, xIsSeries := x.(Series)
	ys, yIsSeries := y.(Series)
	xn, xIsNum := x.(numValue)
	yn, yIsNum := y.(numValue)

	switch {
	case xIsNum && yIsNum:
		return boolValue(applyCompare(op, float64(xn), float64(yn))), nil
	case xIsSeries && yIsSeries:
		if len(xs) != len(ys) {
			return nil, fmt.Errorf("series length mismatch: %d vs %d", len(xs), len(ys))
		}
		out := make(BoolSeries, len(xs))
		for i := range xs {
			out[i] = applyCompare(op, xs[i], ys[i])
		}
		return out, nil
	case xIsSeries && yIsNum:
		out := make(BoolSeries, len(xs))
		for i := range xs {
			out[i] = applyCompare(op, xs[i], float64(yn))
		}
		return out, nil
	case xIsNum && yIsSeries:
		out := make(BoolSeries, len(ys))
		for i := range ys {
			out[i] = applyCompare(op, float64(xn), ys[i])
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot compare %T and %T", x, y)
}

func evalLogical(op string, x, y exprValue) (exprValue, error) {
	xb, xIsBool := x.(boolValue)
	yb, yIsBool := y.(boolValue)
	xs, xIsSeries := x.(BoolSeries)
	ys, yIsSeries := y.(BoolSeries)

	apply := func(a, b bool) bool {
		if op == "and" {
			return a && b
		}
		return a || b
	}

	switch {
	case xIsBool && yIsBool:
		return boolValue(apply(bool(xb), bool(yb))), nil
	case xIsSeries && yIsSeries:
		if len(xs) != len(ys) {
			return nil, fmt.Errorf("series length mismatch: %d vs %d", len(xs), len(ys))
		}
		out := make(BoolSeries, len(xs))
		for i := range xs {
			out[i] = apply(xs[i], ys[i])
		}
		return out, nil
	case xIsSeries && yIsBool:
		out := make(BoolSeries, len(xs))
		for i := range xs {
			out[i] = apply(xs[i], bool(yb))
		}
		return out, nil
	case xIsBool && yIsSeries:
		out := make(BoolSeries, len(ys))
		for i := range ys {
			out[i] = apply(bool(xb), ys[i])
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot apply %q to %T and %T", op, x, y)
}

func evalCall(n callExpr, env *exprEnv) (exprValue, error) {
	args := make([]exprValue, len(n.args))
	for i, a := range n.args {
		v, err := evalExpr(a, env)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	switch n.name {
	case "sma":
		s, w, err := seriesWindowArgs(n.name, args)
		if err != nil {
			return nil, err
		}
		return SMA(s, w), nil
	case "ema":
		s, w, err := seriesWindowArgs(n.name, args)
		if err != nil {
			return nil, err
		}
		return EMA(s, w), nil
	case "min":
		s, w, err := seriesWindowArgs(n.name, args)
		if err != nil {
			return nil, err
		}
		return Min(s, w), nil
	case "max":
		s, w, err := seriesWindowArgs(n.name, args)
		if err != nil {
			return nil, err
		}
		return Max(s, w), nil
	case "count":
		s, w, err := seriesWindowArgs(n.name, args)
		if err != nil {
			return nil, err
		}
		return Count(s, w), nil
	case "countTrue":
		if len(args) != 2 {
			return nil, fmt.Errorf("countTrue expects 2 arguments, got %d", len(args))
		}
		bs, ok := args[0].(BoolSeries)
		if !ok {
			return nil, fmt.Errorf("countTrue expects a boolean series, got %T", args[0])
		}
		w, err := intArg("countTrue", args[1])
		if err != nil {
			return nil, err
		}
		return CountTrue(bs, w), nil
	case "prv":
		return seriesLookbackCall("prv", args, 1, Prv)
	case "change":
		return seriesLookbackCall("change", args, 1, Change)
	}
	return nil, fmt.Errorf("unknown function %q", n.name)
}

// seriesLookbackCall handles prv/change style calls with an optional
// lookback defaulting to 1.
func seriesLookbackCall(name string, args []exprValue, def int, fn func(Series, int) Series) (exprValue, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, fmt.Errorf("%s expects 1 or 2 arguments, got %d", name, len(args))
	}
	s, ok := args[0].(Series)
	if !ok {
		return nil, fmt.Errorf("%s expects a series, got %T", name, args[0])
	}
	k := def
	if len(args) == 2 {
		var err error
		k, err = intArg(name, args[1])
		if err != nil {
			return nil, err
		}
	}
	return fn(s, k), nil
}

func seriesWindowArgs(name string, args []exprValue) (Series, int, error) {
	if len(args) != 2 {
		return nil, 0, fmt.Errorf("%s expects 2 arguments, got %d", name, len(args))
	}
	s, ok := args[0].(Series)
	if !ok {
		return nil, 0, fmt.Errorf("%s expects a series, got %T", name, args[0])
	}
	w, err := intArg(name, args[1])
	if err != nil {
		return nil, 0, err
	}
	return s, w, nil
}

func intArg(name string, v exprValue) (int, error) {
	n, ok := v.(numValue)
	if !ok || isNull(float64(n)) || float64(n) != math.Trunc(float64(n)) || n < 1 {
		return 0, fmt.Errorf("%s expects a positive integer window", name)
	}
	return int(n), nil
}

// asBoolSeries coerces a condition result to a boolean vector of the given
// length. Scalars broadcast; numeric series are true where non-null and
// non-zero.
func asBoolSeries(v exprValue, length int) (BoolSeries, error) {
	switch t := v.(type) {
	case BoolSeries:
		return t, nil
	case boolValue:
		out := make(BoolSeries, length)
		for i := range out {
			out[i] = bool(t)
		}
		return out, nil
	case Series:
		out := make(BoolSeries, len(t))
		for i, f := range t {
			out[i] = !isNull(f) && f != 0
		}
		return out, nil
	case numValue:
		out := make(BoolSeries, length)
		b := !isNull(float64(t)) && t != 0
		for i := range out {
			out[i] = b
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot interpret %T as a condition", v)
}

// lastValue extracts the final scalar of a value expression result; nil
// stands for null.
func lastValue(v exprValue) interface{} {
	switch t := v.(type) {
	case Series:
		last, ok := t.Last()
		if !ok {
			return nil
		}
		return last
	case BoolSeries:
		if len(t) == 0 {
			return nil
		}
		return t[len(t)-1]
	case numValue:
		if isNull(float64(t)) {
			return nil
		}
		return float64(t)
	case boolValue:
		return bool(t)
	case strValue:
		return string(t)
	}
	return nil
}

// asBool coerces a scalar condition result to a boolean
func asBool(v exprValue) (bool, error) {
	switch t := v.(type) {
	case boolValue:
		return bool(t), nil
	case numValue:
		return !isNull(float64(t)) && t != 0, nil
	case BoolSeries:
		if len(t) == 0 {
			return false, nil
		}
		return t[len(t)-1], nil
	}
	return false, fmt.Errorf("cannot interpret %T as a boolean", v)
}
