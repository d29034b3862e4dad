package scanner

import "math"

// Rolling indicator primitives callable from scan expressions. All rolling
// windows use min_periods=1 semantics: the first n-1 elements aggregate
// whatever history exists, and null inputs are skipped.

// SMA is the rolling mean over the window
func SMA(s Series, window int) Series {
	return rollingAgg(s, window, func(win []float64) float64 {
		sum, n := 0.0, 0
		for _, v := range win {
			if !isNull(v) {
				sum += v
				n++
			}
		}
		if n == 0 {
			return math.NaN()
		}
		return sum / float64(n)
	})
}

// EMA is the exponential moving average with span semantics and no bias
// adjustment: alpha = 2/(span+1). Null inputs carry the previous value
// forward.
func EMA(s Series, span int) Series {
	out := make(Series, len(s))
	if len(s) == 0 {
		return out
	}
	alpha := 2.0 / (float64(span) + 1)
	prev := math.NaN()
	for i, v := range s {
		switch {
		case isNull(v):
			out[i] = prev
		case isNull(prev):
			out[i] = v
			prev = v
		default:
			prev = alpha*v + (1-alpha)*prev
			out[i] = prev
		}
	}
	return out
}

// Prv shifts the series back by k bars, the first k values become null
func Prv(s Series, k int) Series {
	out := make(Series, len(s))
	for i := range out {
		if i < k {
			out[i] = math.NaN()
		} else {
			out[i] = s[i-k]
		}
	}
	return out
}

// Min is the rolling minimum over the window
func Min(s Series, window int) Series {
	return rollingAgg(s, window, func(win []float64) float64 {
		best := math.NaN()
		for _, v := range win {
			if isNull(v) {
				continue
			}
			if isNull(best) || v < best {
				best = v
			}
		}
		return best
	})
}

// Max is the rolling maximum over the window
func Max(s Series, window int) Series {
	return rollingAgg(s, window, func(win []float64) float64 {
		best := math.NaN()
		for _, v := range win {
			if isNull(v) {
				continue
			}
			if isNull(best) || v > best {
				best = v
			}
		}
		return best
	})
}

// Count is the rolling non-null count over the window
func Count(s Series, window int) Series {
	return rollingAgg(s, window, func(win []float64) float64 {
		n := 0
		for _, v := range win {
			if !isNull(v) {
				n++
			}
		}
		return float64(n)
	})
}

// CountTrue is the rolling count of true values over the window
func CountTrue(s BoolSeries, window int) Series {
	out := make(Series, len(s))
	for i := range s {
		start := i - window + 1
		if start < 0 {
			start = 0
		}
		n := 0
		for _, b := range s[start : i+1] {
			if b {
				n++
			}
		}
		out[i] = float64(n)
	}
	return out
}

// Change is the fractional change over k bars; divisions yielding infinity
// become null.
func Change(s Series, k int) Series {
	out := make(Series, len(s))
	for i := range s {
		if i < k || isNull(s[i]) || isNull(s[i-k]) || s[i-k] == 0 {
			out[i] = math.NaN()
			continue
		}
		v := s[i]/s[i-k] - 1
		if math.IsInf(v, 0) {
			v = math.NaN()
		}
		out[i] = v
	}
	return out
}

func rollingAgg(s Series, window int, agg func([]float64) float64) Series {
	out := make(Series, len(s))
	for i := range s {
		start := i - window + 1
		if start < 0 {
			start = 0
		}
		out[i] = agg(s[start : i+1])
	}
	return out
}
