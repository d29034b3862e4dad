// Package scanner implements the two-phase technical scan engine: a
// metadata filter over the feature table followed by per-symbol time-series
// evaluation, driven by a small expression language.
package scanner

import (
	"math"

	"github.com/stockterm/terminalapi/internal/models"
)

// Series is a float vector aligned to a symbol's candle history. NaN marks
// a missing value.
type Series []float64

// BoolSeries is a boolean vector aligned to a symbol's candle history
type BoolSeries []bool

func isNull(f float64) bool {
	return math.IsNaN(f)
}

// OHLCV holds the per-symbol candle vectors bound into scan expressions
type OHLCV struct {
	Open   Series
	High   Series
	Low    Series
	Close  Series
	Volume Series
	Index  Series
}

// NewOHLCV converts a candle history into aligned vectors. Index is the
// 0-based bar offset.
func NewOHLCV(candles []models.Candle) *OHLCV {
	n := len(candles)
	d := &OHLCV{
		Open:   make(Series, n),
		High:   make(Series, n),
		Low:    make(Series, n),
		Close:  make(Series, n),
		Volume: make(Series, n),
		Index:  make(Series, n),
	}
	for i, c := range candles {
		d.Open[i] = c.Open
		d.High[i] = c.High
		d.Low[i] = c.Low
		d.Close[i] = c.Close
		d.Volume[i] = c.Volume
		d.Index[i] = float64(i)
	}
	return d
}

// Len returns the number of bars
func (d *OHLCV) Len() int {
	return len(d.Close)
}

// Last returns the final value of a series, or ok=false when the series is
// empty or the value is null.
func (s Series) Last() (float64, bool) {
	if len(s) == 0 {
		return 0, false
	}
	v := s[len(s)-1]
	if isNull(v) {
		return 0, false
	}
	return v, true
}

// reduceByPeriod collapses a boolean series to one boolean per the
// condition's evaluation period.
func reduceByPeriod(s BoolSeries, period string, value int) bool {
	if len(s) == 0 {
		return false
	}
	switch period {
	case models.PeriodNow:
		return s[len(s)-1]
	case models.PeriodXBarAgo:
		if len(s) < value {
			return false
		}
		return s[len(s)-value]
	case models.PeriodWithinLast:
		n := value
		if n > len(s) {
			n = len(s)
		}
		for _, b := range s[len(s)-n:] {
			if b {
				return true
			}
		}
		return false
	case models.PeriodInRow:
		if len(s) < value {
			return false
		}
		for _, b := range s[len(s)-value:] {
			if !b {
				return false
			}
		}
		return true
	}
	return false
}

// percentileRank returns the percentile (0,100] of v among values, with
// ties receiving the average rank.
func percentileRank(values []float64, v float64) float64 {
	if len(values) == 0 || isNull(v) {
		return 0
	}
	below, equal, total := 0, 0, 0
	for _, x := range values {
		if isNull(x) {
			continue
		}
		total++
		switch {
		case x < v:
			below++
		case x == v:
			equal++
		}
	}
	if total == 0 || equal == 0 {
		return 0
	}
	// Ties receive the average rank of their group
	rank := float64(below) + (float64(equal)+1)/2
	return rank / float64(total) * 100
}
