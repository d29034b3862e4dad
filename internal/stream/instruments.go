package stream

import "fmt"

// InstrumentKeyMap translates between tickers and the per-session symbol
// keys the chart protocol uses. Built once per session and immutable while
// streaming; rebuild on refresh.
type InstrumentKeyMap struct {
	forward map[string]string
	reverse map[string]string
	order   []string
}

// NewInstrumentKeyMap assigns sds_sym_<n> keys in ticker order, 1-based
func NewInstrumentKeyMap(tickers []string) *InstrumentKeyMap {
	m := &InstrumentKeyMap{
		forward: make(map[string]string, len(tickers)),
		reverse: make(map[string]string, len(tickers)),
		order:   make([]string, 0, len(tickers)),
	}
	for i, t := range tickers {
		key := fmt.Sprintf("sds_sym_%d", i+1)
		m.forward[t] = key
		m.reverse[key] = t
		m.order = append(m.order, key)
	}
	return m
}

// Key returns the session symbol key for a ticker
func (m *InstrumentKeyMap) Key(ticker string) (string, bool) {
	k, ok := m.forward[ticker]
	return k, ok
}

// Ticker returns the ticker for a session symbol key
func (m *InstrumentKeyMap) Ticker(key string) (string, bool) {
	t, ok := m.reverse[key]
	return t, ok
}

// Keys returns all symbol keys in assignment order
func (m *InstrumentKeyMap) Keys() []string {
	return m.order
}

// SeriesID returns the series identifier for a symbol key, matching the
// key's 1-based position.
func (m *InstrumentKeyMap) SeriesID(key string) string {
	for i, k := range m.order {
		if k == key {
			return fmt.Sprintf("s%d", i+1)
		}
	}
	return ""
}

// Len returns the number of mapped tickers
func (m *InstrumentKeyMap) Len() int {
	return len(m.order)
}
