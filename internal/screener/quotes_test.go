package screener

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func TestInstrumentKeyMapping(t *testing.T) {
	cache := newInstrumentKeyCache()

	key, ok := cache.key(LiveSymbol{Ticker: "NSE:TCS", Type: "stock", Exchange: "NSE", Isin: "INE467B01029"})
	require.True(t, ok)
	assert.Equal(t, "NSE_EQ|INE467B01029", key)

	// Round-trips through the reverse cache
	ticker, ok := cache.ticker(key)
	require.True(t, ok)
	assert.Equal(t, "NSE:TCS", ticker)

	key, ok = cache.key(LiveSymbol{Ticker: "NSE:NIFTY", Type: "index"})
	require.True(t, ok)
	assert.Equal(t, "NSE_INDEX|Nifty 50", key)

	// Unknown index and equity without ISIN have no key
	_, ok = cache.key(LiveSymbol{Ticker: "NSE:NOSUCHINDEX", Type: "index"})
	assert.False(t, ok)
	_, ok = cache.key(LiveSymbol{Ticker: "NSE:X", Type: "stock", Exchange: "NSE"})
	assert.False(t, ok)
}

func TestExtractQuoteDerivedFields(t *testing.T) {
	row := extractQuote("NSE:TCS", upstoxQuote{
		OHLC:      upstoxOHLC{Open: f(100), High: f(110), Low: f(95), Close: f(105)},
		Volume:    f(5000),
		LastPrice: f(105),
		NetChange: f(5), // previous close 100
	})

	assert.Equal(t, "NSE:TCS", row["ticker"])
	assert.Equal(t, 100.0, row["day_open"])
	assert.Equal(t, 110.0, row["day_high"])
	assert.Equal(t, 95.0, row["day_low"])
	assert.Equal(t, 105.0, row["day_close"])
	assert.Equal(t, 5000.0, row["volume"])
	assert.InDelta(t, 5.0, row["price_change_today_pct"].(float64), 1e-9)
	assert.InDelta(t, (105.0-95.0)/(110.0-95.0)*100, row["dcr"].(float64), 1e-9)
	assert.Equal(t, 5.0, row["price_change_from_open_abs"])
	assert.InDelta(t, 5.0, row["price_change_from_open_pct"].(float64), 1e-9)
	assert.Equal(t, 5.0, row["price_change_from_high_abs"])
	assert.InDelta(t, 5.0/110.0*100, row["price_change_from_high_pct"].(float64), 1e-9)
	assert.Equal(t, 0.0, row["gap_dollar_D"])
	assert.Equal(t, 0.0, row["gap_pct_D"])
}

func TestExtractQuoteOmitsMissingInputs(t *testing.T) {
	row := extractQuote("NSE:TCS", upstoxQuote{OHLC: upstoxOHLC{Close: f(105)}})

	assert.Equal(t, 105.0, row["day_close"])
	_, hasOpen := row["day_open"]
	assert.False(t, hasOpen)
	_, hasChange := row["price_change_today_pct"]
	assert.False(t, hasChange)
	_, hasDCR := row["dcr"]
	assert.False(t, hasDCR)
}
