package screener

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/stockterm/terminalapi/pkg/utils/zaplogger"
)

const (
	quoteAPIURL      = "https://api.upstox.com/v2/market-quote/quotes"
	quoteBatchSize   = 500
	quoteHTTPTimeout = 20 * time.Second
)

// indexInstrumentKeys maps index tickers to upstream instrument keys.
// Equities and funds derive their key from exchange and ISIN instead.
var indexInstrumentKeys = map[string]string{
	"BSE:SENSEX":            "BSE_INDEX|SENSEX",
	"NSE:CNXENERGY":         "NSE_INDEX|Nifty Energy",
	"NSE:NIFTY_INDIA_MFG":   "NSE_INDEX|Nifty India Mfg",
	"NSE:CNXINFRA":          "NSE_INDEX|Nifty Infra",
	"NSE:CNXFMCG":           "NSE_INDEX|Nifty FMCG",
	"NSE:CNXAUTO":           "NSE_INDEX|Nifty Auto",
	"NSE:CNXIT":             "NSE_INDEX|Nifty IT",
	"NSE:CNXFINANCE":        "NSE_INDEX|Nifty Fin Service",
	"NSE:BANKNIFTY":         "NSE_INDEX|Nifty Bank",
	"NSE:CNX500":            "NSE_INDEX|Nifty 500",
	"NSE:NIFTY":             "NSE_INDEX|Nifty 50",
	"NSE:NIFTY_LARGEMID250": "NSE_INDEX|NIFTY LARGEMID250",
	"NSE:CNXMNC":            "NSE_INDEX|Nifty MNC",
	"NSE:NIFTY_TOTAL_MKT":   "NSE_INDEX|NIFTY TOTAL MKT",
	"NSE:CPSE":              "NSE_INDEX|Nifty CPSE",
	"NSE:NIFTY_MICROCAP250": "NSE_INDEX|NIFTY MICROCAP250",
	"NSE:CNXCOMMODITIES":    "NSE_INDEX|Nifty Commodities",
	"NSE:NIFTYALPHA50":      "NSE_INDEX|NIFTY Alpha 50",
	"NSE:CNXCONSUMPTION":    "NSE_INDEX|Nifty Consumption",
	"NSE:NIFTYMIDCAP150":    "NSE_INDEX|NIFTY MIDCAP 150",
	"NSE:CNX100":            "NSE_INDEX|Nifty 100",
	"NSE:CNXPSE":            "NSE_INDEX|Nifty PSE",
	"NSE:NIFTYSMLCAP250":    "NSE_INDEX|NIFTY SMLCAP 250",
	"NSE:NIFTYMIDCAP50":     "NSE_INDEX|Nifty Midcap 50",
	"NSE:CNXMIDCAP":         "NSE_INDEX|NIFTY MIDCAP 100",
	"NSE:CNXSMALLCAP":       "NSE_INDEX|NIFTY SMLCAP 100",
	"NSE:NIFTY_MID_SELECT":  "NSE_INDEX|NIFTY MID SELECT",
	"NSE:NIFTY_HEALTHCARE":  "NSE_INDEX|NIFTY HEALTHCARE",
	"NSE:NIFTY_CONSR_DURL":  "NSE_INDEX|NIFTY CONSR DURBL",
	"NSE:NIFTY_OIL_AND_GAS": "NSE_INDEX|NIFTY OIL AND GAS",
	"NSE:NIFTYPVTBANK":      "NSE_INDEX|Nifty Pvt Bank",
	"NSE:CNXMEDIA":          "NSE_INDEX|Nifty Media",
	"NSE:CNXREALTY":         "NSE_INDEX|Nifty Realty",
	"NSE:CNX200":            "NSE_INDEX|Nifty 200",
	"NSE:CNXMETAL":          "NSE_INDEX|Nifty Metal",
	"NSE:CNXPSUBANK":        "NSE_INDEX|Nifty PSU Bank",
	"NSE:CNXPHARMA":         "NSE_INDEX|Nifty Pharma",
	"NSE:NIFTYJR":           "NSE_INDEX|Nifty Next 50",
}

// LiveSymbol is the projection the realtime loop needs to address the
// upstream quote API.
type LiveSymbol struct {
	Ticker   string
	Name     string
	Isin     string
	Type     string
	Exchange string
}

// QuoteFetcher supplies live quote rows for a symbol set, batched to the
// upstream's request limit.
type QuoteFetcher interface {
	FetchQuotes(ctx context.Context, symbols []LiveSymbol, token string) ([][]map[string]interface{}, error)
}

// instrumentKeyCache memoizes ticker <-> instrument key in both directions
// so quote responses can be mapped back without re-deriving keys.
type instrumentKeyCache struct {
	mu      sync.Mutex
	forward map[string]string
	reverse map[string]string
}

func newInstrumentKeyCache() *instrumentKeyCache {
	return &instrumentKeyCache{
		forward: make(map[string]string),
		reverse: make(map[string]string),
	}
}

// key derives the upstream instrument key for a symbol. Unknown indexes and
// equities without an ISIN have no key and are skipped.
func (c *instrumentKeyCache) key(s LiveSymbol) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if key, ok := c.forward[s.Ticker]; ok {
		return key, true
	}

	var key string
	switch s.Type {
	case "index":
		key = indexInstrumentKeys[s.Ticker]
	case "stock", "fund":
		if s.Isin != "" {
			key = fmt.Sprintf("%s_EQ|%s", s.Exchange, s.Isin)
		}
	}
	if key == "" {
		return "", false
	}
	c.forward[s.Ticker] = key
	c.reverse[key] = s.Ticker
	return key, true
}

func (c *instrumentKeyCache) ticker(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ticker, ok := c.reverse[key]
	return ticker, ok
}

// UpstoxQuoteFetcher fetches day OHLC quotes from the Upstox market-quote
// API with the caller's bearer token. Requests are rate limited so many
// concurrent sessions share one upstream budget.
type UpstoxQuoteFetcher struct {
	client  *resty.Client
	limiter *rate.Limiter
	keys    *instrumentKeyCache
}

// NewUpstoxQuoteFetcher creates a fetcher
func NewUpstoxQuoteFetcher() *UpstoxQuoteFetcher {
	return &UpstoxQuoteFetcher{
		client:  resty.New().SetTimeout(quoteHTTPTimeout),
		limiter: rate.NewLimiter(rate.Limit(10), 10),
		keys:    newInstrumentKeyCache(),
	}
}

type upstoxOHLC struct {
	Open  *float64 `json:"open"`
	High  *float64 `json:"high"`
	Low   *float64 `json:"low"`
	Close *float64 `json:"close"`
}

type upstoxQuote struct {
	OHLC            upstoxOHLC `json:"ohlc"`
	Volume          *float64   `json:"volume"`
	NetChange       *float64   `json:"net_change"`
	LastPrice       *float64   `json:"last_price"`
	InstrumentToken string     `json:"instrument_token"`
}

type upstoxQuoteResponse struct {
	Data map[string]upstoxQuote `json:"data"`
}

// FetchQuotes resolves instrument keys, queries the upstream in batches and
// returns one row slice per batch.
func (f *UpstoxQuoteFetcher) FetchQuotes(ctx context.Context, symbols []LiveSymbol, token string) ([][]map[string]interface{}, error) {
	var batches [][]map[string]interface{}
	for start := 0; start < len(symbols); start += quoteBatchSize {
		end := start + quoteBatchSize
		if end > len(symbols) {
			end = len(symbols)
		}
		rows, err := f.fetchBatch(ctx, symbols[start:end], token)
		if err != nil {
			return batches, err
		}
		batches = append(batches, rows)
	}
	return batches, nil
}

func (f *UpstoxQuoteFetcher) fetchBatch(ctx context.Context, symbols []LiveSymbol, token string) ([]map[string]interface{}, error) {
	keys := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if key, ok := f.keys.key(s); ok {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var result upstoxQuoteResponse
	resp, err := f.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("Accept", "application/json").
		SetQueryParam("instrument_key", strings.Join(keys, ",")).
		SetResult(&result).
		Get(quoteAPIURL)
	if err != nil {
		return nil, fmt.Errorf("quote fetch failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("quote fetch failed: status %d", resp.StatusCode())
	}

	rows := make([]map[string]interface{}, 0, len(result.Data))
	for _, q := range result.Data {
		ticker, ok := f.keys.ticker(q.InstrumentToken)
		if !ok {
			zaplogger.Warn("Quote for unknown instrument", zaplogger.Fields{"instrument": q.InstrumentToken})
			continue
		}
		rows = append(rows, extractQuote(ticker, q))
	}
	return rows, nil
}

// extractQuote flattens one upstream quote into a partial-response row,
// deriving the day-change and gap fields clients expect. Fields whose
// inputs are missing are omitted rather than nulled.
func extractQuote(ticker string, q upstoxQuote) map[string]interface{} {
	row := map[string]interface{}{"ticker": ticker}

	o, h, l, c := q.OHLC.Open, q.OHLC.High, q.OHLC.Low, q.OHLC.Close

	var prevClose *float64
	if q.LastPrice != nil && q.NetChange != nil {
		pc := *q.LastPrice - *q.NetChange
		prevClose = &pc
	}

	if o != nil {
		row["day_open"] = *o
	}
	if h != nil {
		row["day_high"] = *h
	}
	if l != nil {
		row["day_low"] = *l
	}
	if c != nil {
		row["day_close"] = *c
	}
	if q.Volume != nil {
		row["volume"] = *q.Volume
	}
	if c != nil && prevClose != nil && *prevClose != 0 {
		row["price_change_today_pct"] = (*c - *prevClose) / *prevClose * 100
	}
	if o != nil && h != nil && l != nil && c != nil && *h != *l {
		row["dcr"] = (*c - *l) / (*h - *l) * 100
	}
	if o != nil && c != nil {
		row["price_change_from_open_abs"] = *c - *o
		if *o != 0 {
			row["price_change_from_open_pct"] = (*c - *o) / *o * 100
		}
	}
	if h != nil && c != nil {
		row["price_change_from_high_abs"] = *h - *c
		if *h != 0 {
			row["price_change_from_high_pct"] = (*h - *c) / *h * 100
		}
	}
	if o != nil && prevClose != nil {
		row["gap_dollar_D"] = *o - *prevClose
		if *prevClose != 0 {
			row["gap_pct_D"] = (*o - *prevClose) / *prevClose * 100
		}
	}
	return row
}
