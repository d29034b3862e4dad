package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/stockterm/terminalapi/pkg/utils/zaplogger"
)

const (
	detailBaseURL = "https://marketsmithindia.com"
	detailUserID  = 3990
)

// SymbolDetailService proxies the upstream symbol evaluation pages. Each
// lookup opens a fresh cookie session, resolves the symbol to an upstream
// instrument id, then aggregates the detail endpoints.
type SymbolDetailService struct{}

// NewSymbolDetailService creates a new SymbolDetailService
func NewSymbolDetailService() *SymbolDetailService {
	return &SymbolDetailService{}
}

type detailSession struct {
	client       *resty.Client
	sessionID    string
	symbol       string
	instrumentID string
}

// SymbolDetail resolves "EXCHANGE:NAME" (or a bare name) and returns the
// aggregated detail payload.
func (s *SymbolDetailService) SymbolDetail(ctx context.Context, symbol string) (map[string]interface{}, error) {
	name := symbol
	if _, after, found := strings.Cut(symbol, ":"); found {
		name = after
	}
	name = strings.TrimSpace(strings.ReplaceAll(name, "_", "-"))

	sess, err := s.openSession(ctx)
	if err != nil {
		return nil, err
	}
	if err := sess.setSymbol(ctx, name); err != nil {
		return nil, err
	}
	return sess.fetchAll(ctx)
}

func (s *SymbolDetailService) openSession(ctx context.Context) (*detailSession, error) {
	client := resty.New().
		SetTimeout(20*time.Second).
		SetRetryCount(3).
		SetHeader("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) "+
			"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/137.0.0.0 Safari/537.36").
		SetHeader("X-Requested-With", "XMLHttpRequest")

	resp, err := client.R().SetContext(ctx).Get(detailBaseURL + "/mstool/eval/0innse50/evaluation.jsp")
	if err != nil {
		return nil, fmt.Errorf("detail session init failed: %w", err)
	}

	var sessionID string
	for _, c := range resp.Cookies() {
		if c.Name == "MSSESSIONID" {
			sessionID = c.Value
		}
	}
	if sessionID == "" {
		return nil, fmt.Errorf("detail session cookie not found")
	}
	return &detailSession{client: client, sessionID: sessionID}, nil
}

// setSymbol resolves the upstream instrument id and attaches the symbol to
// the session, mirroring what the evaluation page does.
func (d *detailSession) setSymbol(ctx context.Context, name string) error {
	var search struct {
		Response struct {
			Results []struct {
				Symbol       string `json:"symbol"`
				InstrumentID string `json:"instrumentId"`
			} `json:"results"`
		} `json:"response"`
	}
	resp, err := d.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"text": name, "lang": "en", "ver": "2"}).
		SetResult(&search).
		Get(detailBaseURL + "/gateway/simple-api/ms-india/instr/srch.json")
	if err != nil {
		return fmt.Errorf("symbol search failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("symbol search failed: status %d", resp.StatusCode())
	}

	for _, r := range search.Response.Results {
		if strings.EqualFold(r.Symbol, name) {
			d.symbol = strings.ToUpper(name)
			d.instrumentID = r.InstrumentID
			break
		}
	}
	if d.instrumentID == "" {
		return fmt.Errorf("symbol %s not found", name)
	}

	_, err = d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]interface{}{"instrumentId": d.instrumentID, "userId": detailUserID}).
		Post(detailBaseURL + "/gateway/api/ms-india/instr/addrecentsymbol.json")
	if err != nil {
		return fmt.Errorf("symbol attach failed: %w", err)
	}
	return nil
}

// fetchAll pulls the detail endpoints concurrently and packs them under
// their section names. A failed section is logged and omitted.
func (d *detailSession) fetchAll(ctx context.Context) (map[string]interface{}, error) {
	now := time.Now()
	start := fmt.Sprintf("%d0101", now.Year()-5)
	end := now.Format("20060102")

	instrPath := fmt.Sprintf("%s/gateway/simple-api/ms-india/instr/0/%s", detailBaseURL, d.instrumentID)
	sections := []struct {
		name   string
		url    string
		params map[string]string
	}{
		{"basic_market", instrPath + "/eHeaderDetails.json", map[string]string{
			"p": "1", "s": start, "e": end, "b": "0IBOMSEN", "ie": "0", "iq": "0",
		}},
		{"details", instrPath + "/symboldetails.json", map[string]string{
			"s": start, "e": end, "text": d.symbol, "lang": "en", "isConsolidated": "0",
		}},
		{"consolidate_finance_details", instrPath + "/financeDetails.json", map[string]string{
			"isConsolidated": "1",
		}},
		{"standalone_finance_details", instrPath + "/financeDetails.json", map[string]string{
			"isConsolidated": "0",
		}},
		{"red_flags", fmt.Sprintf("%s/gateway/simple-api/ms-india/instr/%s/getRedFlags.json", detailBaseURL, d.instrumentID), nil},
		{"bulk_block_deals", fmt.Sprintf("%s/gateway/simple-api/ms-india/%s/getBulkBlockDeals.json", detailBaseURL, d.instrumentID), nil},
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		result = map[string]interface{}{"symbol": d.symbol, "instrument_id": d.instrumentID}
	)
	for _, section := range sections {
		wg.Add(1)
		go func(name, url string, params map[string]string) {
			defer wg.Done()
			payload, err := d.fetchSection(ctx, url, params)
			if err != nil {
				zaplogger.Warn("Symbol detail section failed", zaplogger.Fields{"section": name, "error": err.Error()})
				return
			}
			mu.Lock()
			result[name] = payload
			mu.Unlock()
		}(section.name, section.url, section.params)
	}
	wg.Wait()
	return result, nil
}

func (d *detailSession) fetchSection(ctx context.Context, url string, params map[string]string) (map[string]interface{}, error) {
	var payload map[string]interface{}
	req := d.client.R().
		SetContext(ctx).
		SetQueryParam("ms-auth", d.sessionID).
		SetHeader("Referer", fmt.Sprintf("%s/mstool/eval/%s/evaluation.jsp", detailBaseURL, strings.ToLower(d.symbol))).
		SetResult(&payload)
	for k, v := range params {
		req.SetQueryParam(k, v)
	}
	resp, err := req.Get(url)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("status %d", resp.StatusCode())
	}
	return payload, nil
}
