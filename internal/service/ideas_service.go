package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const ideasAPIBase = "https://api.stocktwits.com/api/2"

// Global idea feeds
const (
	FeedTrending  = "trending"
	FeedSuggested = "suggested"
	FeedPopular   = "popular"
)

// IdeasService proxies the community ideas feeds. The upstream expects
// browser-like headers, so the client pins them on every request.
type IdeasService struct {
	client *resty.Client
}

// NewIdeasService creates a new IdeasService
func NewIdeasService() *IdeasService {
	client := resty.New().
		SetTimeout(20 * time.Second).
		SetHeaders(map[string]string{
			"accept":  "application/json",
			"origin":  "https://stocktwits.com",
			"referer": "https://stocktwits.com/",
			"user-agent": "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
				"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		})
	return &IdeasService{client: client}
}

// GlobalFeed fetches one of the market-wide idea feeds
func (s *IdeasService) GlobalFeed(ctx context.Context, feed string, limit int) (json.RawMessage, error) {
	var url, filter string
	switch feed {
	case FeedSuggested:
		url, filter = ideasAPIBase+"/streams/suggested.json", "top"
	case FeedTrending:
		url, filter = ideasAPIBase+"/streams/trending.json", "all"
	case FeedPopular:
		url, filter = ideasAPIBase+"/trending_messages/symbol_trending", "all"
	default:
		return nil, fmt.Errorf("invalid feed: %s", feed)
	}
	return s.fetch(ctx, url, filter, limit)
}

// SymbolFeed fetches the per-symbol idea feed, feed in {trending, popular}
func (s *IdeasService) SymbolFeed(ctx context.Context, symbol, feed string, limit int) (json.RawMessage, error) {
	upstream := toIdeasSymbol(symbol)
	var url, filter string
	switch feed {
	case FeedTrending:
		url, filter = fmt.Sprintf("%s/streams/symbol/%s.json", ideasAPIBase, upstream), "all"
	case FeedPopular:
		url, filter = fmt.Sprintf("%s/trending_messages/symbol/%s.json", ideasAPIBase, upstream), "top"
	default:
		return nil, fmt.Errorf("invalid feed: %s", feed)
	}
	return s.fetch(ctx, url, filter, limit)
}

func (s *IdeasService) fetch(ctx context.Context, url, filter string, limit int) (json.RawMessage, error) {
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"filter": filter,
			"limit":  strconv.Itoa(limit),
		}).
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("ideas fetch failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("ideas fetch failed: status %d", resp.StatusCode())
	}
	return json.RawMessage(resp.Body()), nil
}

// toIdeasSymbol maps "NSE:TCS" to the upstream's "TCS.NSE" form. A bare
// name defaults to the NSE suffix.
func toIdeasSymbol(symbol string) string {
	exchange, name, found := strings.Cut(symbol, ":")
	if !found {
		return exchange + ".NSE"
	}
	return name + "." + exchange
}
