package screener

import (
	"context"
	"sync"
	"time"

	"github.com/stockterm/terminalapi/internal/models"
	"github.com/stockterm/terminalapi/pkg/utils/zaplogger"
)

const realtimeInterval = 5 * time.Second

// defaultColumns is the projection a subscribe without columns receives
var defaultColumns = []string{"ticker", "name", "logo", "day_close"}

// liveSymbolColumns is the lightweight projection the realtime loop
// addresses quotes with.
var liveSymbolColumns = []string{"ticker", "name", "isin", "type", "exchange"}

// Sender delivers one JSON response frame to the client. Implementations
// must be safe for concurrent use; the realtime loop and the read loop both
// send.
type Sender interface {
	SendJSON(v interface{}) error
}

// SymbolQuerier executes screener SQL against the symbol feature table
type SymbolQuerier interface {
	QueryValues(query string) ([]string, [][]interface{}, error)
	QueryRecords(query string) ([]map[string]interface{}, error)
}

// Session is one screener view: filters, sort, columns and a page range
// over the feature table, plus a periodic live quote overlay for the
// filtered symbol set.
type Session struct {
	id     string
	token  string
	send   Sender
	store  SymbolQuerier
	quotes QuoteFetcher

	mu          sync.Mutex
	filters     []Filter
	filterMerge string
	sortFields  []SortField
	columns     []string
	pageRange   [2]int
	universe    *[]string
	liveSymbols []LiveSymbol

	cancel context.CancelFunc
	done   chan struct{}
}

func newSession(id, token string, send Sender, store SymbolQuerier, quotes QuoteFetcher) *Session {
	return &Session{
		id:          id,
		token:       token,
		send:        send,
		store:       store,
		quotes:      quotes,
		filterMerge: FilterMergeOr,
		columns:     defaultColumns,
		pageRange:   [2]int{0, -1},
		done:        make(chan struct{}),
	}
}

// Subscribe adopts the request's view state, acknowledges, and starts the
// realtime dispatcher.
func (s *Session) Subscribe(ctx context.Context, req *SubscribeRequest) error {
	s.mu.Lock()
	s.universe = req.Universe
	if len(req.Columns) > 0 {
		s.columns = req.Columns
	}
	if len(req.Range) >= 2 {
		s.pageRange = [2]int{req.Range[0], req.Range[1]}
	}
	s.filters = req.Filters
	if req.FilterMerge != "" {
		s.filterMerge = req.FilterMerge
	}
	s.sortFields = withNameTiebreaker(req.Sort)
	s.mu.Unlock()

	s.prefetchLiveSymbols()
	if err := s.send.SendJSON(SubscribedResponse{T: ResponseSubscribed, SessionID: s.id}); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.runRealtime(loopCtx)
	return nil
}

// Patch applies the fields present in the request. When anything changed it
// acknowledges, re-sends the full page and refreshes the live symbol set.
func (s *Session) Patch(req *PatchRequest) error {
	s.mu.Lock()
	patched := false
	if req.FilterMerge != nil {
		patched = true
		s.filterMerge = *req.FilterMerge
	}
	if req.Columns != nil {
		patched = true
		if len(*req.Columns) == 0 {
			s.columns = []string{"name"}
		} else {
			s.columns = *req.Columns
		}
	}
	if req.Filters != nil {
		patched = true
		s.filters = *req.Filters
	}
	if req.Range != nil {
		patched = true
		s.pageRange = *req.Range
	}
	if req.Sort != nil {
		patched = true
		s.sortFields = withNameTiebreaker(*req.Sort)
	}
	s.mu.Unlock()

	if !patched {
		return nil
	}
	if err := s.send.SendJSON(PatchedResponse{T: ResponsePatched, SessionID: s.id}); err != nil {
		return err
	}
	if err := s.DispatchFullResponse(); err != nil {
		return err
	}
	s.prefetchLiveSymbols()
	return nil
}

// SetUniverse replaces the session's universe and re-sends the full page
func (s *Session) SetUniverse(req *SetUniverseRequest) error {
	s.mu.Lock()
	s.universe = req.Universe
	s.mu.Unlock()

	if err := s.DispatchFullResponse(); err != nil {
		return err
	}
	s.prefetchLiveSymbols()
	return nil
}

// Unsubscribe cancels the realtime dispatcher and waits for it to exit
func (s *Session) Unsubscribe() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// DispatchFullResponse sends one page of the current view. A range whose
// end precedes its start, or is negative, means the client does not want
// full pages and nothing is sent.
func (s *Session) DispatchFullResponse() error {
	s.mu.Lock()
	start, end := s.pageRange[0], s.pageRange[1]
	columns := s.columns
	filters := s.filters
	merge := s.filterMerge
	sortFields := s.sortFields
	universe := s.universe
	s.mu.Unlock()

	if end < start || end < 0 {
		return nil
	}
	offset := start
	limit := end - start

	totalSQL, err := BuildSQL(Query{
		Table:       models.SymbolsTableName,
		Columns:     []string{"ticker"},
		Filters:     filters,
		FilterMerge: merge,
		Universe:    universe,
	})
	if err != nil {
		return s.sendError(err)
	}
	_, totalRows, err := s.store.QueryValues(totalSQL)
	if err != nil {
		return s.sendError(err)
	}

	pageSQL, err := BuildSQL(Query{
		Table:       models.SymbolsTableName,
		Columns:     columns,
		Filters:     filters,
		FilterMerge: merge,
		Sort:        sortFields,
		Limit:       &limit,
		Offset:      &offset,
		Universe:    universe,
	})
	if err != nil {
		return s.sendError(err)
	}
	cols, data, err := s.store.QueryValues(pageSQL)
	if err != nil {
		return s.sendError(err)
	}

	return s.send.SendJSON(FullResponse{
		T:         ResponseFull,
		SessionID: s.id,
		C:         cols,
		D:         data,
		Range:     [2]int{start, end},
		Total:     len(totalRows),
	})
}

// prefetchLiveSymbols materializes the filtered symbol projection the
// realtime loop fetches quotes for.
func (s *Session) prefetchLiveSymbols() {
	s.mu.Lock()
	filters := s.filters
	merge := s.filterMerge
	sortFields := s.sortFields
	universe := s.universe
	s.mu.Unlock()

	query, err := BuildSQL(Query{
		Table:       models.SymbolsTableName,
		Columns:     liveSymbolColumns,
		Filters:     filters,
		FilterMerge: merge,
		Sort:        sortFields,
		Universe:    universe,
	})
	if err != nil {
		zaplogger.Error("Live symbol query build failed", zaplogger.Fields{"session": s.id, "error": err.Error()})
		return
	}
	records, err := s.store.QueryRecords(query)
	if err != nil {
		zaplogger.Error("Live symbol prefetch failed", zaplogger.Fields{"session": s.id, "error": err.Error()})
		return
	}

	symbols := make([]LiveSymbol, 0, len(records))
	for _, rec := range records {
		symbols = append(symbols, LiveSymbol{
			Ticker:   asString(rec["ticker"]),
			Name:     asString(rec["name"]),
			Isin:     asString(rec["isin"]),
			Type:     asString(rec["type"]),
			Exchange: asString(rec["exchange"]),
		})
	}

	s.mu.Lock()
	s.liveSymbols = symbols
	s.mu.Unlock()
}

func (s *Session) runRealtime(ctx context.Context) {
	defer close(s.done)
	for {
		s.dispatchRealtime(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(realtimeInterval):
		}
	}
}

// dispatchRealtime pushes one round of quote batches. Without a token there
// is no upstream credential, so the loop idles.
func (s *Session) dispatchRealtime(ctx context.Context) {
	s.mu.Lock()
	symbols := s.liveSymbols
	s.mu.Unlock()

	if s.token == "" || len(symbols) == 0 {
		return
	}

	batches, err := s.quotes.FetchQuotes(ctx, symbols, s.token)
	if err != nil {
		if ctx.Err() == nil {
			zaplogger.Warn("Quote fetch failed", zaplogger.Fields{"session": s.id, "error": err.Error()})
		}
		return
	}
	for _, rows := range batches {
		if len(rows) == 0 {
			continue
		}
		if err := s.send.SendJSON(PartialResponse{T: ResponsePartial, SessionID: s.id, D: rows}); err != nil {
			zaplogger.Warn("Partial response send failed", zaplogger.Fields{"session": s.id, "error": err.Error()})
			return
		}
	}
}

func (s *Session) sendError(err error) error {
	zaplogger.Error("Screener query failed", zaplogger.Fields{"session": s.id, "error": err.Error()})
	return s.send.SendJSON(ErrorResponse{T: ResponseError, Msg: err.Error()})
}

// withNameTiebreaker appends a name ASC key so pagination stays stable when
// sort values repeat across rows.
func withNameTiebreaker(sortFields []SortField) []SortField {
	out := make([]SortField, 0, len(sortFields)+1)
	out = append(out, sortFields...)
	return append(out, SortField{ColID: "name", Sort: "ASC"})
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}
