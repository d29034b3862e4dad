package screener

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu     sync.Mutex
	frames []interface{}
}

func (s *fakeSender) SendJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, v)
	return nil
}

func (s *fakeSender) snapshot() []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]interface{}, len(s.frames))
	copy(out, s.frames)
	return out
}

type fakeQuerier struct {
	mu      sync.Mutex
	queries []string
	records []map[string]interface{}
	cols    []string
	rows    [][]interface{}
}

func (q *fakeQuerier) QueryValues(query string) ([]string, [][]interface{}, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queries = append(q.queries, query)
	return q.cols, q.rows, nil
}

func (q *fakeQuerier) QueryRecords(query string) ([]map[string]interface{}, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queries = append(q.queries, query)
	return q.records, nil
}

func (q *fakeQuerier) seenQueries() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.queries))
	copy(out, q.queries)
	return out
}

type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	batches [][]map[string]interface{}
}

func (f *fakeFetcher) FetchQuotes(ctx context.Context, symbols []LiveSymbol, token string) ([][]map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.batches, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("condition not met in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func marshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func newTestManager() (*Manager, *fakeSender, *fakeQuerier, *fakeFetcher) {
	sender := &fakeSender{}
	store := &fakeQuerier{
		cols: []string{"ticker", "name"},
		rows: [][]interface{}{{"NSE:TCS", "TCS"}, {"NSE:INFY", "Infosys"}},
		records: []map[string]interface{}{
			{"ticker": "NSE:TCS", "name": "TCS", "isin": "INE467B01029", "type": "stock", "exchange": "NSE"},
		},
	}
	fetcher := &fakeFetcher{batches: [][]map[string]interface{}{{{"ticker": "NSE:TCS", "day_close": 4100.0}}}}
	return NewManager(sender, store, fetcher), sender, store, fetcher
}

func TestManagerSubscribeAcknowledges(t *testing.T) {
	manager, sender, store, _ := newTestManager()
	defer manager.Close()

	manager.HandleMessage(context.Background(), marshal(t, map[string]interface{}{
		"t": "SCREENER_SUBSCRIBE", "session_id": "s1",
	}))

	frames := sender.snapshot()
	require.Len(t, frames, 1)
	ack, ok := frames[0].(SubscribedResponse)
	require.True(t, ok)
	assert.Equal(t, "s1", ack.SessionID)

	// Subscribe prefetches the live-symbol projection with the name ASC
	// tiebreaker appended.
	queries := store.seenQueries()
	require.Len(t, queries, 1)
	assert.Contains(t, queries[0], `"ticker", "name", "isin", "type", "exchange"`)
	assert.Contains(t, queries[0], `ORDER BY "name" ASC NULLS LAST`)
}

func TestManagerDuplicateSubscribe(t *testing.T) {
	manager, sender, _, _ := newTestManager()
	defer manager.Close()

	sub := marshal(t, map[string]interface{}{"t": "SCREENER_SUBSCRIBE", "session_id": "s1"})
	manager.HandleMessage(context.Background(), sub)
	manager.HandleMessage(context.Background(), sub)

	frames := sender.snapshot()
	require.Len(t, frames, 2)
	dup, ok := frames[1].(DuplicateResponse)
	require.True(t, ok)
	assert.Equal(t, "s1", dup.SessionID)
}

func TestManagerUnknownEvent(t *testing.T) {
	manager, sender, _, _ := newTestManager()
	defer manager.Close()

	manager.HandleMessage(context.Background(), []byte(`{"t":"BOGUS_EVENT"}`))

	frames := sender.snapshot()
	require.Len(t, frames, 1)
	assert.Equal(t, map[string]string{"error": "Unknown event type"}, frames[0])
}

func TestPatchWithoutFieldsIsSilent(t *testing.T) {
	manager, sender, _, _ := newTestManager()
	defer manager.Close()

	manager.HandleMessage(context.Background(), marshal(t, map[string]interface{}{
		"t": "SCREENER_SUBSCRIBE", "session_id": "s1",
	}))
	manager.HandleMessage(context.Background(), marshal(t, map[string]interface{}{
		"t": "SCREENER_PATCH", "session_id": "s1",
	}))

	// Only the subscribe ack; an empty patch changes nothing.
	assert.Len(t, sender.snapshot(), 1)
}

func TestPatchEmptyColumnsFallsBackToName(t *testing.T) {
	manager, sender, store, _ := newTestManager()
	defer manager.Close()

	manager.HandleMessage(context.Background(), marshal(t, map[string]interface{}{
		"t": "SCREENER_SUBSCRIBE", "session_id": "s1", "range": []int{0, 10},
	}))
	manager.HandleMessage(context.Background(), marshal(t, map[string]interface{}{
		"t": "SCREENER_PATCH", "session_id": "s1", "columns": []string{},
	}))

	frames := sender.snapshot()
	require.Len(t, frames, 3)
	_, ok := frames[1].(PatchedResponse)
	require.True(t, ok)
	full, ok := frames[2].(FullResponse)
	require.True(t, ok)
	assert.Equal(t, [2]int{0, 10}, full.Range)
	assert.Equal(t, 2, full.Total)

	// The page query selects only the fallback column
	queries := store.seenQueries()
	page := queries[len(queries)-2]
	assert.Contains(t, page, `SELECT "name" FROM`)
	assert.Contains(t, page, "OFFSET 0 LIMIT 10")
}

func TestPatchSentinelRangeSkipsFullResponse(t *testing.T) {
	manager, sender, _, _ := newTestManager()
	defer manager.Close()

	manager.HandleMessage(context.Background(), marshal(t, map[string]interface{}{
		"t": "SCREENER_SUBSCRIBE", "session_id": "s1",
	}))
	manager.HandleMessage(context.Background(), marshal(t, map[string]interface{}{
		"t": "SCREENER_PATCH", "session_id": "s1", "filter_merge": "AND",
	}))

	frames := sender.snapshot()
	require.Len(t, frames, 2)
	_, ok := frames[1].(PatchedResponse)
	assert.True(t, ok)
}

func TestSetUniverseDispatchesFullResponse(t *testing.T) {
	manager, sender, store, _ := newTestManager()
	defer manager.Close()

	manager.HandleMessage(context.Background(), marshal(t, map[string]interface{}{
		"t": "SCREENER_SUBSCRIBE", "session_id": "s1", "range": []int{0, 5},
	}))
	manager.HandleMessage(context.Background(), marshal(t, map[string]interface{}{
		"t": "SCREENER_SET_UNIVERSE", "session_id": "s1", "universe": []string{"NSE:TCS"},
	}))

	frames := sender.snapshot()
	require.Len(t, frames, 2)
	full, ok := frames[1].(FullResponse)
	require.True(t, ok)
	assert.Equal(t, []string{"ticker", "name"}, full.C)

	queries := store.seenQueries()
	assert.Contains(t, queries[len(queries)-1], "ticker IN ('NSE:TCS')")
}

func TestRealtimeLoopRequiresToken(t *testing.T) {
	manager, sender, _, fetcher := newTestManager()
	defer manager.Close()

	manager.HandleMessage(context.Background(), marshal(t, map[string]interface{}{
		"t": "SCREENER_SUBSCRIBE", "session_id": "s1",
	}))

	// Without AUTH the loop idles and never hits the upstream
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, fetcher.callCount())
	assert.Len(t, sender.snapshot(), 1)
}

func TestRealtimeLoopDispatchesPartials(t *testing.T) {
	manager, sender, _, fetcher := newTestManager()

	manager.HandleMessage(context.Background(), marshal(t, map[string]interface{}{
		"t": "AUTH", "token": "bearer-token",
	}))
	manager.HandleMessage(context.Background(), marshal(t, map[string]interface{}{
		"t": "SCREENER_SUBSCRIBE", "session_id": "s1",
	}))

	waitFor(t, func() bool { return fetcher.callCount() >= 1 })
	waitFor(t, func() bool { return len(sender.snapshot()) >= 2 })

	frames := sender.snapshot()
	partial, ok := frames[1].(PartialResponse)
	require.True(t, ok)
	assert.Equal(t, "s1", partial.SessionID)
	require.Len(t, partial.D, 1)
	assert.Equal(t, "NSE:TCS", partial.D[0]["ticker"])

	manager.Close()
	calls := fetcher.callCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, fetcher.callCount())
}

func TestAuthSentinelLeavesConnectionUnauthenticated(t *testing.T) {
	manager, _, _, fetcher := newTestManager()
	defer manager.Close()

	manager.HandleMessage(context.Background(), marshal(t, map[string]interface{}{
		"t": "AUTH", "token": "no_auth",
	}))
	manager.HandleMessage(context.Background(), marshal(t, map[string]interface{}{
		"t": "SCREENER_SUBSCRIBE", "session_id": "s1",
	}))

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, fetcher.callCount())
}

func TestUnsubscribeRemovesSession(t *testing.T) {
	manager, sender, _, _ := newTestManager()
	defer manager.Close()

	sub := marshal(t, map[string]interface{}{"t": "SCREENER_SUBSCRIBE", "session_id": "s1"})
	manager.HandleMessage(context.Background(), sub)
	manager.HandleMessage(context.Background(), marshal(t, map[string]interface{}{
		"t": "SCREENER_UNSUBSCRIBE", "session_id": "s1",
	}))

	// The id is free again: resubscribe succeeds instead of duplicating
	manager.HandleMessage(context.Background(), sub)
	frames := sender.snapshot()
	require.Len(t, frames, 2)
	_, ok := frames[1].(SubscribedResponse)
	assert.True(t, ok)
}
