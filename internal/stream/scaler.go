package stream

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stockterm/terminalapi/pkg/utils/zaplogger"
)

const scalerEventQueueCapacity = 4096

// StreamingNode is one upstream connection and its bounded ticker set
type StreamingNode struct {
	ID      string
	Tickers map[string]bool
	Cap     int
}

type nodeTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Scaler shards a dynamic ticker universe across at most maxConnections
// upstream connections, each capped at maxTickersPerConnection symbols.
// Tickers beyond total capacity are silently dropped. Events from all nodes
// fan into a single bounded channel; quote events are replaceable, so the
// oldest event is dropped when the channel is full.
type Scaler struct {
	fields                  []string
	maxConnections          int
	maxTickersPerConnection int
	reconnectDelay          time.Duration
	reconnectAttempts       int

	mu           sync.Mutex
	nodes        map[string]*StreamingNode
	tickerToNode map[string]string
	tasks        map[string]*nodeTask
	streamers    map[string]*QuoteStreamer
	quotes       map[string]map[string]interface{}
	events       chan Event
	running      bool
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewScaler creates a stopped scaler
func NewScaler(fields []string, maxConnections, maxTickersPerConnection int) *Scaler {
	return &Scaler{
		fields:                  fields,
		maxConnections:          maxConnections,
		maxTickersPerConnection: maxTickersPerConnection,
		reconnectDelay:          5 * time.Second,
		reconnectAttempts:       3,
		nodes:                   make(map[string]*StreamingNode),
		tickerToNode:            make(map[string]string),
		tasks:                   make(map[string]*nodeTask),
		streamers:               make(map[string]*QuoteStreamer),
		quotes:                  make(map[string]map[string]interface{}),
		events:                  make(chan Event, scalerEventQueueCapacity),
	}
}

// Start makes the scaler accept ticker assignments. Idempotent.
func (s *Scaler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	zaplogger.Info("Scaler started", zaplogger.Fields{
		"max_connections": s.maxConnections,
		"max_tickers":     s.maxTickersPerConnection,
	})
}

// Stop cancels every node and clears all state
func (s *Scaler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	tasks := make([]*nodeTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.nodes = make(map[string]*StreamingNode)
	s.tickerToNode = make(map[string]string)
	s.tasks = make(map[string]*nodeTask)
	s.streamers = make(map[string]*QuoteStreamer)
	s.quotes = make(map[string]map[string]interface{})
	s.mu.Unlock()

	for _, t := range tasks {
		<-t.done
	}
	zaplogger.Info("Scaler stopped", nil)
}

// Events returns the fan-in event stream across all nodes. Ordering across
// tickers on different nodes is unspecified; per-ticker order follows the
// wire.
func (s *Scaler) Events() <-chan Event {
	return s.events
}

// AddTickers assigns new tickers to nodes: existing nodes are filled to
// capacity first, then fresh nodes are created until maxConnections.
// Already-assigned tickers are discarded; tickers beyond total capacity
// are dropped. Every node whose set changed is restarted with its full
// current list.
func (s *Scaler) AddTickers(tickers []string) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}

	unassigned := make([]string, 0, len(tickers))
	for _, t := range tickers {
		if _, ok := s.tickerToNode[t]; !ok {
			unassigned = append(unassigned, t)
		}
	}
	if len(unassigned) == 0 {
		s.mu.Unlock()
		return
	}

	changed := make(map[string]bool)

	for _, nodeID := range s.sortedNodeIDs() {
		node := s.nodes[nodeID]
		capacity := node.Cap - len(node.Tickers)
		if capacity <= 0 || len(unassigned) == 0 {
			continue
		}
		if capacity > len(unassigned) {
			capacity = len(unassigned)
		}
		for _, t := range unassigned[:capacity] {
			node.Tickers[t] = true
			s.tickerToNode[t] = nodeID
		}
		unassigned = unassigned[capacity:]
		changed[nodeID] = true
	}

	for len(unassigned) > 0 && len(s.nodes) < s.maxConnections {
		nodeID := s.nextNodeID()
		batch := unassigned
		if len(batch) > s.maxTickersPerConnection {
			batch = batch[:s.maxTickersPerConnection]
		}
		node := &StreamingNode{ID: nodeID, Tickers: make(map[string]bool, len(batch)), Cap: s.maxTickersPerConnection}
		for _, t := range batch {
			node.Tickers[t] = true
			s.tickerToNode[t] = nodeID
		}
		s.nodes[nodeID] = node
		unassigned = unassigned[len(batch):]
		changed[nodeID] = true
	}

	if len(unassigned) > 0 {
		zaplogger.Warn("Scaler capacity exhausted, dropping tickers", zaplogger.Fields{"dropped": len(unassigned)})
	}
	s.updateNodesLocked(changed)
	s.mu.Unlock()
}

// RemoveTickers drops tickers from their nodes and clears stored quotes.
// A node that still has tickers removes the symbols in place; a node left
// empty is torn down.
func (s *Scaler) RemoveTickers(tickers []string) {
	s.mu.Lock()
	affected := make(map[string][]string)
	for _, t := range tickers {
		nodeID, ok := s.tickerToNode[t]
		if !ok {
			continue
		}
		delete(s.tickerToNode, t)
		delete(s.quotes, t)
		if node, ok := s.nodes[nodeID]; ok {
			delete(node.Tickers, t)
			affected[nodeID] = append(affected[nodeID], t)
		}
	}

	changed := make(map[string]bool)
	for nodeID, symbols := range affected {
		node := s.nodes[nodeID]
		if len(node.Tickers) == 0 {
			changed[nodeID] = true
			continue
		}
		if streamer, ok := s.streamers[nodeID]; ok {
			if err := streamer.RemoveSymbols(symbols); err != nil {
				zaplogger.Warn("Failed to remove symbols from node", zaplogger.Fields{"node": nodeID, "error": err})
			}
		}
	}
	s.updateNodesLocked(changed)
	s.mu.Unlock()
}

// GetQuote returns the last merged quote for a ticker
func (s *Scaler) GetQuote(ticker string) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyQuote(s.quotes[ticker])
}

// GetAllQuotes returns a snapshot of every stored quote
func (s *Scaler) GetAllQuotes() map[string]map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]map[string]interface{}, len(s.quotes))
	for t, q := range s.quotes {
		out[t] = copyQuote(q)
	}
	return out
}

// updateNodesLocked tears down empty nodes and restarts changed ones with
// their full current ticker list. Restarting rather than incrementally
// adding keeps the session state trivially consistent with the node set.
// Caller holds s.mu.
func (s *Scaler) updateNodesLocked(changed map[string]bool) {
	for nodeID := range changed {
		node, ok := s.nodes[nodeID]
		if !ok || len(node.Tickers) == 0 {
			s.teardownNodeLocked(nodeID)
			continue
		}
		if task, ok := s.tasks[nodeID]; ok {
			task.cancel()
		}

		tickers := make([]string, 0, len(node.Tickers))
		for t := range node.Tickers {
			tickers = append(tickers, t)
		}
		sort.Strings(tickers)

		ctx, cancel := context.WithCancel(s.ctx)
		task := &nodeTask{cancel: cancel, done: make(chan struct{})}
		prev := s.tasks[nodeID]
		s.tasks[nodeID] = task
		streamer := NewQuoteStreamer(s.fields, s.reconnectDelay, s.reconnectAttempts)
		s.streamers[nodeID] = streamer
		go s.runNode(ctx, nodeID, streamer, tickers, prev, task)
	}
}

func (s *Scaler) teardownNodeLocked(nodeID string) {
	if task, ok := s.tasks[nodeID]; ok {
		task.cancel()
		delete(s.tasks, nodeID)
	}
	delete(s.streamers, nodeID)
	delete(s.nodes, nodeID)
	zaplogger.Info("Scaler node torn down", zaplogger.Fields{"node": nodeID})
}

// runNode waits out the previous incarnation, then streams until cancelled
func (s *Scaler) runNode(ctx context.Context, nodeID string, streamer *QuoteStreamer, tickers []string, prev, task *nodeTask) {
	defer close(task.done)
	if prev != nil {
		<-prev.done
	}
	zaplogger.Info("Scaler node started", zaplogger.Fields{"node": nodeID, "tickers": len(tickers)})
	streamer.StreamQuotes(ctx, tickers, func(ev Event) {
		if ev.Type == EventQuoteUpdate {
			s.mu.Lock()
			s.quotes[ev.Ticker] = ev.Data
			s.mu.Unlock()
		}
		s.publish(ev)
	})
	zaplogger.Info("Scaler node stopped", zaplogger.Fields{"node": nodeID})
}

// publish delivers an event to the fan-in channel, dropping the oldest
// buffered event when full. Quote events are replaceable so drop-oldest is
// safe; consumers needing every event must keep up.
func (s *Scaler) publish(ev Event) {
	select {
	case s.events <- ev:
		return
	default:
	}
	select {
	case <-s.events:
	default:
	}
	select {
	case s.events <- ev:
	default:
	}
}

// nextNodeID returns node_<n> for the smallest unused n, so a torn-down
// node's slot is reused. Caller holds s.mu.
func (s *Scaler) nextNodeID() string {
	for n := 1; ; n++ {
		id := fmt.Sprintf("node_%d", n)
		if _, ok := s.nodes[id]; !ok {
			return id
		}
	}
}

func (s *Scaler) sortedNodeIDs() []string {
	ids := make([]string, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NodeFor reports which node holds the ticker
func (s *Scaler) NodeFor(ticker string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.tickerToNode[ticker]
	return id, ok
}

// NodeSizes returns the ticker count per node, for diagnostics and tests
func (s *Scaler) NodeSizes() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sizes := make(map[string]int, len(s.nodes))
	for id, node := range s.nodes {
		sizes[id] = len(node.Tickers)
	}
	return sizes
}
