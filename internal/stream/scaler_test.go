package stream

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestScaler(t *testing.T, maxConnections, maxTickers int) *Scaler {
	t.Helper()
	s := NewScaler(nil, maxConnections, maxTickers)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	t.Cleanup(func() {
		cancel()
		s.Stop()
	})
	return s
}

func assignedNodes(s *Scaler, tickers ...string) map[string]string {
	out := make(map[string]string, len(tickers))
	for _, t := range tickers {
		if node, ok := s.NodeFor(t); ok {
			out[t] = node
		}
	}
	return out
}

func TestScalerCapacity(t *testing.T) {
	s := newTestScaler(t, 2, 3)

	s.AddTickers([]string{"a", "b", "c", "d", "e"})
	assert.Equal(t, map[string]int{"node_1": 3, "node_2": 2}, s.NodeSizes())
	assert.Len(t, assignedNodes(s, "a", "b", "c", "d", "e"), 5)

	// One slot remains; h exceeds total capacity and is dropped
	s.AddTickers([]string{"f", "g", "h"})
	assert.Equal(t, map[string]int{"node_1": 3, "node_2": 3}, s.NodeSizes())
	_, ok := s.NodeFor("h")
	assert.False(t, ok)

	// Emptying node_1 tears it down
	s.RemoveTickers([]string{"a", "b", "c"})
	assert.Equal(t, map[string]int{"node_2": 3}, s.NodeSizes())

	// The freed slot id is reused for the next node
	s.AddTickers([]string{"h", "i"})
	assert.Equal(t, map[string]int{"node_1": 2, "node_2": 3}, s.NodeSizes())
	assert.Equal(t, "node_1", assignedNodes(s, "h")["h"])
}

func TestScalerAssignmentAgreement(t *testing.T) {
	s := newTestScaler(t, 3, 2)
	s.AddTickers([]string{"a", "b", "c", "d", "e"})

	// Every assigned ticker's node contains it, and total never exceeds
	// max_connections x max_tickers_per_connection.
	total := 0
	for _, n := range s.NodeSizes() {
		total += n
	}
	assert.Equal(t, 5, total)
	assert.LessOrEqual(t, total, 3*2)

	s.mu.Lock()
	for ticker, nodeID := range s.tickerToNode {
		assert.True(t, s.nodes[nodeID].Tickers[ticker], "ticker %s missing from node %s", ticker, nodeID)
	}
	for nodeID, node := range s.nodes {
		for ticker := range node.Tickers {
			assert.Equal(t, nodeID, s.tickerToNode[ticker])
		}
	}
	s.mu.Unlock()
}

func TestScalerIgnoresDuplicateAdds(t *testing.T) {
	s := newTestScaler(t, 2, 3)
	s.AddTickers([]string{"a", "b"})
	s.AddTickers([]string{"a", "b", "c"})
	assert.Equal(t, map[string]int{"node_1": 3}, s.NodeSizes())
}

func TestScalerRemoveUnknownTicker(t *testing.T) {
	s := newTestScaler(t, 2, 3)
	s.AddTickers([]string{"a"})
	s.RemoveTickers([]string{"zzz"})
	assert.Equal(t, map[string]int{"node_1": 1}, s.NodeSizes())
}
