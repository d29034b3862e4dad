// Package alerts contains the alert engine for the Terminal API
package alerts

import "github.com/stockterm/terminalapi/internal/models"

// Manager maintains the in-memory symbol to alerts index. It performs no
// I/O; the engine goroutine is its only writer.
type Manager struct {
	alertsBySymbol map[string][]models.AlertModel
}

// NewManager creates an empty alert index
func NewManager() *Manager {
	return &Manager{alertsBySymbol: make(map[string][]models.AlertModel)}
}

// Add appends the alert to its symbol bucket, creating the bucket if absent
func (m *Manager) Add(alert models.AlertModel) {
	m.alertsBySymbol[alert.Symbol] = append(m.alertsBySymbol[alert.Symbol], alert)
}

// Update removes any alert with the same id anywhere in the index, then
// re-adds. The symbol may change across versions.
func (m *Manager) Update(alert models.AlertModel) {
	m.RemoveByID(alert.ID)
	m.Add(alert)
}

// Remove drops the alert by (symbol, id) and prunes the bucket when empty
func (m *Manager) Remove(alert models.AlertModel) {
	bucket, ok := m.alertsBySymbol[alert.Symbol]
	if !ok {
		return
	}
	kept := bucket[:0]
	for _, a := range bucket {
		if a.ID != alert.ID {
			kept = append(kept, a)
		}
	}
	if len(kept) == 0 {
		delete(m.alertsBySymbol, alert.Symbol)
	} else {
		m.alertsBySymbol[alert.Symbol] = kept
	}
}

// RemoveByID scans all buckets for the first alert with the given id, drops
// it and returns it. The caller needs the removed alert to manage the
// subscription for its symbol.
func (m *Manager) RemoveByID(id string) (models.AlertModel, bool) {
	for symbol, bucket := range m.alertsBySymbol {
		for i, a := range bucket {
			if a.ID == id {
				bucket = append(bucket[:i], bucket[i+1:]...)
				if len(bucket) == 0 {
					delete(m.alertsBySymbol, symbol)
				} else {
					m.alertsBySymbol[symbol] = bucket
				}
				return a, true
			}
		}
	}
	return models.AlertModel{}, false
}

// Get returns a snapshot of the bucket for the symbol. The copy lets the
// caller mutate the index while iterating.
func (m *Manager) Get(symbol string) []models.AlertModel {
	bucket := m.alertsBySymbol[symbol]
	if len(bucket) == 0 {
		return nil
	}
	snapshot := make([]models.AlertModel, len(bucket))
	copy(snapshot, bucket)
	return snapshot
}

// Has reports whether the symbol has any alerts
func (m *Manager) Has(symbol string) bool {
	return len(m.alertsBySymbol[symbol]) > 0
}

// Symbols returns every symbol with at least one alert
func (m *Manager) Symbols() []string {
	symbols := make([]string, 0, len(m.alertsBySymbol))
	for s := range m.alertsBySymbol {
		symbols = append(symbols, s)
	}
	return symbols
}
