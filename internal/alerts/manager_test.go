package alerts

import (
	"testing"

	"github.com/stockterm/terminalapi/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestManagerAddRemove(t *testing.T) {
	m := NewManager()
	a1 := models.AlertModel{ID: "a1", Symbol: "NSE:TCS"}
	a2 := models.AlertModel{ID: "a2", Symbol: "NSE:TCS"}
	a3 := models.AlertModel{ID: "a3", Symbol: "NSE:INFY"}

	m.Add(a1)
	m.Add(a2)
	m.Add(a3)

	assert.Len(t, m.Get("NSE:TCS"), 2)
	assert.True(t, m.Has("NSE:INFY"))
	assert.ElementsMatch(t, []string{"NSE:TCS", "NSE:INFY"}, m.Symbols())

	m.Remove(a1)
	assert.Len(t, m.Get("NSE:TCS"), 1)
	assert.Equal(t, "a2", m.Get("NSE:TCS")[0].ID)

	// Empty buckets are pruned
	m.Remove(a2)
	assert.False(t, m.Has("NSE:TCS"))
	assert.ElementsMatch(t, []string{"NSE:INFY"}, m.Symbols())
}

func TestManagerRemoveByID(t *testing.T) {
	m := NewManager()
	m.Add(models.AlertModel{ID: "a1", Symbol: "NSE:TCS"})

	removed, ok := m.RemoveByID("a1")
	assert.True(t, ok)
	assert.Equal(t, "NSE:TCS", removed.Symbol)
	assert.False(t, m.Has("NSE:TCS"))

	_, ok = m.RemoveByID("missing")
	assert.False(t, ok)
}

func TestManagerUpdateMovesSymbol(t *testing.T) {
	m := NewManager()
	m.Add(models.AlertModel{ID: "a1", Symbol: "NSE:TCS"})
	m.Update(models.AlertModel{ID: "a1", Symbol: "NSE:INFY"})

	assert.False(t, m.Has("NSE:TCS"))
	assert.Len(t, m.Get("NSE:INFY"), 1)
}

func TestManagerGetReturnsSnapshot(t *testing.T) {
	m := NewManager()
	m.Add(models.AlertModel{ID: "a1", Symbol: "NSE:TCS"})

	snapshot := m.Get("NSE:TCS")
	m.Remove(snapshot[0])

	// The snapshot survives index mutation
	assert.Equal(t, "a1", snapshot[0].ID)
	assert.Nil(t, m.Get("NSE:TCS"))
}
