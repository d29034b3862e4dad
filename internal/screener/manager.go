package screener

import (
	"context"

	"github.com/stockterm/terminalapi/pkg/utils/zaplogger"
)

// Manager multiplexes the screener sessions of one WebSocket connection.
// It is owned by the connection's read loop: HandleMessage and Close are
// only ever called from there, so the session table needs no lock.
type Manager struct {
	send     Sender
	store    SymbolQuerier
	quotes   QuoteFetcher
	token    string
	sessions map[string]*Session
}

// NewManager creates a manager for one connection
func NewManager(send Sender, store SymbolQuerier, quotes QuoteFetcher) *Manager {
	return &Manager{
		send:     send,
		store:    store,
		quotes:   quotes,
		sessions: make(map[string]*Session),
	}
}

// HandleMessage processes one inbound frame. Malformed frames and unknown
// discriminators are reported back on the connection, not fatal.
func (m *Manager) HandleMessage(ctx context.Context, data []byte) {
	req, err := ParseRequest(data)
	if err != nil {
		zaplogger.Warn("Screener request rejected", zaplogger.Fields{"error": err.Error()})
		if sendErr := m.send.SendJSON(map[string]string{"error": err.Error()}); sendErr != nil {
			zaplogger.Warn("Screener error send failed", zaplogger.Fields{"error": sendErr.Error()})
		}
		return
	}

	switch r := req.(type) {
	case *AuthRequest:
		m.onAuth(r)
	case *SubscribeRequest:
		m.onSubscribe(ctx, r)
	case *UnsubscribeRequest:
		m.onUnsubscribe(r)
	case *PatchRequest:
		m.onPatch(r)
	case *SetUniverseRequest:
		m.onSetUniverse(r)
	}
}

// Close tears down every session, called on disconnect
func (m *Manager) Close() {
	for _, session := range m.sessions {
		session.Unsubscribe()
	}
	m.sessions = make(map[string]*Session)
}

func (m *Manager) onAuth(req *AuthRequest) {
	if req.Token != "no_auth" {
		m.token = req.Token
	}
}

func (m *Manager) onSubscribe(ctx context.Context, req *SubscribeRequest) {
	if _, exists := m.sessions[req.SessionID]; exists {
		if err := m.send.SendJSON(DuplicateResponse{T: ResponseDuplicate, SessionID: req.SessionID}); err != nil {
			zaplogger.Warn("Duplicate response send failed", zaplogger.Fields{"session": req.SessionID, "error": err.Error()})
		}
		return
	}

	session := newSession(req.SessionID, m.token, m.send, m.store, m.quotes)
	m.sessions[req.SessionID] = session
	if err := session.Subscribe(ctx, req); err != nil {
		zaplogger.Warn("Screener subscribe failed", zaplogger.Fields{"session": req.SessionID, "error": err.Error()})
	}
}

func (m *Manager) onUnsubscribe(req *UnsubscribeRequest) {
	session, exists := m.sessions[req.SessionID]
	if !exists {
		return
	}
	session.Unsubscribe()
	delete(m.sessions, req.SessionID)
}

func (m *Manager) onPatch(req *PatchRequest) {
	session, exists := m.sessions[req.SessionID]
	if !exists {
		return
	}
	if err := session.Patch(req); err != nil {
		zaplogger.Warn("Screener patch failed", zaplogger.Fields{"session": req.SessionID, "error": err.Error()})
	}
}

func (m *Manager) onSetUniverse(req *SetUniverseRequest) {
	session, exists := m.sessions[req.SessionID]
	if !exists {
		return
	}
	if err := session.SetUniverse(req); err != nil {
		zaplogger.Warn("Screener set universe failed", zaplogger.Fields{"session": req.SessionID, "error": err.Error()})
	}
}
