// Package screener hosts WebSocket screener sessions: SQL-backed pages over
// the symbol feature table with a periodic live quote overlay.
package screener

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Request discriminators
const (
	RequestAuth        = "AUTH"
	RequestSubscribe   = "SCREENER_SUBSCRIBE"
	RequestPatch       = "SCREENER_PATCH"
	RequestUnsubscribe = "SCREENER_UNSUBSCRIBE"
	RequestSetUniverse = "SCREENER_SET_UNIVERSE"
)

// Response discriminators
const (
	ResponseSubscribed = "SCREENER_SUBSCRIBED"
	ResponsePatched    = "SCREENER_PATCHED"
	ResponseFull       = "SCREENER_FULL_RESPONSE"
	ResponsePartial    = "SCREENER_PARTIAL_RESPONSE"
	ResponseDuplicate  = "SCREENER_DUPLICATE"
	ResponseError      = "SCREENER_ERROR"
)

// ErrUnknownEvent is returned for discriminators no request type claims
var ErrUnknownEvent = errors.New("Unknown event type")

// Filter is one node of the restricted filter grammar. Leaf nodes carry a
// column, an operator type and an optional comparison value; join nodes
// (filterType "join") combine child conditions with AND or OR.
type Filter struct {
	FilterType string      `json:"filterType,omitempty"`
	Type       string      `json:"type"`
	ColID      string      `json:"colId,omitempty"`
	Value      interface{} `json:"filter,omitempty"`
	Conditions []Filter    `json:"conditions,omitempty"`
}

// SortField orders a result page by one column
type SortField struct {
	ColID string `json:"colId"`
	Sort  string `json:"sort"`
}

// AuthRequest installs a bearer token on the connection. The sentinel
// value "no_auth" leaves the connection unauthenticated.
type AuthRequest struct {
	T     string `json:"t"`
	Token string `json:"token"`
}

// SubscribeRequest opens a screener session. A nil universe means the whole
// symbol table; a non-nil universe restricts it to a watchlist.
type SubscribeRequest struct {
	T           string      `json:"t"`
	SessionID   string      `json:"session_id"`
	Filters     []Filter    `json:"filters"`
	FilterMerge string      `json:"filter_merge"`
	Sort        []SortField `json:"sort"`
	Columns     []string    `json:"columns"`
	Range       []int       `json:"range"`
	Universe    *[]string   `json:"universe"`
}

// PatchRequest updates a subset of a session's view state. Nil fields are
// left untouched.
type PatchRequest struct {
	T           string       `json:"t"`
	SessionID   string       `json:"session_id"`
	Filters     *[]Filter    `json:"filters"`
	FilterMerge *string      `json:"filter_merge"`
	Sort        *[]SortField `json:"sort"`
	Columns     *[]string    `json:"columns"`
	Range       *[2]int      `json:"range"`
}

// UnsubscribeRequest tears down a session
type UnsubscribeRequest struct {
	T         string `json:"t"`
	SessionID string `json:"session_id"`
}

// SetUniverseRequest replaces a session's universe
type SetUniverseRequest struct {
	T         string    `json:"t"`
	SessionID string    `json:"session_id"`
	Universe  *[]string `json:"universe"`
}

// SubscribedResponse acknowledges a subscribe
type SubscribedResponse struct {
	T         string `json:"t"`
	SessionID string `json:"session_id"`
}

// PatchedResponse acknowledges a patch that changed something
type PatchedResponse struct {
	T         string `json:"t"`
	SessionID string `json:"session_id"`
}

// FullResponse carries one page of the session's view: column names and
// row-major values, plus the requested range and the unpaged total.
type FullResponse struct {
	T         string          `json:"t"`
	SessionID string          `json:"session_id"`
	C         []string        `json:"c"`
	D         [][]interface{} `json:"d"`
	Range     [2]int          `json:"range"`
	Total     int             `json:"total"`
}

// PartialResponse carries one batch of live quote rows. Rows hold only the
// fields the upstream supplied; clients merge them into the last full page.
type PartialResponse struct {
	T         string                   `json:"t"`
	SessionID string                   `json:"session_id"`
	D         []map[string]interface{} `json:"d"`
}

// DuplicateResponse rejects a subscribe for an already-open session id
type DuplicateResponse struct {
	T         string `json:"t"`
	SessionID string `json:"session_id"`
}

// ErrorResponse reports a session-level failure
type ErrorResponse struct {
	T   string `json:"t"`
	Msg string `json:"msg"`
}

// ParseRequest decodes one inbound frame by its "t" discriminator
func ParseRequest(data []byte) (interface{}, error) {
	var head struct {
		T string `json:"t"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	switch head.T {
	case RequestAuth:
		req := AuthRequest{Token: "no_auth"}
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, err
		}
		return &req, nil
	case RequestSubscribe:
		req := SubscribeRequest{FilterMerge: FilterMergeOr}
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, err
		}
		if req.SessionID == "" {
			return nil, errors.New("session_id is required")
		}
		return &req, nil
	case RequestPatch:
		var req PatchRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, err
		}
		return &req, nil
	case RequestUnsubscribe:
		var req UnsubscribeRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, err
		}
		return &req, nil
	case RequestSetUniverse:
		var req SetUniverseRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, err
		}
		return &req, nil
	}
	return nil, ErrUnknownEvent
}
