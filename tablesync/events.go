// Copyright 2025 The tablesync Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tablesync

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// ===============================================================================
// Inbound messages

// InboundKind enumerates the client request types the sync engine accepts
type InboundKind int

// The closed set of inbound request kinds
const (
	InboundUnknown InboundKind = iota
	InboundCellUpdate
	InboundCellLock
	InboundCursorMove
	InboundPing
)

// CellUpdate payload of a committed cell edit supplied by a client
type CellUpdate struct {
	// Cell is the coordinate of the edited cell
	Cell string `json:"cell" validate:"required"`
	// Value is the new committed cell value
	Value interface{} `json:"value"`
	// Formula is the optional formula backing the value
	Formula *string `json:"formula,omitempty"`
}

// CellLockRequest request to acquire or release the exclusive edit lock on a cell
type CellLockRequest struct {
	// Cell is the coordinate of the cell
	Cell string `json:"cell" validate:"required"`
	// Lock is true to acquire, false to release
	Lock bool `json:"lock"`
}

// InboundMessage tagged variant over the fixed inbound request kinds.
//
// Exactly the field matching Kind is populated. Decoded once at the
// transport boundary; the sync core never re-inspects raw frames.
type InboundMessage struct {
	Kind       InboundKind
	CellUpdate *CellUpdate
	CellLock   *CellLockRequest
	// CursorMove is opaque client-supplied cursor data forwarded verbatim
	CursorMove json.RawMessage
}

// inboundEnvelope transport representation of a client request
type inboundEnvelope struct {
	Type       string          `json:"type" validate:"required"`
	CellData   *CellUpdate     `json:"cell_data,omitempty"`
	Cell       string          `json:"cell,omitempty"`
	Lock       *bool           `json:"lock,omitempty"`
	CursorData json.RawMessage `json:"cursor_data,omitempty"`
}

// ParseInboundMessage decode one client frame into its tagged variant
func ParseInboundMessage(
	payload []byte, validate *validator.Validate,
) (InboundMessage, error) {
	var envelope inboundEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return InboundMessage{}, err
	}
	if err := validate.Struct(&envelope); err != nil {
		return InboundMessage{}, err
	}
	switch envelope.Type {
	case "cell_update":
		if envelope.CellData == nil {
			return InboundMessage{}, fmt.Errorf("cell_update request missing cell_data")
		}
		if err := validate.Struct(envelope.CellData); err != nil {
			return InboundMessage{}, err
		}
		return InboundMessage{Kind: InboundCellUpdate, CellUpdate: envelope.CellData}, nil
	case "cell_lock":
		if envelope.Cell == "" || envelope.Lock == nil {
			return InboundMessage{}, fmt.Errorf("cell_lock request missing cell or lock")
		}
		return InboundMessage{
			Kind:     InboundCellLock,
			CellLock: &CellLockRequest{Cell: envelope.Cell, Lock: *envelope.Lock},
		}, nil
	case "cursor_move":
		if len(envelope.CursorData) == 0 {
			return InboundMessage{}, fmt.Errorf("cursor_move request missing cursor_data")
		}
		return InboundMessage{Kind: InboundCursorMove, CursorMove: envelope.CursorData}, nil
	case "ping":
		return InboundMessage{Kind: InboundPing}, nil
	}
	return InboundMessage{}, fmt.Errorf("unknown request type '%s'", envelope.Type)
}

// ===============================================================================
// Outbound events

// Outbound event type tags
const (
	EventTypeUserJoined     = "user_joined"
	EventTypeUserLeft       = "user_left"
	EventTypeTableState     = "table_state"
	EventTypeCellUpdated    = "cell_updated"
	EventTypeCellLocked     = "cell_locked"
	EventTypeCellUnlocked   = "cell_unlocked"
	EventTypeCellLockError  = "cell_lock_error"
	EventTypeCellLockResult = "cell_lock_result"
	EventTypeCursorMoved    = "cursor_moved"
	EventTypePong           = "pong"
)

// UserJoinedEvent announces a new subscriber to a table's other subscribers
type UserJoinedEvent struct {
	Type        string    `json:"type"`
	UserID      string    `json:"user_id"`
	TableID     string    `json:"table_id"`
	ActiveUsers []string  `json:"active_users"`
	Timestamp   time.Time `json:"timestamp"`
}

// UserLeftEvent announces a subscriber leaving a table
type UserLeftEvent struct {
	Type        string    `json:"type"`
	UserID      string    `json:"user_id"`
	TableID     string    `json:"table_id"`
	ActiveUsers []string  `json:"active_users"`
	Timestamp   time.Time `json:"timestamp"`
}

// CursorEntry last-known cursor state of one subscriber
type CursorEntry struct {
	// Position is opaque client-supplied data forwarded verbatim
	Position json.RawMessage `json:"position"`
	// LastUpdated is when the owner last moved the cursor
	LastUpdated time.Time `json:"last_updated"`
}

// TableStateEvent point-in-time view snapshot sent to a new subscriber
type TableStateEvent struct {
	Type        string                 `json:"type"`
	TableID     string                 `json:"table_id"`
	ActiveUsers []string               `json:"active_users"`
	LockedCells map[string]string      `json:"locked_cells"`
	UserCursors map[string]CursorEntry `json:"user_cursors"`
}

// CellUpdatedEvent fan-out of a committed cell edit
type CellUpdatedEvent struct {
	Type      string      `json:"type"`
	TableID   string      `json:"table_id"`
	Cell      string      `json:"cell"`
	Value     interface{} `json:"value"`
	Formula   *string     `json:"formula,omitempty"`
	UserID    string      `json:"user_id"`
	Timestamp time.Time   `json:"timestamp"`
}

// CellLockedEvent fan-out of a successful exclusive lock acquisition
type CellLockedEvent struct {
	Type      string    `json:"type"`
	TableID   string    `json:"table_id"`
	Cell      string    `json:"cell"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// CellUnlockedEvent fan-out of a lock release
type CellUnlockedEvent struct {
	Type      string    `json:"type"`
	TableID   string    `json:"table_id"`
	Cell      string    `json:"cell"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// CellLockErrorEvent conflict notice sent only to the requester
type CellLockErrorEvent struct {
	Type    string `json:"type"`
	Cell    string `json:"cell"`
	Message string `json:"message"`
}

// CellLockResultEvent direct reply to a cell_lock request
type CellLockResultEvent struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Cell    string `json:"cell"`
}

// CursorMovedEvent fan-out of a cursor position change
type CursorMovedEvent struct {
	Type      string          `json:"type"`
	TableID   string          `json:"table_id"`
	UserID    string          `json:"user_id"`
	Cursor    json.RawMessage `json:"cursor"`
	Timestamp time.Time       `json:"timestamp"`
}

// PongEvent heartbeat reply
type PongEvent struct {
	Type string `json:"type"`
}

// NewPongEvent define a heartbeat reply
func NewPongEvent() PongEvent {
	return PongEvent{Type: EventTypePong}
}
