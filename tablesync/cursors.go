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
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/nikonline-oss/tablesync/common"
)

// CursorBoard tracks the last-known cursor position of each subscriber per
// table. Positions are opaque client data; the only contract is
// last-write-wins per (table, user).
type CursorBoard interface {
	// Move overwrite-only upsert of userID's cursor in tableID
	Move(tableID, userID string, position json.RawMessage, now time.Time)
	// RemoveFor discard userID's cursor in tableID
	RemoveFor(tableID, userID string)
	// Snapshot copy of tableID's userID => cursor entry map
	Snapshot(tableID string) map[string]CursorEntry
	// DropTable discard all cursor state of tableID
	DropTable(tableID string)
}

// cursorBoardImpl implements CursorBoard
type cursorBoardImpl struct {
	common.Component
	lock sync.RWMutex
	// cursors is tableID => userID => entry
	cursors map[string]map[string]CursorEntry
}

// DefineCursorBoard create new cursor board
func DefineCursorBoard() (CursorBoard, error) {
	logTags := log.Fields{
		"module": "tablesync", "component": "cursor-board",
	}
	return &cursorBoardImpl{
		Component: common.Component{LogTags: logTags},
		cursors:   make(map[string]map[string]CursorEntry),
	}, nil
}

// Move overwrite-only upsert of userID's cursor in tableID
func (c *cursorBoardImpl) Move(
	tableID, userID string, position json.RawMessage, now time.Time,
) {
	c.lock.Lock()
	defer c.lock.Unlock()
	entries, ok := c.cursors[tableID]
	if !ok {
		entries = make(map[string]CursorEntry)
		c.cursors[tableID] = entries
	}
	entries[userID] = CursorEntry{Position: position, LastUpdated: now}
}

// RemoveFor discard userID's cursor in tableID
func (c *cursorBoardImpl) RemoveFor(tableID, userID string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if entries, ok := c.cursors[tableID]; ok {
		delete(entries, userID)
	}
}

// Snapshot copy of tableID's userID => cursor entry map
func (c *cursorBoardImpl) Snapshot(tableID string) map[string]CursorEntry {
	c.lock.RLock()
	defer c.lock.RUnlock()
	result := make(map[string]CursorEntry, len(c.cursors[tableID]))
	for userID, entry := range c.cursors[tableID] {
		result[userID] = entry
	}
	return result
}

// DropTable discard all cursor state of tableID
func (c *cursorBoardImpl) DropTable(tableID string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if _, ok := c.cursors[tableID]; ok {
		delete(c.cursors, tableID)
		log.WithFields(c.LogTags).Debugf("Dropped cursor state of table %s", tableID)
	}
}
