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
	"sync"

	"github.com/apex/log"
	"github.com/nikonline-oss/tablesync/common"
)

// LockTable tracks exclusive per-cell edit locks. A cell is either unlocked
// or held by exactly one user identity; acquisition is an immediate
// try-once decision with no wait queue.
type LockTable interface {
	// TryLock attempt to acquire the lock on (tableID, cell) for userID.
	// Returns whether the caller now holds the lock, and whether this call
	// changed lock state. Re-entrant acquisition by the current holder
	// grants without a state change.
	TryLock(tableID, cell, userID string) (granted bool, changed bool)
	// Unlock release (tableID, cell) if userID is the current holder.
	// A non-holder request is a no-op returning false.
	Unlock(tableID, cell, userID string) bool
	// ReleaseAllFor release every cell in tableID held by userID, returning
	// the released cells
	ReleaseAllFor(tableID, userID string) []string
	// IsEditable whether (tableID, cell) is unlocked or held by userID
	IsEditable(tableID, cell, userID string) bool
	// Snapshot copy of tableID's cell => holder map
	Snapshot(tableID string) map[string]string
	// DropTable discard all lock state of tableID
	DropTable(tableID string)
}

// lockTableImpl implements LockTable
type lockTableImpl struct {
	common.Component
	lock sync.RWMutex
	// holders is tableID => cell => holder userID
	holders map[string]map[string]string
}

// DefineLockTable create new cell lock table
func DefineLockTable() (LockTable, error) {
	logTags := log.Fields{
		"module": "tablesync", "component": "lock-table",
	}
	return &lockTableImpl{
		Component: common.Component{LogTags: logTags},
		holders:   make(map[string]map[string]string),
	}, nil
}

// TryLock attempt to acquire the lock on (tableID, cell) for userID as a
// single check-and-set under the table mutex
func (t *lockTableImpl) TryLock(tableID, cell, userID string) (bool, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()
	cells, ok := t.holders[tableID]
	if !ok {
		cells = make(map[string]string)
		t.holders[tableID] = cells
	}
	holder, locked := cells[cell]
	if !locked {
		cells[cell] = userID
		log.WithFields(t.LogTags).Debugf(
			"Cell %s/%s locked by %s", tableID, cell, userID,
		)
		return true, true
	}
	return holder == userID, false
}

// Unlock release (tableID, cell) if userID is the current holder
func (t *lockTableImpl) Unlock(tableID, cell, userID string) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	cells, ok := t.holders[tableID]
	if !ok {
		return false
	}
	if holder, locked := cells[cell]; !locked || holder != userID {
		return false
	}
	delete(cells, cell)
	log.WithFields(t.LogTags).Debugf(
		"Cell %s/%s unlocked by %s", tableID, cell, userID,
	)
	return true
}

// ReleaseAllFor release every cell in tableID held by userID
func (t *lockTableImpl) ReleaseAllFor(tableID, userID string) []string {
	t.lock.Lock()
	defer t.lock.Unlock()
	released := []string{}
	cells, ok := t.holders[tableID]
	if !ok {
		return released
	}
	for cell, holder := range cells {
		if holder == userID {
			released = append(released, cell)
		}
	}
	for _, cell := range released {
		delete(cells, cell)
	}
	if len(released) > 0 {
		log.WithFields(t.LogTags).Debugf(
			"Released %d cells in table %s held by %s", len(released), tableID, userID,
		)
	}
	return released
}

// IsEditable whether (tableID, cell) is unlocked or held by userID
func (t *lockTableImpl) IsEditable(tableID, cell, userID string) bool {
	t.lock.RLock()
	defer t.lock.RUnlock()
	cells, ok := t.holders[tableID]
	if !ok {
		return true
	}
	holder, locked := cells[cell]
	return !locked || holder == userID
}

// Snapshot copy of tableID's cell => holder map
func (t *lockTableImpl) Snapshot(tableID string) map[string]string {
	t.lock.RLock()
	defer t.lock.RUnlock()
	result := make(map[string]string, len(t.holders[tableID]))
	for cell, holder := range t.holders[tableID] {
		result[cell] = holder
	}
	return result
}

// DropTable discard all lock state of tableID
func (t *lockTableImpl) DropTable(tableID string) {
	t.lock.Lock()
	defer t.lock.Unlock()
	delete(t.holders, tableID)
}
