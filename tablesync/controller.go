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
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/nikonline-oss/tablesync/common"
)

// TableStats monitoring snapshot of one table
type TableStats struct {
	TableID          string                 `json:"table_id"`
	ActiveUsers      []string               `json:"active_users"`
	LockedCells      map[string]string      `json:"locked_cells"`
	UserCursors      map[string]CursorEntry `json:"user_cursors"`
	TotalConnections int                    `json:"total_connections"`
}

// SyncController orchestrates session lifecycle and table view state.
//
// Connect and Disconnect are serialized through an internal event loop so
// their multi-store sequences appear atomic to concurrently connecting or
// leaving peers. Cell edit, lock, and cursor operations hit the stores
// directly under a guard held shared, which session teardown takes exclusive;
// a stale request from an already-disconnected user is rejected instead of
// recreating state behind the teardown.
type SyncController interface {
	// Start begin processing lifecycle requests
	Start(wg *sync.WaitGroup) error
	// Stop end the lifecycle event loop
	Stop() error
	// Ready whether the lifecycle event loop is running
	Ready() bool
	// Connect register a new session for userID viewing tableID. An existing
	// session for userID is fully cleaned up and its transport closed before
	// the new one is registered.
	Connect(ctxt context.Context, sink MessageSink, userID, tableID string) error
	// Disconnect tear down userID's session: release its locks, leave its
	// tables, drop its cursors, and notify former co-subscribers. Idempotent.
	Disconnect(ctxt context.Context, userID string) error
	// DisconnectSession like Disconnect, but a no-op unless sink is still the
	// registered transport for userID. Used by transport read loops so a
	// superseded connection's exit can not tear down its replacement.
	DisconnectSession(ctxt context.Context, userID string, sink MessageSink) error
	// EditCell fan a committed cell edit out to tableID's subscribers. Denied
	// with a conflict notice to the requester if another user holds the cell.
	EditCell(ctxt context.Context, tableID, userID string, update CellUpdate) bool
	// SetCellLock acquire or release the exclusive edit lock on a cell,
	// notifying subscribers only on an actual state change
	SetCellLock(ctxt context.Context, tableID, userID, cell string, wantLock bool) bool
	// MoveCursor record userID's cursor position and fan it out to the other
	// subscribers of tableID
	MoveCursor(ctxt context.Context, tableID, userID string, cursor json.RawMessage) bool
	// GetTableStats monitoring snapshot of tableID
	GetTableStats(tableID string) (TableStats, bool)
	// GetUserTables the tables userID is currently viewing
	GetUserTables(userID string) []string
	// ConnectionCount number of live sessions
	ConnectionCount() int
}

// syncControllerImpl implements SyncController
type syncControllerImpl struct {
	common.Component
	tp               common.TaskProcessor
	registry         SessionRegistry
	subscriptions    SubscriptionIndex
	locks            LockTable
	cursors          CursorBoard
	broadcast        BroadcastEngine
	operationContext context.Context
	lock             sync.Mutex
	running          bool
	// stateSync keeps a subscription check and the store mutation it gates
	// within one critical section. Cell edit, lock, and cursor calls hold it
	// shared; cleanupSession holds it exclusive while stripping per-user
	// state, so a teardown can not complete between the two.
	stateSync sync.RWMutex
}

// DefineSyncController create new session lifecycle controller
func DefineSyncController(
	ctxt context.Context,
	registry SessionRegistry,
	subscriptions SubscriptionIndex,
	locks LockTable,
	cursors CursorBoard,
	taskQueueLen int,
) (SyncController, error) {
	logTags := log.Fields{
		"module": "tablesync", "component": "sync-controller",
	}
	tp, err := common.GetNewTaskProcessorInstance("sync-controller", taskQueueLen, ctxt)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define task processor")
		return nil, err
	}
	instance := syncControllerImpl{
		Component:        common.Component{LogTags: logTags},
		tp:               tp,
		registry:         registry,
		subscriptions:    subscriptions,
		locks:            locks,
		cursors:          cursors,
		operationContext: ctxt,
	}
	engine, err := DefineBroadcastEngine(
		registry, subscriptions, instance.handleDeliveryFailure,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define broadcast engine")
		return nil, err
	}
	instance.broadcast = engine
	// Add handlers
	if err := tp.AddToTaskExecutionMap(
		reflect.TypeOf(ctrlConnectReq{}), instance.processConnectRequest,
	); err != nil {
		return nil, err
	}
	if err := tp.AddToTaskExecutionMap(
		reflect.TypeOf(ctrlDisconnectReq{}), instance.processDisconnectRequest,
	); err != nil {
		return nil, err
	}
	return &instance, nil
}

// Start begin processing lifecycle requests
func (s *syncControllerImpl) Start(wg *sync.WaitGroup) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.running {
		return fmt.Errorf("already started")
	}
	if err := s.tp.StartEventLoop(wg); err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Failed to start event loop")
		return err
	}
	s.running = true
	return nil
}

// Stop end the lifecycle event loop
func (s *syncControllerImpl) Stop() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	return s.tp.StopEventLoop()
}

// Ready whether the lifecycle event loop is running
func (s *syncControllerImpl) Ready() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.running
}

// ----------------------------------------------------------------------------------------

type ctrlConnectReq struct {
	sink      MessageSink
	userID    string
	tableID   string
	timestamp time.Time
	resultCB  func(error)
}

// Connect register a new session for userID viewing tableID
func (s *syncControllerImpl) Connect(
	ctxt context.Context, sink MessageSink, userID, tableID string,
) error {
	complete := make(chan bool, 1)
	var processError error
	handler := func(err error) {
		processError = err
		complete <- true
	}

	request := ctrlConnectReq{
		sink:      sink,
		userID:    userID,
		tableID:   tableID,
		timestamp: time.Now().UTC(),
		resultCB:  handler,
	}

	if err := s.tp.Submit(request, ctxt); err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Failed to submit connect request for %s", userID,
		)
		return err
	}

	// The event loop may exit without draining its queue
	select {
	case <-complete:
		return processError
	case <-ctxt.Done():
		return ctxt.Err()
	}
}

// processConnectRequest support task processor, deal with connect request
func (s *syncControllerImpl) processConnectRequest(param interface{}) error {
	request, ok := param.(ctrlConnectReq)
	if !ok {
		return fmt.Errorf(
			"can not process unknown type %s for connect session", reflect.TypeOf(param),
		)
	}
	err := s.ProcessConnectRequest(
		request.sink, request.userID, request.tableID, request.timestamp,
	)
	request.resultCB(err)
	return err
}

// ProcessConnectRequest register a new session for a user viewing a table
func (s *syncControllerImpl) ProcessConnectRequest(
	sink MessageSink, userID, tableID string, timestamp time.Time,
) error {
	// A still-registered session for this user is superseded: run its full
	// disconnect cleanup and close its transport before registering the new
	// session, so no dangling handle remains observable.
	if _, ok := s.registry.Lookup(userID); ok {
		log.WithFields(s.LogTags).Warnf(
			"User %s reconnected while a session is active. Superseding", userID,
		)
		s.cleanupSession(userID, timestamp)
	}

	s.registry.Register(userID, sink)
	s.subscriptions.Join(tableID, userID)
	members := s.subscriptions.Members(tableID)

	log.WithFields(s.LogTags).Infof("User %s connected to table %s", userID, tableID)

	s.broadcast.BroadcastToTable(s.operationContext, tableID, UserJoinedEvent{
		Type:        EventTypeUserJoined,
		UserID:      userID,
		TableID:     tableID,
		ActiveUsers: members,
		Timestamp:   timestamp,
	}, userID)

	if !s.broadcast.SendToUser(s.operationContext, userID, TableStateEvent{
		Type:        EventTypeTableState,
		TableID:     tableID,
		ActiveUsers: members,
		LockedCells: s.locks.Snapshot(tableID),
		UserCursors: s.cursors.Snapshot(tableID),
	}) {
		return fmt.Errorf("unable to deliver table state to user %s", userID)
	}
	return nil
}

// ----------------------------------------------------------------------------------------

type ctrlDisconnectReq struct {
	userID    string
	timestamp time.Time
	// onlyFor restricts the teardown to the case where this sink is still
	// the registered transport. Nil means unconditional.
	onlyFor  MessageSink
	resultCB func(error)
}

// Disconnect tear down userID's session
func (s *syncControllerImpl) Disconnect(ctxt context.Context, userID string) error {
	return s.submitDisconnect(ctxt, userID, nil)
}

// DisconnectSession tear down userID's session if sink is still its transport
func (s *syncControllerImpl) DisconnectSession(
	ctxt context.Context, userID string, sink MessageSink,
) error {
	return s.submitDisconnect(ctxt, userID, sink)
}

func (s *syncControllerImpl) submitDisconnect(
	ctxt context.Context, userID string, onlyFor MessageSink,
) error {
	complete := make(chan bool, 1)
	var processError error
	handler := func(err error) {
		processError = err
		complete <- true
	}

	request := ctrlDisconnectReq{
		userID:    userID,
		timestamp: time.Now().UTC(),
		onlyFor:   onlyFor,
		resultCB:  handler,
	}

	if err := s.tp.Submit(request, ctxt); err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Failed to submit disconnect request for %s", userID,
		)
		return err
	}

	select {
	case <-complete:
		return processError
	case <-ctxt.Done():
		return ctxt.Err()
	}
}

// processDisconnectRequest support task processor, deal with disconnect request
func (s *syncControllerImpl) processDisconnectRequest(param interface{}) error {
	request, ok := param.(ctrlDisconnectReq)
	if !ok {
		return fmt.Errorf(
			"can not process unknown type %s for disconnect session", reflect.TypeOf(param),
		)
	}
	stale := false
	if request.onlyFor != nil {
		current, registered := s.registry.Lookup(request.userID)
		stale = registered && current.ID() != request.onlyFor.ID()
	}
	if !stale {
		s.cleanupSession(request.userID, request.timestamp)
	}
	// Corrective disconnects carry no result callback
	if request.resultCB != nil {
		request.resultCB(nil)
	}
	return nil
}

// tableCleanup per-table outcome of a session teardown
type tableCleanup struct {
	tableID   string
	released  []string
	remaining []string
}

// cleanupSession release every piece of per-user state and notify former
// co-subscribers. Safe to call for an unknown user.
func (s *syncControllerImpl) cleanupSession(userID string, timestamp time.Time) {
	s.stateSync.Lock()
	sink, hasSink := s.registry.Lookup(userID)
	tables := s.subscriptions.TablesFor(userID)
	if !hasSink && len(tables) == 0 {
		s.stateSync.Unlock()
		return
	}

	cleanups := []tableCleanup{}
	for _, tableID := range tables {
		released := s.locks.ReleaseAllFor(tableID, userID)
		remaining := s.subscriptions.Leave(tableID, userID)
		s.cursors.RemoveFor(tableID, userID)
		if remaining == 0 {
			s.locks.DropTable(tableID)
			s.cursors.DropTable(tableID)
		}
		cleanups = append(cleanups, tableCleanup{
			tableID:   tableID,
			released:  released,
			remaining: s.subscriptions.Members(tableID),
		})
	}

	s.registry.Unregister(userID)
	s.stateSync.Unlock()

	if hasSink {
		if err := sink.Close(); err != nil {
			log.WithError(err).WithFields(s.LogTags).Errorf(
				"Failed closing transport of %s", userID,
			)
		}
	}

	// State is consistent before any peer is notified
	for _, cleanup := range cleanups {
		for _, cell := range cleanup.released {
			s.broadcast.BroadcastToTable(s.operationContext, cleanup.tableID, CellUnlockedEvent{
				Type:      EventTypeCellUnlocked,
				TableID:   cleanup.tableID,
				Cell:      cell,
				UserID:    userID,
				Timestamp: timestamp,
			}, "")
		}
		s.broadcast.BroadcastToTable(s.operationContext, cleanup.tableID, UserLeftEvent{
			Type:        EventTypeUserLeft,
			UserID:      userID,
			TableID:     cleanup.tableID,
			ActiveUsers: cleanup.remaining,
			Timestamp:   timestamp,
		}, "")
	}

	log.WithFields(s.LogTags).Infof("User %s disconnected", userID)
}

// handleDeliveryFailure corrective action when a recipient's sink rejected a
// send. The disconnect is submitted without waiting so broadcasts running
// inside the event loop can not deadlock against it.
func (s *syncControllerImpl) handleDeliveryFailure(userID string) {
	log.WithFields(s.LogTags).Warnf(
		"Dropping user %s on delivery failure", userID,
	)
	request := ctrlDisconnectReq{userID: userID, timestamp: time.Now().UTC()}
	go func() {
		if err := s.tp.Submit(request, s.operationContext); err != nil {
			log.WithError(err).WithFields(s.LogTags).Errorf(
				"Failed to submit corrective disconnect for %s", userID,
			)
		}
	}()
}

// ----------------------------------------------------------------------------------------

// EditCell fan a committed cell edit out to tableID's subscribers
func (s *syncControllerImpl) EditCell(
	ctxt context.Context, tableID, userID string, update CellUpdate,
) bool {
	s.stateSync.RLock()
	defer s.stateSync.RUnlock()
	if !s.subscriptions.IsSubscribed(tableID, userID) {
		return false
	}
	if !s.locks.IsEditable(tableID, update.Cell, userID) {
		s.broadcast.SendToUser(ctxt, userID, CellLockErrorEvent{
			Type:    EventTypeCellLockError,
			Cell:    update.Cell,
			Message: "cell is locked by another user",
		})
		return false
	}
	s.broadcast.BroadcastToTable(ctxt, tableID, CellUpdatedEvent{
		Type:      EventTypeCellUpdated,
		TableID:   tableID,
		Cell:      update.Cell,
		Value:     update.Value,
		Formula:   update.Formula,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
	}, "")
	log.WithFields(s.LogTags).Infof(
		"Cell %s updated by %s in table %s", update.Cell, userID, tableID,
	)
	return true
}

// SetCellLock acquire or release the exclusive edit lock on a cell
func (s *syncControllerImpl) SetCellLock(
	ctxt context.Context, tableID, userID, cell string, wantLock bool,
) bool {
	s.stateSync.RLock()
	defer s.stateSync.RUnlock()
	if !s.subscriptions.IsSubscribed(tableID, userID) {
		return false
	}
	if wantLock {
		granted, changed := s.locks.TryLock(tableID, cell, userID)
		if changed {
			s.broadcast.BroadcastToTable(ctxt, tableID, CellLockedEvent{
				Type:      EventTypeCellLocked,
				TableID:   tableID,
				Cell:      cell,
				UserID:    userID,
				Timestamp: time.Now().UTC(),
			}, "")
		}
		return granted
	}
	released := s.locks.Unlock(tableID, cell, userID)
	if released {
		s.broadcast.BroadcastToTable(ctxt, tableID, CellUnlockedEvent{
			Type:      EventTypeCellUnlocked,
			TableID:   tableID,
			Cell:      cell,
			UserID:    userID,
			Timestamp: time.Now().UTC(),
		}, "")
	}
	return released
}

// MoveCursor record userID's cursor position and fan it out
func (s *syncControllerImpl) MoveCursor(
	ctxt context.Context, tableID, userID string, cursor json.RawMessage,
) bool {
	s.stateSync.RLock()
	defer s.stateSync.RUnlock()
	if !s.subscriptions.IsSubscribed(tableID, userID) {
		return false
	}
	timestamp := time.Now().UTC()
	s.cursors.Move(tableID, userID, cursor, timestamp)
	s.broadcast.BroadcastToTable(ctxt, tableID, CursorMovedEvent{
		Type:      EventTypeCursorMoved,
		TableID:   tableID,
		UserID:    userID,
		Cursor:    cursor,
		Timestamp: timestamp,
	}, userID)
	return true
}

// ----------------------------------------------------------------------------------------

// GetTableStats monitoring snapshot of tableID
func (s *syncControllerImpl) GetTableStats(tableID string) (TableStats, bool) {
	members := s.subscriptions.Members(tableID)
	if len(members) == 0 {
		return TableStats{}, false
	}
	return TableStats{
		TableID:          tableID,
		ActiveUsers:      members,
		LockedCells:      s.locks.Snapshot(tableID),
		UserCursors:      s.cursors.Snapshot(tableID),
		TotalConnections: s.registry.ConnectionCount(),
	}, true
}

// GetUserTables the tables userID is currently viewing
func (s *syncControllerImpl) GetUserTables(userID string) []string {
	return s.subscriptions.TablesFor(userID)
}

// ConnectionCount number of live sessions
func (s *syncControllerImpl) ConnectionCount() int {
	return s.registry.ConnectionCount()
}
