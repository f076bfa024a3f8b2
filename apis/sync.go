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

package apis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/nikonline-oss/tablesync/auth"
	"github.com/nikonline-oss/tablesync/common"
	"github.com/nikonline-oss/tablesync/tablesync"
)

// APIRestTableSyncHandler REST handler for the table sync websocket endpoint
type APIRestTableSyncHandler struct {
	goutils.RestAPIHandler
	controller  tablesync.SyncController
	tokens      auth.TokenValidator
	upgrader    websocket.Upgrader
	syncConfig  common.SyncConfig
	validate    *validator.Validate
	baseContext context.Context
	wg          *sync.WaitGroup
}

// GetAPIRestTableSyncHandler define APIRestTableSyncHandler
func GetAPIRestTableSyncHandler(
	baseContext context.Context,
	controller tablesync.SyncController,
	tokens auth.TokenValidator,
	httpConfig *common.HTTPConfig,
	syncConfig common.SyncConfig,
	wg *sync.WaitGroup,
) (APIRestTableSyncHandler, error) {
	logTags := log.Fields{
		"module":    "rest",
		"component": "table-sync",
	}
	return APIRestTableSyncHandler{
		RestAPIHandler: goutils.RestAPIHandler{
			Component: goutils.Component{
				LogTags: logTags,
				LogTagModifiers: []goutils.LogMetadataModifier{
					goutils.ModifyLogMetadataByRestRequestParam,
				},
			},
			CallRequestIDHeaderField: &httpConfig.Logging.RequestIDHeader,
			DoNotLogHeaders: func() map[string]bool {
				result := map[string]bool{}
				for _, v := range httpConfig.Logging.DoNotLogHeaders {
					result[v] = true
				}
				return result
			}(),
		},
		controller: controller,
		tokens:     tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		syncConfig:  syncConfig,
		validate:    validator.New(),
		baseContext: baseContext,
		wg:          wg,
	}, nil
}

// =======================================================================
// Websocket endpoint

// ConnectToTable godoc
// @Summary Connect to a table's sync session
// @Description Upgrade to a websocket carrying real-time table sync events.
// Identity comes from a bearer JWT in the Authorization header, or a 'token'
// query parameter for browser clients.
// @tags Sync
// @Param tableID path string true "Table to subscribe to"
// @Success 101 {string} string "switching protocols"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 401 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/sync/table/{tableID} [get]
func (h APIRestTableSyncHandler) ConnectToTable(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())

	vars := mux.Vars(r)
	tableID, ok := vars["tableID"]
	if !ok {
		msg := "No table ID provided"
		log.WithFields(localLogTags).Errorf(msg)
		respBody := h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		if err := h.WriteRESTResponse(w, http.StatusBadRequest, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
		return
	}

	identity, err := h.authenticate(r)
	if err != nil {
		msg := "Not authorized"
		log.WithError(err).WithFields(localLogTags).Info(msg)
		respBody := h.GetStdRESTErrorMsg(r.Context(), http.StatusUnauthorized, msg, msg)
		if err := h.WriteRESTResponse(w, http.StatusUnauthorized, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Websocket upgrade failed")
		return
	}

	session := newWSSession(h.baseContext, conn, identity.UserID, tableID, h.syncConfig)
	session.startWritePump(h.wg)

	if err := h.controller.Connect(h.baseContext, session, identity.UserID, tableID); err != nil {
		log.WithError(err).WithFields(localLogTags).Errorf(
			"Unable to connect user %s to table %s", identity.UserID, tableID,
		)
		_ = session.Close()
		return
	}

	h.serveSession(session, identity.UserID, tableID)

	if err := h.controller.DisconnectSession(
		h.baseContext, identity.UserID, session,
	); err != nil {
		log.WithError(err).WithFields(localLogTags).Errorf(
			"Cleanup of user %s session failed", identity.UserID,
		)
	}
}

// ConnectToTableHandler Wrapper around ConnectToTable
func (h APIRestTableSyncHandler) ConnectToTableHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.ConnectToTable(w, r)
	}
}

// authenticate resolve the caller identity from the request credential
func (h APIRestTableSyncHandler) authenticate(r *http.Request) (auth.Identity, error) {
	token := ""
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimPrefix(header, "Bearer ")
	} else {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return auth.Identity{}, fmt.Errorf("request carries no credential")
	}
	return h.tokens.Validate(token)
}

// serveSession sequentially process inbound client requests until the
// transport fails or closes
func (h APIRestTableSyncHandler) serveSession(
	session *wsSession, userID, tableID string,
) {
	localLogTags := log.Fields{}
	for k, v := range h.LogTags {
		localLogTags[k] = v
	}
	localLogTags["instance"] = session.ID()
	localLogTags["user"] = userID
	localLogTags["table"] = tableID

	readDeadline := time.Duration(h.syncConfig.PingInterval) * time.Second * 2
	session.conn.SetReadLimit(h.syncConfig.MaxMessageBytes)
	_ = session.conn.SetReadDeadline(time.Now().Add(readDeadline))
	session.conn.SetPongHandler(func(string) error {
		return session.conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		_, payload, err := session.conn.ReadMessage()
		if err != nil {
			log.WithError(err).WithFields(localLogTags).Debug("Read loop ended")
			return
		}
		request, err := tablesync.ParseInboundMessage(payload, h.validate)
		if err != nil {
			// Protocol error. The request is dropped, the connection stays open.
			log.WithError(err).WithFields(localLogTags).Warn("Ignoring malformed request")
			continue
		}
		switch request.Kind {
		case tablesync.InboundCellUpdate:
			h.controller.EditCell(h.baseContext, tableID, userID, *request.CellUpdate)
		case tablesync.InboundCellLock:
			success := h.controller.SetCellLock(
				h.baseContext, tableID, userID, request.CellLock.Cell, request.CellLock.Lock,
			)
			h.replyOnSession(session, tablesync.CellLockResultEvent{
				Type:    tablesync.EventTypeCellLockResult,
				Success: success,
				Cell:    request.CellLock.Cell,
			}, localLogTags)
		case tablesync.InboundCursorMove:
			h.controller.MoveCursor(h.baseContext, tableID, userID, request.CursorMove)
		case tablesync.InboundPing:
			h.replyOnSession(session, tablesync.NewPongEvent(), localLogTags)
		}
	}
}

// replyOnSession deliver a direct reply on the requester's own session
func (h APIRestTableSyncHandler) replyOnSession(
	session *wsSession, event interface{}, logTags log.Fields,
) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to serialize reply")
		return
	}
	if err := session.Send(h.baseContext, payload); err != nil {
		log.WithError(err).WithFields(logTags).Warn("Unable to deliver reply")
	}
}

// =======================================================================
// Websocket session

// wsSession one live websocket connection. Implements tablesync.MessageSink:
// sends are non-blocking enqueues onto a bounded buffer drained by the write
// pump, so a stalled peer surfaces as a delivery failure instead of blocking
// the broadcaster. The pump also watches the runtime context; server shutdown
// closes the connection and unblocks the read loop.
type wsSession struct {
	id           string
	runtime      context.Context
	conn         *websocket.Conn
	send         chan []byte
	stop         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	pingInterval time.Duration
	logTags      log.Fields
}

// newWSSession define a session around an upgraded websocket connection
func newWSSession(
	runtime context.Context,
	conn *websocket.Conn,
	userID, tableID string,
	config common.SyncConfig,
) *wsSession {
	id := uuid.New().String()
	return &wsSession{
		id:           id,
		runtime:      runtime,
		conn:         conn,
		send:         make(chan []byte, config.SendBufferLen),
		stop:         make(chan struct{}),
		writeTimeout: time.Duration(config.WriteTimeout) * time.Second,
		pingInterval: time.Duration(config.PingInterval) * time.Second,
		logTags: log.Fields{
			"module":    "rest",
			"component": "ws-session",
			"instance":  id,
			"user":      userID,
			"table":     tableID,
		},
	}
}

// ID returns the transport instance ID for log correlation
func (s *wsSession) ID() string {
	return s.id
}

// Send enqueue one serialized event for delivery
func (s *wsSession) Send(ctxt context.Context, payload []byte) error {
	select {
	case <-s.stop:
		return fmt.Errorf("session %s already closed", s.id)
	case <-ctxt.Done():
		return ctxt.Err()
	case s.send <- payload:
		return nil
	default:
		return fmt.Errorf("session %s send buffer full", s.id)
	}
}

// Close release the underlying transport. Idempotent.
func (s *wsSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
	})
	return nil
}

// startWritePump drain the send buffer onto the wire, interleaving
// keep-alive pings, until the session closes or a write fails
func (s *wsSession) startWritePump(wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			_ = s.conn.Close()
		}()
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
				_ = s.conn.WriteMessage(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				)
				return
			case <-s.runtime.Done():
				log.WithFields(s.logTags).Info("Runtime exited. Closing session")
				_ = s.Close()
				_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
				_ = s.conn.WriteMessage(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				)
				return
			case payload := <-s.send:
				_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
				if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					log.WithError(err).WithFields(s.logTags).Debug("Write failed")
					_ = s.Close()
					return
				}
			case <-ticker.C:
				_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
				if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					log.WithError(err).WithFields(s.logTags).Debug("Keep-alive failed")
					_ = s.Close()
					return
				}
			}
		}
	}()
}
