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
	"net/http"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/gorilla/mux"
	"github.com/nikonline-oss/tablesync/common"
	"github.com/nikonline-oss/tablesync/tablesync"
)

// APIRestSyncMonitorHandler REST handler for the sync monitoring surface
type APIRestSyncMonitorHandler struct {
	goutils.RestAPIHandler
	controller tablesync.SyncController
}

// GetAPIRestSyncMonitorHandler define APIRestSyncMonitorHandler
func GetAPIRestSyncMonitorHandler(
	controller tablesync.SyncController, httpConfig *common.HTTPConfig,
) (APIRestSyncMonitorHandler, error) {
	logTags := log.Fields{
		"module":    "rest",
		"component": "sync-monitor",
	}
	return APIRestSyncMonitorHandler{
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
	}, nil
}

// =======================================================================
// Table stats

// APIRestRespTableStats response for querying one table's stats
type APIRestRespTableStats struct {
	goutils.RestAPIBaseResponse
	// Stats the monitoring snapshot of the table
	Stats tablesync.TableStats `json:"stats"`
}

// GetTableStats godoc
// @Summary Query a table's sync activity
// @Description Fetch the subscribers, locked cells, and cursors of one table
// @tags Monitor
// @Produce json
// @Param Tablesync-Request-ID header string false "User provided request ID to match against logs"
// @Param tableID path string true "Table to query"
// @Success 200 {object} APIRestRespTableStats "success"
// @Failure 404 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/sync/table/{tableID}/stats [get]
func (h APIRestSyncMonitorHandler) GetTableStats(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	vars := mux.Vars(r)
	tableID, ok := vars["tableID"]
	if !ok {
		msg := "No table ID provided"
		log.WithFields(localLogTags).Errorf(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}

	stats, found := h.controller.GetTableStats(tableID)
	if !found {
		msg := "Table not found"
		respCode = http.StatusNotFound
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusNotFound, msg, msg)
		return
	}
	respCode = http.StatusOK
	respBody = APIRestRespTableStats{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		}, Stats: stats,
	}
}

// GetTableStatsHandler Wrapper around GetTableStats
func (h APIRestSyncMonitorHandler) GetTableStatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.GetTableStats(w, r)
	}
}

// -----------------------------------------------------------------------

// APIRestRespUserTables response for querying a user's active tables
type APIRestRespUserTables struct {
	goutils.RestAPIBaseResponse
	// UserID the queried user
	UserID string `json:"user_id"`
	// Tables the tables the user is currently viewing
	Tables []string `json:"tables"`
}

// GetUserTables godoc
// @Summary Query a user's active tables
// @Description Fetch the tables a user identity is currently subscribed to
// @tags Monitor
// @Produce json
// @Param Tablesync-Request-ID header string false "User provided request ID to match against logs"
// @Param userID path string true "User to query"
// @Success 200 {object} APIRestRespUserTables "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/sync/user/{userID}/tables [get]
func (h APIRestSyncMonitorHandler) GetUserTables(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	vars := mux.Vars(r)
	userID, ok := vars["userID"]
	if !ok {
		msg := "No user ID provided"
		log.WithFields(localLogTags).Errorf(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}

	respCode = http.StatusOK
	respBody = APIRestRespUserTables{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		}, UserID: userID, Tables: h.controller.GetUserTables(userID),
	}
}

// GetUserTablesHandler Wrapper around GetUserTables
func (h APIRestSyncMonitorHandler) GetUserTablesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.GetUserTables(w, r)
	}
}

// =======================================================================
// Health Checks

// -----------------------------------------------------------------------

// Alive godoc
// @Summary For sync server liveness check
// @Description Will return success to indicate the sync server is live
// @tags Monitor
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/sync/alive [get]
func (h APIRestSyncMonitorHandler) Alive(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	if err := h.WriteRESTResponse(
		w, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()), nil,
	); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// AliveHandler Wrapper around Alive
func (h APIRestSyncMonitorHandler) AliveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Alive(w, r)
	}
}

// -----------------------------------------------------------------------

// Ready godoc
// @Summary For sync server readiness check
// @Description Will return success if the sync controller is processing
// lifecycle requests
// @tags Monitor
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/sync/ready [get]
func (h APIRestSyncMonitorHandler) Ready(w http.ResponseWriter, r *http.Request) {
	msg := "not ready"
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	if h.controller.Ready() {
		respCode = http.StatusOK
		respBody = h.GetStdRESTSuccessMsg(r.Context())
	} else {
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, msg)
	}
}

// ReadyHandler Wrapper around Ready
func (h APIRestSyncMonitorHandler) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Ready(w, r)
	}
}

// Write logging support
func (h APIRestSyncMonitorHandler) Write(p []byte) (n int, err error) {
	log.WithFields(h.LogTags).Infof("%s", p)
	return len(p), nil
}
