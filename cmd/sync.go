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

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/nikonline-oss/tablesync/apis"
	"github.com/nikonline-oss/tablesync/auth"
	"github.com/nikonline-oss/tablesync/common"
	"github.com/nikonline-oss/tablesync/tablesync"
	"github.com/urfave/cli/v2"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// SyncCLIArgs arguments
type SyncCLIArgs struct {
	ServerPort int `validate:"required,gt=0,lt=65536"`
}

// GetSyncCLIFlags retrieve the set of CMD flags for the sync server
func GetSyncCLIFlags(args *SyncCLIArgs) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "server-port",
			Usage:       "Sync server port",
			Aliases:     []string{"p"},
			EnvVars:     []string{"SYNC_SERVER_PORT"},
			Value:       3000,
			DefaultText: "3000",
			Destination: &args.ServerPort,
			Required:    false,
		},
	}
}

// RunSyncServer run the table sync server
func RunSyncServer(
	params SyncCLIArgs,
	instance string,
	config *common.SystemConfig,
	runTimeContext context.Context,
	wg *sync.WaitGroup,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "sync",
		"instance":  instance,
	}

	validate := validator.New()
	if err := validate.Struct(&params); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid CMD args")
		return err
	}

	localCtxt, lclCancel := context.WithCancel(runTimeContext)
	defer lclCancel()

	// -------------------------------------------------------------------
	// Define the sync engine

	registry, err := tablesync.DefineSessionRegistry()
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define session registry")
		return err
	}
	subscriptions, err := tablesync.DefineSubscriptionIndex()
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define subscription index")
		return err
	}
	locks, err := tablesync.DefineLockTable()
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define lock table")
		return err
	}
	cursors, err := tablesync.DefineCursorBoard()
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define cursor board")
		return err
	}
	controller, err := tablesync.DefineSyncController(
		localCtxt, registry, subscriptions, locks, cursors, config.Sync.TaskQueueLen,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define sync controller")
		return err
	}
	if err := controller.Start(wg); err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to start sync controller")
		return err
	}
	defer func() {
		_ = controller.Stop()
	}()

	if config.Monitor.ReportInterval > 0 {
		monitor, err := tablesync.DefineActivityMonitor(
			localCtxt, controller, subscriptions, wg,
		)
		if err != nil {
			log.WithError(err).WithFields(logTags).Errorf("Unable to define activity monitor")
			return err
		}
		if err := monitor.Start(
			time.Duration(config.Monitor.ReportInterval) * time.Second,
		); err != nil {
			log.WithError(err).WithFields(logTags).Errorf("Unable to start activity monitor")
			return err
		}
		defer func() {
			_ = monitor.Stop()
		}()
	}

	tokens, err := auth.DefineJWTTokenValidator(config.Auth.JWTSecret)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define token validator")
		return err
	}

	// -------------------------------------------------------------------
	// Define the HTTP handlers

	syncHandler, err := apis.GetAPIRestTableSyncHandler(
		localCtxt, controller, tokens, &config.HTTPSetting, config.Sync, wg,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define sync HTTP handler")
		return err
	}
	monitorHandler, err := apis.GetAPIRestSyncMonitorHandler(controller, &config.HTTPSetting)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define monitor HTTP handler")
		return err
	}

	// -------------------------------------------------------------------
	// Start the HTTP server

	router := mux.NewRouter()
	mainRouter := apis.RegisterPathPrefix(router, config.Endpoints.PathPrefix, nil)

	// Table sync websocket
	tableAPIRouter := apis.RegisterPathPrefix(
		mainRouter, "/v1/sync/table/{tableID}", map[string]http.HandlerFunc{
			"get": syncHandler.ConnectToTableHandler(),
		},
	)
	_ = apis.RegisterPathPrefix(
		tableAPIRouter, "/stats", map[string]http.HandlerFunc{
			"get": monitorHandler.GetTableStatsHandler(),
		},
	)

	// Per-user monitoring
	_ = apis.RegisterPathPrefix(
		mainRouter, "/v1/sync/user/{userID}/tables", map[string]http.HandlerFunc{
			"get": monitorHandler.GetUserTablesHandler(),
		},
	)

	// Health check
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/sync/alive", map[string]http.HandlerFunc{
		"get": monitorHandler.AliveHandler(),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/sync/ready", map[string]http.HandlerFunc{
		"get": monitorHandler.ReadyHandler(),
	})

	// Add logging
	router.Use(func(next http.Handler) http.Handler {
		return handlers.CombinedLoggingHandler(monitorHandler, next)
	})

	serverListen := fmt.Sprintf("%s:%d", config.HTTPSetting.Server.ListenOn, params.ServerPort)
	httpSrv := &http.Server{
		Addr:         serverListen,
		ReadTimeout:  time.Second * time.Duration(config.HTTPSetting.Server.ReadTimeout),
		WriteTimeout: time.Second * time.Duration(config.HTTPSetting.Server.WriteTimeout),
		IdleTimeout:  time.Second * time.Duration(config.HTTPSetting.Server.IdleTimeout),
		Handler:      h2c.NewHandler(router, &http2.Server{}),
	}

	// Cancel runtime context on shutdown
	httpSrv.RegisterOnShutdown(lclCancel)

	// Start the server
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP Server Failure")
		}
	}()

	log.WithFields(logTags).Infof("Started HTTP server on http://%s", serverListen)

	// ============================================================================

	<-runTimeContext.Done()

	// Stop the HTTP server
	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("Failure during HTTP shutdown")
		}
	}

	return nil
}
