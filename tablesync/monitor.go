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
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/nikonline-oss/tablesync/common"
)

// ActivityMonitor periodically reports sync engine activity into the logs
type ActivityMonitor interface {
	// Start begin reporting on the given interval
	Start(interval time.Duration) error
	// Stop end reporting
	Stop() error
}

// activityMonitorImpl implements ActivityMonitor
type activityMonitorImpl struct {
	common.Component
	controller    SyncController
	subscriptions SubscriptionIndex
	timer         common.IntervalTimer
}

// DefineActivityMonitor create new activity monitor
func DefineActivityMonitor(
	ctxt context.Context,
	controller SyncController,
	subscriptions SubscriptionIndex,
	wg *sync.WaitGroup,
) (ActivityMonitor, error) {
	logTags := log.Fields{
		"module": "tablesync", "component": "activity-monitor",
	}
	timer, err := common.GetIntervalTimerInstance("activity-report", ctxt, wg)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define interval timer")
		return nil, err
	}
	return &activityMonitorImpl{
		Component:     common.Component{LogTags: logTags},
		controller:    controller,
		subscriptions: subscriptions,
		timer:         timer,
	}, nil
}

// Start begin reporting on the given interval
func (m *activityMonitorImpl) Start(interval time.Duration) error {
	return m.timer.Start(interval, m.report, false)
}

// Stop end reporting
func (m *activityMonitorImpl) Stop() error {
	return m.timer.Stop()
}

// report log one activity summary
func (m *activityMonitorImpl) report() error {
	tables := m.subscriptions.TableIDs()
	log.WithFields(m.LogTags).Infof(
		"Serving %d connections over %d tables", m.controller.ConnectionCount(), len(tables),
	)
	for _, tableID := range tables {
		stats, ok := m.controller.GetTableStats(tableID)
		if !ok {
			continue
		}
		log.WithFields(m.LogTags).Infof(
			"Table %s: %d subscribers, %d locked cells",
			tableID,
			len(stats.ActiveUsers),
			len(stats.LockedCells),
		)
	}
	return nil
}
