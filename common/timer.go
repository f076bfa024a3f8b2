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

package common

import (
	"context"
	"sync"
	"time"

	"github.com/apex/log"
)

// TimeoutHandler handler callback on timeout
type TimeoutHandler func() error

// IntervalTimer invokes a handler on an interval, either once or repeating.
// A run ends when the root context exits or Stop is called; calling Start
// again supersedes a run still in flight.
type IntervalTimer interface {
	Start(interval time.Duration, handler TimeoutHandler, oneShot bool) error
	Stop() error
}

// intervalTimerImpl implements IntervalTimer
type intervalTimerImpl struct {
	Component
	rootContext context.Context
	wg          *sync.WaitGroup
	lock        sync.Mutex
	cancelRun   context.CancelFunc
}

// GetIntervalTimerInstance create new interval timer instance
func GetIntervalTimerInstance(
	name string, rootCtxt context.Context, wg *sync.WaitGroup,
) (IntervalTimer, error) {
	logTags := log.Fields{
		"module": "common", "component": "interval-timer", "instance": name,
	}
	return &intervalTimerImpl{
		Component:   Component{LogTags: logTags},
		rootContext: rootCtxt,
		wg:          wg,
	}, nil
}

// Start start the interval timer
func (t *intervalTimerImpl) Start(
	interval time.Duration, handler TimeoutHandler, oneShot bool,
) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.cancelRun != nil {
		t.cancelRun()
	}
	runCtxt, cancel := context.WithCancel(t.rootContext)
	t.cancelRun = cancel
	log.WithFields(t.LogTags).Infof("Starting with int %s", interval)
	t.wg.Add(1)
	if oneShot {
		go t.runOnce(runCtxt, interval, handler)
	} else {
		go t.runRepeating(runCtxt, interval, handler)
	}
	return nil
}

// Stop stop the interval timer
func (t *intervalTimerImpl) Stop() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.cancelRun != nil {
		log.WithFields(t.LogTags).Info("Stopping timer loop")
		t.cancelRun()
		t.cancelRun = nil
	}
	return nil
}

// runOnce fire the handler after one interval unless cancelled first
func (t *intervalTimerImpl) runOnce(
	ctxt context.Context, interval time.Duration, handler TimeoutHandler,
) {
	defer t.wg.Done()
	timeout := time.NewTimer(interval)
	defer timeout.Stop()
	select {
	case <-ctxt.Done():
	case <-timeout.C:
		t.fire(handler)
	}
}

// runRepeating fire the handler every interval until cancelled
func (t *intervalTimerImpl) runRepeating(
	ctxt context.Context, interval time.Duration, handler TimeoutHandler,
) {
	defer t.wg.Done()
	defer log.WithFields(t.LogTags).Info("Timer loop exiting")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctxt.Done():
			return
		case <-ticker.C:
			t.fire(handler)
		}
	}
}

func (t *intervalTimerImpl) fire(handler TimeoutHandler) {
	log.WithFields(t.LogTags).Debug("Calling handler")
	if err := handler(); err != nil {
		log.WithError(err).WithFields(t.LogTags).Error("Handler failed")
	}
}
