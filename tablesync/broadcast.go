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

	"github.com/apex/log"
	"github.com/nikonline-oss/tablesync/common"
)

// DeliveryFailureHandler callback invoked once per recipient whose sink
// rejected a send. A broken sink implies a dead session, so the handler is
// expected to trigger that session's disconnect.
type DeliveryFailureHandler func(userID string)

// BroadcastEngine fans events out to a table's current subscribers
type BroadcastEngine interface {
	// BroadcastToTable serialize event once and deliver it to every current
	// subscriber of tableID, skipping excludeUserID if non-empty. Delivery
	// failures are isolated per recipient.
	BroadcastToTable(ctxt context.Context, tableID string, event interface{}, excludeUserID string)
	// SendToUser direct unicast of event to userID, same failure handling
	SendToUser(ctxt context.Context, userID string, event interface{}) bool
}

// broadcastEngineImpl implements BroadcastEngine
type broadcastEngineImpl struct {
	common.Component
	registry      SessionRegistry
	subscriptions SubscriptionIndex
	onFailure     DeliveryFailureHandler
}

// DefineBroadcastEngine create new broadcast engine
func DefineBroadcastEngine(
	registry SessionRegistry,
	subscriptions SubscriptionIndex,
	onFailure DeliveryFailureHandler,
) (BroadcastEngine, error) {
	logTags := log.Fields{
		"module": "tablesync", "component": "broadcast-engine",
	}
	return &broadcastEngineImpl{
		Component:     common.Component{LogTags: logTags},
		registry:      registry,
		subscriptions: subscriptions,
		onFailure:     onFailure,
	}, nil
}

// BroadcastToTable deliver event to every current subscriber of tableID
func (b *broadcastEngineImpl) BroadcastToTable(
	ctxt context.Context, tableID string, event interface{}, excludeUserID string,
) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.WithError(err).WithFields(b.LogTags).Errorf(
			"Unable to serialize event for table %s", tableID,
		)
		return
	}
	deadSessions := []string{}
	for _, userID := range b.subscriptions.Members(tableID) {
		if userID == excludeUserID {
			continue
		}
		sink, ok := b.registry.Lookup(userID)
		if !ok {
			continue
		}
		if err := sink.Send(ctxt, payload); err != nil {
			log.WithError(err).WithFields(b.LogTags).Errorf(
				"Delivery to %s on table %s failed", userID, tableID,
			)
			deadSessions = append(deadSessions, userID)
		}
	}
	for _, userID := range deadSessions {
		b.onFailure(userID)
	}
}

// SendToUser direct unicast of event to userID
func (b *broadcastEngineImpl) SendToUser(
	ctxt context.Context, userID string, event interface{},
) bool {
	sink, ok := b.registry.Lookup(userID)
	if !ok {
		return false
	}
	payload, err := json.Marshal(event)
	if err != nil {
		log.WithError(err).WithFields(b.LogTags).Errorf(
			"Unable to serialize event for user %s", userID,
		)
		return false
	}
	if err := sink.Send(ctxt, payload); err != nil {
		log.WithError(err).WithFields(b.LogTags).Errorf("Delivery to %s failed", userID)
		b.onFailure(userID)
		return false
	}
	return true
}
