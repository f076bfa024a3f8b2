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

	"github.com/apex/log"
	"github.com/nikonline-oss/tablesync/common"
)

// MessageSink opaque outbound handle of one live session. The sync core
// only ever sends through it or closes it; it never inspects the transport.
type MessageSink interface {
	// ID returns the transport instance ID for log correlation
	ID() string
	// Send delivers one serialized event to the session. Must not block
	// beyond the session's local buffering; a rejected send marks the
	// session as dead.
	Send(ctxt context.Context, payload []byte) error
	// Close release the underlying transport. Idempotent.
	Close() error
}

// SessionRegistry tracks the single active outbound sink per user identity
type SessionRegistry interface {
	// Register stores the sink for userID, returning the superseded sink if
	// one was present
	Register(userID string, sink MessageSink) MessageSink
	// Unregister idempotent removal of userID's sink
	Unregister(userID string)
	// Lookup fetch the active sink for userID
	Lookup(userID string) (MessageSink, bool)
	// ConnectionCount number of registered sessions
	ConnectionCount() int
}

// sessionRegistryImpl implements SessionRegistry
type sessionRegistryImpl struct {
	common.Component
	lock     sync.RWMutex
	sessions map[string]MessageSink
}

// DefineSessionRegistry create new session registry
func DefineSessionRegistry() (SessionRegistry, error) {
	logTags := log.Fields{
		"module": "tablesync", "component": "session-registry",
	}
	return &sessionRegistryImpl{
		Component: common.Component{LogTags: logTags},
		sessions:  make(map[string]MessageSink),
	}, nil
}

// Register stores the sink for userID, returning the superseded sink if any
func (r *sessionRegistryImpl) Register(userID string, sink MessageSink) MessageSink {
	r.lock.Lock()
	defer r.lock.Unlock()
	prior := r.sessions[userID]
	r.sessions[userID] = sink
	if prior != nil {
		log.WithFields(r.LogTags).Warnf(
			"User %s session %s superseded by %s", userID, prior.ID(), sink.ID(),
		)
	}
	return prior
}

// Unregister idempotent removal of userID's sink
func (r *sessionRegistryImpl) Unregister(userID string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.sessions, userID)
}

// Lookup fetch the active sink for userID
func (r *sessionRegistryImpl) Lookup(userID string) (MessageSink, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	sink, ok := r.sessions[userID]
	return sink, ok
}

// ConnectionCount number of registered sessions
func (r *sessionRegistryImpl) ConnectionCount() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.sessions)
}
