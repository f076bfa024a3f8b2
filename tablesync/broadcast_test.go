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
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// testSink in-memory MessageSink recording delivered payloads
type testSink struct {
	id       string
	lock     sync.Mutex
	received [][]byte
	failSend bool
	closed   bool
}

func newTestSink() *testSink {
	return &testSink{id: uuid.New().String(), received: [][]byte{}}
}

func (s *testSink) ID() string { return s.id }

func (s *testSink) Send(ctxt context.Context, payload []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.failSend {
		return fmt.Errorf("simulated delivery failure")
	}
	copied := make([]byte, len(payload))
	copy(copied, payload)
	s.received = append(s.received, copied)
	return nil
}

func (s *testSink) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.closed = true
	return nil
}

func (s *testSink) isClosed() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.closed
}

func (s *testSink) clear() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.received = [][]byte{}
}

// events decode every recorded payload into a generic map
func (s *testSink) events(t *testing.T) []map[string]interface{} {
	s.lock.Lock()
	defer s.lock.Unlock()
	result := []map[string]interface{}{}
	for _, payload := range s.received {
		parsed := map[string]interface{}{}
		assert.Nil(t, json.Unmarshal(payload, &parsed))
		result = append(result, parsed)
	}
	return result
}

// eventTypes the type tags of every recorded payload in delivery order
func (s *testSink) eventTypes(t *testing.T) []string {
	result := []string{}
	for _, event := range s.events(t) {
		result = append(result, event["type"].(string))
	}
	return result
}

func TestBroadcastToTable(t *testing.T) {
	assert := assert.New(t)

	utCtxt := context.Background()

	registry, err := DefineSessionRegistry()
	assert.Nil(err)
	subscriptions, err := DefineSubscriptionIndex()
	assert.Nil(err)

	failures := []string{}
	uut, err := DefineBroadcastEngine(registry, subscriptions, func(userID string) {
		failures = append(failures, userID)
	})
	assert.Nil(err)

	sink1 := newTestSink()
	sink2 := newTestSink()
	sink3 := newTestSink()
	registry.Register("user-1", sink1)
	registry.Register("user-2", sink2)
	registry.Register("user-3", sink3)
	subscriptions.Join("table-1", "user-1")
	subscriptions.Join("table-1", "user-2")
	subscriptions.Join("table-2", "user-3")

	// Case 1: only table subscribers receive the event
	{
		uut.BroadcastToTable(utCtxt, "table-1", NewPongEvent(), "")
		assert.Equal([]string{EventTypePong}, sink1.eventTypes(t))
		assert.Equal([]string{EventTypePong}, sink2.eventTypes(t))
		assert.Empty(sink3.eventTypes(t))
	}
	sink1.clear()
	sink2.clear()

	// Case 2: the excluded user is skipped
	{
		uut.BroadcastToTable(utCtxt, "table-1", NewPongEvent(), "user-1")
		assert.Empty(sink1.eventTypes(t))
		assert.Equal([]string{EventTypePong}, sink2.eventTypes(t))
	}
	sink2.clear()

	// Case 3: a failing recipient does not block the others
	{
		sink2.failSend = true
		uut.BroadcastToTable(utCtxt, "table-1", NewPongEvent(), "")
		assert.Equal([]string{EventTypePong}, sink1.eventTypes(t))
		assert.Empty(sink2.eventTypes(t))
		assert.Equal([]string{"user-2"}, failures)
	}
}

func TestBroadcastSendToUser(t *testing.T) {
	assert := assert.New(t)

	utCtxt := context.Background()

	registry, err := DefineSessionRegistry()
	assert.Nil(err)
	subscriptions, err := DefineSubscriptionIndex()
	assert.Nil(err)

	failures := []string{}
	uut, err := DefineBroadcastEngine(registry, subscriptions, func(userID string) {
		failures = append(failures, userID)
	})
	assert.Nil(err)

	sink1 := newTestSink()
	registry.Register("user-1", sink1)

	// Case 1: unicast to a registered user
	{
		assert.True(uut.SendToUser(utCtxt, "user-1", NewPongEvent()))
		assert.Equal([]string{EventTypePong}, sink1.eventTypes(t))
	}
	sink1.clear()

	// Case 2: unknown user
	{
		assert.False(uut.SendToUser(utCtxt, "user-2", NewPongEvent()))
		assert.Empty(failures)
	}

	// Case 3: delivery failure triggers the corrective callback
	{
		sink1.failSend = true
		assert.False(uut.SendToUser(utCtxt, "user-1", NewPongEvent()))
		assert.Equal([]string{"user-1"}, failures)
	}
}
