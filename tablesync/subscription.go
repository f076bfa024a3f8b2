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

// SubscriptionIndex tracks which user identities are viewing which tables
type SubscriptionIndex interface {
	// Join add userID to tableID's subscriber set, creating it if absent
	Join(tableID, userID string)
	// Leave remove userID from tableID's subscriber set, returning the
	// remaining subscriber count. An empty set is pruned.
	Leave(tableID, userID string) int
	// Members snapshot copy of tableID's subscriber set
	Members(tableID string) []string
	// IsSubscribed whether userID is currently viewing tableID
	IsSubscribed(tableID, userID string) bool
	// TablesFor the tables userID is currently viewing
	TablesFor(userID string) []string
	// TableIDs the tables with at least one subscriber
	TableIDs() []string
}

// subscriptionIndexImpl implements SubscriptionIndex
type subscriptionIndexImpl struct {
	common.Component
	lock sync.RWMutex
	// subscribers is tableID => set of userID
	subscribers map[string]map[string]bool
}

// DefineSubscriptionIndex create new subscription index
func DefineSubscriptionIndex() (SubscriptionIndex, error) {
	logTags := log.Fields{
		"module": "tablesync", "component": "subscription-index",
	}
	return &subscriptionIndexImpl{
		Component:   common.Component{LogTags: logTags},
		subscribers: make(map[string]map[string]bool),
	}, nil
}

// Join add userID to tableID's subscriber set, creating it if absent
func (s *subscriptionIndexImpl) Join(tableID, userID string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	viewers, ok := s.subscribers[tableID]
	if !ok {
		viewers = make(map[string]bool)
		s.subscribers[tableID] = viewers
	}
	viewers[userID] = true
	log.WithFields(s.LogTags).Debugf("User %s joined table %s", userID, tableID)
}

// Leave remove userID from tableID's subscriber set
func (s *subscriptionIndexImpl) Leave(tableID, userID string) int {
	s.lock.Lock()
	defer s.lock.Unlock()
	viewers, ok := s.subscribers[tableID]
	if !ok {
		return 0
	}
	delete(viewers, userID)
	if len(viewers) == 0 {
		delete(s.subscribers, tableID)
		log.WithFields(s.LogTags).Debugf("Table %s has no more subscribers", tableID)
		return 0
	}
	return len(viewers)
}

// Members snapshot copy of tableID's subscriber set
func (s *subscriptionIndexImpl) Members(tableID string) []string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	viewers := s.subscribers[tableID]
	result := make([]string, 0, len(viewers))
	for userID := range viewers {
		result = append(result, userID)
	}
	return result
}

// IsSubscribed whether userID is currently viewing tableID
func (s *subscriptionIndexImpl) IsSubscribed(tableID, userID string) bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	viewers, ok := s.subscribers[tableID]
	if !ok {
		return false
	}
	return viewers[userID]
}

// TablesFor the tables userID is currently viewing
func (s *subscriptionIndexImpl) TablesFor(userID string) []string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	result := []string{}
	for tableID, viewers := range s.subscribers {
		if viewers[userID] {
			result = append(result, tableID)
		}
	}
	return result
}

// TableIDs the tables with at least one subscriber
func (s *subscriptionIndexImpl) TableIDs() []string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	result := make([]string, 0, len(s.subscribers))
	for tableID := range s.subscribers {
		result = append(result, tableID)
	}
	return result
}
