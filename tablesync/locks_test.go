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
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockTableBasic(t *testing.T) {
	assert := assert.New(t)

	uut, err := DefineLockTable()
	assert.Nil(err)

	// Case 1: first acquisition wins and changes state
	{
		granted, changed := uut.TryLock("table-1", "A1", "user-1")
		assert.True(granted)
		assert.True(changed)
	}

	// Case 2: re-entrant acquisition grants without a state change
	{
		granted, changed := uut.TryLock("table-1", "A1", "user-1")
		assert.True(granted)
		assert.False(changed)
	}

	// Case 3: a second user is denied
	{
		granted, changed := uut.TryLock("table-1", "A1", "user-2")
		assert.False(granted)
		assert.False(changed)
	}

	// Case 4: the same cell in another table is independent
	{
		granted, changed := uut.TryLock("table-2", "A1", "user-2")
		assert.True(granted)
		assert.True(changed)
	}

	// Case 5: editability reflects the holder
	{
		assert.True(uut.IsEditable("table-1", "A1", "user-1"))
		assert.False(uut.IsEditable("table-1", "A1", "user-2"))
		assert.True(uut.IsEditable("table-1", "B2", "user-2"))
	}

	// Case 6: only the holder can unlock
	{
		assert.False(uut.Unlock("table-1", "A1", "user-2"))
		assert.True(uut.Unlock("table-1", "A1", "user-1"))
		assert.False(uut.Unlock("table-1", "A1", "user-1"))
		assert.True(uut.IsEditable("table-1", "A1", "user-2"))
	}
}

func TestLockTableConcurrentAcquire(t *testing.T) {
	assert := assert.New(t)

	uut, err := DefineLockTable()
	assert.Nil(err)

	contenders := 16
	winners := make(chan string, contenders)
	start := make(chan struct{})
	wg := sync.WaitGroup{}
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		userID := fmt.Sprintf("user-%d", i)
		go func() {
			defer wg.Done()
			<-start
			if granted, _ := uut.TryLock("table-1", "C3", userID); granted {
				winners <- userID
			}
		}()
	}
	close(start)
	wg.Wait()
	close(winners)

	// Exactly one contender holds the cell
	held := []string{}
	for userID := range winners {
		held = append(held, userID)
	}
	assert.Len(held, 1)
	assert.Equal(map[string]string{"C3": held[0]}, uut.Snapshot("table-1"))
}

func TestLockTableReleaseAllFor(t *testing.T) {
	assert := assert.New(t)

	uut, err := DefineLockTable()
	assert.Nil(err)

	for _, cell := range []string{"A1", "B2", "C3"} {
		granted, _ := uut.TryLock("table-1", cell, "user-1")
		assert.True(granted)
	}
	granted, _ := uut.TryLock("table-1", "D4", "user-2")
	assert.True(granted)

	released := uut.ReleaseAllFor("table-1", "user-1")
	assert.ElementsMatch([]string{"A1", "B2", "C3"}, released)
	assert.Equal(map[string]string{"D4": "user-2"}, uut.Snapshot("table-1"))

	// Repeat release is empty
	assert.Empty(uut.ReleaseAllFor("table-1", "user-1"))

	// Case: dropping the table clears the remainder
	uut.DropTable("table-1")
	assert.Empty(uut.Snapshot("table-1"))
	assert.True(uut.IsEditable("table-1", "D4", "user-1"))
}
