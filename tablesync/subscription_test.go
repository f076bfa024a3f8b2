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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptionIndex(t *testing.T) {
	assert := assert.New(t)

	uut, err := DefineSubscriptionIndex()
	assert.Nil(err)

	// Case 1: empty index
	{
		assert.Empty(uut.Members("table-1"))
		assert.False(uut.IsSubscribed("table-1", "user-1"))
		assert.Empty(uut.TablesFor("user-1"))
		assert.Empty(uut.TableIDs())
	}

	// Case 2: joins are idempotent per user
	{
		uut.Join("table-1", "user-1")
		uut.Join("table-1", "user-1")
		uut.Join("table-1", "user-2")
		uut.Join("table-2", "user-1")
		assert.ElementsMatch([]string{"user-1", "user-2"}, uut.Members("table-1"))
		assert.True(uut.IsSubscribed("table-1", "user-1"))
		assert.ElementsMatch([]string{"table-1", "table-2"}, uut.TablesFor("user-1"))
		assert.ElementsMatch([]string{"table-1", "table-2"}, uut.TableIDs())
	}

	// Case 3: leave reports the remaining subscriber count
	{
		assert.Equal(1, uut.Leave("table-1", "user-2"))
		assert.False(uut.IsSubscribed("table-1", "user-2"))
		assert.Equal([]string{"user-1"}, uut.Members("table-1"))
	}

	// Case 4: the last leave prunes the table
	{
		assert.Equal(0, uut.Leave("table-1", "user-1"))
		assert.Equal([]string{"table-2"}, uut.TableIDs())
		assert.Equal([]string{"table-2"}, uut.TablesFor("user-1"))
	}

	// Case 5: leaving an unknown table is a no-op
	{
		assert.Equal(0, uut.Leave("table-9", "user-1"))
	}

	// Case 6: member snapshots are copies
	{
		members := uut.Members("table-2")
		members[0] = "mutated"
		assert.Equal([]string{"user-1"}, uut.Members("table-2"))
	}
}
