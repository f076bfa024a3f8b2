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

func TestSessionRegistry(t *testing.T) {
	assert := assert.New(t)

	uut, err := DefineSessionRegistry()
	assert.Nil(err)

	sink1 := newTestSink()
	sink2 := newTestSink()

	// Case 1: empty registry
	{
		_, ok := uut.Lookup("user-1")
		assert.False(ok)
		assert.Equal(0, uut.ConnectionCount())
	}

	// Case 2: first registration has nothing to supersede
	{
		assert.Nil(uut.Register("user-1", sink1))
		fetched, ok := uut.Lookup("user-1")
		assert.True(ok)
		assert.Equal(sink1.ID(), fetched.ID())
		assert.Equal(1, uut.ConnectionCount())
	}

	// Case 3: re-registration returns the superseded sink
	{
		prior := uut.Register("user-1", sink2)
		assert.NotNil(prior)
		assert.Equal(sink1.ID(), prior.ID())
		fetched, ok := uut.Lookup("user-1")
		assert.True(ok)
		assert.Equal(sink2.ID(), fetched.ID())
		assert.Equal(1, uut.ConnectionCount())
	}

	// Case 4: unregister is idempotent
	{
		uut.Unregister("user-1")
		uut.Unregister("user-1")
		_, ok := uut.Lookup("user-1")
		assert.False(ok)
		assert.Equal(0, uut.ConnectionCount())
	}
}
