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

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
)

func TestParseInboundMessage(t *testing.T) {
	assert := assert.New(t)

	validate := validator.New()

	// Case 1: cell update
	{
		parsed, err := ParseInboundMessage([]byte(
			`{"type":"cell_update","cell_data":{"cell":"A1","value":42}}`,
		), validate)
		assert.Nil(err)
		assert.Equal(InboundCellUpdate, parsed.Kind)
		assert.Equal("A1", parsed.CellUpdate.Cell)
		assert.Equal(42.0, parsed.CellUpdate.Value)
		assert.Nil(parsed.CellUpdate.Formula)
	}

	// Case 2: cell update with formula
	{
		parsed, err := ParseInboundMessage([]byte(
			`{"type":"cell_update","cell_data":{"cell":"B2","value":7,"formula":"=SUM(A1:A3)"}}`,
		), validate)
		assert.Nil(err)
		assert.Equal("=SUM(A1:A3)", *parsed.CellUpdate.Formula)
	}

	// Case 3: cell update missing its payload
	{
		_, err := ParseInboundMessage([]byte(`{"type":"cell_update"}`), validate)
		assert.NotNil(err)
		_, err = ParseInboundMessage([]byte(
			`{"type":"cell_update","cell_data":{"value":1}}`,
		), validate)
		assert.NotNil(err)
	}

	// Case 4: lock acquire and release
	{
		parsed, err := ParseInboundMessage([]byte(
			`{"type":"cell_lock","cell":"C3","lock":true}`,
		), validate)
		assert.Nil(err)
		assert.Equal(InboundCellLock, parsed.Kind)
		assert.Equal("C3", parsed.CellLock.Cell)
		assert.True(parsed.CellLock.Lock)

		parsed, err = ParseInboundMessage([]byte(
			`{"type":"cell_lock","cell":"C3","lock":false}`,
		), validate)
		assert.Nil(err)
		assert.False(parsed.CellLock.Lock)

		_, err = ParseInboundMessage([]byte(`{"type":"cell_lock","cell":"C3"}`), validate)
		assert.NotNil(err)
	}

	// Case 5: cursor move keeps the position opaque
	{
		parsed, err := ParseInboundMessage([]byte(
			`{"type":"cursor_move","cursor_data":{"cell":"D4","color":"#fff"}}`,
		), validate)
		assert.Nil(err)
		assert.Equal(InboundCursorMove, parsed.Kind)
		assert.JSONEq(`{"cell":"D4","color":"#fff"}`, string(parsed.CursorMove))

		_, err = ParseInboundMessage([]byte(`{"type":"cursor_move"}`), validate)
		assert.NotNil(err)
	}

	// Case 6: heartbeat
	{
		parsed, err := ParseInboundMessage([]byte(`{"type":"ping"}`), validate)
		assert.Nil(err)
		assert.Equal(InboundPing, parsed.Kind)
	}

	// Case 7: malformed frames
	{
		_, err := ParseInboundMessage([]byte(`not json`), validate)
		assert.NotNil(err)
		_, err = ParseInboundMessage([]byte(`{}`), validate)
		assert.NotNil(err)
		_, err = ParseInboundMessage([]byte(`{"type":"selection_change"}`), validate)
		assert.NotNil(err)
	}
}
