// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rd03d

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockSource_ReadsQueuedBytes(t *testing.T) {
	t.Parallel()

	m := NewMockSource()
	assert.False(t, m.Available())

	_, err := m.ReadByte()
	require.ErrorIs(t, err, ErrNoData)

	n, err := m.Write([]byte{0xAA, 0xFF})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, m.Available())
	assert.Equal(t, 2, m.Pending())

	b, err := m.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(0xAA), b)
	b, err = m.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(0xFF), b)

	assert.False(t, m.Available())
	assert.Equal(t, 2, m.ReadCount())
	assert.Equal(t, TransportMock, m.Type())
}

func TestMockSource_Error(t *testing.T) {
	t.Parallel()

	m := NewMockSource()
	_, _ = m.Write([]byte{0x01})
	injected := errors.New("line noise")
	m.SetError(injected)

	assert.True(t, m.Available())
	_, err := m.ReadByte()
	require.ErrorIs(t, err, injected)

	m.SetError(nil)
	b, err := m.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(0x01), b)
}

func TestMockSource_Close(t *testing.T) {
	t.Parallel()

	m := NewMockSource()
	_, _ = m.Write([]byte{0x01})
	require.NoError(t, m.Close())

	assert.True(t, m.IsClosed())
	assert.False(t, m.Available())
	_, err := m.ReadByte()
	require.ErrorIs(t, err, ErrTransportClosed)
}

func TestMockSource_SetBaudRate(t *testing.T) {
	t.Parallel()

	m := NewMockSource()
	require.NoError(t, m.SetBaudRate(115200))
	assert.Equal(t, 115200, m.BaudRate())

	require.ErrorIs(t, m.SetBaudRate(0), ErrInvalidBaudRate)
	assert.Equal(t, 115200, m.BaudRate())
}
