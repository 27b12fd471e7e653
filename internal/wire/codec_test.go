// SPDX-FileCopyrightText: 2025 The fleetresv Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := []*Message{
		NewMessage(TypeLogin, "alice", "s3cr3t"),
		NewMessage(TypeStatusRequest),
		NewMessage(TypeReserveRequest, "DEV001", "10"),
		NewErrorMessage(ErrResourceInUse, "reserved by alice"),
		{Type: TypeStatusResponse, Args: [][]byte{}, Data: []byte("trailing blob")},
	}

	for _, m := range cases {
		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, m))

		got, err := Decode(&buf)
		require.NoError(t, err)

		assert.Equal(t, m.Type, got.Type)
		if m.Type == TypeError {
			assert.Equal(t, m.ErrorCode, got.ErrorCode)
		}
		require.Equal(t, len(m.Args), len(got.Args))
		for i := range m.Args {
			assert.Equal(t, m.Args[i], got.Args[i])
		}
		assert.Equal(t, m.Data, got.Data)
	}
}

func TestPriorityRoundTripsAsSyntheticLeadingArg(t *testing.T) {
	m := NewMessage(TypeReserveRequest, "DEV001", "10")
	m.Priority = 7

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, m))

	got, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Priority)
	require.Equal(t, [][]byte{[]byte("DEV001"), []byte("10")}, got.Args)
}

func TestPriorityClampedToMaxOnEncode(t *testing.T) {
	m := NewMessage(TypeStatusRequest)
	m.Priority = MaxPriority + 5

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, m))

	got, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, MaxPriority, got.Priority)
}

func TestNonPriorityBearingTypeIgnoresPriorityField(t *testing.T) {
	m := &Message{Type: TypeStatusResponse, Args: [][]byte{[]byte("a")}}
	m.Priority = 9

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, m))

	got, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Priority)
	assert.Equal(t, m.Args, got.Args)
}

func TestDecodeRejectsOversizedArgCount(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeU32(&buf, uint32(TypeStatusRequest)))
	require.NoError(t, writeU32(&buf, MaxArgs+1))

	_, err := Decode(&buf)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecodeRejectsOversizedArgLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeU32(&buf, uint32(TypeLogin)))
	require.NoError(t, writeU32(&buf, 1))
	require.NoError(t, writeU32(&buf, MaxArgLength))

	_, err := Decode(&buf)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestEncodeRejectsTooManyArgs(t *testing.T) {
	m := &Message{Type: TypeStatusRequest, Args: make([][]byte, MaxArgs+1)}
	err := Encode(&bytes.Buffer{}, m)
	require.Error(t, err)
}
