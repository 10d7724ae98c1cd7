package sysex

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/midici-protocol/midici-go/pkg/muid"
	"github.com/midici-protocol/midici-go/pkg/wire"
)

func TestFrameUnframe(t *testing.T) {
	payload := []byte{0x7E, 0x7F, 0x0D, 0x70, 0x02}

	framed := Frame(payload)
	require.Len(t, framed, len(payload)+2)
	assert.Equal(t, Start, framed[0])
	assert.Equal(t, End, framed[len(framed)-1])

	got, err := Unframe(framed)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFrameUnframeEmpty(t *testing.T) {
	framed := Frame(nil)
	require.Equal(t, []byte{Start, End}, framed)

	got, err := Unframe(framed)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUnframeRejects(t *testing.T) {
	for _, in := range [][]byte{nil, {0xF0}, {0x7E, 0xF7}, {0xF0, 0x01}} {
		_, err := Unframe(in)
		assert.ErrorIs(t, err, ErrNotSysEx, "input % X", in)
	}
}

func TestEncodeDecode(t *testing.T) {
	msg := &wire.InvalidateMUID{
		Header: wire.NewHeader(wire.SubIDInvalidateMUID, 19474, muid.Broadcast),
		Target: 37564,
	}

	data, err := Encode(msg)
	require.NoError(t, err)
	assert.Equal(t, Start, data[0])

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, msg, got)

	// Bare payloads decode too.
	got, err = Decode(data[1 : len(data)-1])
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestDecodeUnterminated(t *testing.T) {
	_, err := Decode([]byte{0xF0, 0x7E, 0x7F, 0x0D})
	assert.True(t, errors.Is(err, wire.ErrMalformedMessage))
}
