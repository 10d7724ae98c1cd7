package muid

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytesRoundTrip(t *testing.T) {
	tests := []MUID{0, 1, 0x7F, 0x80, 19474, 37564, 0x0ABCDEF, ReservedStart, Broadcast}

	for _, m := range tests {
		t.Run(m.String(), func(t *testing.T) {
			b := m.Bytes()
			for i, v := range b {
				if v&0x80 != 0 {
					t.Fatalf("byte %d has high bit set: 0x%02X", i, v)
				}
			}
			got, err := FromBytes(b[:])
			if err != nil {
				t.Fatalf("FromBytes failed: %v", err)
			}
			if got != m {
				t.Errorf("round trip: got %s, want %s", got, m)
			}
		})
	}
}

func TestBytesLayout(t *testing.T) {
	// 37564 = 2*128*128 + 37*128 + 60
	assert.Equal(t, [Size]byte{60, 37, 2, 0}, MUID(37564).Bytes())
	assert.Equal(t, [Size]byte{0x7F, 0x7F, 0x7F, 0x7F}, Broadcast.Bytes())
}

func TestFromBytesErrors(t *testing.T) {
	_, err := FromBytes([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidMUID)

	_, err = FromBytes([]byte{1, 0x80, 3, 4})
	assert.ErrorIs(t, err, ErrInvalidMUID)
}

func TestReserved(t *testing.T) {
	assert.True(t, Broadcast.IsReserved())
	assert.True(t, ReservedStart.IsReserved())
	assert.False(t, (ReservedStart - 1).IsReserved())
	assert.False(t, MUID(0x10000000).IsValid())
}

// sequenceSource returns the given values in order, then repeats the last.
func sequenceSource(values ...uint32) func() uint32 {
	i := 0
	return func() uint32 {
		v := values[min(i, len(values)-1)]
		i++
		return v
	}
}

func TestGenerateSkipsKnownAndReserved(t *testing.T) {
	r := NewRegistry[string](sequenceSource(100, 200, 0x0FFFFF10, 100, 200, 300))
	require.Equal(t, MUID(100), r.Own())
	require.NoError(t, r.RegisterPeer(200, "peer"))

	// 0x0FFFFF10 is reserved, 100 is own, 200 is a peer.
	m, err := r.Generate()
	require.NoError(t, err)
	assert.Equal(t, MUID(300), m)
}

func TestGenerateMasksTo28Bits(t *testing.T) {
	r := NewRegistry[string](sequenceSource(0xFFFFFFFF, 0xF1234567))
	m := r.Own()
	assert.True(t, m.IsValid())
	assert.Equal(t, MUID(0x01234567), m)
	for i, b := range m.Bytes() {
		assert.Zero(t, b&0x80, "byte %d", i)
	}
}

func TestGenerateExhausted(t *testing.T) {
	r := NewRegistry[string](sequenceSource(5))
	_, err := r.Generate()
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestGeneratedValuesUnique(t *testing.T) {
	r := NewRegistry[int](nil)
	seen := map[MUID]bool{r.Own(): true}
	for i := 0; i < 500; i++ {
		m, err := r.Generate()
		require.NoError(t, err)
		require.False(t, seen[m], "duplicate MUID %s", m)
		require.NoError(t, r.RegisterPeer(m, i))
		seen[m] = true
	}
	assert.Equal(t, 500, r.Len())
}

func TestRegisterPeerCollision(t *testing.T) {
	r := NewRegistry[string](sequenceSource(1))

	err := r.RegisterPeer(r.Own(), "x")
	assert.True(t, errors.Is(err, ErrCollision), "own MUID should collide: %v", err)

	require.NoError(t, r.RegisterPeer(42, "synth"))
	require.NoError(t, r.RegisterPeer(42, "synth"), "same identity is idempotent")

	err = r.RegisterPeer(42, "drum machine")
	assert.ErrorIs(t, err, ErrCollision)
	id, ok := r.Peer(42)
	assert.True(t, ok)
	assert.Equal(t, "synth", id, "collision must not overwrite")

	assert.ErrorIs(t, r.RegisterPeer(Broadcast, "b"), ErrInvalidMUID)
}

func TestInvalidate(t *testing.T) {
	r := NewRegistry[string](sequenceSource(1))
	var removed []MUID
	r.OnInvalidate(func(m MUID) { removed = append(removed, m) })

	require.NoError(t, r.RegisterPeer(10, "a"))
	require.NoError(t, r.RegisterPeer(11, "b"))

	assert.True(t, r.Invalidate(10))
	assert.False(t, r.Invalidate(10))
	assert.False(t, r.Known(10))
	assert.Equal(t, []MUID{10}, removed)

	r.InvalidateAll()
	assert.Zero(t, r.Len())
	assert.ElementsMatch(t, []MUID{10, 11}, removed)
}

func TestRegenerate(t *testing.T) {
	r := NewRegistry[string](sequenceSource(1, 2))
	old, err := r.Regenerate()
	require.NoError(t, err)
	assert.Equal(t, MUID(1), old)
	assert.Equal(t, MUID(2), r.Own())
}

func TestSetOwn(t *testing.T) {
	r := NewRegistry[string](sequenceSource(1))
	require.NoError(t, r.RegisterPeer(7, "p"))

	assert.ErrorIs(t, r.SetOwn(7), ErrCollision)
	assert.ErrorIs(t, r.SetOwn(Broadcast), ErrInvalidMUID)
	require.NoError(t, r.SetOwn(19474))
	assert.Equal(t, MUID(19474), r.Own())
}
