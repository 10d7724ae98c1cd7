package loopback

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeDeliversInOrder(t *testing.T) {
	p := NewBytes()
	var gotA, gotB [][]byte
	p.A().Handle(func(b []byte) error { gotA = append(gotA, b); return nil })
	p.B().Handle(func(b []byte) error {
		gotB = append(gotB, b)
		if b[0] == 1 {
			return p.B().Send([]byte{9})
		}
		return nil
	})

	msg := []byte{1}
	require.NoError(t, p.A().Send(msg))
	require.NoError(t, p.A().Send([]byte{2}))
	msg[0] = 7 // queued copy is unaffected

	assert.Equal(t, 2, p.Pending())
	require.NoError(t, p.Flush())
	assert.Equal(t, [][]byte{{1}, {2}}, gotB)
	assert.Equal(t, [][]byte{{9}}, gotA)
	assert.Equal(t, 0, p.Pending())
	assert.Equal(t, 2, p.Delivered(SideB))
	assert.Equal(t, 1, p.Delivered(SideA))
}

func TestPipeCollectsErrors(t *testing.T) {
	p := NewBytes()
	boom := errors.New("boom")
	p.B().Handle(func([]byte) error { return boom })

	require.NoError(t, p.A().Send([]byte{1}))
	require.NoError(t, p.Flush())
	errs := p.Errors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], boom)

	p.ResetErrors()
	assert.Empty(t, p.Errors())
}

func TestPipeRunaway(t *testing.T) {
	p := NewWords()
	p.MaxSteps = 10
	p.A().Handle(func(w []uint32) error { return p.A().Send(w) })
	p.B().Handle(func(w []uint32) error { return p.B().Send(w) })

	require.NoError(t, p.A().Send([]uint32{1}))
	assert.ErrorIs(t, p.Flush(), ErrRunaway)
	assert.Equal(t, 1, p.Drain())
}

func TestPipeIntercept(t *testing.T) {
	p := NewBytes()
	p.Record(true)
	var got [][]byte
	p.B().Handle(func(b []byte) error { got = append(got, b); return nil })
	p.Intercept = func(to Side, msg []byte) ([]byte, bool) {
		if msg[0] == 0 {
			return nil, false
		}
		return append(msg, 0xFF), true
	}

	_ = p.A().Send([]byte{0})
	_ = p.A().Send([]byte{5})
	require.NoError(t, p.Flush())
	assert.Equal(t, [][]byte{{5, 0xFF}}, got)
	assert.Equal(t, [][]byte{{5, 0xFF}}, p.History(SideB))
	assert.Empty(t, p.History(SideA))
	assert.Equal(t, "B", p.B().Side().String())
}
