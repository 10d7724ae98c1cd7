package property

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = Key{Peer: 37564, RequestID: 1}

func threeChunks(t *testing.T) ([]Chunk, []byte) {
	t.Helper()
	payload := []byte("0123456789abcdefghijklmnopqrstu")
	chunks, err := Split([]byte(`{"resource":"X"}`), payload, 11)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	return chunks, payload
}

func TestAccumulatorDelivery(t *testing.T) {
	chunks, payload := threeChunks(t)

	tests := []struct {
		name    string
		order   []int
		rejects int
	}{
		{"in order", []int{0, 1, 2}, 0},
		{"duplicate discarded", []int{0, 0, 1, 2}, 1},
		{"out of order by index", []int{1, 0, 2}, 0},
		{"reversed", []int{2, 1, 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := NewAccumulator(nil)
			var result *Result
			rejects := 0

			for _, i := range tt.order {
				r, err := acc.Add(testKey, chunks[i])
				if err != nil {
					require.ErrorIs(t, err, ErrOutOfOrderChunk)
					rejects++
					continue
				}
				if r != nil {
					require.Nil(t, result, "assembled twice")
					result = r
				}
			}

			require.NotNil(t, result)
			assert.Equal(t, payload, result.Data)
			assert.Equal(t, `{"resource":"X"}`, string(result.Header))
			assert.Equal(t, tt.rejects, rejects)
			assert.Equal(t, 0, acc.Len(), "transaction released")
		})
	}
}

func TestAccumulatorRejectsImpossibleIndex(t *testing.T) {
	acc := NewAccumulator(nil)

	_, err := acc.Add(testKey, Chunk{NumChunks: 2, Index: 0})
	assert.ErrorIs(t, err, ErrOutOfOrderChunk)
	_, err = acc.Add(testKey, Chunk{NumChunks: 2, Index: 3})
	assert.ErrorIs(t, err, ErrOutOfOrderChunk)
	assert.Equal(t, 0, acc.Len())

	_, err = acc.Add(testKey, Chunk{NumChunks: 2, Index: 1})
	require.NoError(t, err)
	_, err = acc.Add(testKey, Chunk{NumChunks: 5, Index: 2})
	assert.ErrorIs(t, err, ErrOutOfOrderChunk)
	assert.Equal(t, 1, acc.Len())
}

func TestAccumulatorUnknownTotal(t *testing.T) {
	acc := NewAccumulator(nil)

	r, err := acc.Add(testKey, Chunk{Header: []byte("{}"), NumChunks: 0, Index: 1, Data: []byte("ab")})
	require.NoError(t, err)
	assert.Nil(t, r)

	r, err = acc.Add(testKey, Chunk{NumChunks: 2, Index: 2, Data: []byte("cd")})
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "abcd", string(r.Data))
}

func TestAccumulatorSeparatesKeys(t *testing.T) {
	acc := NewAccumulator(nil)
	other := Key{Peer: 19474, RequestID: 1}

	_, err := acc.Add(testKey, Chunk{NumChunks: 2, Index: 1, Data: []byte("a")})
	require.NoError(t, err)
	_, err = acc.Add(other, Chunk{NumChunks: 2, Index: 1, Data: []byte("x")})
	require.NoError(t, err)

	r, err := acc.Add(testKey, Chunk{NumChunks: 2, Index: 2, Data: []byte("b")})
	require.NoError(t, err)
	assert.Equal(t, "ab", string(r.Data))

	assert.Equal(t, 1, acc.AbortPeer(19474))
	assert.Equal(t, 0, acc.Len())
}

func TestAccumulatorStaleAndAbort(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	acc := NewAccumulator(func() time.Time { return now })

	_, _ = acc.Add(Key{Peer: 1, RequestID: 2}, Chunk{NumChunks: 2, Index: 1})
	_, _ = acc.Add(Key{Peer: 1, RequestID: 1}, Chunk{NumChunks: 2, Index: 1})
	now = now.Add(2 * time.Second)
	_, _ = acc.Add(Key{Peer: 2, RequestID: 1}, Chunk{NumChunks: 2, Index: 1})

	tx, ok := acc.Pending(Key{Peer: 2, RequestID: 1})
	require.True(t, ok)
	assert.Equal(t, 1, tx.Received())

	stale := acc.Stale(time.Second)
	assert.Equal(t, []Key{{Peer: 1, RequestID: 1}, {Peer: 1, RequestID: 2}}, stale)
	assert.Equal(t, 1, acc.Len())

	assert.True(t, acc.Abort(Key{Peer: 2, RequestID: 1}))
	assert.False(t, acc.Abort(Key{Peer: 2, RequestID: 1}))
}

func TestSplit(t *testing.T) {
	chunks, err := Split([]byte("{}"), nil, 10)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].IsLast())
	assert.Equal(t, "{}", string(chunks[0].Header))
	assert.Empty(t, chunks[0].Data)

	chunks, err = Split([]byte("{}"), make([]byte, 20), 10)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Nil(t, chunks[1].Header)
	assert.Equal(t, uint16(2), chunks[1].Index)
	assert.True(t, chunks[1].IsLast())

	_, err = Split(nil, make([]byte, MaxChunks+1), 1)
	assert.ErrorIs(t, err, ErrTooManyChunks)
	_, err = Split(nil, nil, 0)
	assert.Error(t, err)
}

func TestCodecRoundTrip(t *testing.T) {
	body := bytes.Repeat([]byte(`{"name":"Grand Piano","bank":0}`), 20)
	binary := []byte{0x00, 0xFF, 0x80, 0x7F}

	tests := []struct {
		enc  Encoding
		body []byte
	}{
		{"", body},
		{EncodingASCII, body},
		{EncodingMcoded7, binary},
		{EncodingZlibMcoded7, body},
		{EncodingZlibMcoded7, nil},
	}

	for _, tt := range tests {
		t.Run(string(tt.enc), func(t *testing.T) {
			wireData, err := EncodeBody(tt.enc, tt.body)
			require.NoError(t, err)
			for _, b := range wireData {
				require.Zero(t, b&0x80)
			}
			got, err := DecodeBody(tt.enc, wireData)
			require.NoError(t, err)
			assert.Equal(t, len(tt.body), len(got))
			assert.True(t, bytes.Equal(tt.body, got))
		})
	}
}

func TestCodecCompressionShrinks(t *testing.T) {
	body := bytes.Repeat([]byte("ProgramList "), 100)
	plain, err := EncodeBody(EncodingMcoded7, body)
	require.NoError(t, err)
	packed, err := EncodeBody(EncodingZlibMcoded7, body)
	require.NoError(t, err)
	assert.Less(t, len(packed), len(plain))
}

func TestCodecErrors(t *testing.T) {
	_, err := EncodeBody(EncodingASCII, []byte{0x80})
	assert.ErrorIs(t, err, ErrCodec)

	_, err = DecodeBody(EncodingMcoded7, []byte{0x00})
	assert.ErrorIs(t, err, ErrCodec)

	_, err = DecodeBody(EncodingZlibMcoded7, mustEncode(t, EncodingMcoded7, []byte{0xFF, 0xFF, 0xFF}))
	assert.ErrorIs(t, err, ErrCodec)

	_, err = EncodeBody("base64", nil)
	assert.ErrorIs(t, err, ErrUnsupportedEncoding)
}

func mustEncode(t *testing.T, enc Encoding, body []byte) []byte {
	t.Helper()
	out, err := EncodeBody(enc, body)
	require.NoError(t, err)
	return out
}

func TestResultDecode(t *testing.T) {
	hdr, err := Header{Resource: "X", MutualEncoding: EncodingMcoded7}.Marshal()
	require.NoError(t, err)
	r := &Result{Header: hdr, Data: mustEncode(t, EncodingMcoded7, []byte{0xF0, 0x01})}

	h, body, err := r.Decode(Codec{})
	require.NoError(t, err)
	assert.Equal(t, "X", h.Resource)
	assert.Equal(t, []byte{0xF0, 0x01}, body)

	hdr, err = Header{Resource: "X", MutualEncoding: EncodingZlibMcoded7}.Marshal()
	require.NoError(t, err)
	_, body, err = (&Result{Header: hdr}).Decode(Codec{})
	require.NoError(t, err, "header-only message")
	assert.Empty(t, body)

	_, err = ParseHeader([]byte("{"))
	assert.ErrorIs(t, err, ErrMalformedHeader)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, StatusOK, StatusOf(nil))
	assert.Equal(t, StatusNotFound, StatusOf(ErrUnknownResource))
	assert.Equal(t, StatusMethodNotAllowed, StatusOf(ErrReadOnly))
	assert.Equal(t, StatusBadRequest, StatusOf(ErrCodec))
	assert.Equal(t, StatusInternalError, StatusOf(errors.New("boom")))
}

func TestMemoryService(t *testing.T) {
	svc := NewMemoryService()
	svc.Add(ResourceInfo{Resource: "ProgramList", CanGet: true}, []byte("[]"))
	svc.Add(ResourceInfo{Resource: "X-Settings", CanGet: true, CanSet: CanSetFull}, []byte("{}"))

	body, err := svc.Get("ProgramList", "")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(body))

	assert.ErrorIs(t, svc.Set("ProgramList", "", nil), ErrReadOnly)
	assert.ErrorIs(t, svc.Set("Nope", "", nil), ErrUnknownResource)
	require.NoError(t, svc.Set("X-Settings", "", []byte(`{"a":1}`)))

	body, err = svc.Get("X-Settings", "")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(body))

	_, err = svc.Get("Nope", "")
	assert.ErrorIs(t, err, ErrUnknownResource)

	names := []string{}
	for _, r := range svc.Resources() {
		names = append(names, r.Resource)
	}
	assert.Equal(t, []string{"ProgramList", "X-Settings"}, names)
}

func TestStandardResources(t *testing.T) {
	app := NewMemoryService()
	app.Add(ResourceInfo{Resource: "ProgramList", CanGet: true}, []byte("[]"))

	std := NewStandardResources(app, DeviceInfoBody{
		ManufacturerID: Septets(0x00213D, 3),
		FamilyID:       Septets(1, 2),
		ModelID:        Septets(2, 2),
		VersionID:      Septets(3, 4),
		Manufacturer:   "ACME",
		Model:          "Synth",
	})

	body, err := std.Get(ResourceList, "")
	require.NoError(t, err)
	var list []ResourceInfo
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 2)
	assert.Equal(t, DeviceInfo, list[0].Resource)
	assert.Equal(t, "ProgramList", list[1].Resource)

	body, err = std.Get(DeviceInfo, "")
	require.NoError(t, err)
	var info DeviceInfoBody
	require.NoError(t, json.Unmarshal(body, &info))
	assert.Equal(t, "ACME", info.Manufacturer)
	assert.Equal(t, uint32(0x00213D), FromSeptets(info.ManufacturerID))

	assert.ErrorIs(t, std.Set(DeviceInfo, "", nil), ErrReadOnly)

	bare := NewStandardResources(nil, DeviceInfoBody{})
	_, err = bare.Get("ProgramList", "")
	assert.ErrorIs(t, err, ErrUnknownResource)
}
