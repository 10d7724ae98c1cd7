package property

import (
	"fmt"
	"sort"
	"time"

	"github.com/midici-protocol/midici-go/pkg/muid"
)

// Key identifies a transaction: the peer's MUID and its request ID.
type Key struct {
	Peer      muid.MUID
	RequestID byte
}

// Transaction is an in-flight multi-chunk message.
type Transaction struct {
	Key          Key
	Header       []byte
	NumChunks    uint16
	Started      time.Time
	LastActivity time.Time

	chunks map[uint16][]byte
}

// Received returns the number of distinct chunks stored.
func (t *Transaction) Received() int {
	return len(t.chunks)
}

// Result is a reassembled message. Data is still in its wire encoding.
type Result struct {
	Key    Key
	Header []byte
	Data   []byte
}

// Decode parses the header and decodes the body according to its
// mutualEncoding.
func (r *Result) Decode(codec Codec) (Header, []byte, error) {
	h, err := ParseHeader(r.Header)
	if err != nil {
		return Header{}, nil, err
	}
	body, err := codec.Decode(h.MutualEncoding, r.Data)
	if err != nil {
		return h, nil, err
	}
	return h, body, nil
}

// Accumulator reassembles chunked messages by index. Chunks of one
// transaction may arrive in any order; duplicates and indices outside the
// announced range are rejected with ErrOutOfOrderChunk and discarded.
//
// Timeouts are the owner's job: Stale reports transactions idle for longer
// than a given age.
type Accumulator struct {
	now func() time.Time
	txs map[Key]*Transaction
}

// NewAccumulator creates an accumulator. A nil clock uses time.Now.
func NewAccumulator(clock func() time.Time) *Accumulator {
	if clock == nil {
		clock = time.Now
	}
	return &Accumulator{
		now: clock,
		txs: make(map[Key]*Transaction),
	}
}

// Add stores a chunk. It returns the assembled message when c completes
// its transaction, which is then released.
func (a *Accumulator) Add(key Key, c Chunk) (*Result, error) {
	if c.Index == 0 || (c.NumChunks != 0 && c.Index > c.NumChunks) {
		return nil, fmt.Errorf("%w: chunk %d of %d", ErrOutOfOrderChunk, c.Index, c.NumChunks)
	}

	now := a.now()
	tx, ok := a.txs[key]
	if !ok {
		tx = &Transaction{
			Key:       key,
			NumChunks: c.NumChunks,
			Started:   now,
			chunks:    make(map[uint16][]byte),
		}
		a.txs[key] = tx
	}

	switch {
	case tx.NumChunks == 0:
		tx.NumChunks = c.NumChunks
	case c.NumChunks != 0 && c.NumChunks != tx.NumChunks:
		return nil, fmt.Errorf("%w: chunk count %d, transaction has %d", ErrOutOfOrderChunk, c.NumChunks, tx.NumChunks)
	case c.Index > tx.NumChunks:
		return nil, fmt.Errorf("%w: chunk %d of %d", ErrOutOfOrderChunk, c.Index, tx.NumChunks)
	}
	if _, dup := tx.chunks[c.Index]; dup {
		return nil, fmt.Errorf("%w: duplicate chunk %d", ErrOutOfOrderChunk, c.Index)
	}

	tx.chunks[c.Index] = append([]byte(nil), c.Data...)
	if c.Index == 1 || len(c.Header) > 0 {
		tx.Header = append([]byte(nil), c.Header...)
	}
	tx.LastActivity = now

	if tx.NumChunks == 0 || len(tx.chunks) < int(tx.NumChunks) {
		return nil, nil
	}

	size := 0
	for _, d := range tx.chunks {
		size += len(d)
	}
	data := make([]byte, 0, size)
	for i := uint16(1); i <= tx.NumChunks; i++ {
		data = append(data, tx.chunks[i]...)
	}
	delete(a.txs, key)
	return &Result{Key: key, Header: tx.Header, Data: data}, nil
}

// Pending returns the in-flight transaction for key.
func (a *Accumulator) Pending(key Key) (*Transaction, bool) {
	tx, ok := a.txs[key]
	return tx, ok
}

// Abort discards a transaction. It reports whether one existed.
func (a *Accumulator) Abort(key Key) bool {
	if _, ok := a.txs[key]; !ok {
		return false
	}
	delete(a.txs, key)
	return true
}

// AbortPeer discards every transaction with peer.
func (a *Accumulator) AbortPeer(peer muid.MUID) int {
	n := 0
	for k := range a.txs {
		if k.Peer == peer {
			delete(a.txs, k)
			n++
		}
	}
	return n
}

// Stale removes and returns the keys of transactions idle for longer than
// maxAge, sorted by peer and request ID.
func (a *Accumulator) Stale(maxAge time.Duration) []Key {
	now := a.now()
	var keys []Key
	for k, tx := range a.txs {
		if now.Sub(tx.LastActivity) > maxAge {
			keys = append(keys, k)
			delete(a.txs, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Peer != keys[j].Peer {
			return keys[i].Peer < keys[j].Peer
		}
		return keys[i].RequestID < keys[j].RequestID
	})
	return keys
}

// Len returns the number of in-flight transactions.
func (a *Accumulator) Len() int {
	return len(a.txs)
}
