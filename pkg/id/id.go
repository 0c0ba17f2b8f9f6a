package id

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"time"
)

// ID is a 96-bit, lexicographically sortable record identifier encoded as
// 12 bytes big-endian: [8 bytes ms_timestamp][4 bytes sequence]. The
// timestamp provides coarse ordering; the sequence breaks ties within one
// millisecond. Byte order equals ID order.
type ID [12]byte

// Zero is the lowest possible ID; reading from Zero starts at the first record.
var Zero ID

// Make builds an ID from a millisecond timestamp and a sequence.
func Make(ms int64, seq uint32) ID {
	var id ID
	binary.BigEndian.PutUint64(id[0:8], uint64(ms))
	binary.BigEndian.PutUint32(id[8:12], seq)
	return id
}

// FromBytes parses a 12-byte encoding.
func FromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != len(id) {
		return id, errors.New("id: need exactly 12 bytes")
	}
	copy(id[:], b)
	return id, nil
}

// Parse decodes the 24-char hex form produced by String.
func Parse(s string) (ID, error) {
	var id ID
	if len(s) != len(id)*2 {
		return id, errors.New("id: need exactly 24 hex chars")
	}
	for idx := 0; idx < len(id); idx++ {
		hi, ok1 := unhex(s[idx*2])
		lo, ok2 := unhex(s[idx*2+1])
		if !ok1 || !ok2 {
			return Zero, errors.New("id: invalid hex")
		}
		id[idx] = hi<<4 | lo
	}
	return id, nil
}

// Ms returns the millisecond timestamp component.
func (i ID) Ms() int64 { return int64(binary.BigEndian.Uint64(i[0:8])) }

// Seq returns the tie-break sequence component.
func (i ID) Seq() uint32 { return binary.BigEndian.Uint32(i[8:12]) }

// Bytes returns the raw 12-byte representation.
func (i ID) Bytes() []byte { b := make([]byte, len(i)); copy(b, i[:]); return b }

// IsZero reports whether the ID is the zero value.
func (i ID) IsZero() bool { return i == Zero }

// String returns a hex string.
func (i ID) String() string { return fmtHex(i[:]) }

// Compare returns -1, 0, 1 based on lexical comparison.
func (i ID) Compare(other ID) int {
	for idx := 0; idx < len(i); idx++ {
		if i[idx] < other[idx] {
			return -1
		}
		if i[idx] > other[idx] {
			return 1
		}
	}
	return 0
}

// Next returns the ID immediately after i in the total order. Turns a
// last-delivered ID into an exclusive read cursor.
func (i ID) Next() ID {
	if seq := i.Seq(); seq < math.MaxUint32 {
		return Make(i.Ms(), seq+1)
	}
	return Make(i.Ms()+1, 0)
}

// Generator produces monotonically increasing IDs per process.
type Generator struct {
	mu       sync.Mutex
	lastMs   int64
	sequence uint32
}

// NewGenerator creates a new Generator.
func NewGenerator() *Generator { return &Generator{} }

// NowMs returns current time in milliseconds since Unix epoch.
var NowMs = func() int64 { return time.Now().UnixMilli() }

// Next returns a new ID. If the clock goes backwards, it reuses lastMs and
// increments the sequence. If the sequence overflows within the same
// millisecond, it waits for the next ms.
func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := NowMs()
	if ms < g.lastMs {
		ms = g.lastMs
	}

	if ms == g.lastMs {
		if g.sequence == math.MaxUint32 {
			for {
				ms = NowMs()
				if ms > g.lastMs {
					break
				}
				time.Sleep(time.Millisecond / 8)
			}
			g.sequence = 0
		} else {
			g.sequence++
		}
	} else {
		g.sequence = 0
	}

	g.lastMs = ms
	return Make(ms, g.sequence)
}

// Seed pins the generator at or beyond the given ID so restarts never emit
// an ID at or below what is already durable.
func (g *Generator) Seed(last ID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ms := last.Ms(); ms > g.lastMs || (ms == g.lastMs && last.Seq() > g.sequence) {
		g.lastMs = ms
		g.sequence = last.Seq()
	}
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// fmtHex is a small, allocation-lean hex encoder for fixed-size IDs.
func fmtHex(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexdigits[v>>4]
		out[i*2+1] = hexdigits[v&0x0f]
	}
	return string(out)
}
