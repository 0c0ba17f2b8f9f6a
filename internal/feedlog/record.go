package feedlog

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"

	"github.com/rzbill/feedmux/pkg/id"
)

// Record is one appended event: immutable once written, ordered within its
// key by ID, payload opaque to this subsystem.
type Record struct {
	Key     string
	ID      id.ID
	Headers map[string]string
	Payload []byte
}

// WriteTsMs returns the append wall-clock time in milliseconds.
func (r Record) WriteTsMs() int64 { return r.ID.Ms() }

// Value encoding: varint headerLen | header | payload | crc32c(header|payload)
// where header is an optional JSON map of user headers.

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func encodeValue(headers map[string]string, payload []byte) []byte {
	var header []byte
	if len(headers) > 0 {
		header, _ = json.Marshal(headers)
	}
	out := make([]byte, 0, 10+len(header)+len(payload)+4)
	var tmp [10]byte
	n := binary.PutUvarint(tmp[:], uint64(len(header)))
	out = append(out, tmp[:n]...)
	out = append(out, header...)
	out = append(out, payload...)

	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc)
	out = append(out, crcb[:]...)
	return out
}

func decodeValue(b []byte) (headers map[string]string, payload []byte, ok bool) {
	if len(b) < 1+4 {
		return nil, nil, false
	}
	hlen, n := binary.Uvarint(b)
	if n <= 0 || n+4 > len(b) {
		return nil, nil, false
	}
	// compare as uint64 so an oversized varint cannot wrap negative
	if hlen > uint64(len(b)-n-4) {
		return nil, nil, false
	}
	header := b[n : n+int(hlen)]
	body := b[n+int(hlen) : len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, body)
	if crc != expect {
		return nil, nil, false
	}
	if len(header) > 0 {
		_ = json.Unmarshal(header, &headers)
	}
	return headers, append([]byte(nil), body...), true
}
