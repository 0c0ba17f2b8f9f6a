package feedlog

import (
	"errors"
	"strings"

	"github.com/rzbill/feedmux/pkg/id"
)

// Keyspace layout (byte-wise, lexicographically sortable):
//
//	fm/e/{key}\x00{id_be12}   record entries
//	fm/k/{key}                per-key meta (last appended ID, 12 bytes)
//	fm/i/{key}\x00{idem}      publish idempotency index (record ID, 12 bytes)
//	fm/meta/last              global meta (last assigned ID, 12 bytes)
//
// The 0x00 separator after the feed key keeps one key's entries from
// shadowing a longer key that shares its prefix.

var (
	entryPrefix   = []byte("fm/e/")
	keyMetaPrefix = []byte("fm/k/")
	idemPrefix    = []byte("fm/i/")
	lastIDKey     = []byte("fm/meta/last")
)

const keySep = byte(0x00)

// MaxKeyLen bounds feed key length.
const MaxKeyLen = 256

// ValidateKey rejects keys the keyspace cannot represent.
func ValidateKey(key string) error {
	if key == "" {
		return errors.New("feedlog: empty key")
	}
	if len(key) > MaxKeyLen {
		return errors.New("feedlog: key too long")
	}
	if strings.IndexByte(key, 0x00) >= 0 {
		return errors.New("feedlog: key contains NUL")
	}
	return nil
}

// keyEntry builds the entry key for (feed key, record id).
func keyEntry(key string, rid id.ID) []byte {
	k := make([]byte, 0, len(entryPrefix)+len(key)+1+len(rid))
	k = append(k, entryPrefix...)
	k = append(k, key...)
	k = append(k, keySep)
	k = append(k, rid[:]...)
	return k
}

// keyEntryBounds returns the [low, high) iterator bounds covering entries of
// one feed key starting at from.
func keyEntryBounds(key string, from id.ID) (low, high []byte) {
	low = keyEntry(key, from)
	var maxID id.ID
	for i := range maxID {
		maxID[i] = 0xFF
	}
	high = append(keyEntry(key, maxID), 0x00)
	return low, high
}

// entryID extracts the record ID from an entry key.
func entryID(entryKey []byte) (id.ID, bool) {
	var rid id.ID
	if len(entryKey) < len(rid) {
		return rid, false
	}
	copy(rid[:], entryKey[len(entryKey)-len(rid):])
	return rid, true
}

// keyIdem builds the idempotency index key for (feed key, idempotency key).
func keyIdem(key, idem string) []byte {
	k := make([]byte, 0, len(idemPrefix)+len(key)+1+len(idem))
	k = append(k, idemPrefix...)
	k = append(k, key...)
	k = append(k, keySep)
	k = append(k, idem...)
	return k
}

// keyMeta builds the per-key meta key.
func keyMeta(key string) []byte {
	k := make([]byte, 0, len(keyMetaPrefix)+len(key))
	k = append(k, keyMetaPrefix...)
	k = append(k, key...)
	return k
}
