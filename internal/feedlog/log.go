package feedlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pebblestore "github.com/rzbill/feedmux/internal/storage/pebble"
	"github.com/rzbill/feedmux/pkg/id"
)

// ErrStoreUnavailable wraps storage failures on the read path. A batched read
// either succeeds for every requested key or fails with this error.
var ErrStoreUnavailable = errors.New("feedlog: store unavailable")

// Cursor is the next position to read within a key: exclusive of delivered
// records, inclusive going forward.
type Cursor = id.ID

// Log provides append and cursor-batched read operations over all keys.
type Log struct {
	db  *pebblestore.DB
	gen *id.Generator

	mu       sync.Mutex
	notifyCh chan struct{}
}

// Open initializes a Log and seeds the ID generator past the last durable ID
// so a restart never re-assigns an issued ID.
func Open(db *pebblestore.DB) (*Log, error) {
	l := &Log{db: db, gen: id.NewGenerator(), notifyCh: make(chan struct{})}
	if b, err := db.Get(lastIDKey); err == nil {
		if last, err := id.FromBytes(b); err == nil {
			l.gen.Seed(last)
		}
	} else if !errors.Is(err, pebblestore.ErrNotFound) {
		return nil, fmt.Errorf("feedlog: load last id: %w", err)
	}
	return l, nil
}

// Append durably writes one record under key as a single atomic batch and
// returns it with its assigned ID. Waiters blocked in WaitForAppend are woken.
func (l *Log) Append(ctx context.Context, key string, payload []byte, headers map[string]string) (Record, error) {
	if err := ValidateKey(key); err != nil {
		return Record{}, err
	}
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rid := l.gen.Next()
	val := encodeValue(headers, payload)

	b := l.db.NewBatch()
	defer b.Close()
	if err := b.Set(keyEntry(key, rid), val, nil); err != nil {
		return Record{}, err
	}
	if err := b.Set(keyMeta(key), rid.Bytes(), nil); err != nil {
		return Record{}, err
	}
	if err := b.Set(lastIDKey, rid.Bytes(), nil); err != nil {
		return Record{}, err
	}
	if err := l.db.CommitBatch(b); err != nil {
		return Record{}, err
	}

	// wake waiters
	close(l.notifyCh)
	l.notifyCh = make(chan struct{})

	return Record{Key: key, ID: rid, Headers: headers, Payload: payload}, nil
}

// IdempotentID looks up the record ID previously stored for (key, idem).
func (l *Log) IdempotentID(key, idem string) (id.ID, bool) {
	b, err := l.db.Get(keyIdem(key, idem))
	if err != nil {
		return id.Zero, false
	}
	rid, err := id.FromBytes(b)
	if err != nil {
		return id.Zero, false
	}
	return rid, true
}

// RememberIdempotent records rid under (key, idem) for later dedup lookups.
func (l *Log) RememberIdempotent(key, idem string, rid id.ID) error {
	return l.db.Set(keyIdem(key, idem), rid.Bytes())
}

// LastID returns the ID of the most recently appended record for key.
func (l *Log) LastID(key string) (id.ID, bool) {
	b, err := l.db.Get(keyMeta(key))
	if err != nil {
		return id.Zero, false
	}
	last, err := id.FromBytes(b)
	if err != nil {
		return id.Zero, false
	}
	return last, true
}

// WaitForAppend blocks until any key appends or timeout elapses. It returns
// true if woken by an append, false on timeout.
func (l *Log) WaitForAppend(timeout time.Duration) bool {
	l.mu.Lock()
	ch := l.notifyCh
	l.mu.Unlock()
	if timeout <= 0 {
		<-ch
		return true
	}
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}
