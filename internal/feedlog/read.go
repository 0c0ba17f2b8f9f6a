package feedlog

import (
	"context"
	"fmt"
	"sort"

	"github.com/cockroachdb/pebble"
	"github.com/rzbill/feedmux/pkg/id"
)

// ReadBatch reads new records for every key in cursors, starting each key at
// its recorded cursor (inclusive), in one store round trip. Results are
// grouped by key, each group in strictly increasing ID order; a key with no
// new records contributes nothing. perKeyLimit caps records per key
// (0 means no cap).
//
// The call is all-or-nothing: any storage failure returns an error wrapping
// ErrStoreUnavailable and no partial result. A single Pebble snapshot backs
// every key's scan, so the batch is a consistent point-in-time view.
func (l *Log) ReadBatch(ctx context.Context, cursors map[string]Cursor, perKeyLimit int) ([]Record, error) {
	if len(cursors) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(cursors))
	for k := range cursors {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	snap := l.db.NewSnapshot()
	defer snap.Close()

	var out []Record
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		recs, err := readKeySnap(snap, key, cursors[key], perKeyLimit)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

func readKeySnap(snap *pebble.Snapshot, key string, from Cursor, limit int) ([]Record, error) {
	low, high := keyEntryBounds(key, from)
	iter, err := snap.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: high})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer iter.Close()

	var recs []Record
	for ok := iter.First(); ok && (limit == 0 || len(recs) < limit); ok = iter.Next() {
		rid, ok2 := entryID(iter.Key())
		if !ok2 {
			continue
		}
		headers, payload, ok2 := decodeValue(iter.Value())
		if !ok2 {
			// corrupt entry: skip rather than poison the whole feed
			continue
		}
		recs = append(recs, Record{Key: key, ID: rid, Headers: headers, Payload: payload})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return recs, nil
}

// ReadKey returns up to limit records for one key starting at from
// (inclusive), plus the cursor to continue from.
func (l *Log) ReadKey(ctx context.Context, key string, from Cursor, limit int) ([]Record, Cursor, error) {
	if err := ValidateKey(key); err != nil {
		return nil, from, err
	}
	if err := ctx.Err(); err != nil {
		return nil, from, err
	}
	snap := l.db.NewSnapshot()
	defer snap.Close()

	recs, err := readKeySnap(snap, key, from, limit)
	if err != nil {
		return nil, from, err
	}
	next := from
	if n := len(recs); n > 0 {
		next = recs[n-1].ID.Next()
	}
	return recs, next, nil
}

// FindAt resolves a wall-clock position to a cursor: the first record of key
// with timestamp >= atMs, or the position after the last record when every
// record is older.
func (l *Log) FindAt(ctx context.Context, key string, atMs int64) (Cursor, error) {
	if err := ValidateKey(key); err != nil {
		return id.Zero, err
	}
	if err := ctx.Err(); err != nil {
		return id.Zero, err
	}
	// IDs embed the timestamp, so the target position is just (atMs, 0).
	target := id.Make(atMs, 0)
	low, high := keyEntryBounds(key, target)
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: high})
	if err != nil {
		return id.Zero, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer iter.Close()

	if iter.First() {
		if rid, ok := entryID(iter.Key()); ok {
			return rid, nil
		}
	}
	if err := iter.Error(); err != nil {
		return id.Zero, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if last, ok := l.LastID(key); ok {
		return last.Next(), nil
	}
	return target, nil
}
