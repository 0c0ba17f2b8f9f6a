package feedlog

import (
	"context"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/rzbill/feedmux/pkg/id"
)

// TrimOlderThan deletes records of key with timestamp < cutoffMs. Deletes are
// committed in batches of up to batchLimit keys with an optional throttle
// between commits. Returns the number of deleted records.
func (l *Log) TrimOlderThan(ctx context.Context, key string, cutoffMs int64, batchLimit int, throttle time.Duration) (int, error) {
	if err := ValidateKey(key); err != nil {
		return 0, err
	}
	if batchLimit <= 0 {
		batchLimit = 1024
	}

	low, high := keyEntryBounds(key, id.Zero)
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: high})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	deleted := 0
	for ok := iter.First(); ok; {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		b := l.db.NewBatch()
		n := 0
		for ok && n < batchLimit {
			rid, okID := entryID(iter.Key())
			if !okID || rid.Ms() >= cutoffMs {
				// entries are ID-ordered, nothing newer can qualify
				ok = false
				break
			}
			if err := b.Delete(iter.Key(), nil); err != nil {
				b.Close()
				return deleted, err
			}
			deleted++
			n++
			ok = iter.Next()
		}
		if n == 0 {
			b.Close()
			break
		}
		if err := l.db.CommitBatch(b); err != nil {
			b.Close()
			return deleted, err
		}
		b.Close()
		if throttle > 0 {
			time.Sleep(throttle)
		}
	}
	return deleted, nil
}

// TrimToMaxBytes approximates retention by total value bytes for one key.
// If current bytes <= maxBytes it is a no-op; otherwise the oldest records
// are deleted until the total fits. Batched and throttled like TrimOlderThan.
func (l *Log) TrimToMaxBytes(ctx context.Context, key string, maxBytes int64, batchLimit int, throttle time.Duration) (int, error) {
	if err := ValidateKey(key); err != nil {
		return 0, err
	}
	if batchLimit <= 0 {
		batchLimit = 1024
	}
	if maxBytes < 0 {
		return 0, nil
	}

	low, high := keyEntryBounds(key, id.Zero)
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: high})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	var total int64
	for ok := iter.First(); ok; ok = iter.Next() {
		total += int64(len(iter.Value()))
	}
	if total <= maxBytes {
		return 0, nil
	}

	deleted := 0
	for ok := iter.First(); ok && total > maxBytes; {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		b := l.db.NewBatch()
		n := 0
		for ok && n < batchLimit && total > maxBytes {
			total -= int64(len(iter.Value()))
			if err := b.Delete(iter.Key(), nil); err != nil {
				b.Close()
				return deleted, err
			}
			deleted++
			n++
			ok = iter.Next()
		}
		if n == 0 {
			b.Close()
			break
		}
		if err := l.db.CommitBatch(b); err != nil {
			b.Close()
			return deleted, err
		}
		b.Close()
		if throttle > 0 {
			time.Sleep(throttle)
		}
	}
	return deleted, nil
}
