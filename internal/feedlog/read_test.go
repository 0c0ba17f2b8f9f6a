package feedlog

import (
	"context"
	"testing"
	"time"

	"github.com/rzbill/feedmux/pkg/id"
)

func TestReadBatchGroupsAndOrders(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	_, _ = l.Append(ctx, "k1", []byte("a"), nil)
	_, _ = l.Append(ctx, "k2", []byte("x"), nil)
	_, _ = l.Append(ctx, "k1", []byte("b"), nil)
	_, _ = l.Append(ctx, "k2", []byte("y"), nil)

	recs, err := l.ReadBatch(ctx, map[string]Cursor{"k1": id.Zero, "k2": id.Zero}, 0)
	if err != nil {
		t.Fatalf("read batch: %v", err)
	}
	if len(recs) != 4 {
		t.Fatalf("expected 4 records, got %d", len(recs))
	}

	// grouped per key, ascending IDs within each group
	var lastKey string
	perKey := map[string][]Record{}
	for _, r := range recs {
		if r.Key != lastKey && len(perKey[r.Key]) > 0 {
			t.Fatalf("records for %q not contiguous", r.Key)
		}
		lastKey = r.Key
		perKey[r.Key] = append(perKey[r.Key], r)
	}
	for key, group := range perKey {
		for i := 1; i < len(group); i++ {
			if group[i-1].ID.Compare(group[i].ID) >= 0 {
				t.Fatalf("key %q out of order at %d", key, i)
			}
		}
	}
	if string(perKey["k1"][0].Payload) != "a" || string(perKey["k1"][1].Payload) != "b" {
		t.Fatalf("k1 payloads wrong: %q %q", perKey["k1"][0].Payload, perKey["k1"][1].Payload)
	}
	if string(perKey["k2"][0].Payload) != "x" || string(perKey["k2"][1].Payload) != "y" {
		t.Fatalf("k2 payloads wrong")
	}
}

func TestReadBatchCursorExcludesDelivered(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	a, _ := l.Append(ctx, "k1", []byte("a"), nil)
	b, _ := l.Append(ctx, "k1", []byte("b"), nil)

	recs, err := l.ReadBatch(ctx, map[string]Cursor{"k1": a.ID.Next()}, 0)
	if err != nil {
		t.Fatalf("read batch: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != b.ID {
		t.Fatalf("expected only record b, got %d records", len(recs))
	}

	// advancing past b yields nothing
	recs, err = l.ReadBatch(ctx, map[string]Cursor{"k1": b.ID.Next()}, 0)
	if err != nil {
		t.Fatalf("read batch: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected no records past cursor, got %d", len(recs))
	}
}

func TestReadBatchOmitsQuietKeys(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	_, _ = l.Append(ctx, "k1", []byte("a"), nil)

	recs, err := l.ReadBatch(ctx, map[string]Cursor{"k1": id.Zero, "quiet": id.Zero}, 0)
	if err != nil {
		t.Fatalf("read batch: %v", err)
	}
	for _, r := range recs {
		if r.Key == "quiet" {
			t.Fatalf("quiet key produced a record")
		}
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
}

func TestReadBatchPerKeyLimit(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = l.Append(ctx, "k1", []byte{byte(i)}, nil)
	}
	recs, err := l.ReadBatch(ctx, map[string]Cursor{"k1": id.Zero}, 2)
	if err != nil {
		t.Fatalf("read batch: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(recs))
	}
	if recs[0].Payload[0] != 0 || recs[1].Payload[0] != 1 {
		t.Fatalf("limit did not keep oldest-first order")
	}
}

func TestReadBatchEmptyCursors(t *testing.T) {
	l := newTestLog(t)
	recs, err := l.ReadBatch(context.Background(), nil, 0)
	if err != nil || recs != nil {
		t.Fatalf("expected nil, nil for empty cursors, got %v, %v", recs, err)
	}
}

func TestReadKeyPagination(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = l.Append(ctx, "k1", []byte{byte(i)}, nil)
	}

	var got []byte
	cur := id.Zero
	for {
		recs, next, err := l.ReadKey(ctx, "k1", cur, 2)
		if err != nil {
			t.Fatalf("read key: %v", err)
		}
		if len(recs) == 0 {
			break
		}
		for _, r := range recs {
			got = append(got, r.Payload[0])
		}
		cur = next
	}
	if string(got) != string([]byte{0, 1, 2, 3, 4}) {
		t.Fatalf("pagination order wrong: %v", got)
	}
}

func TestKeyPrefixIsolation(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	_, _ = l.Append(ctx, "order", []byte("short"), nil)
	_, _ = l.Append(ctx, "orders", []byte("long"), nil)

	recs, _, err := l.ReadKey(ctx, "order", id.Zero, 0)
	if err != nil {
		t.Fatalf("read key: %v", err)
	}
	if len(recs) != 1 || string(recs[0].Payload) != "short" {
		t.Fatalf("prefix key leaked: %d records", len(recs))
	}
}

func TestFindAt(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	now := int64(1_700_000_000_000)
	id.NowMs = func() int64 { return now }
	t.Cleanup(func() { id.NowMs = func() int64 { return time.Now().UnixMilli() } })

	first, _ := l.Append(ctx, "k1", []byte("a"), nil)
	now += 100
	second, _ := l.Append(ctx, "k1", []byte("b"), nil)

	// at or before the first record resolves to the first record
	cur, err := l.FindAt(ctx, "k1", first.ID.Ms())
	if err != nil {
		t.Fatalf("find at: %v", err)
	}
	if cur != first.ID {
		t.Fatalf("expected cursor at first record, got %v", cur)
	}

	// between the two resolves to the second
	cur, err = l.FindAt(ctx, "k1", first.ID.Ms()+50)
	if err != nil {
		t.Fatalf("find at: %v", err)
	}
	if cur != second.ID {
		t.Fatalf("expected cursor at second record, got %v", cur)
	}

	// after everything resolves past the last record
	cur, err = l.FindAt(ctx, "k1", second.ID.Ms()+50)
	if err != nil {
		t.Fatalf("find at: %v", err)
	}
	if cur.Compare(second.ID) <= 0 {
		t.Fatalf("expected cursor past last record, got %v", cur)
	}
	recs, _, _ := l.ReadKey(ctx, "k1", cur, 0)
	if len(recs) != 0 {
		t.Fatalf("cursor past end still returned %d records", len(recs))
	}
}
