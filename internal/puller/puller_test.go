package puller

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rzbill/feedmux/internal/feedlog"
	"github.com/rzbill/feedmux/internal/registry"
	pebblestore "github.com/rzbill/feedmux/internal/storage/pebble"
	"github.com/rzbill/feedmux/pkg/id"
)

func newTestLog(t *testing.T) *feedlog.Log {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	l, err := feedlog.Open(db)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	return l
}

func collect(t *testing.T, s *registry.Sink, n int) []feedlog.Record {
	t.Helper()
	var out []feedlog.Record
	deadline := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case r := <-s.Recv():
			out = append(out, r)
		case <-s.Done():
			// drain what's buffered before giving up
			select {
			case r := <-s.Recv():
				out = append(out, r)
				continue
			default:
			}
			t.Fatalf("sink terminated after %d of %d: %v", len(out), n, s.Err())
		case <-deadline:
			t.Fatalf("timeout after %d of %d", len(out), n)
		}
	}
	return out
}

func TestPullerDeliversInOrder(t *testing.T) {
	l := newTestLog(t)
	reg := registry.New(registry.Options{Buffer: 16}, nil)
	defer reg.Close()

	p := New(l, reg, Options{CycleInterval: time.Millisecond, IdleWait: 5 * time.Millisecond}, nil)
	p.Start(context.Background())
	defer p.Stop()

	s, err := reg.Attach("orders", id.Zero)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := l.Append(ctx, "orders", []byte(fmt.Sprintf("o%d", i)), nil); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got := collect(t, s, 5)
	for i, rec := range got {
		if string(rec.Payload) != fmt.Sprintf("o%d", i) {
			t.Fatalf("record %d = %q", i, rec.Payload)
		}
		if i > 0 && got[i-1].ID.Compare(rec.ID) >= 0 {
			t.Fatalf("out of order at %d", i)
		}
	}
}

func TestPullerDeliversBacklogFromCursor(t *testing.T) {
	l := newTestLog(t)
	reg := registry.New(registry.Options{Buffer: 16}, nil)
	defer reg.Close()

	ctx := context.Background()
	var third feedlog.Record
	for i := 0; i < 5; i++ {
		rec, err := l.Append(ctx, "orders", []byte(fmt.Sprintf("o%d", i)), nil)
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if i == 2 {
			third = rec
		}
	}

	p := New(l, reg, Options{CycleInterval: time.Millisecond, IdleWait: 5 * time.Millisecond}, nil)
	p.Start(ctx)
	defer p.Stop()

	// start mid-log: cursor is inclusive, so o2..o4 arrive
	s, _ := reg.Attach("orders", third.ID)
	got := collect(t, s, 3)
	if string(got[0].Payload) != "o2" || string(got[2].Payload) != "o4" {
		t.Fatalf("backlog wrong: %q..%q", got[0].Payload, got[2].Payload)
	}
}

func TestPullerFansOutAcrossKeys(t *testing.T) {
	l := newTestLog(t)
	reg := registry.New(registry.Options{Buffer: 16}, nil)
	defer reg.Close()

	p := New(l, reg, Options{CycleInterval: time.Millisecond, IdleWait: 5 * time.Millisecond}, nil)
	p.Start(context.Background())
	defer p.Stop()

	a, _ := reg.Attach("alpha", id.Zero)
	b, _ := reg.Attach("beta", id.Zero)

	ctx := context.Background()
	_, _ = l.Append(ctx, "alpha", []byte("a1"), nil)
	_, _ = l.Append(ctx, "beta", []byte("b1"), nil)
	_, _ = l.Append(ctx, "alpha", []byte("a2"), nil)

	gotA := collect(t, a, 2)
	gotB := collect(t, b, 1)
	if string(gotA[0].Payload) != "a1" || string(gotA[1].Payload) != "a2" {
		t.Fatalf("alpha records: %q %q", gotA[0].Payload, gotA[1].Payload)
	}
	if string(gotB[0].Payload) != "b1" {
		t.Fatalf("beta record: %q", gotB[0].Payload)
	}
}

func TestCycleAdvancesCursorPastDelivered(t *testing.T) {
	l := newTestLog(t)
	reg := registry.New(registry.Options{Buffer: 16}, nil)
	defer reg.Close()

	ctx := context.Background()
	last, _ := l.Append(ctx, "orders", []byte("o0"), nil)

	s, _ := reg.Attach("orders", id.Zero)
	p := New(l, reg, Options{}, nil)

	delivered, active, err := p.cycle(ctx)
	if err != nil || delivered != 1 || active != 1 {
		t.Fatalf("cycle = %d, %d, %v", delivered, active, err)
	}
	if cur, _ := reg.Cursor("orders"); cur != last.ID.Next() {
		t.Fatalf("cursor = %v, want %v", cur, last.ID.Next())
	}

	// a second cycle finds nothing new
	delivered, _, err = p.cycle(ctx)
	if err != nil || delivered != 0 {
		t.Fatalf("redelivery: %d, %v", delivered, err)
	}
	got := collect(t, s, 1)
	if string(got[0].Payload) != "o0" {
		t.Fatalf("payload %q", got[0].Payload)
	}
	select {
	case rec := <-s.Recv():
		t.Fatalf("duplicate delivery: %q", rec.Payload)
	default:
	}
}

func TestCycleHonorsPerKeyLimit(t *testing.T) {
	l := newTestLog(t)
	reg := registry.New(registry.Options{Buffer: 16}, nil)
	defer reg.Close()

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		_, _ = l.Append(ctx, "orders", []byte{byte(i)}, nil)
	}
	s, _ := reg.Attach("orders", id.Zero)

	p := New(l, reg, Options{PerKeyLimit: 4}, nil)
	if delivered, _, err := p.cycle(ctx); err != nil || delivered != 4 {
		t.Fatalf("first cycle delivered %d, %v", delivered, err)
	}
	if delivered, _, err := p.cycle(ctx); err != nil || delivered != 2 {
		t.Fatalf("second cycle delivered %d, %v", delivered, err)
	}
	got := collect(t, s, 6)
	for i, rec := range got {
		if rec.Payload[0] != byte(i) {
			t.Fatalf("record %d = %d", i, rec.Payload[0])
		}
	}
}

func TestFailedBatchFailsSnapshottedKeys(t *testing.T) {
	l := newTestLog(t)
	reg := registry.New(registry.Options{Buffer: 16}, nil)
	defer reg.Close()

	ctx := context.Background()
	_, _ = l.Append(ctx, "orders", []byte("o0"), nil)
	s, _ := reg.Attach("orders", id.Zero)

	// an already-expired batch window forces the read to fail
	p := New(l, reg, Options{BatchTimeout: time.Nanosecond}, nil)
	time.Sleep(time.Millisecond)
	if _, _, err := p.cycle(ctx); err == nil {
		t.Fatalf("expected batch failure")
	}

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatalf("sink not failed")
	}
	if !errors.Is(s.Err(), feedlog.ErrStoreUnavailable) {
		t.Fatalf("err = %v", s.Err())
	}
	if _, ok := reg.Cursor("orders"); ok {
		t.Fatalf("failed key still registered")
	}
}

func TestNextBackoffDoublesToCap(t *testing.T) {
	p := New(nil, nil, Options{BackoffBase: 100 * time.Millisecond, BackoffCap: 350 * time.Millisecond}, nil)
	var got []time.Duration
	b := time.Duration(0)
	for i := 0; i < 4; i++ {
		b = p.nextBackoff(b)
		got = append(got, b)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 350 * time.Millisecond, 350 * time.Millisecond}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("step %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestStopIsIdempotent(t *testing.T) {
	l := newTestLog(t)
	reg := registry.New(registry.Options{Buffer: 4}, nil)
	defer reg.Close()

	p := New(l, reg, Options{CycleInterval: time.Millisecond}, nil)
	p.Start(context.Background())
	p.Stop()
	p.Stop()

	// never started
	q := New(l, reg, Options{}, nil)
	q.Stop()
}
