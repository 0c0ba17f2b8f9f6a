package feeds

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rzbill/feedmux/internal/feedlog"
	"github.com/rzbill/feedmux/internal/registry"
)

// StreamOptions shape one attachment.
type StreamOptions struct {
	// From is the starting cursor. Zero starts at the first retained record
	// unless At is set.
	From feedlog.Cursor
	// At, when >0 and From is zero, starts at the first record with
	// timestamp >= At (ms).
	At int64
	// Filter is an optional CEL expression; non-matching records are skipped.
	Filter string
	// Buffer overrides the configured sink capacity (0 = configured default).
	Buffer int
	// Policy overrides the configured full-sink policy
	// (drop-oldest|drop-newest|block; "" = configured default).
	Policy string
	// BlockWait bounds a blocking send under the block policy.
	BlockWait time.Duration
	// MaxLifetime force-completes the stream after this long. Expiry is
	// normal completion, not an error. 0 = configured default.
	MaxLifetime time.Duration
}

// Stream is a live, cancellable sequence of records for one key. Consumers
// range over C; when it closes, Err reports the terminal error, nil meaning
// clean completion (Close or lifetime expiry).
type Stream struct {
	key  string
	sink *registry.Sink
	reg  *registry.Registry
	out  chan feedlog.Record

	closeOnce sync.Once
	closed    chan struct{}
	finished  chan struct{}

	mu  sync.Mutex
	err error
}

// OpenStream attaches to key and returns a Stream delivering records from the
// resolved start position onward. The stream detaches exactly once, on the
// first of: Close, ctx cancellation, terminal sink error, or MaxLifetime.
func (s *Service) OpenStream(ctx context.Context, key string, opts StreamOptions) (*Stream, error) {
	if err := feedlog.ValidateKey(key); err != nil {
		return nil, err
	}
	filter, err := newRecordFilter(opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("feeds: filter: %w", err)
	}

	from := opts.From
	if from.IsZero() && opts.At > 0 {
		from, err = s.rt.Log().FindAt(ctx, key, opts.At)
		if err != nil {
			return nil, err
		}
	}

	policy := s.defaultPolicy
	if opts.Policy != "" {
		if policy, err = registry.ParsePolicy(opts.Policy); err != nil {
			return nil, err
		}
	}
	lifetime := opts.MaxLifetime
	if lifetime <= 0 {
		lifetime = s.maxLifetime
	}

	sink, err := s.reg.AttachSink(key, from, opts.Buffer, policy, opts.BlockWait)
	if err != nil {
		return nil, err
	}

	st := &Stream{
		key:      key,
		sink:     sink,
		reg:      s.reg,
		out:      make(chan feedlog.Record, 1),
		closed:   make(chan struct{}),
		finished: make(chan struct{}),
	}
	go st.forward(ctx, filter, lifetime)
	return st, nil
}

// C is the record channel. It closes when the stream terminates.
func (st *Stream) C() <-chan feedlog.Record { return st.out }

// Err reports the terminal error after C closes. Nil means clean completion.
func (st *Stream) Err() error {
	select {
	case <-st.finished:
	default:
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.err
}

// Close detaches the stream and waits for delivery to stop. Idempotent.
func (st *Stream) Close() {
	st.closeOnce.Do(func() { close(st.closed) })
	<-st.finished
}

func (st *Stream) setErr(err error) {
	st.mu.Lock()
	st.err = err
	st.mu.Unlock()
}

// forward pumps sink → out, applying the filter. It owns detach: whichever
// exit path fires first, the sink is detached exactly once and out is closed.
func (st *Stream) forward(ctx context.Context, filter recordFilter, lifetime time.Duration) {
	defer close(st.finished)
	defer close(st.out)
	defer st.reg.Detach(st.key, st.sink)

	var lifeC <-chan time.Time
	if lifetime > 0 {
		t := time.NewTimer(lifetime)
		defer t.Stop()
		lifeC = t.C
	}

	for {
		select {
		case rec := <-st.sink.Recv():
			if !filter.Match(rec) {
				continue
			}
			select {
			case st.out <- rec:
			case <-ctx.Done():
				st.setErr(ctx.Err())
				return
			case <-st.closed:
				return
			case <-lifeC:
				return
			}
		case <-st.sink.Done():
			st.drainThenFinish(ctx, filter)
			return
		case <-ctx.Done():
			st.setErr(ctx.Err())
			return
		case <-st.closed:
			return
		case <-lifeC:
			return
		}
	}
}

// drainThenFinish flushes records buffered before the sink terminated, then
// surfaces the sink's terminal error.
func (st *Stream) drainThenFinish(ctx context.Context, filter recordFilter) {
	for {
		select {
		case rec := <-st.sink.Recv():
			if !filter.Match(rec) {
				continue
			}
			select {
			case st.out <- rec:
			case <-ctx.Done():
				st.setErr(ctx.Err())
				return
			case <-st.closed:
				return
			}
		default:
			st.setErr(st.sink.Err())
			return
		}
	}
}
