package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/rzbill/feedmux/internal/feedlog"
	logpkg "github.com/rzbill/feedmux/pkg/log"
)

// ErrShutdown rejects attaches issued while (or after) the registry tears down.
var ErrShutdown = errors.New("registry: shut down")

// Options shape the sinks the registry hands out.
type Options struct {
	// Buffer is the sink channel capacity.
	Buffer int
	// Policy is applied when a sink's buffer is full at dispatch time.
	Policy Policy
	// BlockWait bounds a blocking send under PolicyBlock.
	BlockWait time.Duration
}

// KeyCursor is one entry of a puller snapshot.
type KeyCursor struct {
	Key    string
	Cursor feedlog.Cursor
}

// handle bundles a key's read cursor with its live sinks. gone marks a handle
// that has been removed from the map; attachers that raced the removal retry.
type handle struct {
	mu     sync.Mutex
	cursor feedlog.Cursor
	sinks  map[*Sink]struct{}
	gone   bool
}

// Registry is the concurrent key -> stream handle map. Safe for concurrent
// attach/detach from many goroutines against a single dispatching puller.
type Registry struct {
	handles sync.Map // string -> *handle
	opts    Options
	logger  logpkg.Logger

	mu     sync.Mutex
	closed bool
}

// New constructs a Registry.
func New(opts Options, logger logpkg.Logger) *Registry {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 1024
	}
	return &Registry{opts: opts, logger: logger.With(logpkg.Component("registry"))}
}

// Attach adds a new sink for key with the registry's default sink options.
func (r *Registry) Attach(key string, from feedlog.Cursor) (*Sink, error) {
	return r.AttachSink(key, from, r.opts.Buffer, r.opts.Policy, r.opts.BlockWait)
}

// AttachSink adds a new sink for key with explicit buffer/policy settings.
// The first attach for a key creates its handle and seeds the cursor with
// from; later attaches join the existing handle and inherit its live cursor.
// Never blocks.
func (r *Registry) AttachSink(key string, from feedlog.Cursor, buffer int, policy Policy, blockWait time.Duration) (*Sink, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrShutdown
	}
	r.mu.Unlock()

	if buffer <= 0 {
		buffer = r.opts.Buffer
	}
	if blockWait <= 0 {
		blockWait = r.opts.BlockWait
	}
	sink := newSink(key, buffer, policy, blockWait)
	for {
		v, loaded := r.handles.LoadOrStore(key, &handle{cursor: from, sinks: map[*Sink]struct{}{}})
		h := v.(*handle)
		h.mu.Lock()
		if h.gone {
			h.mu.Unlock()
			continue // lost a race with last-sink removal; retry with a fresh handle
		}
		h.sinks[sink] = struct{}{}
		h.mu.Unlock()

		// Close may have run between the closed check and the map insert.
		r.mu.Lock()
		closed := r.closed
		r.mu.Unlock()
		if closed {
			r.Detach(key, sink)
			sink.finish(ErrShutdown)
			return nil, ErrShutdown
		}
		_ = loaded
		return sink, nil
	}
}

// Detach removes sink from key's handle and finishes it cleanly. Idempotent:
// detaching twice, or detaching a failed sink, is a no-op. When the last sink
// leaves, the handle is reclaimed and the key goes idle.
func (r *Registry) Detach(key string, sink *Sink) {
	defer sink.finish(nil)

	v, ok := r.handles.Load(key)
	if !ok {
		return
	}
	h := v.(*handle)
	h.mu.Lock()
	if _, attached := h.sinks[sink]; !attached {
		h.mu.Unlock()
		return
	}
	delete(h.sinks, sink)
	empty := len(h.sinks) == 0
	if empty {
		h.gone = true
	}
	h.mu.Unlock()
	if empty {
		r.handles.Delete(key)
	}
}

// SnapshotActive returns a point-in-time list of keys with at least one sink,
// each with its current cursor. Handles are locked one at a time, so a long
// snapshot never stalls attach/detach on other keys.
func (r *Registry) SnapshotActive() []KeyCursor {
	var out []KeyCursor
	r.handles.Range(func(k, v any) bool {
		h := v.(*handle)
		h.mu.Lock()
		if !h.gone && len(h.sinks) > 0 {
			out = append(out, KeyCursor{Key: k.(string), Cursor: h.cursor})
		}
		h.mu.Unlock()
		return true
	})
	return out
}

// Advance moves key's cursor. Called by the puller after a batch's records
// have been handed to every sink present at dispatch time.
func (r *Registry) Advance(key string, next feedlog.Cursor) {
	v, ok := r.handles.Load(key)
	if !ok {
		return
	}
	h := v.(*handle)
	h.mu.Lock()
	h.cursor = next
	h.mu.Unlock()
}

// Cursor returns key's current cursor, if the key is live.
func (r *Registry) Cursor(key string) (feedlog.Cursor, bool) {
	v, ok := r.handles.Load(key)
	if !ok {
		return feedlog.Cursor{}, false
	}
	h := v.(*handle)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.gone {
		return feedlog.Cursor{}, false
	}
	return h.cursor, true
}

// Dispatch hands rec to every sink currently attached to its key, re-reading
// the live sink set so sinks attached after the puller's snapshot are
// included. Full sinks are handled by their policy; under PolicyBlock, all
// blocked sends run concurrently so one slow consumer never delays another,
// and a sink that misses its window is failed with ErrSinkSaturated and
// detached. Dispatch returns once every sink has resolved, keeping per-sink
// order intact. The return value is the number of live sinks addressed.
func (r *Registry) Dispatch(rec feedlog.Record) int {
	v, ok := r.handles.Load(rec.Key)
	if !ok {
		return 0
	}
	h := v.(*handle)
	h.mu.Lock()
	sinks := make([]*Sink, 0, len(h.sinks))
	for s := range h.sinks {
		sinks = append(sinks, s)
	}
	h.mu.Unlock()

	var blocked []*Sink
	for _, s := range sinks {
		if !s.offer(rec) {
			blocked = append(blocked, s)
		}
	}
	if len(blocked) > 0 {
		var wg sync.WaitGroup
		for _, s := range blocked {
			wg.Add(1)
			go func(s *Sink) {
				defer wg.Done()
				if !s.blockingSend(rec) {
					r.logger.Warn("sink saturated, detaching",
						logpkg.Str("key", rec.Key),
						logpkg.Int("buffer", cap(s.ch)),
					)
					r.Detach(rec.Key, s)
					s.finish(ErrSinkSaturated)
				}
			}(s)
		}
		wg.Wait()
	}
	return len(sinks)
}

// Fail terminally errors every sink of key and reclaims the handle. Used by
// the puller when a batched read fails: affected subscribers are told to
// reconnect rather than guess at delivery state.
func (r *Registry) Fail(key string, err error) {
	v, ok := r.handles.Load(key)
	if !ok {
		return
	}
	h := v.(*handle)
	h.mu.Lock()
	sinks := make([]*Sink, 0, len(h.sinks))
	for s := range h.sinks {
		sinks = append(sinks, s)
	}
	h.sinks = map[*Sink]struct{}{}
	h.gone = true
	h.mu.Unlock()
	r.handles.Delete(key)

	for _, s := range sinks {
		s.finish(err)
	}
}

// FailAll fails every live key. Used on shutdown and full-batch store errors.
func (r *Registry) FailAll(err error) {
	var keys []string
	r.handles.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	for _, k := range keys {
		r.Fail(k, err)
	}
}

// Close rejects future attaches and fails all current sinks with ErrShutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()
	r.FailAll(ErrShutdown)
}
