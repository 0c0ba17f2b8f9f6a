package registry

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rzbill/feedmux/internal/feedlog"
)

// ErrSinkSaturated terminates a sink whose consumer cannot keep up under the
// configured policy.
var ErrSinkSaturated = errors.New("registry: sink saturated")

// Policy decides what happens when a sink's buffer is full at dispatch time.
type Policy int

const (
	// PolicyDropOldest evicts the oldest buffered record to admit the new one.
	PolicyDropOldest Policy = iota
	// PolicyDropNewest drops the incoming record.
	PolicyDropNewest
	// PolicyBlock waits up to a bounded window for buffer space; a sink that
	// misses the window is terminally failed.
	PolicyBlock
)

// ParsePolicy maps a config string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "drop-oldest", "":
		return PolicyDropOldest, nil
	case "drop-newest":
		return PolicyDropNewest, nil
	case "block":
		return PolicyBlock, nil
	default:
		return PolicyDropOldest, errors.New("registry: policy must be drop-oldest|drop-newest|block")
	}
}

// Sink is one attached consumer's receive endpoint: a bounded channel of
// records plus a terminal signal. The registry is the only sender; the
// channel itself is never closed; Done signals termination and Err reports
// the terminal error, if any.
type Sink struct {
	key       string
	ch        chan feedlog.Record
	policy    Policy
	blockWait time.Duration

	done    chan struct{}
	once    sync.Once
	err     error
	dropped atomic.Uint64
}

func newSink(key string, buffer int, policy Policy, blockWait time.Duration) *Sink {
	if buffer <= 0 {
		buffer = 1
	}
	return &Sink{
		key:       key,
		ch:        make(chan feedlog.Record, buffer),
		policy:    policy,
		blockWait: blockWait,
		done:      make(chan struct{}),
	}
}

// Key returns the feed key this sink is attached to.
func (s *Sink) Key() string { return s.key }

// Recv returns the record channel. Consumers must select on Done alongside it.
func (s *Sink) Recv() <-chan feedlog.Record { return s.ch }

// Done is closed when the sink reaches a terminal state (detach, failure, or
// registry shutdown). Records already buffered remain readable.
func (s *Sink) Done() <-chan struct{} { return s.done }

// Err returns the terminal error. Nil means a clean detach. Valid after Done
// is closed.
func (s *Sink) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Dropped reports how many records were shed by the drop policies.
func (s *Sink) Dropped() uint64 { return s.dropped.Load() }

// finish moves the sink to its terminal state exactly once.
func (s *Sink) finish(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

func (s *Sink) terminated() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// offer attempts a non-blocking delivery honoring the drop policies.
// It returns true when the record was accepted or shed by policy, false when
// the sink needs a blocking send (PolicyBlock with a full buffer).
func (s *Sink) offer(rec feedlog.Record) bool {
	if s.terminated() {
		return true
	}
	select {
	case s.ch <- rec:
		return true
	default:
	}

	switch s.policy {
	case PolicyDropNewest:
		s.dropped.Add(1)
		return true
	case PolicyDropOldest:
		// evict one, then retry once; a concurrent consumer read can race the
		// eviction, which only means nothing needed dropping
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
		select {
		case s.ch <- rec:
		default:
			s.dropped.Add(1)
		}
		return true
	default: // PolicyBlock
		return false
	}
}

// blockingSend waits up to blockWait for buffer space. A false return means
// the window elapsed and the caller should fail the sink.
func (s *Sink) blockingSend(rec feedlog.Record) bool {
	wait := s.blockWait
	if wait <= 0 {
		wait = time.Second
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case s.ch <- rec:
		return true
	case <-s.done:
		return true
	case <-timer.C:
		return false
	}
}
