package puller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rzbill/feedmux/internal/feedlog"
	"github.com/rzbill/feedmux/internal/registry"
	logpkg "github.com/rzbill/feedmux/pkg/log"
)

// Options pace the read loop. Zero values fall back to sane defaults.
type Options struct {
	// CycleInterval is the minimum time between batched reads.
	CycleInterval time.Duration
	// IdleWait bounds how long an idle loop parks before re-checking for
	// subscribers.
	IdleWait time.Duration
	// BatchTimeout bounds one batched read against the store.
	BatchTimeout time.Duration
	// PerKeyLimit caps records fetched per key per cycle (0 = no cap).
	PerKeyLimit int
	// BackoffBase and BackoffCap shape the exponential backoff after a
	// failed batch read.
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

func (o *Options) applyDefaults() {
	if o.CycleInterval <= 0 {
		o.CycleInterval = 25 * time.Millisecond
	}
	if o.IdleWait <= 0 {
		o.IdleWait = 50 * time.Millisecond
	}
	if o.BatchTimeout <= 0 {
		o.BatchTimeout = 2 * time.Second
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 200 * time.Millisecond
	}
	if o.BackoffCap < o.BackoffBase {
		o.BackoffCap = 30 * time.Second
	}
}

// Puller drives the batched read loop between the feed log and the registry.
type Puller struct {
	log    *feedlog.Log
	reg    *registry.Registry
	opts   Options
	logger logpkg.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// New constructs a Puller. Call Start to begin pulling.
func New(log *feedlog.Log, reg *registry.Registry, opts Options, logger logpkg.Logger) *Puller {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	opts.applyDefaults()
	return &Puller{
		log:    log,
		reg:    reg,
		opts:   opts,
		logger: logger.With(logpkg.Component("puller")),
		done:   make(chan struct{}),
	}
}

// Start launches the supervised loop in its own goroutine. A panicking cycle
// is logged and the loop restarted; only context cancellation stops it.
func (p *Puller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	go func() {
		defer close(p.done)
		for ctx.Err() == nil {
			p.supervise(ctx)
		}
	}()
}

// Stop cancels the loop and waits for the in-flight cycle to finish.
func (p *Puller) Stop() {
	p.once.Do(func() {
		if p.cancel == nil {
			return
		}
		p.cancel()
		<-p.done
	})
}

func (p *Puller) supervise(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pull loop panicked, restarting", logpkg.Any("panic", r))
		}
	}()
	p.run(ctx)
}

func (p *Puller) run(ctx context.Context) {
	backoff := time.Duration(0)
	for {
		if err := ctx.Err(); err != nil {
			return
		}
		start := time.Now()

		switch delivered, active, err := p.cycle(ctx); {
		case err != nil:
			backoff = p.nextBackoff(backoff)
			p.logger.Warn("batch read failed, backing off",
				logpkg.Err(err),
				logpkg.Dur("backoff", backoff),
			)
			if !sleep(ctx, backoff) {
				return
			}
			continue
		case active == 0:
			backoff = 0
			if !sleep(ctx, p.opts.IdleWait) {
				return
			}
			continue
		case delivered == 0:
			backoff = 0
			// nothing new for the subscribed keys: park on the append signal
			// so a publish wakes the loop immediately
			p.log.WaitForAppend(p.opts.IdleWait)
		default:
			backoff = 0
		}

		if rest := p.opts.CycleInterval - time.Since(start); rest > 0 {
			if !sleep(ctx, rest) {
				return
			}
		}
	}
}

// cycle performs one snapshot → batched read → dispatch → advance pass.
// It returns the number of records delivered and the number of active keys.
func (p *Puller) cycle(ctx context.Context) (delivered, active int, err error) {
	snap := p.reg.SnapshotActive()
	if len(snap) == 0 {
		return 0, 0, nil
	}

	cursors := make(map[string]feedlog.Cursor, len(snap))
	for _, kc := range snap {
		cursors[kc.Key] = kc.Cursor
	}

	rctx, cancel := context.WithTimeout(ctx, p.opts.BatchTimeout)
	recs, err := p.log.ReadBatch(rctx, cursors, p.opts.PerKeyLimit)
	cancel()
	if err != nil {
		// all-or-nothing: every key in this snapshot is in an unknown
		// delivery state, so fail them all and let subscribers reconnect
		failure := fmt.Errorf("puller: batch read: %w", err)
		for _, kc := range snap {
			p.reg.Fail(kc.Key, failure)
		}
		return 0, len(snap), err
	}

	// ReadBatch groups by key in ID order; dispatch each record and advance
	// the cursor as soon as its key's group ends
	for i, rec := range recs {
		p.reg.Dispatch(rec)
		if i+1 == len(recs) || recs[i+1].Key != rec.Key {
			p.reg.Advance(rec.Key, rec.ID.Next())
		}
	}
	return len(recs), len(snap), nil
}

func (p *Puller) nextBackoff(cur time.Duration) time.Duration {
	if cur <= 0 {
		return p.opts.BackoffBase
	}
	next := cur * 2
	if next > p.opts.BackoffCap {
		next = p.opts.BackoffCap
	}
	return next
}

// sleep waits d or until ctx is done, reporting whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
