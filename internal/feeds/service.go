package feeds

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rzbill/feedmux/internal/feedlog"
	"github.com/rzbill/feedmux/internal/puller"
	"github.com/rzbill/feedmux/internal/registry"
	"github.com/rzbill/feedmux/internal/runtime"
	logpkg "github.com/rzbill/feedmux/pkg/log"
)

// ErrPayloadTooLarge rejects publishes above the configured payload cap.
var ErrPayloadTooLarge = errors.New("feeds: payload too large")

// Service provides publish, subscribe, and read operations over the feed log.
// One Service owns the registry and the puller; Start launches the pull loop
// and Close tears the whole stack down.
type Service struct {
	rt     *runtime.Runtime
	reg    *registry.Registry
	pul    *puller.Puller
	logger logpkg.Logger

	payloadMax    int
	retainAge     time.Duration
	retainBytes   int64
	defaultPolicy registry.Policy
	maxLifetime   time.Duration

	closeOnce sync.Once
	closeErr  error
}

// New wires a Service from an opened Runtime. The registry and puller are
// shaped by the runtime's configuration.
func New(rt *runtime.Runtime, logger logpkg.Logger) (*Service, error) {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	cfg := rt.Config()

	pol, err := registry.ParsePolicy(cfg.Stream.Policy)
	if err != nil {
		return nil, err
	}
	reg := registry.New(registry.Options{
		Buffer:    cfg.Stream.Buffer,
		Policy:    pol,
		BlockWait: time.Duration(cfg.Stream.BlockWaitMs) * time.Millisecond,
	}, logger)
	pul := puller.New(rt.Log(), reg, puller.Options{
		CycleInterval: time.Duration(cfg.Puller.CycleIntervalMs) * time.Millisecond,
		IdleWait:      time.Duration(cfg.Puller.IdleWaitMs) * time.Millisecond,
		BatchTimeout:  time.Duration(cfg.Puller.BatchTimeoutMs) * time.Millisecond,
		PerKeyLimit:   cfg.Puller.PerKeyLimit,
		BackoffBase:   time.Duration(cfg.Puller.BackoffBaseMs) * time.Millisecond,
		BackoffCap:    time.Duration(cfg.Puller.BackoffCapMs) * time.Millisecond,
	}, logger)

	return &Service{
		rt:            rt,
		reg:           reg,
		pul:           pul,
		logger:        logger.With(logpkg.Component("feeds")),
		payloadMax:    cfg.PayloadMaxBytes,
		retainAge:     time.Duration(cfg.Retention.AgeMs) * time.Millisecond,
		retainBytes:   cfg.Retention.MaxBytes,
		defaultPolicy: pol,
		maxLifetime:   time.Duration(cfg.Stream.MaxLifetimeMs) * time.Millisecond,
	}, nil
}

// Start launches the pull loop. Must be called before streams can receive.
func (s *Service) Start(ctx context.Context) { s.pul.Start(ctx) }

// Close stops the puller, fails every live stream, and closes storage.
// Idempotent.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.pul.Stop()
		s.reg.Close()
		s.closeErr = s.rt.Close()
	})
	return s.closeErr
}

// Publish appends one record under key. When headers carry an idempotency
// key already seen for this feed key, the previously assigned record is
// returned instead of appending again. Retention trims run best-effort after
// the append.
func (s *Service) Publish(ctx context.Context, key string, payload []byte, headers map[string]string) (feedlog.Record, error) {
	if s.payloadMax > 0 && len(payload) > s.payloadMax {
		return feedlog.Record{}, ErrPayloadTooLarge
	}

	t0 := time.Now()
	l := s.rt.Log()
	if idem := pickIdempotencyKey(headers); idem != "" {
		if rid, ok := l.IdempotentID(key, idem); ok {
			if recs, _, err := l.ReadKey(ctx, key, rid, 1); err == nil && len(recs) == 1 && recs[0].ID == rid {
				return recs[0], nil
			}
			// original record trimmed away; the assignment still holds
			return feedlog.Record{Key: key, ID: rid}, nil
		}
	}

	rec, err := l.Append(ctx, key, payload, headers)
	if err != nil {
		return feedlog.Record{}, err
	}
	if idem := pickIdempotencyKey(headers); idem != "" {
		if err := l.RememberIdempotent(key, idem, rec.ID); err != nil {
			s.logger.Warn("idempotency index write failed", logpkg.Str("key", key), logpkg.Err(err))
		}
	}

	if s.retainAge > 0 {
		cutoff := time.Now().Add(-s.retainAge).UnixMilli()
		_, _ = l.TrimOlderThan(context.Background(), key, cutoff, 2048, 0)
	}
	if s.retainBytes > 0 {
		_, _ = l.TrimToMaxBytes(context.Background(), key, s.retainBytes, 2048, 0)
	}

	s.logger.Debug("published",
		logpkg.Str("key", key),
		logpkg.Int("bytes", len(payload)),
		logpkg.Int64("dur_ms", time.Since(t0).Milliseconds()),
	)
	return rec, nil
}

// Read returns up to limit records of key starting at from (inclusive), plus
// the cursor to continue from.
func (s *Service) Read(ctx context.Context, key string, from feedlog.Cursor, limit int) ([]feedlog.Record, feedlog.Cursor, error) {
	return s.rt.Log().ReadKey(ctx, key, from, limit)
}

// FindAt resolves a wall-clock millisecond position to a cursor for key.
func (s *Service) FindAt(ctx context.Context, key string, atMs int64) (feedlog.Cursor, error) {
	return s.rt.Log().FindAt(ctx, key, atMs)
}

// CheckHealth reports whether storage answers.
func (s *Service) CheckHealth(ctx context.Context) error {
	return s.rt.CheckHealth(ctx)
}

func pickIdempotencyKey(headers map[string]string) string {
	if len(headers) == 0 {
		return ""
	}
	if v, ok := headers["idempotencyKey"]; ok {
		return v
	}
	if v, ok := headers["x-idempotency-key"]; ok {
		return v
	}
	return ""
}
