package runtime

import (
	"context"
	"errors"
	"time"

	cfgpkg "github.com/rzbill/feedmux/internal/config"
	"github.com/rzbill/feedmux/internal/feedlog"
	pebblestore "github.com/rzbill/feedmux/internal/storage/pebble"
)

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
}

// Runtime owns the storage stack: the Pebble handle and the feed log.
type Runtime struct {
	db     *pebblestore.DB
	log    *feedlog.Log
	config cfgpkg.Config
}

// Open initializes the underlying storage and returns a Runtime.
func Open(opts Options) (*Runtime, error) {
	cfg := opts.Config
	if cfg.DataDir == "" {
		cfg.DataDir = cfgpkg.DefaultDataDir()
	}
	mode, err := pebblestore.ParseFsyncMode(cfg.Fsync)
	if err != nil {
		return nil, err
	}
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       cfg.DataDir,
		Fsync:         mode,
		FsyncInterval: time.Duration(cfg.FsyncIntervalMs) * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}
	l, err := feedlog.Open(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Runtime{db: db, log: l, config: cfg}, nil
}

// Close closes underlying resources.
func (r *Runtime) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth performs a simple storage round trip.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	return it.Close()
}

// Log returns the feed log.
func (r *Runtime) Log() *feedlog.Log { return r.log }

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
