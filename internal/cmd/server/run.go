package serverrun

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	cfgpkg "github.com/rzbill/feedmux/internal/config"
	"github.com/rzbill/feedmux/internal/feeds"
	"github.com/rzbill/feedmux/internal/runtime"
	httpserver "github.com/rzbill/feedmux/internal/server/http"
	logpkg "github.com/rzbill/feedmux/pkg/log"
)

func getenvDefault(key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

// small wrapper to allow testing; replaced by os.Getenv at build time
var getenv = func(key string) string { return os.Getenv(key) }

type Options struct {
	// DataDir overrides the configured data directory.
	DataDir string
	// HTTPAddr overrides the configured HTTP listen address.
	HTTPAddr string
	Config   cfgpkg.Config
}

// Run starts the HTTP server over the feeds service and blocks until ctx is
// cancelled or a termination signal arrives.
func Run(ctx context.Context, opts Options) error {
	// Layer a local signal context over the provided one so callers that
	// don't pass a signal-aware context still stop on SIGINT/SIGTERM.
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if cfg.DataDir == "" {
		cfg.DataDir = cfgpkg.DefaultDataDir()
	}
	cfg.DataDir = filepath.Join(cfg.DataDir, "store")
	if opts.HTTPAddr != "" {
		cfg.HTTPAddr = opts.HTTPAddr
	}

	// Process-wide logger from env; defaults: level=info, format=text
	logCfg := &logpkg.Config{
		Level:  getenvDefault("FEEDMUX_LOG_LEVEL", "info"),
		Format: getenvDefault("FEEDMUX_LOG_FORMAT", "text"),
	}
	procLogger, err := logpkg.ApplyConfig(logCfg)
	if err != nil {
		lvl := logpkg.InfoLevel
		if l, e := logpkg.ParseLevel(logCfg.Level); e == nil {
			lvl = l
		}
		procLogger = logpkg.NewLogger(logpkg.WithLevel(lvl), logpkg.WithFormatter(&logpkg.TextFormatter{}))
	}
	// Redirect stdlib logs (e.g. Pebble) to our logger
	logpkg.RedirectStdLog(procLogger)

	rt, err := runtime.Open(runtime.Options{Config: cfg})
	if err != nil {
		return err
	}
	svc, err := feeds.New(rt, procLogger)
	if err != nil {
		_ = rt.Close()
		return err
	}
	defer svc.Close()
	svc.Start(sctx)

	procLogger.Info("starting feedmux server",
		logpkg.Str("http", cfg.HTTPAddr),
		logpkg.Str("data_dir", cfg.DataDir),
		logpkg.Str("fsync", cfg.Fsync),
		logpkg.Str("level", logCfg.Level),
		logpkg.Str("format", logCfg.Format),
	)

	hsrv := httpserver.New(svc, time.Duration(cfg.Stream.HeartbeatMs)*time.Millisecond, procLogger)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hsrv.ListenAndServe(sctx, cfg.HTTPAddr); err != nil && sctx.Err() == nil {
			log.Printf("http error: %v", err)
		}
	}()

	<-sctx.Done()
	// Shut the server down before the service so in-flight streams see a
	// clean termination rather than a storage race.
	hsrv.Close()
	wg.Wait()
	return nil
}
