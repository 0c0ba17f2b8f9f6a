package runtime

import (
	"context"
	"testing"

	cfgpkg "github.com/rzbill/feedmux/internal/config"
)

func TestOpenCheckHealthClose(t *testing.T) {
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.Fsync = "never"

	rt, err := Open(Options{Config: cfg})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := rt.CheckHealth(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
	if rt.Log() == nil || rt.DB() == nil {
		t.Fatalf("accessors nil")
	}

	if _, err := rt.Log().Append(context.Background(), "k1", []byte("x"), nil); err != nil {
		t.Fatalf("append through runtime: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestOpenRejectsBadFsyncMode(t *testing.T) {
	cfg := cfgpkg.Default()
	cfg.DataDir = t.TempDir()
	cfg.Fsync = "sometimes"
	if _, err := Open(Options{Config: cfg}); err == nil {
		t.Fatalf("expected fsync mode error")
	}
}
