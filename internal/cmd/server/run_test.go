package serverrun

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	cfgpkg "github.com/rzbill/feedmux/internal/config"
)

func TestGetenvDefault(t *testing.T) {
	_ = os.Setenv("FEEDMUX_TEST_VAR", "env_value")
	t.Cleanup(func() { _ = os.Unsetenv("FEEDMUX_TEST_VAR") })

	if got := getenvDefault("FEEDMUX_TEST_VAR", "default"); got != "env_value" {
		t.Fatalf("set var: %q", got)
	}
	if got := getenvDefault("FEEDMUX_TEST_VAR_UNSET", "default"); got != "default" {
		t.Fatalf("unset var: %q", got)
	}
}

func TestDataDirStoreSubdirectory(t *testing.T) {
	base := "/tmp/feedmux"
	if got := filepath.Join(base, "store"); got != "/tmp/feedmux/store" {
		t.Fatalf("store dir: %s", got)
	}
	if cfgpkg.DefaultDataDir() == "" {
		t.Fatalf("default data dir empty")
	}
}

// TestRunIntegration verifies Run starts, serves, and shuts down cleanly on
// context cancellation.
func TestRunIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	cfg := cfgpkg.Default()
	cfg.Fsync = "never"

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := Run(ctx, Options{
		DataDir:  t.TempDir(),
		HTTPAddr: "127.0.0.1:0",
		Config:   cfg,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
}
