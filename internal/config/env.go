package config

import (
	"os"
	"strconv"
)

// FromEnv overlays FEEDMUX_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setInt64 := func(key string, dst *int64) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				*dst = n
			}
		}
	}

	setString("FEEDMUX_HTTP_ADDR", &cfg.HTTPAddr)
	setString("FEEDMUX_DATA_DIR", &cfg.DataDir)
	setString("FEEDMUX_FSYNC", &cfg.Fsync)
	setInt64("FEEDMUX_FSYNC_INTERVAL_MS", &cfg.FsyncIntervalMs)
	setInt("FEEDMUX_PAYLOAD_MAX_BYTES", &cfg.PayloadMaxBytes)

	setInt64("FEEDMUX_PULLER_CYCLE_INTERVAL_MS", &cfg.Puller.CycleIntervalMs)
	setInt64("FEEDMUX_PULLER_IDLE_WAIT_MS", &cfg.Puller.IdleWaitMs)
	setInt64("FEEDMUX_PULLER_BATCH_TIMEOUT_MS", &cfg.Puller.BatchTimeoutMs)
	setInt("FEEDMUX_PULLER_PER_KEY_LIMIT", &cfg.Puller.PerKeyLimit)
	setInt64("FEEDMUX_PULLER_BACKOFF_BASE_MS", &cfg.Puller.BackoffBaseMs)
	setInt64("FEEDMUX_PULLER_BACKOFF_CAP_MS", &cfg.Puller.BackoffCapMs)

	setInt("FEEDMUX_STREAM_BUF", &cfg.Stream.Buffer)
	setString("FEEDMUX_STREAM_POLICY", &cfg.Stream.Policy)
	setInt64("FEEDMUX_STREAM_BLOCK_WAIT_MS", &cfg.Stream.BlockWaitMs)
	setInt64("FEEDMUX_STREAM_MAX_LIFETIME_MS", &cfg.Stream.MaxLifetimeMs)
	setInt64("FEEDMUX_STREAM_HEARTBEAT_MS", &cfg.Stream.HeartbeatMs)

	setInt64("FEEDMUX_RETENTION_AGE_MS", &cfg.Retention.AgeMs)
	setInt64("FEEDMUX_RETENTION_MAX_BYTES", &cfg.Retention.MaxBytes)
}
