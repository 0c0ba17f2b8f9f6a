package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	HTTPAddr        string          `json:"httpAddr"`
	DataDir         string          `json:"dataDir"`
	Fsync           string          `json:"fsync"` // always|interval|never
	FsyncIntervalMs int64           `json:"fsyncIntervalMs"`
	PayloadMaxBytes int             `json:"payloadMaxBytes"`
	Puller          PullerConfig    `json:"puller"`
	Stream          StreamConfig    `json:"stream"`
	Retention       RetentionConfig `json:"retention"`
}

// PullerConfig paces the batched read loop.
type PullerConfig struct {
	// CycleIntervalMs bounds store request rate: a cycle faster than this
	// waits out the remainder.
	CycleIntervalMs int64 `json:"cycleIntervalMs"`
	// IdleWaitMs is how long the loop sleeps when no keys are active.
	IdleWaitMs int64 `json:"idleWaitMs"`
	// BatchTimeoutMs bounds one batched read against the store.
	BatchTimeoutMs int64 `json:"batchTimeoutMs"`
	// PerKeyLimit caps records fetched per key per cycle.
	PerKeyLimit int `json:"perKeyLimit"`
	// BackoffBaseMs/BackoffCapMs shape the exponential backoff after a
	// failed batch read.
	BackoffBaseMs int64 `json:"backoffBaseMs"`
	BackoffCapMs  int64 `json:"backoffCapMs"`
}

// StreamConfig shapes per-attachment behavior.
type StreamConfig struct {
	// Buffer is the sink channel capacity per attachment.
	Buffer int `json:"buffer"`
	// Policy is the full-sink policy: drop-oldest|drop-newest|block.
	Policy string `json:"policy"`
	// BlockWaitMs bounds a blocking send when Policy=block.
	BlockWaitMs int64 `json:"blockWaitMs"`
	// MaxLifetimeMs force-completes an attachment after this long (0 = no cap).
	MaxLifetimeMs int64 `json:"maxLifetimeMs"`
	// HeartbeatMs is the SSE/WS keepalive interval.
	HeartbeatMs int64 `json:"heartbeatMs"`
}

// RetentionConfig bounds feed log growth per key.
type RetentionConfig struct {
	AgeMs    int64 `json:"ageMs"`
	MaxBytes int64 `json:"maxBytes"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		HTTPAddr:        ":8080",
		Fsync:           "always",
		PayloadMaxBytes: 1 << 20,
		Puller: PullerConfig{
			CycleIntervalMs: 25,
			IdleWaitMs:      50,
			BatchTimeoutMs:  2000,
			PerKeyLimit:     256,
			BackoffBaseMs:   200,
			BackoffCapMs:    30000,
		},
		Stream: StreamConfig{
			Buffer:      1024,
			Policy:      "drop-oldest",
			BlockWaitMs: 1000,
			HeartbeatMs: 15000,
		},
	}
}

// Load reads configuration from a JSON file. If path is empty, returns
// defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return Config{}, errors.New("yaml config not supported; use JSON")
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}
