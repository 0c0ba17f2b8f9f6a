// Package pebblestore wraps a Pebble database with the durability policy and
// small helpers the rest of feedmux builds on.
//
// The wrapper owns one decision: when the WAL is fsynced. FsyncModeAlways
// syncs per commit, FsyncModeInterval group-commits within a window, and
// FsyncModeNever leaves syncing to Pebble. Everything else (batches,
// iterators, snapshots) is passed through thinly so callers keep Pebble's
// semantics.
package pebblestore
