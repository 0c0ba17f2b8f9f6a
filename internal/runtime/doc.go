// Package runtime wires storage and the feed log for a single-node instance.
//
// It owns the Pebble handle and the Log opened over it, translating the
// file/env configuration into storage options. Everything above it (registry,
// puller, feeds service, transports) takes the Runtime as its storage root.
package runtime
