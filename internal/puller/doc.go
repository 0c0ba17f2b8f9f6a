// Package puller runs the single read loop that feeds every subscriber.
//
// Each cycle it snapshots the active keys from the registry, issues one
// batched read against the feed log for all of them, dispatches the results
// key by key in ID order, and advances each key's cursor. No matter how many
// keys are subscribed, the store sees one batched request per cycle.
//
// Store failures fail every snapshotted key (subscribers reconnect with known
// state) and back the loop off exponentially. An idle loop parks on the feed
// log's append signal instead of polling.
package puller
