// Package registry tracks which feed keys have live subscribers.
//
// It maps each key to a stream handle holding the key's read cursor and the
// set of attached sinks. Handles are created lazily on first attach and
// reclaimed as soon as the last sink detaches; an idle key keeps no state and
// costs no read traffic.
//
// Many goroutines attach and detach concurrently while a single puller
// snapshots, dispatches, and advances. Synchronization is per-handle: the key
// map is a sync.Map and each handle carries its own mutex, so attach/detach
// latency does not grow with the number of subscribed keys.
package registry
