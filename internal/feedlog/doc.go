// Package feedlog is the append-log adapter: a durable, key-partitioned,
// append-only record store on Pebble.
//
// Each record is assigned a 12-byte ID (millisecond timestamp + tie-break
// sequence) from a process-wide monotonic generator, so IDs are totally
// ordered within a key and byte-comparable. Reads are cursor-based: a cursor
// is the ID of the next record to return.
//
// The one capability the rest of the system is built around is ReadBatch:
// one call covers any number of keys at their individual cursors using a
// single Pebble snapshot, so N subscribed keys cost one store round trip.
// The call is all-or-nothing; a key absent from the result simply has no new
// records.
package feedlog
