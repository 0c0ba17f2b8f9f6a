// Package serverrun hosts the server run loop used by the CLI: it opens the
// runtime, wires the feeds service and HTTP transport, and blocks until the
// context or a signal stops it.
package serverrun
