// Package client contains the Cobra CLI commands that talk to a running
// feedmux server over its HTTP API: publish, read, and tail (SSE consumer).
package client
