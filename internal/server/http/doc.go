// Package httpserver exposes the feeds service over HTTP: JSON endpoints for
// publish and one-shot reads, SSE and WebSocket endpoints for live streams.
package httpserver
