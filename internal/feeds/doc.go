// Package feeds is the service facade over the feed log, registry, and
// puller. It provides the producer path (Publish, with idempotency and
// retention), the consumer path (OpenStream, a cancellable live sequence with
// optional CEL filtering), and one-shot reads. Transports stay thin and call
// into this package.
package feeds
