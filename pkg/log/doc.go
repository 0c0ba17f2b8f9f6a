// Package log provides structured, leveled logging for feedmux.
//
// Loggers are constructed explicitly and passed by dependency injection;
// there is no package-level default. The implementation bridges to log/slog
// so third-party slog users share the same formatter and outputs.
//
//	logger := log.NewLogger(log.WithLevel(log.DebugLevel))
//	logger = logger.With(log.Component("puller"))
//	logger.Info("cycle complete", log.Int("keys", n))
package log
