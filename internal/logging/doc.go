// Package logging provides structured logging for Uplink.
//
// This package wraps Go's log/slog to provide JSON-formatted logs with
// task and provider context, so a single upload or share can be followed
// through authentication, the adapter call and its final state.
//
// # Features
//
//   - JSON-formatted structured logging via slog
//   - Configurable log levels (DEBUG, INFO, WARN, ERROR)
//   - Context propagation (task ID, provider ID, component)
//   - Size-based log rotation with optional gzip compression
//   - Reading and filtering of written logs for the "logs" command
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers
// created via With* methods share the underlying writer.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger(logging.Options{Dir: dir, Level: "INFO"})
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	taskLog := logger.WithProvider("photos").WithTask(id)
//	taskLog.Info("task started")
//
// Access tokens and PKCE verifiers must never be passed as attributes;
// auth.Session implements slog.LogValuer and redacts its tokens.
package logging
