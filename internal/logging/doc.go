// Package logging provides structured logging for the HDM client and bridge.
//
// This package wraps a zap logger with convenience functions for the logging
// patterns used throughout the repository. Logging is a side effect only:
// errors travel as values and are never signalled through the log.
//
// # Log Levels
//
//   - Debug: Frame hex dumps, state transitions
//   - Info: Connections, logins, completed operations
//   - Warn: Stale transports, retries, failed closes
//   - Error: Failed operations, server failures
//
// # Configuration
//
// The level comes from the argument to Initialize or from HDM_LOG_LEVEL. When
// neither is set the logger is silent, which keeps CLI output clean:
//
//	if err := logging.InitializeFromEnv(); err != nil {
//	    return err
//	}
//	defer logging.Sync()
//
// Set HDM_LOG_FORMAT=json for JSON output.
//
// # Protocol Logging
//
//	logging.LogConnection(sessionID, addr, "connected")
//	logging.LogFrame(sessionID, "sent", code.String(), frame)
//
// # Thread Safety
//
// All logging functions are safe for concurrent use.
package logging
