// Package logging provides a simple leveled logging interface for the
// catalog.
//
// It supports the following log levels:
//   - DEBUG: Verbose debugging information
//   - INFO: General operational messages
//   - WARN: Warning conditions
//   - ERROR: Error conditions
//   - FATAL: Fatal errors that terminate the application
//
// The log level is configured via the LOG_LEVEL environment variable or
// through Configure at startup. Messages are written by a zap logger to
// stdout and, when a file is configured, to a lumberjack rotating file.
package logging
