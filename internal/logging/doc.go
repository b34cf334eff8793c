// Package logging provides structured logging with per-module log levels.
//
// Every package asks for its own logger once:
//
//	logger := logging.GetLogger("capture")
//	logger.Info("Stream started", "uri", uri)
//
// Records go to stdout (text or json), to the systemd journal when journald
// is reachable, and to an in-memory ring buffer served by the HTTP API.
//
// Levels are set globally and per module, and can be changed at runtime with
// SetModuleLevel:
//
//	[logging]
//	level = "info"
//	format = "text"
//
//	[logging.modules]
//	capture = "debug"
//	api = "warn"
//
// Journal entries carry SYSLOG_IDENTIFIER=camnode and one upper-cased field
// per attribute:
//
//	journalctl -t camnode MODULE=registry
package logging
