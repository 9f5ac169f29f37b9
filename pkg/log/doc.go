/*
Package log provides structured logging for Stevedore using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific child loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and support
filtering by severity level.

# Usage

Initialize once at startup, then derive child loggers per component:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("containerizer")
	logger.Info().Str("container_id", "c1").Msg("container launched")

Per-container log lines always carry the container_id field so that a single
container's lifecycle can be followed through the launch pipeline, the monitor
and teardown.
*/
package log
