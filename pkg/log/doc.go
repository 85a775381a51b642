/*
Package log provides structured logging for the Foreman query-coordination
core using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level for production debugging.

# Architecture

The logging system provides structured JSON logging with minimal overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("foreman")                 │          │
	│  │  - WithNodeID("drillbit-1")                 │          │
	│  │  - WithQueryID(queryID)                     │          │
	│  │  - WithFragmentHandle(handle)                │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "foreman",                  │          │
	│  │    "query_id": "3f9a...",                    │          │
	│  │    "time": "2026-07-29T10:30:00Z",          │          │
	│  │    "message": "query moved to RUNNING"       │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  10:30AM INF query moved to RUNNING component=foreman │ │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all Foreman packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithNodeID: Add node ID context
  - WithQueryID: Add query_id context
  - WithFragmentHandle: Add fragment_handle context

# Usage

Initializing the Logger:

	import "github.com/cuemby/foreman/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Simple Logging:

	log.Info("coordinator started")
	log.Debug("checking drillbit membership")
	log.Warn("admission queue nearing capacity")
	log.Error("failed to dispatch fragment")
	log.Fatal("cannot start without a persistence store") // Exits process

Structured Logging:

	log.Logger.Info().
		Str("query_id", queryID.String()).
		Int("fragment_count", len(fragments)).
		Msg("query accepted")

	log.Logger.Error().
		Err(err).
		Str("node_id", endpoint.NodeID).
		Msg("fragment submission failed")

Component Loggers:

	foremanLog := log.WithComponent("foreman")
	foremanLog.Info().Msg("starting query")

	queryLog := log.WithQueryID(queryID)
	queryLog.Info().Msg("all fragments dispatched")

Context Logger Helpers:

	qLog := log.WithQueryID(queryID)
	qLog.Info().Msg("transitioned to RUNNING")

	fLog := log.WithFragmentHandle(handle)
	fLog.Warn().Msg("late status after query finished")

# Integration Points

This package integrates with:

  - pkg/foreman: Logs query lifecycle transitions
  - pkg/dispatch: Logs fragment submission per phase
  - pkg/eventbus: Logs late status messages dropped after a query finished
  - pkg/querymanager: Logs fragment status aggregation
  - pkg/rpc: Logs the server's listen address on start

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err() for stack traces
  - Include context (query ID, fragment handle, node ID)

Don't:
  - Log query result payloads (may be large or sensitive)
  - Use Debug level in production
  - Log in tight loops (use sampling)
  - Concatenate strings (use .Str, .Int)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - Structured logging: https://www.thoughtworks.com/radar/techniques/structured-logging
*/
package log
