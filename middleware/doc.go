// Package middleware provides composable middleware for extraction
// execution.
//
// A [Middleware] is a function that wraps an extraction handler.
// Middleware are composed into a chain using [Chain] and applied before
// each job executes. They are applied right-to-left: the first
// middleware in the slice is the outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] — logs filename, priority, duration, and outcome
//   - [Recover] — catches panics from format adapters and converts them to errors
//   - [Timeout] — cancels the context once the job's wall-clock budget runs out
//   - [Tracing] — wraps execution in an OpenTelemetry span
//   - [Metrics] — records per-job duration and outcome counters
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware
