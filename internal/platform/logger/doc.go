// Package logger configures the process-wide log/slog JSON logger and
// carries request- and task-scoped loggers through context.Context.
// Capture records entries in memory for tests that assert on log output.
package logger
