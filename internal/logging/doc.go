// Package logging builds slog loggers with console and JSON output and
// provides the attribute helpers and standardized field names used across
// driftwatch components.
package logging
