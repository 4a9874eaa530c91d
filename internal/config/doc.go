// Package config loads, normalizes, and validates driftwatch configuration
// from a TOML file and derives the filesystem layout (database, tracking
// store, lock file, batch artifacts) used by the rest of the system.
package config
