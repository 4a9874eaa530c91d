// Package daemon runs the batch lifecycle controller as a long-lived
// process. It enforces single-instance execution with an advisory file
// lock, reconciles orphaned work on startup, schedules periodic baseline
// recomputation, and executes an optional hook when the controller shuts
// down on an idle queue.
package daemon
