// Package batch manages the analysis batch lifecycle: selecting eligible
// articles into bounded batches, submitting them to the external analysis
// service, tracking each in-flight batch durably, applying downloaded
// results exactly once per article, and recovering articles from batches
// that fail terminally.
//
// The controller runs one reconciliation cycle at a time. Cross-process
// exclusion comes from the daemon's advisory file lock; within a process
// the tracking store has a single writer.
package batch
