// Package ingest loads article records from line-delimited JSON files
// into the store, where they wait as unanalyzed work for the batch
// lifecycle controller.
package ingest
