// Package articles persists the analyzable article queue in SQLite: article
// rows moving through unanalyzed → in_progress → completed/failed, the
// per-aspect extraction rows produced by the result processor, and the
// claim/release transitions the batch lifecycle depends on.
package articles
