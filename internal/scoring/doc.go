// Package scoring computes the Hotelling T² extremeness statistic for one
// article's per-aspect score pairs against rolling baseline distributions.
package scoring
