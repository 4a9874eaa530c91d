// Package baseline maintains rolling per-aspect baseline statistics: the
// trailing-window mean/variance/covariance of extracted aspect score pairs
// that the extremeness scorer measures new articles against.
package baseline
