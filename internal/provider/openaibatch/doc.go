// Package openaibatch implements the analysis service contract against an
// OpenAI-compatible batch API: files are uploaded with purpose "batch",
// a batch job references the uploaded file, and results arrive as
// downloadable output and error files once the job completes.
package openaibatch
