package provider

import (
	"context"
	"io"
)

// JobState is the lifecycle state reported by the analysis service.
type JobState string

const (
	StateValidating JobState = "validating"
	StateInProgress JobState = "in_progress"
	StateFinalizing JobState = "finalizing"
	StateCompleted  JobState = "completed"
	StateFailed     JobState = "failed"
	StateCancelled  JobState = "cancelled"
	StateExpired    JobState = "expired"
)

// IsTerminal reports whether the job will not change state again.
func (s JobState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateExpired:
		return true
	}
	return false
}

// Succeeded reports whether the job finished with output available.
func (s JobState) Succeeded() bool {
	return s == StateCompleted
}

// RequestCounts breaks down request outcomes within a job.
type RequestCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Job describes a submitted analysis job.
type Job struct {
	ID           string        `json:"id"`
	State        JobState      `json:"status"`
	InputFileID  string        `json:"input_file_id"`
	OutputFileID string        `json:"output_file_id"`
	ErrorFileID  string        `json:"error_file_id"`
	Counts       RequestCounts `json:"request_counts"`
}

// SubmissionClient is the surface the batch lifecycle needs from the
// analysis service.
type SubmissionClient interface {
	// UploadFile stores the request payload with the service and returns
	// the file id to reference when creating a job.
	UploadFile(ctx context.Context, name string, contents io.Reader) (string, error)

	// CreateJob starts an asynchronous job over a previously uploaded file.
	CreateJob(ctx context.Context, inputFileID string) (*Job, error)

	// JobStatus fetches the current state of a job.
	JobStatus(ctx context.Context, jobID string) (*Job, error)

	// DownloadFile streams the contents of an output or error file. The
	// caller must close the returned reader.
	DownloadFile(ctx context.Context, fileID string) (io.ReadCloser, error)

	// DeleteFile removes an uploaded file from the service. Deletion is
	// best effort; implementations should not treat a missing file as an
	// error.
	DeleteFile(ctx context.Context, fileID string) error
}
