package testsupport

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"driftwatch/internal/provider"
)

// FakeProvider is an in-memory stand-in for the external analysis service.
// Tests script terminal states and result file contents on it.
type FakeProvider struct {
	mu      sync.Mutex
	uploads map[string]string
	files   map[string]string
	jobs    map[string]*provider.Job
	deleted []string
	seq     int

	UploadErr error
	CreateErr error
	StatusErr error
}

// NewFakeProvider returns an empty fake service.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		uploads: make(map[string]string),
		files:   make(map[string]string),
		jobs:    make(map[string]*provider.Job),
	}
}

func (f *FakeProvider) UploadFile(_ context.Context, _ string, contents io.Reader) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UploadErr != nil {
		return "", f.UploadErr
	}
	data, err := io.ReadAll(contents)
	if err != nil {
		return "", err
	}
	f.seq++
	id := fmt.Sprintf("file-%d", f.seq)
	f.uploads[id] = string(data)
	return id, nil
}

func (f *FakeProvider) CreateJob(_ context.Context, inputFileID string) (*provider.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	if _, ok := f.uploads[inputFileID]; !ok {
		return nil, fmt.Errorf("unknown input file %s", inputFileID)
	}
	f.seq++
	job := &provider.Job{
		ID:          fmt.Sprintf("batch_%d", f.seq),
		State:       provider.StateValidating,
		InputFileID: inputFileID,
	}
	f.jobs[job.ID] = job
	return copyJob(job), nil
}

func (f *FakeProvider) JobStatus(_ context.Context, jobID string) (*provider.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StatusErr != nil {
		return nil, f.StatusErr
	}
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("unknown job %s", jobID)
	}
	return copyJob(job), nil
}

func (f *FakeProvider) DownloadFile(_ context.Context, fileID string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.files[fileID]
	if !ok {
		if uploaded, isUpload := f.uploads[fileID]; isUpload {
			content = uploaded
		} else {
			return nil, fmt.Errorf("unknown file %s", fileID)
		}
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

func (f *FakeProvider) DeleteFile(_ context.Context, fileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.uploads, fileID)
	f.deleted = append(f.deleted, fileID)
	return nil
}

// SetJobState scripts a job's state and result files.
func (f *FakeProvider) SetJobState(jobID string, state provider.JobState, outputFileID, errorFileID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		job = &provider.Job{ID: jobID}
		f.jobs[jobID] = job
	}
	job.State = state
	job.OutputFileID = outputFileID
	job.ErrorFileID = errorFileID
}

// SetFileContent scripts a downloadable file.
func (f *FakeProvider) SetFileContent(fileID, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[fileID] = content
}

// UploadedContent returns the submitted payload for a file id.
func (f *FakeProvider) UploadedContent(fileID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.uploads[fileID]
	return content, ok
}

// JobIDs returns the ids of created jobs in no particular order.
func (f *FakeProvider) JobIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.jobs))
	for id := range f.jobs {
		ids = append(ids, id)
	}
	return ids
}

// Deleted returns the file ids passed to DeleteFile.
func (f *FakeProvider) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func copyJob(job *provider.Job) *provider.Job {
	cp := *job
	return &cp
}
