package batch

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Record is one tracked in-flight batch. Records are stored one JSON
// object per line; every mutation rewrites the whole file through a
// temporary file and rename so a crash never leaves a half-written store.
type Record struct {
	ID           string    `json:"id"`
	FileID       string    `json:"fileId"`
	CreatedAt    time.Time `json:"createdAt"`
	BatchFile    string    `json:"batchFile"`
	ArticleCount int       `json:"articleCount"`
	Status       string    `json:"status"`
	LookupFile   string    `json:"lookupFile"`
}

// ErrNotTracked is returned when a mutation references an unknown batch id.
var ErrNotTracked = errors.New("batch is not tracked")

// TrackingStore persists in-flight batch records as line-delimited JSON.
type TrackingStore struct {
	path string
}

// NewTrackingStore returns a store backed by the given file path. The file
// is created on first write.
func NewTrackingStore(path string) *TrackingStore {
	return &TrackingStore{path: path}
}

// Path returns the backing file path.
func (t *TrackingStore) Path() string {
	return t.path
}

// List returns all tracked batches. A missing file means no batches. A
// torn trailing line from an interrupted write is skipped rather than
// failing the load.
func (t *TrackingStore) List() ([]Record, error) {
	file, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open tracking store: %w", err)
	}
	defer file.Close()

	var records []Record
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record Record
		if err := json.Unmarshal(line, &record); err != nil {
			// A partial line can only come from an interrupted append;
			// drop it and keep the rest of the store usable.
			continue
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read tracking store: %w", err)
	}
	return records, nil
}

// Get returns the record with the given id, or nil when it is not tracked.
func (t *TrackingStore) Get(id string) (*Record, error) {
	records, err := t.List()
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].ID == id {
			return &records[i], nil
		}
	}
	return nil, nil
}

// Add appends a new batch record.
func (t *TrackingStore) Add(record Record) error {
	records, err := t.List()
	if err != nil {
		return err
	}
	for _, existing := range records {
		if existing.ID == record.ID {
			return fmt.Errorf("batch %s already tracked", record.ID)
		}
	}
	return t.rewrite(append(records, record))
}

// UpdateStatus replaces the stored status for one batch.
func (t *TrackingStore) UpdateStatus(id, status string) error {
	records, err := t.List()
	if err != nil {
		return err
	}
	for i := range records {
		if records[i].ID == id {
			if records[i].Status == status {
				return nil
			}
			records[i].Status = status
			return t.rewrite(records)
		}
	}
	return fmt.Errorf("update status for %s: %w", id, ErrNotTracked)
}

// Remove deletes the record with the given id. Removing an untracked id is
// a no-op so cleanup paths can be retried safely.
func (t *TrackingStore) Remove(id string) error {
	records, err := t.List()
	if err != nil {
		return err
	}
	kept := records[:0]
	for _, record := range records {
		if record.ID != id {
			kept = append(kept, record)
		}
	}
	if len(kept) == len(records) {
		return nil
	}
	return t.rewrite(kept)
}

func (t *TrackingStore) rewrite(records []Record) error {
	dir := filepath.Dir(t.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create tracking store directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".batches-*.jsonl")
	if err != nil {
		return fmt.Errorf("create temp tracking store: %w", err)
	}
	defer os.Remove(tmp.Name())

	encoder := json.NewEncoder(tmp)
	for _, record := range records {
		if err := encoder.Encode(record); err != nil {
			tmp.Close()
			return fmt.Errorf("encode tracking record: %w", err)
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync tracking store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp tracking store: %w", err)
	}
	if err := os.Rename(tmp.Name(), t.path); err != nil {
		return fmt.Errorf("replace tracking store: %w", err)
	}
	return nil
}
