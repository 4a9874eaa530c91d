package batch

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
)

// CorrelationMap relates the opaque id embedded in each submitted request
// to the originating article. It is persisted next to the batch payload so
// a restarted process can still match results.
type CorrelationMap map[string]int64

// NewCorrelationID returns a fresh opaque request id.
func NewCorrelationID() string {
	return uuid.NewString()
}

// WriteCorrelationMap persists the mapping as a single JSON object.
func WriteCorrelationMap(path string, lookup CorrelationMap) error {
	encoded, err := json.MarshalIndent(lookup, "", "  ")
	if err != nil {
		return fmt.Errorf("encode correlation map: %w", err)
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return fmt.Errorf("write correlation map: %w", err)
	}
	return nil
}

// ReadCorrelationMap loads a previously persisted mapping.
func ReadCorrelationMap(path string) (CorrelationMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read correlation map: %w", err)
	}
	var lookup CorrelationMap
	if err := json.Unmarshal(data, &lookup); err != nil {
		return nil, fmt.Errorf("decode correlation map: %w", err)
	}
	return lookup, nil
}
