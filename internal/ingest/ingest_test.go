package ingest

import (
	"context"
	"strings"
	"testing"

	"driftwatch/internal/testsupport"
)

func TestFromReaderInsertsRecords(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ingester := New(store, nil)

	input := strings.Join([]string{
		`{"source":"feed-a","title":"first","content":"body one"}`,
		`{"source":"feed-a","title":"second","content":"body two"}`,
		`not json`,
		`{"source":"feed-b","title":"empty","content":"   "}`,
		``,
		`{"source":"feed-b","title":"third","content":"body three"}`,
	}, "\n")

	result, err := ingester.FromReader(context.Background(), strings.NewReader(input))
	if err != nil {
		t.Fatalf("FromReader: %v", err)
	}
	if result.Inserted != 3 {
		t.Errorf("inserted = %d, want 3", result.Inserted)
	}
	if result.Skipped != 2 {
		t.Errorf("skipped = %d, want 2", result.Skipped)
	}

	count, err := store.CountEligible(context.Background())
	if err != nil {
		t.Fatalf("CountEligible: %v", err)
	}
	if count != 3 {
		t.Errorf("eligible = %d, want 3", count)
	}
}
