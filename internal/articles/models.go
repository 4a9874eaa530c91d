package articles

import (
	"strings"
	"time"
)

// Status represents the lifecycle of an article.
type Status string

const (
	StatusUnanalyzed        Status = "unanalyzed"
	StatusInProgress        Status = "in_progress"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
	StatusPermanentlyFailed Status = "permanently_failed"
)

var allStatuses = []Status{
	StatusUnanalyzed,
	StatusInProgress,
	StatusCompleted,
	StatusFailed,
	StatusPermanentlyFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// Article represents one analyzable record persisted in SQLite.
type Article struct {
	ID               int64
	Source           string
	Title            string
	Content          string
	Status           Status
	BatchID          string
	RetryCount       int
	ExtremenessScore *float64
	ErrorMessage     string
	LastAttemptAt    *time.Time
	ProcessedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Aspect is one extracted sub-entity score pair for an article.
type Aspect struct {
	ArticleID int64
	Name      string
	Stance    float64
	Intensity float64
}

// StatusCounts aggregates queue totals per lifecycle state.
type StatusCounts struct {
	Unanalyzed        int
	InProgress        int
	Completed         int
	Failed            int
	PermanentlyFailed int
}

// Total returns the sum across all states.
func (c StatusCounts) Total() int {
	return c.Unanalyzed + c.InProgress + c.Completed + c.Failed + c.PermanentlyFailed
}
