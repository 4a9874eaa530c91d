package articles

import (
	"database/sql"
	"errors"
	"time"
)

const articleColumns = "id, source, title, content, status, batch_id, retry_count, extremeness_score, error_message, last_attempt_at, processed_at, created_at, updated_at"

func scanArticle(scanner interface{ Scan(dest ...any) error }) (*Article, error) {
	var (
		id            int64
		source        sql.NullString
		title         sql.NullString
		content       sql.NullString
		statusStr     string
		batchID       sql.NullString
		retryCount    int
		score         sql.NullFloat64
		errorMessage  sql.NullString
		lastAttemptAt sql.NullString
		processedAt   sql.NullString
		createdRaw    string
		updatedRaw    string
	)

	if err := scanner.Scan(
		&id,
		&source,
		&title,
		&content,
		&statusStr,
		&batchID,
		&retryCount,
		&score,
		&errorMessage,
		&lastAttemptAt,
		&processedAt,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	article := &Article{
		ID:           id,
		Source:       source.String,
		Title:        title.String,
		Content:      content.String,
		Status:       Status(statusStr),
		BatchID:      batchID.String,
		RetryCount:   retryCount,
		ErrorMessage: errorMessage.String,
	}
	if score.Valid {
		v := score.Float64
		article.ExtremenessScore = &v
	}
	if t, err := parseTimeString(lastAttemptAt.String); err == nil {
		article.LastAttemptAt = &t
	}
	if t, err := parseTimeString(processedAt.String); err == nil {
		article.ProcessedAt = &t
	}
	if t, err := parseTimeString(createdRaw); err == nil {
		article.CreatedAt = t
	}
	if t, err := parseTimeString(updatedRaw); err == nil {
		article.UpdatedAt = t
	}
	return article, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableFloat(value *float64) any {
	if value == nil {
		return nil
	}
	return *value
}

// TimeLayout is RFC 3339 with fixed-width nanoseconds. Stored timestamps
// are compared as strings in SQL, so the layout must order the same way
// the instants do; RFC3339Nano trims trailing zeros and does not.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func timestamp(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
