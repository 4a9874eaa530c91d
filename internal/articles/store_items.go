package articles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrClaimConflict indicates that not every requested article was still
// eligible when a batch claim transaction ran.
var ErrClaimConflict = errors.New("articles no longer eligible for claim")

// Insert adds a new unanalyzed article.
func (s *Store) Insert(ctx context.Context, source, title, content string) (*Article, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errors.New("article content is required")
	}
	now := timestamp(time.Now())
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO articles (source, title, content, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		nullableString(source),
		nullableString(title),
		content,
		StatusUnanalyzed,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert article: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches an article by identifier. A missing row returns (nil, nil).
func (s *Store) GetByID(ctx context.Context, id int64) (*Article, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+articleColumns+` FROM articles WHERE id = ?`, id)
	article, err := scanArticle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get article: %w", err)
	}
	return article, nil
}

// SelectEligible returns up to limit unanalyzed articles with non-empty
// content, oldest first.
func (s *Store) SelectEligible(ctx context.Context, limit int) ([]*Article, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+articleColumns+` FROM articles
         WHERE status = ? AND content IS NOT NULL AND content <> ''
         ORDER BY created_at, id LIMIT ?`,
		StatusUnanalyzed,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select eligible articles: %w", err)
	}
	defer rows.Close()
	return collectArticles(rows)
}

// CountEligible returns how many articles are currently submittable.
func (s *Store) CountEligible(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM articles WHERE status = ? AND content IS NOT NULL AND content <> ''`,
		StatusUnanalyzed,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count eligible articles: %w", err)
	}
	return count, nil
}

// ClaimForBatch transitions the given articles to in_progress with the batch
// id in a single transaction. If any article is no longer unanalyzed the
// whole claim fails and no article is mutated.
func (s *Store) ClaimForBatch(ctx context.Context, ids []int64, batchID string) error {
	if len(ids) == 0 {
		return errors.New("no articles to claim")
	}
	if strings.TrimSpace(batchID) == "" {
		return errors.New("batch id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := timestamp(time.Now())
	args := make([]any, 0, len(ids)+4)
	args = append(args, StatusInProgress, batchID, now, now)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := tx.ExecContext(
		ctx,
		`UPDATE articles SET status = ?, batch_id = ?, last_attempt_at = ?, updated_at = ?
         WHERE id IN (`+makePlaceholders(len(ids))+`) AND status = '`+string(StatusUnanalyzed)+`'`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("claim articles: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim rows affected: %w", err)
	}
	if affected != int64(len(ids)) {
		return fmt.Errorf("%w: claimed %d of %d", ErrClaimConflict, affected, len(ids))
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit claim: %w", err)
	}
	return nil
}

// ReleaseBatch resets every article referencing the batch id back to
// unanalyzed regardless of its per-item state. Used by failure recovery,
// which favors availability over precise failure attribution.
func (s *Store) ReleaseBatch(ctx context.Context, batchID string) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE articles SET status = ?, batch_id = NULL, error_message = NULL, updated_at = ?
         WHERE batch_id = ?`,
		StatusUnanalyzed,
		timestamp(time.Now()),
		batchID,
	)
	if err != nil {
		return 0, fmt.Errorf("release batch articles: %w", err)
	}
	return res.RowsAffected()
}

// ReleaseForRetry resets per-item failures back to unanalyzed, bumping their
// retry count. Articles at or beyond maxRetries are parked
// permanently_failed instead. Returns (released, parked).
func (s *Store) ReleaseForRetry(ctx context.Context, ids []int64, maxRetries int) (int64, int64, error) {
	if len(ids) == 0 {
		return 0, 0, nil
	}
	now := timestamp(time.Now())

	placeholders := makePlaceholders(len(ids))
	idArgs := func(prefix []any) []any {
		args := append([]any{}, prefix...)
		for _, id := range ids {
			args = append(args, id)
		}
		return args
	}

	parkedRes, err := s.execWithRetry(
		ctx,
		`UPDATE articles SET status = ?, batch_id = NULL, retry_count = retry_count + 1, updated_at = ?
         WHERE id IN (`+placeholders+`) AND retry_count + 1 >= ?`,
		append(idArgs([]any{StatusPermanentlyFailed, now}), maxRetries)...,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("park exhausted articles: %w", err)
	}
	parked, err := parkedRes.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("parked rows affected: %w", err)
	}

	releasedRes, err := s.execWithRetry(
		ctx,
		`UPDATE articles SET status = ?, batch_id = NULL, retry_count = retry_count + 1, error_message = NULL, updated_at = ?
         WHERE id IN (`+placeholders+`) AND status <> ?`,
		append(idArgs([]any{StatusUnanalyzed, now}), StatusPermanentlyFailed)...,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("release failed articles: %w", err)
	}
	released, err := releasedRes.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("released rows affected: %w", err)
	}
	return released, parked, nil
}

// MarkFailed records a per-item failure while the batch is still being
// processed. The article keeps its batch id until the result pass releases
// it for retry.
func (s *Store) MarkFailed(ctx context.Context, id int64, reason string) error {
	if err := s.execWithoutResult(
		ctx,
		`UPDATE articles SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		StatusFailed,
		nullableString(reason),
		timestamp(time.Now()),
		id,
	); err != nil {
		return fmt.Errorf("mark article failed: %w", err)
	}
	return nil
}

// MarkCompleted records a successful analysis. A nil score stores NULL.
// When clearContent is set the article body is dropped to reclaim storage.
func (s *Store) MarkCompleted(ctx context.Context, id int64, score *float64, clearContent bool) error {
	now := timestamp(time.Now())
	query := `UPDATE articles SET status = ?, extremeness_score = ?, error_message = NULL, processed_at = ?, updated_at = ?`
	args := []any{StatusCompleted, nullableFloat(score), now, now}
	if clearContent {
		query += `, content = ''`
	}
	query += ` WHERE id = ?`
	args = append(args, id)
	if err := s.execWithoutResult(ctx, query, args...); err != nil {
		return fmt.Errorf("mark article completed: %w", err)
	}
	return nil
}

// ResetForRetry moves failed and permanently failed articles (optionally a
// subset) back to unanalyzed with a fresh retry budget.
func (s *Store) ResetForRetry(ctx context.Context, ids ...int64) (int64, error) {
	now := timestamp(time.Now())
	if len(ids) == 0 {
		res, err := s.execWithRetry(
			ctx,
			`UPDATE articles SET status = ?, batch_id = NULL, retry_count = 0, error_message = NULL, updated_at = ?
             WHERE status IN (?, ?)`,
			StatusUnanalyzed, now, StatusFailed, StatusPermanentlyFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("reset failed articles: %w", err)
		}
		return res.RowsAffected()
	}

	args := []any{StatusUnanalyzed, now}
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE articles SET status = ?, batch_id = NULL, retry_count = 0, error_message = NULL, updated_at = ?
         WHERE id IN (`+makePlaceholders(len(ids))+`) AND status IN ('`+string(StatusFailed)+`', '`+string(StatusPermanentlyFailed)+`')`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("reset selected articles: %w", err)
	}
	return res.RowsAffected()
}

// ListByBatch returns every article referencing a batch id.
func (s *Store) ListByBatch(ctx context.Context, batchID string) ([]*Article, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+articleColumns+` FROM articles WHERE batch_id = ? ORDER BY id`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("list batch articles: %w", err)
	}
	defer rows.Close()
	return collectArticles(rows)
}

// List returns articles filtered by status set (or all when none given).
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Article, error) {
	baseQuery := `SELECT ` + articleColumns + ` FROM articles`
	orderClause := ` ORDER BY created_at, id`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+makePlaceholders(len(statuses))+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	defer rows.Close()
	return collectArticles(rows)
}

// ActiveBatchIDs returns the distinct batch ids referenced by articles still
// in flight. Startup reconciliation compares these against the tracking
// store to find orphans.
func (s *Store) ActiveBatchIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT DISTINCT batch_id FROM articles
         WHERE batch_id IS NOT NULL AND status IN (?, ?)`,
		StatusInProgress,
		StatusFailed,
	)
	if err != nil {
		return nil, fmt.Errorf("active batch ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountByStatus aggregates article totals per lifecycle state.
func (s *Store) CountByStatus(ctx context.Context) (StatusCounts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM articles GROUP BY status`)
	if err != nil {
		return StatusCounts{}, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	var counts StatusCounts
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return StatusCounts{}, err
		}
		switch Status(status) {
		case StatusUnanalyzed:
			counts.Unanalyzed = count
		case StatusInProgress:
			counts.InProgress = count
		case StatusCompleted:
			counts.Completed = count
		case StatusFailed:
			counts.Failed = count
		case StatusPermanentlyFailed:
			counts.PermanentlyFailed = count
		}
	}
	return counts, rows.Err()
}

// CompletedCount returns the number of completed articles. The result
// processor compares before/after counts as a post-commit self check.
func (s *Store) CompletedCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM articles WHERE status = ?`, StatusCompleted).Scan(&count); err != nil {
		return 0, fmt.Errorf("completed count: %w", err)
	}
	return count, nil
}

func (s *Store) execWithoutResult(ctx context.Context, query string, args ...any) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

func collectArticles(rows *sql.Rows) ([]*Article, error) {
	var items []*Article
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, article)
	}
	return items, rows.Err()
}
