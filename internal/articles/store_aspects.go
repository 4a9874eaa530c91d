package articles

import (
	"context"
	"errors"
	"fmt"
)

// HasAspects reports whether extracted aspect rows already exist for an
// article. The result processor checks this before inserting so replaying a
// result stream never duplicates data.
func (s *Store) HasAspects(ctx context.Context, articleID int64) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM article_aspects WHERE article_id = ?`, articleID).Scan(&count); err != nil {
		return false, fmt.Errorf("count aspects: %w", err)
	}
	return count > 0, nil
}

// InsertAspects stores the extracted aspect score pairs for an article in
// one transaction. A repeated aspect name within the same article replaces
// the earlier pair.
func (s *Store) InsertAspects(ctx context.Context, articleID int64, aspects []Aspect) error {
	if len(aspects) == 0 {
		return errors.New("no aspects to insert")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin aspects tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, aspect := range aspects {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO article_aspects (article_id, aspect, stance, intensity)
             VALUES (?, ?, ?, ?)
             ON CONFLICT (article_id, aspect) DO UPDATE SET stance = excluded.stance, intensity = excluded.intensity`,
			articleID,
			aspect.Name,
			aspect.Stance,
			aspect.Intensity,
		); err != nil {
			return fmt.Errorf("insert aspect %q: %w", aspect.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit aspects: %w", err)
	}
	return nil
}

// ListAspects returns the stored aspect pairs for an article.
func (s *Store) ListAspects(ctx context.Context, articleID int64) ([]Aspect, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT article_id, aspect, stance, intensity FROM article_aspects WHERE article_id = ? ORDER BY aspect`,
		articleID,
	)
	if err != nil {
		return nil, fmt.Errorf("list aspects: %w", err)
	}
	defer rows.Close()

	var aspects []Aspect
	for rows.Next() {
		var aspect Aspect
		if err := rows.Scan(&aspect.ArticleID, &aspect.Name, &aspect.Stance, &aspect.Intensity); err != nil {
			return nil, err
		}
		aspects = append(aspects, aspect)
	}
	return aspects, rows.Err()
}
