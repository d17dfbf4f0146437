// Package postgres stores user reactions. The (user_id, article_id) uniqueness
// lives in the schema so concurrent submissions collapse to one row.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/DeafMist/news-pulse/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS reactions (
	user_id       TEXT        NOT NULL,
	article_id    TEXT        NOT NULL,
	reaction_type TEXT        NOT NULL CHECK (reaction_type IN ('like', 'dislike', 'neutral')),
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, article_id)
);
CREATE INDEX IF NOT EXISTS idx_reactions_article ON reactions (article_id);
`

// ReactionStorage persists reactions in Postgres.
type ReactionStorage struct {
	db *sqlx.DB
}

// Connect opens and pings a Postgres connection pool.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return db, nil
}

// NewReactionStorage wraps an open pool. Call Migrate before first use.
func NewReactionStorage(db *sqlx.DB) *ReactionStorage {
	return &ReactionStorage{db: db}
}

// Migrate creates the reactions table when missing.
func (s *ReactionStorage) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate reactions: %w", err)
	}
	return nil
}

// Ping checks the connection pool.
func (s *ReactionStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Upsert writes the user's reaction, overwriting the type and updated_at of an existing one.
func (s *ReactionStorage) Upsert(ctx context.Context, userID, articleID string, reaction models.ReactionType, now time.Time) (models.Reaction, error) {
	const query = `
		INSERT INTO reactions (user_id, article_id, reaction_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (user_id, article_id)
		DO UPDATE SET reaction_type = EXCLUDED.reaction_type, updated_at = EXCLUDED.updated_at
		RETURNING user_id, article_id, reaction_type, created_at, updated_at`

	var stored models.Reaction
	if err := s.db.QueryRowxContext(ctx, query, userID, articleID, string(reaction), now.UTC()).StructScan(&stored); err != nil {
		return models.Reaction{}, fmt.Errorf("upsert reaction: %w", err)
	}
	return stored, nil
}

// Find returns the user's reaction to an article, or nil when there is none.
func (s *ReactionStorage) Find(ctx context.Context, userID, articleID string) (*models.Reaction, error) {
	const query = `
		SELECT user_id, article_id, reaction_type, created_at, updated_at
		FROM reactions
		WHERE user_id = $1 AND article_id = $2`

	var reaction models.Reaction
	if err := s.db.GetContext(ctx, &reaction, query, userID, articleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find reaction: %w", err)
	}
	return &reaction, nil
}

type reactionCount struct {
	ReactionType string `db:"reaction_type"`
	Count        int64  `db:"count"`
}

// CountByType groups an article's reactions by type.
func (s *ReactionStorage) CountByType(ctx context.Context, articleID string) (map[models.ReactionType]int64, error) {
	const query = `
		SELECT reaction_type, COUNT(*) AS count
		FROM reactions
		WHERE article_id = $1
		GROUP BY reaction_type`

	var rows []reactionCount
	if err := s.db.SelectContext(ctx, &rows, query, articleID); err != nil {
		return nil, fmt.Errorf("count reactions: %w", err)
	}

	counts := make(map[models.ReactionType]int64, len(rows))
	for _, row := range rows {
		counts[models.ReactionType(row.ReactionType)] = row.Count
	}
	return counts, nil
}
