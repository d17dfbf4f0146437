package postgres_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/DeafMist/news-pulse/internal/models"
	"github.com/DeafMist/news-pulse/internal/postgres"
)

func newStorage(t *testing.T) (*postgres.ReactionStorage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return postgres.NewReactionStorage(sqlx.NewDb(db, "postgres")), mock
}

func TestUpsertUsesConflictClause(t *testing.T) {
	storage, mock := newStorage(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	created := now.Add(-time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (user_id, article_id)")).
		WithArgs("u1", "a1", "dislike", now).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "article_id", "reaction_type", "created_at", "updated_at"}).
			AddRow("u1", "a1", "dislike", created, now))

	stored, err := storage.Upsert(context.Background(), "u1", "a1", models.ReactionDislike, now)
	require.NoError(t, err)
	require.Equal(t, models.ReactionDislike, stored.ReactionType)
	require.Equal(t, created, stored.CreatedAt)
	require.Equal(t, now, stored.UpdatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindMissingReturnsNil(t *testing.T) {
	storage, mock := newStorage(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM reactions")).
		WithArgs("u1", "a1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "article_id", "reaction_type", "created_at", "updated_at"}))

	reaction, err := storage.Find(context.Background(), "u1", "a1")
	require.NoError(t, err)
	require.Nil(t, reaction)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindPropagatesFailure(t *testing.T) {
	storage, mock := newStorage(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM reactions")).
		WithArgs("u1", "a1").
		WillReturnError(errors.New("connection reset"))

	_, err := storage.Find(context.Background(), "u1", "a1")
	require.Error(t, err)
}

func TestCountByType(t *testing.T) {
	storage, mock := newStorage(t)

	mock.ExpectQuery(regexp.QuoteMeta("GROUP BY reaction_type")).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows([]string{"reaction_type", "count"}).
			AddRow("like", 4).
			AddRow("neutral", 1))

	counts, err := storage.CountByType(context.Background(), "a1")
	require.NoError(t, err)
	require.Equal(t, map[models.ReactionType]int64{
		models.ReactionLike:    4,
		models.ReactionNeutral: 1,
	}, counts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	storage, mock := newStorage(t)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS reactions")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, storage.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
