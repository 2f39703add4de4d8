package store

import (
	"context"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refcanvas/refcanvas-cli/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &PostgresStore{pool: mock}, mock
}

func TestPostgresSetStatus(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE refs SET status`).
		WithArgs("finalized", pgxmock.AnyArg(), "ref-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.SetStatus(context.Background(), "ref-1", model.StatusFinalized)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSetStatusNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE refs SET status`).
		WithArgs("finalized", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.SetStatus(context.Background(), "missing", model.StatusFinalized)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresUpdateField(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE refs SET relevance = `).
		WithArgs(pgxmock.AnyArg(), 3, pgxmock.AnyArg(), "ref-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	var field model.TrackedField
	field.SetGenerated("updated relevance", 2)
	err := s.UpdateField(context.Background(), "ref-1", model.LevelRelevance, field, 3)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateFieldRejectsUnknownLevel(t *testing.T) {
	s, _ := newMockStore(t)

	err := s.UpdateField(context.Background(), "ref-1", model.Level("notes"), model.TrackedField{}, 2)
	require.Error(t, err)
}

func TestPostgresAppendChange(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO change_log`).
		WithArgs(pgxmock.AnyArg(), "ref-1", "context", "context", "old", "new",
			"user_edit", "", "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec := &model.ChangeRecord{
		ReferenceID: "ref-1",
		Level:       model.LevelContext,
		Field:       "context",
		OldValue:    "old",
		NewValue:    "new",
		Trigger:     model.TriggerUserEdit,
	}
	err := s.AppendChange(context.Background(), rec)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSetManualReview(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE refs SET manual_review`).
		WithArgs(true, pgxmock.AnyArg(), "ref-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.SetManualReview(context.Background(), "ref-1", true))
	require.NoError(t, mock.ExpectationsWereMet())
}
