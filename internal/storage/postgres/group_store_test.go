package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barcrawlhq/crawlbot/internal/bot"
)

func TestGroupStoreCompleteIdempotent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()

	// First sweep flips the group to completed.
	mock.ExpectExec("UPDATE groups SET status = 'completed'").
		WithArgs("g1", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	// Second sweep matches no live row and verifies the group exists.
	mock.ExpectExec("UPDATE groups SET status = 'completed'").
		WithArgs("g1", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM groups").
		WithArgs("g1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("completed"))

	store := NewGroupStore(mock)
	require.NoError(t, store.Complete(context.Background(), "g1", now))
	require.NoError(t, store.Complete(context.Background(), "g1", now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupStoreCancelTerminal(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	mock.ExpectExec("UPDATE groups SET status = 'cancelled'").
		WithArgs("g1", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT status FROM groups").
		WithArgs("g1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("completed"))

	store := NewGroupStore(mock)
	err = store.Cancel(context.Background(), "g1", now)
	assert.ErrorIs(t, err, bot.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupStoreSetPendingAdvanceNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	eta := time.Now().Add(time.Hour)
	mock.ExpectExec("UPDATE groups SET advance_token").
		WithArgs("missing", "tok", eta).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	store := NewGroupStore(mock)
	err = store.SetPendingAdvance(context.Background(), "missing", "tok", eta)
	assert.ErrorIs(t, err, bot.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupStoreJoinFirstFitNoGroup(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("SELECT g.id FROM groups g").
		WithArgs("ancoats", "mixed").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	store := NewGroupStore(mock)
	_, err = store.JoinFirstFit(context.Background(), "ancoats", "mixed", bot.Member{ProfileID: "p1"})
	assert.ErrorIs(t, err, bot.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupStoreJoinFirstFitAlreadyMember(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	store := NewGroupStore(mock)
	_, err = store.JoinFirstFit(context.Background(), "ancoats", "mixed", bot.Member{ProfileID: "p1"})
	assert.ErrorIs(t, err, bot.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupStoreJoinFirstFitSerializationFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("p1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("SELECT g.id FROM groups g").
		WithArgs("ancoats", "mixed").
		WillReturnError(&pgconn.PgError{Code: "40001"})
	mock.ExpectRollback()

	store := NewGroupStore(mock)
	_, err = store.JoinFirstFit(context.Background(), "ancoats", "mixed", bot.Member{ProfileID: "p1"})
	assert.ErrorIs(t, err, bot.ErrCapacity)
	require.NoError(t, mock.ExpectationsWereMet())
}
