package postgres

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsStoreLoad(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT key, value FROM bot_settings").
		WillReturnRows(pgxmock.NewRows([]string{"key", "value"}).
			AddRow("min_group_size", "3").
			AddRow("debug_mode", "false"))

	store := NewSettingsStore(mock)
	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3", got["min_group_size"])
	assert.Equal(t, "false", got["debug_mode"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettingsStoreSave(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO bot_settings").
		WithArgs("max_group_size", "5").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	store := NewSettingsStore(mock)
	require.NoError(t, store.Save(context.Background(), map[string]string{"max_group_size": "5"}))
	require.NoError(t, mock.ExpectationsWereMet())
}
