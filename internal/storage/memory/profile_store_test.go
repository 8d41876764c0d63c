package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barcrawlhq/crawlbot/internal/bot"
)

func TestProfileStoreCreateAndGet(t *testing.T) {
	store := NewProfileStore()
	ctx := context.Background()

	p := bot.UserProfile{ID: "p1", Number: "447700900001", Area: "ancoats"}
	_, err := store.Create(ctx, p)
	require.NoError(t, err)

	got, err := store.GetByNumber(ctx, "447700900001")
	require.NoError(t, err)
	assert.Equal(t, "ancoats", got.Area)

	_, err = store.Create(ctx, p)
	assert.ErrorIs(t, err, bot.ErrConflict)

	_, err = store.GetByNumber(ctx, "447700900999")
	assert.ErrorIs(t, err, bot.ErrNotFound)
}

func TestVenueStoreListByArea(t *testing.T) {
	store := NewVenueStore()
	ctx := context.Background()

	_, err := store.Create(ctx, bot.Venue{ID: "v1", Name: "One", Area: "ancoats", Active: true})
	require.NoError(t, err)
	_, err = store.Create(ctx, bot.Venue{ID: "v2", Name: "Two", Area: "ancoats", Active: false})
	require.NoError(t, err)
	_, err = store.Create(ctx, bot.Venue{ID: "v3", Name: "Three", Area: "deansgate", Active: true})
	require.NoError(t, err)

	venues, err := store.ListByArea(ctx, "ancoats")
	require.NoError(t, err)
	require.Len(t, venues, 1)
	assert.Equal(t, "v1", venues[0].ID)

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSettingsStoreLoadSave(t *testing.T) {
	store := NewSettingsStore()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, map[string]string{"min_group_size": "3"}))
	require.NoError(t, store.Save(ctx, map[string]string{"max_group_size": "5"}))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "3", got["min_group_size"])
	assert.Equal(t, "5", got["max_group_size"])
}
