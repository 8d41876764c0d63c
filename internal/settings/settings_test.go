package settings

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barcrawlhq/crawlbot/internal/config"
	"github.com/barcrawlhq/crawlbot/internal/storage/memory"
)

func botDefaults() config.Bot {
	return config.Bot{
		MinGroupSize:       3,
		MaxGroupSize:       5,
		MessageCooldown:    30,
		UserCooldown:       10,
		RateLimitWindow:    300,
		RateLimitMax:       5,
		BarProgressionTime: 3600,
		WaitBetweenBars:    900,
		JoinDeadline:       1800,
		AutoGroupCreation:  true,
		AutoProgression:    true,
	}
}

func TestServiceDefaults(t *testing.T) {
	s := New(botDefaults(), nil)

	assert.Equal(t, 3, s.MinGroupSize())
	assert.Equal(t, 5, s.MaxGroupSize())
	assert.Equal(t, time.Hour, s.BarProgressionTime())
	assert.True(t, s.AutoGroupCreation())
	assert.False(t, s.SmartMatching())

	limits := s.GuardLimits()
	assert.Equal(t, 30*time.Second, limits.MessageCooldown)
	assert.Equal(t, int64(5), limits.RateMax)
}

func TestServiceOverrides(t *testing.T) {
	store := memory.NewSettingsStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, map[string]string{
		KeyMaxGroupSize:    "8",
		KeyAutoProgression: "false",
		KeyRateLimitMax:    "not-a-number",
	}))

	s := New(botDefaults(), store)
	require.NoError(t, s.Reload(ctx))

	assert.Equal(t, 8, s.MaxGroupSize())
	assert.False(t, s.AutoProgression())
	// Unparseable overrides fall back to the default.
	assert.Equal(t, int64(5), s.GuardLimits().RateMax)
}

func TestServiceSetPersistsAndApplies(t *testing.T) {
	store := memory.NewSettingsStore()
	ctx := context.Background()

	s := New(botDefaults(), store)
	require.NoError(t, s.Set(ctx, KeyMinGroupSize, "4"))
	assert.Equal(t, 4, s.MinGroupSize())

	// A fresh service sees the persisted value after reload.
	fresh := New(botDefaults(), store)
	require.NoError(t, fresh.Reload(ctx))
	assert.Equal(t, 4, fresh.MinGroupSize())

	snap := fresh.Snapshot()
	assert.Equal(t, "4", snap[KeyMinGroupSize])
	assert.Equal(t, "5", snap[KeyMaxGroupSize])
}
