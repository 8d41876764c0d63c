package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Bot.MinGroupSize)
	assert.Equal(t, 5, cfg.Bot.MaxGroupSize)
	assert.Equal(t, 30, cfg.Bot.MessageCooldown)
	assert.Equal(t, 10, cfg.Bot.UserCooldown)
	assert.Equal(t, 300, cfg.Bot.RateLimitWindow)
	assert.Equal(t, 5, cfg.Bot.RateLimitMax)
	assert.Equal(t, 3600, cfg.Bot.BarProgressionTime)
	assert.True(t, cfg.Bot.AutoGroupCreation)
	assert.Equal(t, 4, cfg.Tasks.Workers)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 9100
bot:
  min_group_size: 2
  max_group_size: 4
webhook:
  verify_token: sesame
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Bot.MinGroupSize)
	assert.Equal(t, 4, cfg.Bot.MaxGroupSize)
	assert.Equal(t, "sesame", cfg.Webhook.VerifyToken)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Bot.MaxGroupSize = 1
	assert.Error(t, cfg.Validate())

	cfg, _ = Load("")
	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())

	cfg, _ = Load("")
	cfg.Tasks.Workers = 0
	assert.Error(t, cfg.Validate())
}
