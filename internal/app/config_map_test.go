package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dailytask/internal/config"
	kit "dailytask/internal/transport"
)

func TestMapStorageDefaults(t *testing.T) {
	sc, err := mapStorageConfig(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, "./dailytask.db", sc.Path)
	assert.Equal(t, time.Second, sc.BusyTimeout)

	sc, err = mapStorageConfig(&config.Config{Storage: config.StorageConfig{Driver: "Memory"}})
	require.NoError(t, err)
	assert.Equal(t, "memory", sc.Driver)
	assert.Empty(t, sc.Path)
}

func TestMapNotifierNeedsToken(t *testing.T) {
	nc, err := mapNotifierConfig(&config.Config{})
	require.NoError(t, err)
	assert.False(t, nc.Enabled)
	assert.Equal(t, 60*time.Second, nc.TitleWindow)

	nc, err = mapNotifierConfig(&config.Config{Telegram: config.TelegramConfig{Token: "1:x"}})
	require.NoError(t, err)
	assert.True(t, nc.Enabled)
	assert.Equal(t, 500*time.Millisecond, nc.RetryBase)
}

func TestTargets(t *testing.T) {
	cfg := &config.Config{
		Telegram: config.TelegramConfig{OwnerChatIDs: []int64{7, 8}, ThreadID: 3},
		Sources:  config.SourcesConfig{Trusted: []string{"com.tencent.mm"}},
	}
	assert.Equal(t, []string{"com.tencent.mm", "telegram:7", "telegram:8"}, trustedSources(cfg))
	assert.Equal(t, []kit.ChatTarget{{ChatID: 7, ThreadID: 3}, {ChatID: 8, ThreadID: 3}}, reportTargets(cfg))
	assert.Equal(t, kit.ChatTarget{ChatID: 7}, logTarget(cfg))

	cfg.Logging.Telegram.ChatID = 99
	assert.Equal(t, kit.ChatTarget{ChatID: 99}, logTarget(cfg))
}
