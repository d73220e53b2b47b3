package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
port: 9000
data-dir: /tmp/guildvault
debug: true
management-key: mk-1
discord:
  client-id: client-1
  client-secret: secret-1
  bot-token: bot-1
  redirect-url: http://localhost:9000/auth/callback
safety-margin-seconds: 120
progress-interval-seconds: 10
restore-limit: 50
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.Port)
	require.Equal(t, "/tmp/guildvault", cfg.DataDir)
	require.True(t, cfg.Debug)
	require.Equal(t, "mk-1", cfg.ManagementKey)
	require.Equal(t, "client-1", cfg.Discord.ClientID)
	require.Equal(t, "bot-1", cfg.Discord.BotToken)
	require.Equal(t, 2*time.Minute, cfg.SafetyMargin())
	require.Equal(t, 10*time.Second, cfg.ProgressInterval())
	require.Equal(t, 50, cfg.RestoreLimit)
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, "discord:\n  client-id: client-1\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, DefaultPort, cfg.Port)
	require.Equal(t, "./data", cfg.DataDir)
	require.Equal(t, DefaultSafetyMargin, cfg.SafetyMargin())
	require.Equal(t, DefaultProgressInterval, cfg.ProgressInterval())
	require.Zero(t, cfg.RestoreLimit)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("GUILDVAULT_CLIENT_SECRET", "env-secret")
	t.Setenv("GUILDVAULT_BOT_TOKEN", "env-bot")

	path := writeConfig(t, `
discord:
  client-secret: file-secret
  bot-token: file-bot
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "env-secret", cfg.Discord.ClientSecret)
	require.Equal(t, "env-bot", cfg.Discord.BotToken)
}

func TestApplyReload(t *testing.T) {
	cfg := &Config{Port: 9000, ProgressIntervalSeconds: 5, RestoreLimit: 10}
	cfg.ApplyReload(&Config{Port: 1, Debug: true, ProgressIntervalSeconds: 7, RestoreLimit: 20})

	require.True(t, cfg.Debug)
	require.Equal(t, 7*time.Second, cfg.ProgressInterval())
	require.Equal(t, 20, cfg.RestoreLimitPerRun())
	// Restart-only fields are untouched.
	require.Equal(t, 9000, cfg.Port)
}

func TestApplyReloadConcurrentWithReads(t *testing.T) {
	cfg := &Config{ProgressIntervalSeconds: 5, RestoreLimit: 10}
	updated := &Config{ProgressIntervalSeconds: 7, RestoreLimit: 20}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = cfg.ProgressInterval()
				_ = cfg.RestoreLimitPerRun()
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				cfg.ApplyReload(updated)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 7*time.Second, cfg.ProgressInterval())
	require.Equal(t, 20, cfg.RestoreLimitPerRun())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := writeConfig(t, "port: [not a number\n")

	_, err := LoadConfig(path)
	require.Error(t, err)
}
