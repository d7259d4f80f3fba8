package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func TestLoadCreatesDefaults(t *testing.T) {
	home := withHome(t)

	cfg, err := LoadAppConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultAppConfig(), cfg)

	_, err = os.Stat(filepath.Join(home, configFilePath))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(home, backupFilePath))
	assert.NoError(t, err, "a clean load refreshes the backup")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	withHome(t)
	cfg := DefaultAppConfig()
	cfg.API.BaseURL = "http://backend:9000"
	cfg.API.RetryMax = 0
	cfg.Catalog.TTL = "1h"
	cfg.Preferences.AutoAdvance = false
	require.NoError(t, SaveAppConfig(cfg))

	loaded, err := LoadAppConfig()
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	withHome(t)
	require.NoError(t, SaveAppConfig(DefaultAppConfig()))
	t.Setenv("TALESPINNER_API_BASE_URL", "http://from-env:8000")
	t.Setenv("TALESPINNER_API_RETRY_MAX", "7")

	cfg, err := LoadAppConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://from-env:8000", cfg.API.BaseURL)
	assert.Equal(t, 7, cfg.API.RetryMax)
}

func TestInvalidConfigFailsAndRevertRestoresBackup(t *testing.T) {
	home := withHome(t)
	_, err := LoadAppConfig()
	require.NoError(t, err)

	path := filepath.Join(home, configFilePath)
	require.NoError(t, os.WriteFile(path, []byte("api:\n  timeout: soon\n"), 0600))
	_, err = LoadAppConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api.timeout")

	require.NoError(t, RevertAppConfigToBackup())
	cfg, err := LoadAppConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultAppConfig(), cfg)
}

func TestRevertWithoutBackup(t *testing.T) {
	withHome(t)
	assert.Error(t, RevertAppConfigToBackup())
}

func TestReset(t *testing.T) {
	withHome(t)
	cfg := DefaultAppConfig()
	cfg.Logging.Level = "debug"
	require.NoError(t, SaveAppConfig(cfg))

	require.NoError(t, ResetAppConfigToDefault())
	loaded, err := LoadAppConfig()
	require.NoError(t, err)
	assert.Equal(t, "info", loaded.Logging.Level)
}

func TestGatewayOptions(t *testing.T) {
	cfg := DefaultAppConfig()
	cfg.API.BaseURL = "http://backend:9000/"
	cfg.API.Timeout = "45s"
	cfg.API.RetryWaitMin = "bogus"

	opts := cfg.GatewayOptions(nil)
	assert.Equal(t, "http://backend:9000", opts.BaseURL)
	assert.Equal(t, 45*time.Second, opts.Timeout)
	assert.Equal(t, time.Second, opts.RetryWaitMin)
	assert.Equal(t, 10*time.Second, opts.RetryWaitMax)
	assert.Equal(t, 3, opts.RetryMax)
}

func TestLoggingOptionsExpandHome(t *testing.T) {
	home := withHome(t)
	opts, err := DefaultAppConfig().LoggingOptions()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".talespinner", "talespinner.log"), opts.File)
	assert.Equal(t, "info", opts.Level)

	dir, err := DefaultAppConfig().DataDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".talespinner"), dir)
}

func TestMenuEditRejectsInvalidValue(t *testing.T) {
	withHome(t)
	cfg := DefaultAppConfig()
	m := model{appConfig: cfg, list: mainMenu(cfg), state: state{page: ListPage, menu: mainMenu}}

	next, _ := m.Update(editConfigMsg{edit: func(c *AppConfig) error {
		c.API.BaseURL = "  "
		return nil
	}})
	assert.Equal(t, cfg, next.(model).appConfig)
	assert.NotEmpty(t, next.(model).status)

	next, _ = next.Update(editConfigMsg{edit: func(c *AppConfig) error {
		c.Preferences.RenderMarkdown = false
		return nil
	}})
	assert.False(t, next.(model).appConfig.Preferences.RenderMarkdown)

	loaded, err := LoadAppConfig()
	require.NoError(t, err)
	assert.False(t, loaded.Preferences.RenderMarkdown)
}

func TestMenuLevelSelectionGoesBack(t *testing.T) {
	withHome(t)
	cfg := DefaultAppConfig()
	var m tea.Model = model{appConfig: cfg, list: mainMenu(cfg), state: state{page: ListPage, menu: mainMenu}}

	m, _ = m.Update(setMenuMsg{menu: logLevelMenu})
	m, cmd := m.Update(editConfigMsg{back: true, edit: func(c *AppConfig) error {
		c.Logging.Level = "debug"
		return nil
	}})
	require.NotNil(t, cmd)
	m, _ = m.Update(cmd())

	assert.Equal(t, "debug", m.(model).appConfig.Logging.Level)
	assert.Empty(t, m.(model).backstack)
}
