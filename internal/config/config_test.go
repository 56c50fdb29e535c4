package config

import (
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"CDPHOST_BROWSER_PORT", "CDPHOST_LISTEN_PORT", "CDPHOST_LOG_LEVEL"} {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9222", cfg.BrowserEndpoint)
	assert.Equal(t, "localhost:19222", cfg.ListenAddr)
	assert.Equal(t, logrus.InfoLevel, cfg.LogLevel)
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	os.Setenv("CDPHOST_BROWSER_PORT", "9333")
	os.Setenv("CDPHOST_LISTEN_PORT", "19333")
	os.Setenv("CDPHOST_LOG_LEVEL", "debug")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9333", cfg.BrowserEndpoint)
	assert.Equal(t, "localhost:19333", cfg.ListenAddr)
	assert.Equal(t, logrus.DebugLevel, cfg.LogLevel)
}

func TestFromEnv_BadLogLevel(t *testing.T) {
	clearEnv(t)
	os.Setenv("CDPHOST_LOG_LEVEL", "not-a-level")
	_, err := FromEnv()
	require.Error(t, err)
}
