package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "127.0.0.1", c.ServerHost)
	assert.Equal(t, 9000, c.ServerPort)
	assert.Equal(t, "data-client", c.DataDir)
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, 50, c.HistoryPageSize)
}

func TestLoadConfig_UsesDefaultsBeforeParsing(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	os.Args = []string{"testbin"}

	cfg := LoadConfig()

	require.NotNil(t, cfg, "LoadConfig must not return nil")
	assert.Equal(t, "127.0.0.1", cfg.ServerHost)
	assert.Equal(t, 9000, cfg.ServerPort)
}
