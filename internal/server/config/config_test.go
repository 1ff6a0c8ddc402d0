package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "0.0.0.0", c.BindHost)
	assert.Equal(t, 9000, c.Port)
	assert.Equal(t, "data/chat.db", c.DBPath)
	assert.Equal(t, "data", c.DataDir)
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, 1000, c.MaxClients)
	assert.Equal(t, 100, c.HistoryPageSize)
	assert.Equal(t, int64(65536), c.FileChunkSize)
	assert.Empty(t, c.MetricsAddr)
}

func TestLoadConfig_UsesDefaultsBeforeParsing(t *testing.T) {
	c := LoadConfig()

	require.NotNil(t, c, "LoadConfig must not return nil")

	assert.Equal(t, "0.0.0.0", c.BindHost)
	assert.Equal(t, 9000, c.Port)
	assert.Equal(t, "data/chat.db", c.DBPath)
	assert.Equal(t, int64(65536), c.FileChunkSize)
}
