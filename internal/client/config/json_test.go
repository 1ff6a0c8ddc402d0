package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if name == "" {
		name = "cfg.json"
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson_SourcesAndPrecedence(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	dir := t.TempDir()
	pathFlag := writeTempJSON(t, dir, "flag.json", map[string]any{
		"server_host":       "chat.example",
		"server_port":       9100,
		"data_dir":          "var/dl",
		"log_level":         "warn",
		"history_page_size": 25,
	})

	t.Run("loads from json", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", pathFlag}

		cfg := &Config{}
		parseJson(cfg)

		assert.Equal(t, "chat.example", cfg.ServerHost)
		assert.Equal(t, 9100, cfg.ServerPort)
		assert.Equal(t, "var/dl", cfg.DataDir)
		assert.Equal(t, "warn", cfg.LogLevel)
		assert.Equal(t, 25, cfg.HistoryPageSize)
	})

	t.Run("partial file overrides only named fields", func(t *testing.T) {
		partial := writeTempJSON(t, dir, "partial.json", map[string]any{
			"server_port": 9300,
		})
		os.Args = []string{"testbin", "-config", partial}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseJson(cfg)

		assert.Equal(t, 9300, cfg.ServerPort)
		assert.Equal(t, "127.0.0.1", cfg.ServerHost, "unnamed fields keep defaults")
		assert.Equal(t, 50, cfg.HistoryPageSize)
	})

	t.Run("no CONFIG and no flags, no changes", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{ServerHost: "defaults", ServerPort: 1234}
		parseJson(cfg)

		assert.Equal(t, "defaults", cfg.ServerHost)
		assert.Equal(t, 1234, cfg.ServerPort)
	})

	t.Run("invalid JSON panics", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))

		os.Args = []string{"testbin", "-config", bad}

		cfg := &Config{}
		require.Panics(t, func() { parseJson(cfg) })
	})
}
