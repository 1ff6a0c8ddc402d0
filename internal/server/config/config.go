// Package config handles configuration for the server component,
// including defaults, JSON overlay, and command-line flags.
package config

// Config holds runtime settings for the chat server.
//
// Fields:
//   - BindHost / Port: TCP listen address for the chat protocol.
//   - DBPath: path of the SQLite database file.
//   - DataDir: root directory for published files and upload temps.
//   - LogLevel: debug | info | warn | error.
//   - MaxClients: accepted connections beyond this are closed immediately.
//   - HistoryPageSize: page size for offline replay and history fetches.
//   - FileChunkSize: transfer granularity advertised to uploaders.
//   - MetricsAddr: /metrics HTTP listen address; empty disables it.
type Config struct {
	BindHost        string
	Port            int
	DBPath          string
	DataDir         string
	LogLevel        string
	MaxClients      int
	HistoryPageSize int
	FileChunkSize   int64
	MetricsAddr     string
}

// LoadDefaults populates Config with sensible development defaults.
func (c *Config) LoadDefaults() {
	c.BindHost = "0.0.0.0"
	c.Port = 9000
	c.DBPath = "data/chat.db"
	c.DataDir = "data"
	c.LogLevel = "info"
	c.MaxClients = 1000
	c.HistoryPageSize = 100
	c.FileChunkSize = 65536
	c.MetricsAddr = ""
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
