package config

// Config holds runtime settings for the chat client.
//
// Fields:
//   - ServerHost / ServerPort: address of the chat server.
//   - DataDir: root directory for downloaded files.
//   - LogLevel: debug | info | warn | error.
//   - HistoryPageSize: page size requested in HistoryFetch.
type Config struct {
	ServerHost      string
	ServerPort      int
	DataDir         string
	LogLevel        string
	HistoryPageSize int
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerHost = "127.0.0.1"
	c.ServerPort = 9000
	c.DataDir = "data-client"
	c.LogLevel = "info"
	c.HistoryPageSize = 50
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
