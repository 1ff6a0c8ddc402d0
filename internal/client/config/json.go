package config

import (
	"encoding/json"
	"os"

	"oltchat/internal/flagx"
)

// JsonConfig is the intermediate DTO used only for reading JSON
// configuration files. Pointer fields distinguish "absent" from
// "explicitly zero", so an incomplete file overrides only what it
// names.
type JsonConfig struct {
	ServerHost      *string `json:"server_host"`
	ServerPort      *int    `json:"server_port"`
	DataDir         *string `json:"data_dir"`
	LogLevel        *string `json:"log_level"`
	HistoryPageSize *int    `json:"history_page_size"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The file path is taken from the -c or -config command-line flags; if
// neither is set, no JSON file is loaded. If the file cannot be read or
// contains invalid JSON, the function panics.
func parseJson(cfg *Config) {

	// try flags
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	if c.ServerHost != nil {
		cfg.ServerHost = *c.ServerHost
	}
	if c.ServerPort != nil {
		cfg.ServerPort = *c.ServerPort
	}
	if c.DataDir != nil {
		cfg.DataDir = *c.DataDir
	}
	if c.LogLevel != nil {
		cfg.LogLevel = *c.LogLevel
	}
	if c.HistoryPageSize != nil {
		cfg.HistoryPageSize = *c.HistoryPageSize
	}
}
