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
	BindHost        *string `json:"bind_host"`
	Port            *int    `json:"port"`
	DBPath          *string `json:"db_path"`
	DataDir         *string `json:"data_dir"`
	LogLevel        *string `json:"log_level"`
	MaxClients      *int    `json:"max_clients"`
	HistoryPageSize *int    `json:"history_page_size"`
	FileChunkSize   *int64  `json:"file_chunk_size"`
	MetricsAddr     *string `json:"metrics_addr"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The file path is taken from the -c or -config command-line flags; if
// neither is set, no JSON file is loaded. If the file cannot be read or
// contains invalid JSON, the function panics.
func parseJson(config *Config) {

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

	if c.BindHost != nil {
		config.BindHost = *c.BindHost
	}
	if c.Port != nil {
		config.Port = *c.Port
	}
	if c.DBPath != nil {
		config.DBPath = *c.DBPath
	}
	if c.DataDir != nil {
		config.DataDir = *c.DataDir
	}
	if c.LogLevel != nil {
		config.LogLevel = *c.LogLevel
	}
	if c.MaxClients != nil {
		config.MaxClients = *c.MaxClients
	}
	if c.HistoryPageSize != nil {
		config.HistoryPageSize = *c.HistoryPageSize
	}
	if c.FileChunkSize != nil {
		config.FileChunkSize = *c.FileChunkSize
	}
	if c.MetricsAddr != nil {
		config.MetricsAddr = *c.MetricsAddr
	}
}
