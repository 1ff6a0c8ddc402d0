// Package config loads runtime configuration for the chat client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   server host
//	-p int      server port
//	-d string   data directory for downloads
//	-l string   log level
//	-s int      history page size requested from the server
//
// # JSON schema
//
//	{
//	  "server_host": "127.0.0.1",
//	  "server_port": 9000,
//	  "data_dir": "data-client",
//	  "log_level": "info",
//	  "history_page_size": 50
//	}
package config
