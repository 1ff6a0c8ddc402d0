package config

import (
	"flag"
	"os"

	"oltchat/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   bind host (e.g., "0.0.0.0")
//	-p int      listen port
//	-d string   SQLite database path
//	-f string   data directory for file storage
//	-l string   log level
//	-m int      maximum simultaneous clients
//	-s int      history page size
//	-k int      file chunk size in bytes
//	-e string   metrics listen address (empty disables)
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-p", "-d", "-f", "-l", "-m", "-s", "-k", "-e"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.BindHost, "a", config.BindHost, "bind host")
	fs.IntVar(&config.Port, "p", config.Port, "listen port")
	fs.StringVar(&config.DBPath, "d", config.DBPath, "database path")
	fs.StringVar(&config.DataDir, "f", config.DataDir, "data directory")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.IntVar(&config.MaxClients, "m", config.MaxClients, "max clients")
	fs.IntVar(&config.HistoryPageSize, "s", config.HistoryPageSize, "history page size")
	chunkSize := fs.Int("k", int(config.FileChunkSize), "file chunk size (bytes)")
	fs.StringVar(&config.MetricsAddr, "e", config.MetricsAddr, "metrics listen address")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.FileChunkSize = int64(*chunkSize)
}
