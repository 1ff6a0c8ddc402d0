package config

import (
	"flag"
	"os"

	"oltchat/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   server host
//	-p int      server port
//	-d string   data directory for downloads
//	-l string   log level
//	-s int      history page size
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-p", "-d", "-l", "-s"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerHost, "a", cfg.ServerHost, "server host")
	fs.IntVar(&cfg.ServerPort, "p", cfg.ServerPort, "server port")
	fs.StringVar(&cfg.DataDir, "d", cfg.DataDir, "data directory")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	fs.IntVar(&cfg.HistoryPageSize, "s", cfg.HistoryPageSize, "history page size")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
