package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/clipsync/internal/flagx"
)

func parseFlags(cfg *Config) {
	allowed := []string{"-d", "-s"}
	args := flagx.FilterArgs(os.Args[1:], allowed)

	fs := flag.NewFlagSet("agent", flag.ContinueOnError)
	dataDir := fs.String("d", "", "data directory")
	server := fs.String("s", "", "server base URL")
	_ = fs.Parse(args)

	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *server != "" {
		cfg.ServerURL = *server
	}
}
