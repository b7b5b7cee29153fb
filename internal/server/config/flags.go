package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/clipsync/internal/flagx"
)

// parseFlags overlays cfg with command-line flags. Only flags that were
// actually set override earlier sources.
func parseFlags(cfg *Config) {
	allowed := []string{"-a", "-d", "-dsn", "-k"}
	args := flagx.FilterArgs(os.Args[1:], allowed)

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	addr := fs.String("a", "", "listen address")
	dbDir := fs.String("d", "", "record database directory")
	dsn := fs.String("dsn", "", "postgres dsn for accounts")
	secret := fs.String("k", "", "token secret key")
	_ = fs.Parse(args)

	if *addr != "" {
		cfg.EndpointAddr = *addr
	}
	if *dbDir != "" {
		cfg.DBDir = *dbDir
	}
	if *dsn != "" {
		cfg.DatabaseDSN = *dsn
	}
	if *secret != "" {
		cfg.SecretKey = *secret
	}
}
