package config

import "time"

// Config holds runtime settings for the fan-out server.
//
// Fields:
//   - EndpointAddr: host:port the HTTP/WebSocket server binds.
//   - DatabaseDSN: Postgres DSN for accounts; empty selects the in-memory
//     repository (development only, credentials vanish on restart).
//   - DBDir: root directory of the per-user record database.
//   - SecretKey: HMAC secret for bearer tokens.
//   - TokenTTL: bearer token validity.
type Config struct {
	EndpointAddr string
	DatabaseDSN  string
	DBDir        string
	SecretKey    string
	TokenTTL     time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.EndpointAddr = ":8383"
	c.DBDir = "./db"
	c.TokenTTL = 15 * time.Minute
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if present) and command-line flags (if present). Later sources
// take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
