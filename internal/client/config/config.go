// Package config loads the agent's runtime settings: flags pick the data
// directory and server, settings.json carries the per-user preferences that
// the GUI can update at runtime.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/clipsync/internal/filex"
	"github.com/dmitrijs2005/clipsync/internal/protocol"
)

// Settings is the persisted part of the configuration, stored at
// <data>/settings.json and editable from the GUI.
type Settings struct {
	// Sync holds the device credential; nil means sync is not configured
	// and the agent runs purely locally.
	Sync *protocol.UserCred `json:"sync,omitempty"`

	// StoreImage controls whether image captures are persisted at all.
	StoreImage bool `json:"store_image"`

	// Encrypt is the hex-encoded AES-256 key; empty disables end-to-end
	// encryption.
	Encrypt string `json:"encrypt,omitempty"`

	// MaxClipboard bounds the number of unpinned records kept locally.
	MaxClipboard int `json:"max_clipboard"`
}

// Config holds everything the agent needs at startup.
type Config struct {
	DataDir   string
	ServerURL string
	Settings  Settings
}

// Derived layout paths.

func (c *Config) RecordDir() string   { return filepath.Join(c.DataDir, "data") }
func (c *Config) ImageDir() string    { return filepath.Join(c.DataDir, "image") }
func (c *Config) PendingPath() string { return filepath.Join(c.DataDir, "pending") }
func (c *Config) SettingsPath() string { return filepath.Join(c.DataDir, "settings.json") }
func (c *Config) EchoFlagPath() string { return filepath.Join(c.DataDir, "OK") }
func (c *Config) SocketPath() string   { return filepath.Join(c.DataDir, ".LOCK") }

func (c *Config) LoadDefaults() {
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}
	c.DataDir = filepath.Join(base, "clipsync")
	c.ServerURL = "http://127.0.0.1:8383"
	c.Settings = Settings{StoreImage: true, MaxClipboard: 25}
}

// LoadConfig builds the configuration: defaults, then flags (which decide
// where the data directory is), then settings.json from that directory.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseFlags(cfg)

	if _, err := filex.EnsureDir(cfg.DataDir); err != nil {
		return nil, err
	}

	if err := cfg.loadSettings(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadSettings() error {
	data, err := os.ReadFile(c.SettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read settings: %w", err)
	}

	if err := json.Unmarshal(data, &c.Settings); err != nil {
		return fmt.Errorf("parse settings: %w", err)
	}
	if c.Settings.MaxClipboard <= 0 {
		c.Settings.MaxClipboard = 25
	}
	return nil
}

// SaveSettings persists the current settings atomically.
func (c *Config) SaveSettings() error {
	data, err := json.MarshalIndent(c.Settings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	return filex.WriteAtomic(c.SettingsPath(), data, 0o660)
}
