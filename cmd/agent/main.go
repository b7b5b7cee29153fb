package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"

	"golang.org/x/term"

	"github.com/dmitrijs2005/clipsync/internal/client"
	"github.com/dmitrijs2005/clipsync/internal/client/config"
	"github.com/dmitrijs2005/clipsync/internal/client/ipc"
	"github.com/dmitrijs2005/clipsync/internal/cryptox"
)

func main() {

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}

	for _, arg := range os.Args[1:] {
		if arg == "-setkey" {
			if err := setKey(cfg); err != nil {
				log.Printf("%v", err)
				os.Exit(1)
			}
			return
		}
	}

	app, err := client.NewApp(cfg)
	if errors.Is(err, ipc.ErrAlreadyRunning) {
		// the running instance got the open-gui handoff
		return
	}
	if err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}

	if err := app.Run(context.Background()); err != nil {
		log.Printf("%v", err)
		os.Exit(1)
	}
}

// setKey derives the end-to-end encryption key from a passphrase typed at
// the terminal and stores it in settings.json. An empty passphrase turns
// encryption off.
func setKey(cfg *config.Config) error {
	fmt.Fprint(os.Stderr, "Passphrase (empty to disable encryption): ")
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("read passphrase: %w", err)
	}

	if len(pass) == 0 {
		cfg.Settings.Encrypt = ""
		fmt.Fprintln(os.Stderr, "encryption disabled")
		return cfg.SaveSettings()
	}

	// the username salts the derivation so two accounts with the same
	// passphrase end up with different keys
	salt := []byte("clipsync")
	if cfg.Settings.Sync != nil {
		salt = []byte(cfg.Settings.Sync.Username)
	}

	key := cryptox.DeriveKey(pass, salt)
	cfg.Settings.Encrypt = hex.EncodeToString(key)
	fmt.Fprintln(os.Stderr, "encryption key updated; other devices must use the same passphrase")
	return cfg.SaveSettings()
}
