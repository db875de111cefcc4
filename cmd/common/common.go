// Package common provides shared helpers for the relay's command-line
// entrypoints: relayer key loading, store selection, and notifier wiring.
package common

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/tomosaigon/disphorea/config"
	"github.com/tomosaigon/disphorea/notify"
	"github.com/tomosaigon/disphorea/store"
)

// LoadRelayerKey parses the relayer's secp256k1 private key from hex, with
// or without a 0x prefix. The key never comes from request payloads.
func LoadRelayerKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if hexKey == "" {
		return nil, errors.New("relayer private key is required")
	}
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid relayer key: %w", err)
	}
	return key, nil
}

// OpenStore selects and opens the post store named by the environment.
func OpenStore(env *config.Env) (store.Store, error) {
	switch env.DBDriver {
	case "postgres":
		return store.NewPostgresStore(&store.PostgresConfig{
			Host:     env.PostgresHost,
			Port:     env.PostgresPort,
			User:     env.PostgresUser,
			Password: env.PostgresPassword,
			Database: env.PostgresDatabase,
			SSLMode:  env.PostgresSSLMode,
		})
	case "sqlite":
		return store.NewSQLiteStore(env.SQLitePath)
	case "memory":
		return store.NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown db driver %q (want postgres, sqlite, or memory)", env.DBDriver)
	}
}

// NewNotifier returns the Discord webhook notifier when a URL is
// configured, and a no-op otherwise.
func NewNotifier(webhookURL string) notify.Notifier {
	if webhookURL == "" {
		return notify.Nop{}
	}
	return notify.NewDiscordWebhook(webhookURL)
}
