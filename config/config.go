// Package config loads the relay's deployment record and environment
// settings.
//
// The deployment record (contracts.json) is produced once at contract
// deployment time and shared verbatim with web clients, which need it to
// derive scopes and addresses locally. Environment settings cover
// everything operational: listen addresses, the node endpoint, the relayer
// key, storage, and notification channels.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/tomosaigon/disphorea/board"
)

// Contracts is the deployment record. Served unmodified on
// GET /contracts.json.
type Contracts struct {
	ChainID     int64  `json:"chainId"`
	Semaphore   string `json:"semaphore"`
	NFT         string `json:"nft"`
	Feedback    string `json:"feedback"`
	GroupID     uint64 `json:"groupId"`
	BoardSalt   string `json:"boardSalt"`
	EpochLength int64  `json:"epochLength"`
}

// Validate checks the record is complete enough to run a relay against.
func (c *Contracts) Validate() error {
	if c.ChainID <= 0 {
		return errors.New("contracts: chainId must be positive")
	}
	if c.Feedback == "" {
		return errors.New("contracts: feedback contract address is required")
	}
	if c.NFT == "" {
		return errors.New("contracts: nft contract address is required")
	}
	if c.EpochLength <= 0 {
		return errors.New("contracts: epochLength must be positive")
	}
	if _, err := board.ParseSalt(c.BoardSalt); err != nil {
		return fmt.Errorf("contracts: %w", err)
	}
	return nil
}

// EpochDuration returns the epoch length as a duration.
func (c *Contracts) EpochDuration() time.Duration {
	return time.Duration(c.EpochLength) * time.Second
}

// LoadContracts reads and validates a contracts.json file.
func LoadContracts(path string) (*Contracts, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var c Contracts
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Env holds operational settings, read from RELAY_-prefixed environment
// variables. Flags override these in cmd/relay.
type Env struct {
	ListenAddr  string `envconfig:"LISTEN_ADDR" default:":4000"`
	MetricsAddr string `envconfig:"METRICS_ADDR"`
	EnablePprof bool   `envconfig:"ENABLE_PPROF"`

	RPCURL            string `envconfig:"RPC_URL"`
	RelayerPrivateKey string `envconfig:"RELAYER_PRIVATE_KEY"`
	ContractsFile     string `envconfig:"CONTRACTS_FILE" default:"config/contracts.json"`

	BoardID      string        `envconfig:"BOARD_ID" default:"default"`
	ChallengeTTL time.Duration `envconfig:"CHALLENGE_TTL" default:"5m"`

	// DBDriver selects the post store: "postgres", "sqlite", or "memory".
	DBDriver string `envconfig:"DB_DRIVER" default:"sqlite"`
	// SQLitePath is the database file for the sqlite driver.
	SQLitePath string `envconfig:"SQLITE_PATH" default:"disphorea.db"`

	PostgresHost     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	PostgresPort     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	PostgresUser     string `envconfig:"POSTGRES_USER" default:"disphorea"`
	PostgresPassword string `envconfig:"POSTGRES_PASSWORD"`
	PostgresDatabase string `envconfig:"POSTGRES_DB" default:"disphorea"`
	PostgresSSLMode  string `envconfig:"POSTGRES_SSLMODE"`

	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	DrainDuration            time.Duration `envconfig:"DRAIN_DURATION" default:"5s"`
	GracefulShutdownDuration time.Duration `envconfig:"GRACEFUL_SHUTDOWN_DURATION" default:"10s"`
}

// LoadEnv reads the environment.
func LoadEnv() (*Env, error) {
	var e Env
	if err := envconfig.Process("relay", &e); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	return &e, nil
}
