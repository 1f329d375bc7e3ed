package config

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/kelseyhightower/envconfig"

	"github.com/brojonat/bountypay/bounty"
	"github.com/brojonat/bountypay/chain"
	"github.com/brojonat/bountypay/store"
)

// Config is the service configuration shared by the server and the worker.
type Config struct {
	Env                 string        `envconfig:"ENV" default:"dev"`
	LogLevelName        string        `envconfig:"LOG_LEVEL" default:"info"`
	DatabaseURL         string        `envconfig:"DATABASE_URL"`
	DBMaxRetries        int           `envconfig:"DB_MAX_RETRIES" default:"5"`
	DBRetryInterval     time.Duration `envconfig:"DB_RETRY_INTERVAL" default:"5s"`
	NetworksFile        string        `envconfig:"NETWORKS_FILE" default:"networks.yaml"`
	SignerPrivateKey    string        `envconfig:"SIGNER_PRIVATE_KEY"`
	GitHubToken         string        `envconfig:"GITHUB_TOKEN"`
	GitHubWebhookSecret string        `envconfig:"GITHUB_WEBHOOK_SECRET"`
	SecretKey           string        `envconfig:"BOUNTYPAY_SECRET_KEY"`
	TaskQueue           string        `envconfig:"TASK_QUEUE" default:"bountypay"`
	ReconcileInterval   time.Duration `envconfig:"RECONCILE_INTERVAL" default:"1h"`
	CORSOrigins         []string      `envconfig:"CORS_ORIGINS"`
	CORSMethods         []string      `envconfig:"CORS_METHODS" default:"GET,POST,PUT,OPTIONS"`
	CORSHeaders         []string      `envconfig:"CORS_HEADERS" default:"Authorization,Content-Type,X-Requested-With"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	for _, s := range [][]string{c.CORSOrigins, c.CORSMethods, c.CORSHeaders} {
		for i := range s {
			s[i] = strings.TrimSpace(s[i])
		}
	}
	return &c, nil
}

// Dev reports whether the service runs in the dev environment, where an
// in-memory ledger stands in for Postgres.
func (c *Config) Dev() bool {
	return c.Env == "" || c.Env == "dev"
}

// LogLevel parses LOG_LEVEL, falling back to info.
func (c *Config) LogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevelName)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// SignerKey parses the hex encoded resolver key.
func (c *Config) SignerKey() (*ecdsa.PrivateKey, error) {
	if c.SignerPrivateKey == "" {
		return nil, fmt.Errorf("SIGNER_PRIVATE_KEY not set")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(c.SignerPrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid SIGNER_PRIVATE_KEY: %w", err)
	}
	return key, nil
}

// OpenLedger connects to Postgres when DATABASE_URL is set. In dev an
// in-memory ledger is used otherwise. The returned func releases the ledger.
func (c *Config) OpenLedger(ctx context.Context, logger *slog.Logger) (bounty.Ledger, func() error, error) {
	if c.DatabaseURL == "" {
		if !c.Dev() {
			return nil, nil, fmt.Errorf("DATABASE_URL not set")
		}
		logger.Warn("DATABASE_URL not set, using in-memory ledger")
		return store.NewMemory(), func() error { return nil }, nil
	}
	db, err := store.Open(ctx, c.DatabaseURL, logger, c.DBMaxRetries, c.DBRetryInterval)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Database connection established")
	return store.NewPostgres(db), db.Close, nil
}

// Networks loads the network registry and builds the token table from the
// network tokens plus any extra tokens listed in the file.
func (c *Config) Networks() (*chain.Registry, *chain.TokenTable, error) {
	reg, extra, err := chain.LoadRegistry(c.NetworksFile)
	if err != nil {
		return nil, nil, err
	}
	return reg, chain.NewTokenTable(append(reg.Tokens(), extra...)...), nil
}
