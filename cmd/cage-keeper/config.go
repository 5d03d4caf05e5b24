package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"CageKeeper/internal/core"
	"CageKeeper/internal/persistence"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Config holds all keeper configuration. Every flag defaults to a KEEPER_*
// environment variable.
type Config struct {
	// Chain
	RPCURL     string
	RPCTimeout time.Duration
	EthFrom    string
	EthKey     string // key_file=...,pass_file=...
	GasPrice   string // Fixed gwei; empty uses node fees

	// Deployment
	DeploymentFile     string
	VatDeploymentBlock uint64

	// Facilitation
	PreviouslyFacilitated bool
	StayAlive             bool
	FlowAllIlks           bool
	BurnESMGem            bool
	PollInterval          time.Duration
	ReconcileRounds       int
	ReconcileEvery        int

	// Infrastructure
	IndexDSN    string
	IndexMaxLag uint64
	NATSURL     string
	GRPCAddr    string
	HTTPAddr    string
	MetricsAddr string
	AuditBuffer int

	Debug bool
}

func DefaultConfig() Config {
	defaults := core.DefaultConfig()
	return Config{
		RPCURL:                envOrDefault("KEEPER_RPC_URL", "http://localhost:8545"),
		RPCTimeout:            envDurationOrDefault("KEEPER_RPC_TIMEOUT", 10*time.Second),
		EthFrom:               envOrDefault("KEEPER_ETH_FROM", ""),
		EthKey:                envOrDefault("KEEPER_ETH_KEY", ""),
		GasPrice:              envOrDefault("KEEPER_GAS_PRICE", ""),
		DeploymentFile:        envOrDefault("KEEPER_DSS_DEPLOYMENT_FILE", ""),
		VatDeploymentBlock:    uint64(envIntOrDefault("KEEPER_VAT_DEPLOYMENT_BLOCK", 0)),
		PreviouslyFacilitated: envBoolOrDefault("KEEPER_PREVIOUSLY_FACILITATED", false),
		StayAlive:             envBoolOrDefault("KEEPER_STAY_ALIVE", false),
		FlowAllIlks:           envBoolOrDefault("KEEPER_FLOW_ALL_ILKS", defaults.FlowAllIlks),
		BurnESMGem:            envBoolOrDefault("KEEPER_BURN_ESM_GEM", defaults.BurnESMGem),
		PollInterval:          envDurationOrDefault("KEEPER_POLL_INTERVAL", 5*time.Second),
		ReconcileRounds:       envIntOrDefault("KEEPER_RECONCILE_ROUNDS", defaults.ReconcileRounds),
		ReconcileEvery:        envIntOrDefault("KEEPER_RECONCILE_EVERY", defaults.ReconcileEvery),
		IndexDSN:              envOrDefault("KEEPER_INDEX_DSN", ""),
		IndexMaxLag:           uint64(envIntOrDefault("KEEPER_INDEX_MAX_LAG", persistence.DefaultMaxLag)),
		NATSURL:               envOrDefault("KEEPER_NATS_URL", ""),
		GRPCAddr:              envOrDefault("KEEPER_GRPC_ADDR", ":9090"),
		HTTPAddr:              envOrDefault("KEEPER_HTTP_ADDR", ":8080"),
		MetricsAddr:           envOrDefault("KEEPER_METRICS_ADDR", ":9091"),
		AuditBuffer:           envIntOrDefault("KEEPER_AUDIT_BUFFER", 1024),
		Debug:                 envBoolOrDefault("KEEPER_DEBUG", false),
	}
}

// Validate checks the settings the keeper cannot start without.
func (c Config) Validate() error {
	var errs []error
	if c.EthFrom == "" {
		errs = append(errs, errors.New("--eth-from is required"))
	} else if !common.IsHexAddress(c.EthFrom) {
		errs = append(errs, fmt.Errorf("--eth-from %q is not an address", c.EthFrom))
	}
	if c.EthKey == "" {
		errs = append(errs, errors.New("--eth-key is required"))
	}
	if c.DeploymentFile == "" {
		errs = append(errs, errors.New("--dss-deployment-file is required"))
	}
	if c.GasPrice != "" {
		if _, err := c.FixedGasPrice(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("--poll-interval must be positive"))
	}
	if c.ReconcileRounds <= 0 || c.ReconcileEvery <= 0 {
		errs = append(errs, errors.New("--reconcile-rounds and --reconcile-every must be positive"))
	}
	return errors.Join(errs...)
}

// FixedGasPrice parses --gas-price.
func (c Config) FixedGasPrice() (decimal.Decimal, error) {
	gwei, err := decimal.NewFromString(c.GasPrice)
	if err != nil || !gwei.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("--gas-price %q must be a positive gwei amount", c.GasPrice)
	}
	return gwei, nil
}

// Keeper returns the facilitation options.
func (c Config) Keeper() core.Config {
	cfg := core.DefaultConfig()
	cfg.FlowAllIlks = c.FlowAllIlks
	cfg.BurnESMGem = c.BurnESMGem
	cfg.ReconcileRounds = c.ReconcileRounds
	cfg.ReconcileEvery = c.ReconcileEvery
	return cfg
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envBoolOrDefault(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
