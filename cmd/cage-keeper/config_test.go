package main

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.EthFrom = "0x00000000000000000000000000000000000000aa"
	cfg.EthKey = "key_file=/keys/keeper.json,pass_file=/keys/keeper.pass"
	cfg.DeploymentFile = "/deploy/addresses.json"
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing from", func(c *Config) { c.EthFrom = "" }, "--eth-from is required"},
		{"bad from", func(c *Config) { c.EthFrom = "keeper" }, "is not an address"},
		{"missing key", func(c *Config) { c.EthKey = "" }, "--eth-key is required"},
		{"missing deployment", func(c *Config) { c.DeploymentFile = "" }, "--dss-deployment-file is required"},
		{"bad gas price", func(c *Config) { c.GasPrice = "fast" }, "positive gwei amount"},
		{"negative gas price", func(c *Config) { c.GasPrice = "-3" }, "positive gwei amount"},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }, "--poll-interval must be positive"},
		{"zero reconcile rounds", func(c *Config) { c.ReconcileRounds = 0 }, "--reconcile-rounds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfig_ValidateReportsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.EthFrom = ""
	cfg.EthKey = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--eth-from")
	assert.Contains(t, err.Error(), "--eth-key")
}

func TestConfig_FixedGasPrice(t *testing.T) {
	cfg := validConfig()
	cfg.GasPrice = "12.5"

	gwei, err := cfg.FixedGasPrice()
	require.NoError(t, err)
	assert.True(t, gwei.Equal(decimal.RequireFromString("12.5")))
}

func TestConfig_Keeper(t *testing.T) {
	cfg := validConfig()
	cfg.FlowAllIlks = false
	cfg.BurnESMGem = true
	cfg.ReconcileRounds = 3
	cfg.ReconcileEvery = 7

	kc := cfg.Keeper()
	assert.Equal(t, 12, kc.Threshold)
	assert.False(t, kc.FlowAllIlks)
	assert.True(t, kc.BurnESMGem)
	assert.Equal(t, 3, kc.ReconcileRounds)
	assert.Equal(t, 7, kc.ReconcileEvery)
}

func TestDefaultConfig_ReadsEnvironment(t *testing.T) {
	t.Setenv("KEEPER_RPC_URL", "http://node:8545")
	t.Setenv("KEEPER_POLL_INTERVAL", "2s")
	t.Setenv("KEEPER_VAT_DEPLOYMENT_BLOCK", "8928152")
	t.Setenv("KEEPER_STAY_ALIVE", "true")
	t.Setenv("KEEPER_RECONCILE_ROUNDS", "not-a-number")

	cfg := DefaultConfig()
	assert.Equal(t, "http://node:8545", cfg.RPCURL)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, uint64(8928152), cfg.VatDeploymentBlock)
	assert.True(t, cfg.StayAlive)
	assert.Equal(t, 10, cfg.ReconcileRounds)
	assert.True(t, cfg.FlowAllIlks)
}

func TestRootCommand_FlagsOverrideDefaults(t *testing.T) {
	root := newRootCommand()
	require.NoError(t, root.ParseFlags([]string{"--eth-from", "0x00000000000000000000000000000000000000bb", "--stay-alive"}))

	from, err := root.Flags().GetString("eth-from")
	require.NoError(t, err)
	assert.Equal(t, "0x00000000000000000000000000000000000000bb", from)

	stay, err := root.Flags().GetBool("stay-alive")
	require.NoError(t, err)
	assert.True(t, stay)

	names := []string{}
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"migrate", "index", "audit"}, names)
}
