package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := DefaultConfig()

	root := &cobra.Command{
		Use:   "cage-keeper",
		Short: "Facilitates an emergency shutdown of a multi-collateral stablecoin system",
		Long: `cage-keeper watches the shutdown coordinator. Once shutdown has been
triggered it cages every collateral class, closes open auctions, skims
underwater positions, and after the cooldown thaws the system and computes
the redemption ratios.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runKeeper(cmd.Context(), cfg)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfg.RPCURL, "rpc-url", cfg.RPCURL, "JSON-RPC endpoint of the node")
	pf.DurationVar(&cfg.RPCTimeout, "rpc-timeout", cfg.RPCTimeout, "timeout of a single JSON-RPC request")
	pf.StringVar(&cfg.DeploymentFile, "dss-deployment-file", cfg.DeploymentFile, "JSON file mapping contract names to addresses")
	pf.Uint64Var(&cfg.VatDeploymentBlock, "vat-deployment-block", cfg.VatDeploymentBlock, "block the Vat was deployed at; position discovery starts here")
	pf.StringVar(&cfg.IndexDSN, "index-dsn", cfg.IndexDSN, "Postgres DSN of the urn index; empty replays Vat logs instead")
	pf.StringVar(&cfg.NATSURL, "nats-url", cfg.NATSURL, "NATS server for the audit stream; empty keeps the audit trail in process")
	pf.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "listen address of /metrics")
	pf.BoolVar(&cfg.Debug, "debug", cfg.Debug, "log at debug level")

	f := root.Flags()
	f.StringVar(&cfg.EthFrom, "eth-from", cfg.EthFrom, "address the keeper transacts from")
	f.StringVar(&cfg.EthKey, "eth-key", cfg.EthKey, "keystore of --eth-from as key_file=...,pass_file=...")
	f.StringVar(&cfg.GasPrice, "gas-price", cfg.GasPrice, "fixed gas price in gwei; empty uses node-suggested fees")
	f.BoolVar(&cfg.PreviouslyFacilitated, "previously-facilitated", cfg.PreviouslyFacilitated, "the processing period was already facilitated by an earlier run")
	f.BoolVar(&cfg.StayAlive, "stay-alive", cfg.StayAlive, "keep running after the shutdown is complete")
	f.BoolVar(&cfg.FlowAllIlks, "flow-all-ilks", cfg.FlowAllIlks, "compute redemption ratios for every configured class, not only those with debt")
	f.BoolVar(&cfg.BurnESMGem, "burn-esm-gem", cfg.BurnESMGem, "burn the governance tokens held by the emergency shutdown module when done")
	f.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "how often to poll for a new block")
	f.IntVar(&cfg.ReconcileRounds, "reconcile-rounds", cfg.ReconcileRounds, "reconciliation passes before thaw")
	f.IntVar(&cfg.ReconcileEvery, "reconcile-every", cfg.ReconcileEvery, "skims between reconciliation passes while surplus remains")
	f.Uint64Var(&cfg.IndexMaxLag, "index-max-lag", cfg.IndexMaxLag, "blocks the urn index may trail the head; the gap is replayed from Vat logs")
	f.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "listen address of the gRPC health service")
	f.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "listen address of the HTTP status endpoints")
	f.IntVar(&cfg.AuditBuffer, "audit-buffer", cfg.AuditBuffer, "audit envelopes buffered for the publisher before dropping")

	root.AddCommand(
		newMigrateCommand(&cfg),
		newIndexCommand(&cfg),
		newAuditCommand(&cfg),
	)
	return root
}
