package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"CageKeeper/internal/chain"
	"CageKeeper/internal/dss"
	"CageKeeper/internal/event"
	"CageKeeper/internal/ingestion"
	"CageKeeper/internal/observability"
	"CageKeeper/internal/persistence"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func newMigrateCommand(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the urn index schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withIndexDB(cmd.Context(), cfg, func(db *sql.DB) error {
					return persistence.NewMigrator(db, newLoggers(cfg.Debug).For("migrate")).Up(cmd.Context())
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last applied migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withIndexDB(cmd.Context(), cfg, func(db *sql.DB) error {
					return persistence.NewMigrator(db, newLoggers(cfg.Debug).For("migrate")).Down(cmd.Context())
				})
			},
		},
	)
	return cmd
}

func newIndexCommand(cfg *Config) *cobra.Command {
	var (
		follow    bool
		chunkSize uint64
		interval  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Backfill the urn index from Vat logs",
		Long: `index replays the Vat's position notes from --vat-deployment-block into
the Postgres urn index and records progress, so an interrupted backfill resumes
where it stopped. With --follow it keeps polling for new blocks.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logs := newLoggers(cfg.Debug)
			logger := logs.For("index")
			metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

			dep, err := dss.LoadDeployment(cfg.DeploymentFile)
			if err != nil {
				return err
			}
			client, err := chain.Dial(ctx, cfg.RPCURL, cfg.RPCTimeout, logs.For("rpc"), metrics)
			if err != nil {
				return err
			}
			defer client.Close()

			return withIndexDB(ctx, cfg, func(db *sql.DB) error {
				if err := persistence.NewMigrator(db, logs.For("migrate")).Up(ctx); err != nil {
					return err
				}

				indexer := persistence.NewIndexer(client, dep.Vat, persistence.NewIndexWriter(db), cfg.VatDeploymentBlock, logger, metrics)
				indexer.SetChunkSize(chunkSize)
				indexer.SetInterval(interval)

				if follow {
					go func() {
						if err := serveMetrics(ctx, cfg.MetricsAddr, logger); err != nil {
							logger.Error().Err(err).Msg("metrics server stopped")
						}
					}()
					return indexer.Run(ctx)
				}

				last, err := indexer.CatchUp(ctx)
				if err != nil {
					return err
				}
				logger.Info().Str("vat", dep.Vat.Hex()).Uint64("through_block", last).Msg("urn index up to date")
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&follow, "follow", false, "keep indexing new blocks until interrupted")
	cmd.Flags().Uint64Var(&chunkSize, "chunk-size", 10000, "blocks per log query")
	cmd.Flags().DurationVar(&interval, "interval", 15*time.Second, "poll interval with --follow")
	return cmd
}

func newAuditCommand(cfg *Config) *cobra.Command {
	var (
		kind  string
		since time.Duration
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print the keeper's audit stream as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.NATSURL == "" {
				return errors.New("audit requires --nats-url")
			}
			ctx := cmd.Context()
			logger := newLoggers(cfg.Debug).For("audit")

			nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, logger)
			if err != nil {
				return err
			}
			defer nc.Close()

			opts := ingestion.TailOptions{Kind: kind}
			if since > 0 {
				opts.Since = time.Now().Add(-since)
			}

			out := json.NewEncoder(cmd.OutOrStdout())
			lines := make(chan event.Envelope, 64)
			tail := ingestion.NewAuditTail(js, logger)
			if err := tail.Start(ctx, opts, func(env event.Envelope) {
				select {
				case lines <- env:
				case <-ctx.Done():
				}
			}); err != nil {
				return err
			}
			defer tail.Stop()

			for {
				select {
				case <-ctx.Done():
					return nil
				case env := <-lines:
					if err := out.Encode(env); err != nil {
						return fmt.Errorf("write envelope: %w", err)
					}
				}
			}
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "only envelopes of this kind, e.g. cage or thaw")
	cmd.Flags().DurationVar(&since, "since", 0, "replay from this long ago; zero replays the whole stream")
	return cmd
}

func withIndexDB(ctx context.Context, cfg *Config, fn func(db *sql.DB) error) error {
	if cfg.IndexDSN == "" {
		return errors.New("--index-dsn is required")
	}
	db, err := persistence.Open(ctx, cfg.IndexDSN)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}
