package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"CageKeeper/internal/chain"
	"CageKeeper/internal/core"
	"CageKeeper/internal/dss"
	"CageKeeper/internal/event"
	"CageKeeper/internal/ingestion"
	fpmath "CageKeeper/internal/math"
	"CageKeeper/internal/observability"
	"CageKeeper/internal/persistence"
	"CageKeeper/internal/server"
	"CageKeeper/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// loggers hands out one logger per component at a shared level.
type loggers zerolog.Level

func newLoggers(debug bool) loggers {
	level := observability.ParseLogLevel(envOrDefault("KEEPER_LOG_LEVEL", "info"))
	if debug {
		level = zerolog.DebugLevel
	}
	return loggers(level)
}

func (l loggers) For(component string) zerolog.Logger {
	return observability.NewLoggerWithLevel(component, zerolog.Level(l))
}

func runKeeper(ctx context.Context, cfg Config) error {
	logs := newLoggers(cfg.Debug)
	logger := logs.For("main")

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	health := observability.NewHealthChecker()

	// --- Deployment and credentials ---
	dep, err := dss.LoadDeployment(cfg.DeploymentFile)
	if err != nil {
		return err
	}
	spec, err := chain.ParseKeySpec(cfg.EthKey)
	if err != nil {
		return err
	}
	from := common.HexToAddress(cfg.EthFrom)
	key, err := chain.LoadKey(spec, from)
	if err != nil {
		return err
	}

	// --- Chain ---
	client, err := chain.Dial(ctx, cfg.RPCURL, cfg.RPCTimeout, logs.For("rpc"), metrics)
	if err != nil {
		return err
	}
	defer client.Close()

	gas, err := gasStrategy(cfg, client)
	if err != nil {
		return err
	}
	transactor := chain.NewTransactor(client, gas, key, logs.For("transactor"), metrics)

	p := buildProtocol(dep, client, transactor)

	// --- Position source ---
	if cfg.IndexDSN != "" {
		db, err := persistence.Open(ctx, cfg.IndexDSN)
		if err != nil {
			return err
		}
		index := persistence.NewUrnIndex(db, dep.Vat, client, p.Vat, logs.For("index"))
		index.SetMaxLag(cfg.IndexMaxLag)
		defer index.Close()
		p.Positions, p.Discoverer = index, index
		logger.Info().Msg("positions from urn index")
	} else {
		history := dss.NewUrnHistory(client, dep.Vat, p.Vat, cfg.VatDeploymentBlock, logs.For("scanner"))
		p.Positions, p.Discoverer = history, history
		logger.Info().Uint64("from_block", cfg.VatDeploymentBlock).Msg("positions from Vat log replay")
	}

	// --- Audit trail ---
	memory := &event.Memory{}
	recorders := event.Fanout{memory}
	var publisher *ingestion.AuditPublisher
	if cfg.NATSURL != "" {
		nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, logs.For("audit"))
		if err != nil {
			return err
		}
		defer nc.Drain()
		if err := ingestion.EnsureAuditStream(ctx, js); err != nil {
			return err
		}
		publisher = ingestion.NewAuditPublisher(js, cfg.AuditBuffer, logs.For("audit"), metrics)
		recorders = append(recorders, publisher)
	}

	episode := uuid.New()
	keeper := core.NewKeeper(p, cfg.Keeper(), event.NewBuilder(episode, recorders), logs.For("keeper"), metrics)
	runner := core.NewRunner(keeper, state.NewFacilitationState(cfg.PreviouslyFacilitated), core.RunnerOptions{
		Episode:   episode,
		StayAlive: cfg.StayAlive,
		Logger:    logs.For("runner"),
		Metrics:   metrics,
		Health:    health,
	})

	srv := server.New(cfg.GRPCAddr, cfg.HTTPAddr, server.Deps{
		Status:  runner,
		Events:  memory,
		Health:  health,
		Metrics: metrics,
		Logger:  logs.For("server"),
	})
	runner.Subscribe(srv.Observe)

	if err := checkDeployment(ctx, client, transactor.From(), dep, logger); err != nil {
		return err
	}
	health.SetReady(true)
	logger.Info().
		Str("episode", episode.String()).
		Str("from", from.Hex()).
		Bool("previously_facilitated", cfg.PreviouslyFacilitated).
		Strs("ilks", dep.Ilks()).
		Msg("keeper started")

	// --- Run ---
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return srv.StartGRPC(gctx) })
	g.Go(func() error { return srv.StartHTTPGateway(gctx) })
	g.Go(func() error { return serveMetrics(gctx, cfg.MetricsAddr, logger) })
	if publisher != nil {
		g.Go(func() error { return publisher.Run(gctx) })
	}
	g.Go(func() error {
		// The keeper is done once the watcher stops; take everything else down with it
		defer cancel()
		watcher := chain.NewBlockWatcher(client, cfg.PollInterval, logs.For("watcher"), metrics)
		return watcher.Run(gctx, runner.OnBlock)
	})

	err = g.Wait()
	st := runner.Status()
	logger.Info().
		Str("phase", st.Phase).
		Uint64("last_block", st.LastBlock).
		Msg("keeper stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func gasStrategy(cfg Config, client *chain.Client) (chain.GasStrategy, error) {
	if cfg.GasPrice == "" {
		return chain.NewNodeGasPrice(client), nil
	}
	gwei, err := cfg.FixedGasPrice()
	if err != nil {
		return nil, err
	}
	fixed, err := chain.FixedGasPriceGwei(gwei)
	if err != nil {
		return nil, err
	}
	return fixed, nil
}

// buildProtocol binds every contract of the deployment. Collateral classes
// keep descriptor order.
func buildProtocol(dep *dss.Deployment, reader chain.Reader, sender chain.Sender) core.Protocol {
	p := core.Protocol{
		End:     dss.NewEnd(dep.End, reader, sender),
		Vat:     dss.NewVat(dep.Vat, dep.Spotter, reader),
		Vow:     dss.NewVow(dep.Vow, reader, sender),
		Flapper: dss.NewFlapper(dep.Flapper, reader, sender),
		Flopper: dss.NewFlopper(dep.Flopper, reader, sender),
	}
	if dep.ESM != (common.Address{}) {
		p.ESM = dss.NewESM(dep.ESM, reader, sender)
	}
	for _, c := range dep.Collaterals {
		var house core.AuctionHouse
		switch c.Variant {
		case state.VariantClip:
			house = dss.NewClipper(c.Ilk, c.Address, reader)
		default:
			house = dss.NewFlipper(c.Ilk, c.Address, reader)
		}
		p.Collaterals = append(p.Collaterals, core.Collateral{Ilk: c.Ilk, House: house})
	}
	return p
}

// checkDeployment logs the keeper's balance and the core contracts. A zero
// balance is only a warning: reads still work and the operator may fund the
// account before shutdown.
func checkDeployment(ctx context.Context, client *chain.Client, from common.Address, dep *dss.Deployment, logger zerolog.Logger) error {
	balance, err := client.BalanceAt(ctx, from, nil)
	if err != nil {
		return fmt.Errorf("read keeper balance: %w", err)
	}
	eth := fpmath.Decimal(balance, fpmath.WadDecimals)
	if balance.Cmp(big.NewInt(0)) == 0 {
		logger.Warn().Str("address", from.Hex()).Msg("keeper account has no ETH for gas")
	}
	logger.Info().
		Str("address", from.Hex()).
		Str("balance_eth", eth.String()).
		Str("vat", dep.Vat.Hex()).
		Str("vow", dep.Vow.Hex()).
		Str("flapper", dep.Flapper.Hex()).
		Str("flopper", dep.Flopper.Hex()).
		Str("end", dep.End.Hex()).
		Str("esm", dep.ESM.Hex()).
		Int("collateral_classes", len(dep.Collaterals)).
		Msg("deployment check")

	if dep.ESM == (common.Address{}) {
		return nil
	}
	esm, err := dss.NewESM(dep.ESM, client, nil).State(ctx)
	if err != nil {
		logger.Warn().Err(err).Str("esm", dep.ESM.Hex()).Msg("emergency shutdown module unreadable")
		return nil
	}
	logger.Info().
		Str("sum", esm.Sum.String()).
		Str("min", esm.Min.String()).
		Bool("fired", esm.Fired).
		Msg("emergency shutdown module")
	return nil
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics listening")
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
