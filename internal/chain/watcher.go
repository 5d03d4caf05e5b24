package chain

import (
	"context"
	"errors"
	"math/big"
	"time"

	"CageKeeper/internal/observability"
	"CageKeeper/internal/state"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
)

// ErrStop is returned by a BlockHandler to end the watch loop cleanly.
var ErrStop = errors.New("stop watching")

// BlockHandler processes one new block. It runs synchronously; the next poll
// does not start until it returns.
type BlockHandler func(ctx context.Context, block state.Block) error

// HeaderSource is the subset of Reader the watcher needs.
type HeaderSource interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// BlockWatcher polls the chain head and hands every new block number to a
// handler exactly once.
type BlockWatcher struct {
	src      HeaderSource
	interval time.Duration
	logger   zerolog.Logger
	metrics  *observability.Metrics

	last    uint64
	started bool
}

func NewBlockWatcher(src HeaderSource, interval time.Duration, logger zerolog.Logger, metrics *observability.Metrics) *BlockWatcher {
	return &BlockWatcher{
		src:      src,
		interval: interval,
		logger:   logger,
		metrics:  metrics,
	}
}

// Run polls until ctx is cancelled or the handler returns ErrStop.
// Handlers get a context detached from ctx so an interrupt lets the current
// block finish.
func (w *BlockWatcher) Run(ctx context.Context, handle BlockHandler) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		stop, err := w.poll(ctx, handle)
		if stop {
			return err
		}

		select {
		case <-ctx.Done():
			w.logger.Info().Uint64("last_block", w.last).Msg("block watcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (w *BlockWatcher) poll(ctx context.Context, handle BlockHandler) (bool, error) {
	header, err := w.src.HeaderByNumber(ctx, nil)
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		w.logger.Warn().Err(err).Msg("failed to fetch chain head")
		return false, nil
	}
	if header == nil || header.Number == nil {
		return false, nil
	}

	number := header.Number.Uint64()
	if w.started && number <= w.last {
		return false, nil
	}
	w.started = true
	w.last = number

	block := state.Block{
		Number:    number,
		Timestamp: time.Unix(int64(header.Time), 0).UTC(),
	}

	start := time.Now()
	err = handle(context.WithoutCancel(ctx), block)
	if w.metrics != nil {
		w.metrics.Ticks.Inc()
		w.metrics.TickDuration.Observe(time.Since(start).Seconds())
		w.metrics.LastBlock.Set(float64(number))
	}

	switch {
	case errors.Is(err, ErrStop):
		w.logger.Info().Uint64("block", number).Msg("handler requested stop")
		return true, nil
	case err != nil:
		if w.metrics != nil {
			w.metrics.TickErrors.WithLabelValues(state.ErrorKind(err)).Inc()
		}
		w.logger.Error().Err(err).Uint64("block", number).Msg("block handler failed")
	}
	return false, nil
}
