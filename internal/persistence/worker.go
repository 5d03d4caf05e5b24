package persistence

import (
	"context"
	"fmt"
	"time"

	"CageKeeper/internal/dss"
	"CageKeeper/internal/observability"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// IndexSink stores index batches. *IndexWriter is the production sink.
type IndexSink interface {
	Progress(ctx context.Context, vat common.Address) (uint64, bool, error)
	WriteBatch(ctx context.Context, vat common.Address, rows []IndexRow, through uint64) error
}

// Indexer backfills the urn index from the Vat's frob and fork notes and
// then follows the chain head. Each log chunk is written together with the
// progress that covers it, so a restart resumes after the last chunk.
type Indexer struct {
	logs       dss.LogSource
	vat        common.Address
	sink       IndexSink
	fromBlock  uint64
	chunk      uint64
	interval   time.Duration
	maxBackoff time.Duration
	logger     zerolog.Logger
	metrics    *observability.Metrics
}

func NewIndexer(
	logs dss.LogSource,
	vat common.Address,
	sink IndexSink,
	fromBlock uint64,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Indexer {
	return &Indexer{
		logs:       logs,
		vat:        vat,
		sink:       sink,
		fromBlock:  fromBlock,
		chunk:      10_000,
		interval:   15 * time.Second,
		maxBackoff: 30 * time.Second,
		logger:     logger,
		metrics:    metrics,
	}
}

// SetChunkSize bounds the block range of a single log query and batch.
func (ix *Indexer) SetChunkSize(blocks uint64) {
	if blocks > 0 {
		ix.chunk = blocks
	}
}

// SetInterval sets how often Run polls for new blocks once caught up.
func (ix *Indexer) SetInterval(d time.Duration) {
	if d > 0 {
		ix.interval = d
	}
}

// SetMaxBackoff caps the delay between write retries.
func (ix *Indexer) SetMaxBackoff(d time.Duration) {
	if d > 0 {
		ix.maxBackoff = d
	}
}

// Run catches up and then polls until ctx is cancelled. Failures are logged
// and retried on the next poll.
func (ix *Indexer) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		if last, err := ix.CatchUp(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			ix.logger.Warn().Err(err).Msg("urn index catch-up failed")
		} else {
			ix.logger.Debug().Uint64("last_block", last).Msg("urn index caught up")
		}
		timer.Reset(ix.interval)
	}
}

// CatchUp indexes every block from the stored progress to the current head
// and returns the last block covered.
func (ix *Indexer) CatchUp(ctx context.Context) (uint64, error) {
	last, ok, err := ix.sink.Progress(ctx, ix.vat)
	if err != nil {
		ix.countError("progress")
		return 0, fmt.Errorf("read progress: %w", err)
	}
	from := ix.fromBlock
	if ok {
		from = last + 1
	}

	head, err := ix.logs.BlockNumber(ctx)
	if err != nil {
		ix.countError("head")
		return last, fmt.Errorf("block number: %w", err)
	}

	for start := from; start <= head; start += ix.chunk {
		end := start + ix.chunk - 1
		if end > head {
			end = head
		}
		logs, err := ix.logs.FilterLogs(ctx, dss.NoteQuery(ix.vat, start, end))
		if err != nil {
			ix.countError("logs")
			return last, fmt.Errorf("vat logs %d-%d: %w", start, end, err)
		}

		var rows []IndexRow
		for _, l := range logs {
			ilk, owners, ok := dss.NoteParticipants(l)
			if !ok {
				continue
			}
			for _, owner := range owners {
				rows = append(rows, IndexRow{Ilk: ilk, Urn: owner, Block: l.BlockNumber})
			}
		}

		if err := ix.writeWithRetry(ctx, rows, end); err != nil {
			return last, err
		}
		last = end
		ix.logger.Info().
			Uint64("from", start).
			Uint64("to", end).
			Int("rows", len(rows)).
			Msg("urn index chunk written")
	}
	return last, nil
}

// writeWithRetry retries a batch with exponential backoff until it is
// written or ctx is cancelled.
func (ix *Indexer) writeWithRetry(ctx context.Context, rows []IndexRow, through uint64) error {
	backoff := 100 * time.Millisecond

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			ix.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("rows", len(rows)).
				Msg("urn index write retry")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > ix.maxBackoff {
				backoff = ix.maxBackoff
			}
		}

		start := time.Now()
		err := ix.sink.WriteBatch(ctx, ix.vat, rows, through)
		if err == nil {
			if ix.metrics != nil {
				ix.metrics.IndexBatchDur.Observe(time.Since(start).Seconds())
				ix.metrics.IndexRowsWritten.Add(float64(len(rows)))
				ix.metrics.IndexLastBlock.Set(float64(through))
			}
			return nil
		}
		ix.countError("write")
	}
}

func (ix *Indexer) countError(stage string) {
	if ix.metrics != nil {
		ix.metrics.IndexErrors.WithLabelValues(stage).Inc()
	}
}
