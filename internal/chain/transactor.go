package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"CageKeeper/internal/observability"
	"CageKeeper/internal/state"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
)

// TxBackend is the subset of the JSON-RPC API used to submit transactions.
type TxBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Sender submits one state-mutating call and waits for it to be mined.
type Sender interface {
	Send(ctx context.Context, to common.Address, data []byte, label string) (*types.Receipt, error)
}

// Transactor signs with a single key and submits calls one at a time.
type Transactor struct {
	backend TxBackend
	gas     GasStrategy
	key     *ecdsa.PrivateKey
	from    common.Address
	logger  zerolog.Logger
	metrics *observability.Metrics

	ReceiptPoll    time.Duration
	ReceiptTimeout time.Duration

	mu      sync.Mutex
	chainID *big.Int
}

func NewTransactor(backend TxBackend, gas GasStrategy, key *ecdsa.PrivateKey, logger zerolog.Logger, metrics *observability.Metrics) *Transactor {
	return &Transactor{
		backend:        backend,
		gas:            gas,
		key:            key,
		from:           crypto.PubkeyToAddress(key.PublicKey),
		logger:         logger,
		metrics:        metrics,
		ReceiptPoll:    2 * time.Second,
		ReceiptTimeout: 10 * time.Minute,
	}
}

// From returns the sending address.
func (t *Transactor) From() common.Address {
	return t.from
}

// Send estimates, signs, submits and waits for the receipt of one call.
// A revert at estimation or execution time is ErrTransactionRejected.
func (t *Transactor) Send(ctx context.Context, to common.Address, data []byte, label string) (*types.Receipt, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	start := time.Now()
	receipt, err := t.send(ctx, to, data, label)
	if t.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = state.ErrorKind(err)
		}
		t.metrics.Transactions.WithLabelValues(label, outcome).Inc()
		t.metrics.TxDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		t.logger.Warn().Err(err).Str("method", label).Str("to", to.Hex()).Msg("transaction failed")
		return receipt, err
	}
	t.logger.Info().
		Str("method", label).
		Str("tx", receipt.TxHash.Hex()).
		Uint64("gas_used", receipt.GasUsed).
		Dur("elapsed", time.Since(start)).
		Msg("transaction mined")
	return receipt, nil
}

func (t *Transactor) send(ctx context.Context, to common.Address, data []byte, label string) (*types.Receipt, error) {
	chainID, err := t.loadChainID(ctx)
	if err != nil {
		return nil, err
	}

	gas, err := t.backend.EstimateGas(ctx, ethereum.CallMsg{From: t.from, To: &to, Data: data})
	if err != nil {
		return nil, state.Rejected(fmt.Errorf("estimate gas for %s: %w", label, err))
	}
	gas += gas / 5

	nonce, err := t.backend.PendingNonceAt(ctx, t.from)
	if err != nil {
		return nil, state.Unavailable(fmt.Errorf("pending nonce: %w", err))
	}

	fees, err := t.gas.Fees(ctx)
	if err != nil {
		return nil, state.Unavailable(fmt.Errorf("price %s: %w", label, err))
	}

	signed, err := types.SignTx(fees.newTx(chainID, nonce, to, gas, data), types.LatestSignerForChainID(chainID), t.key)
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", label, err)
	}

	t.logger.Debug().
		Str("method", label).
		Str("tx", signed.Hash().Hex()).
		Uint64("nonce", nonce).
		Uint64("gas", gas).
		Msg("submitting transaction")

	if err := t.backend.SendTransaction(ctx, signed); err != nil {
		return nil, state.Rejected(fmt.Errorf("submit %s: %w", label, err))
	}

	receipt, err := t.waitMined(ctx, signed.Hash())
	if err != nil {
		return nil, state.Rejected(fmt.Errorf("%s %s: %w", label, signed.Hash().Hex(), err))
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, state.Rejected(fmt.Errorf("%s %s reverted", label, signed.Hash().Hex()))
	}
	return receipt, nil
}

func (t *Transactor) loadChainID(ctx context.Context) (*big.Int, error) {
	if t.chainID != nil {
		return t.chainID, nil
	}
	id, err := t.backend.ChainID(ctx)
	if err != nil {
		return nil, state.Unavailable(fmt.Errorf("chain id: %w", err))
	}
	t.chainID = id
	return id, nil
}

func (t *Transactor) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	deadline := time.NewTimer(t.ReceiptTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(t.ReceiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := t.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			return receipt, nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			t.logger.Debug().Err(err).Str("tx", hash.Hex()).Msg("receipt lookup failed")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("not mined within %s", t.ReceiptTimeout)
		case <-ticker.C:
		}
	}
}
