package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"CageKeeper/internal/observability"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

// Reader is the subset of the JSON-RPC API used by contract bindings and the
// position providers.
type Reader interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Client wraps an ethclient.Client and bounds every request with its own
// timeout. There is no timeout across requests.
type Client struct {
	rpc     *ethclient.Client
	timeout time.Duration
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// Dial connects to the node at url.
func Dial(ctx context.Context, url string, timeout time.Duration, logger zerolog.Logger, metrics *observability.Metrics) (*Client, error) {
	trimmed := strings.TrimSpace(url)
	if trimmed == "" {
		return nil, fmt.Errorf("rpc url required")
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rpc, err := ethclient.DialContext(dialCtx, trimmed)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", trimmed, err)
	}
	return &Client{
		rpc:     rpc,
		timeout: timeout,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.rpc.Close()
}

func (c *Client) begin(ctx context.Context) (context.Context, context.CancelFunc, time.Time) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	return reqCtx, cancel, time.Now()
}

func (c *Client) observe(method string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.RPCDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.RPCErrors.WithLabelValues(method).Inc()
	}
}

func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	ctx, cancel, start := c.begin(ctx)
	defer cancel()
	out, err := c.rpc.CallContract(ctx, msg, blockNumber)
	c.observe("eth_call", start, err)
	return out, err
}

func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	ctx, cancel, start := c.begin(ctx)
	defer cancel()
	logs, err := c.rpc.FilterLogs(ctx, q)
	c.observe("eth_getLogs", start, err)
	return logs, err
}

func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	ctx, cancel, start := c.begin(ctx)
	defer cancel()
	h, err := c.rpc.HeaderByNumber(ctx, number)
	c.observe("eth_getBlockByNumber", start, err)
	return h, err
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel, start := c.begin(ctx)
	defer cancel()
	n, err := c.rpc.BlockNumber(ctx)
	c.observe("eth_blockNumber", start, err)
	return n, err
}

func (c *Client) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	ctx, cancel, start := c.begin(ctx)
	defer cancel()
	b, err := c.rpc.BalanceAt(ctx, account, blockNumber)
	c.observe("eth_getBalance", start, err)
	return b, err
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	ctx, cancel, start := c.begin(ctx)
	defer cancel()
	id, err := c.rpc.ChainID(ctx)
	c.observe("eth_chainId", start, err)
	return id, err
}

func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	ctx, cancel, start := c.begin(ctx)
	defer cancel()
	gas, err := c.rpc.EstimateGas(ctx, msg)
	c.observe("eth_estimateGas", start, err)
	return gas, err
}

func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	ctx, cancel, start := c.begin(ctx)
	defer cancel()
	nonce, err := c.rpc.PendingNonceAt(ctx, account)
	c.observe("eth_getTransactionCount", start, err)
	return nonce, err
}

func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	ctx, cancel, start := c.begin(ctx)
	defer cancel()
	tip, err := c.rpc.SuggestGasTipCap(ctx)
	c.observe("eth_maxPriorityFeePerGas", start, err)
	return tip, err
}

func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	ctx, cancel, start := c.begin(ctx)
	defer cancel()
	price, err := c.rpc.SuggestGasPrice(ctx)
	c.observe("eth_gasPrice", start, err)
	return price, err
}

func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	ctx, cancel, start := c.begin(ctx)
	defer cancel()
	err := c.rpc.SendTransaction(ctx, tx)
	c.observe("eth_sendRawTransaction", start, err)
	return err
}

func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel, start := c.begin(ctx)
	defer cancel()
	r, err := c.rpc.TransactionReceipt(ctx, txHash)
	c.observe("eth_getTransactionReceipt", start, nil) // not found is the normal case while pending
	return r, err
}
