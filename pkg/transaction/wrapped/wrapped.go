// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wrapped

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ethersphere/ledgerclient/pkg/transaction"
)

var (
	_ transaction.Backend = (*Backend)(nil)
)

var (
	errClosed = errors.New("backend closed")

	// ErrUnreachable is returned by Dial and Reconnect when the node endpoint
	// refused the connection or could not be routed to.
	ErrUnreachable = errors.New("node unreachable")
)

// IsUnreachable reports whether err means the node endpoint can not be
// reached at the network level.
func IsUnreachable(err error) bool {
	for _, e := range unreachableErrors {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// Backend is a transaction.Backend over a JSON-RPC connection that counts
// every call and can be re-dialed in place.
type Backend struct {
	endpoint string
	metrics  metrics

	mu        sync.RWMutex
	rpcClient *rpc.Client
	client    *ethclient.Client
}

// Dial connects to the node at endpoint (http, ws or ipc).
func Dial(ctx context.Context, endpoint string) (*Backend, error) {
	b := &Backend{
		endpoint: endpoint,
		metrics:  newMetrics(),
	}
	if err := b.Reconnect(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// NewBackend wraps an established connection.
func NewBackend(rpcClient *rpc.Client) *Backend {
	return &Backend{
		metrics:   newMetrics(),
		rpcClient: rpcClient,
		client:    ethclient.NewClient(rpcClient),
	}
}

// Endpoint returns the node endpoint this backend dials.
func (b *Backend) Endpoint() string {
	return b.endpoint
}

// Reconnect replaces the connection with a new one to the same endpoint.
// Calls in progress on the old connection are terminated.
func (b *Backend) Reconnect(ctx context.Context) error {
	if b.endpoint == "" {
		return errors.New("no endpoint to reconnect to")
	}

	rpcClient, err := rpc.DialContext(ctx, b.endpoint)
	if err != nil {
		if IsUnreachable(err) {
			b.metrics.UnreachableDials.Inc()
			return fmt.Errorf("dial %s: %w: %v", b.endpoint, ErrUnreachable, err)
		}
		return fmt.Errorf("dial %s: %w", b.endpoint, err)
	}

	b.mu.Lock()
	old := b.rpcClient
	b.rpcClient = rpcClient
	b.client = ethclient.NewClient(rpcClient)
	b.mu.Unlock()

	b.metrics.Reconnects.Inc()

	if old != nil {
		old.Close()
	}
	return nil
}

func (b *Backend) conn() (*rpc.Client, *ethclient.Client, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.client == nil {
		return nil, nil, errClosed
	}
	return b.rpcClient, b.client, nil
}

func (b *Backend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.metrics.TotalRPCCalls.Inc()
	b.metrics.TransactionReceiptCalls.Inc()
	_, c, err := b.conn()
	if err != nil {
		return nil, err
	}
	receipt, err := c.TransactionReceipt(ctx, txHash)
	if err != nil {
		if !errors.Is(err, ethereum.NotFound) {
			b.metrics.TotalRPCErrors.Inc()
		}
		return nil, err
	}
	return receipt, nil
}

func (b *Backend) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	b.metrics.TotalRPCCalls.Inc()
	b.metrics.TransactionCalls.Inc()
	_, c, err := b.conn()
	if err != nil {
		return nil, false, err
	}
	tx, isPending, err := c.TransactionByHash(ctx, hash)
	if err != nil {
		if !errors.Is(err, ethereum.NotFound) {
			b.metrics.TotalRPCErrors.Inc()
		}
		return nil, false, err
	}
	return tx, isPending, err
}

func (b *Backend) BlockNumber(ctx context.Context) (uint64, error) {
	b.metrics.TotalRPCCalls.Inc()
	b.metrics.BlockNumberCalls.Inc()
	_, c, err := b.conn()
	if err != nil {
		return 0, err
	}
	blockNumber, err := c.BlockNumber(ctx)
	if err != nil {
		b.metrics.TotalRPCErrors.Inc()
		return 0, err
	}
	return blockNumber, nil
}

func (b *Backend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	b.metrics.TotalRPCCalls.Inc()
	b.metrics.BlockHeaderCalls.Inc()
	_, c, err := b.conn()
	if err != nil {
		return nil, err
	}
	header, err := c.HeaderByNumber(ctx, number)
	if err != nil {
		if !errors.Is(err, ethereum.NotFound) {
			b.metrics.TotalRPCErrors.Inc()
		}
		return nil, err
	}
	return header, nil
}

func (b *Backend) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	b.metrics.TotalRPCCalls.Inc()
	b.metrics.NonceAtCalls.Inc()
	_, c, err := b.conn()
	if err != nil {
		return 0, err
	}
	nonce, err := c.NonceAt(ctx, account, blockNumber)
	if err != nil {
		b.metrics.TotalRPCErrors.Inc()
		return 0, err
	}
	return nonce, nil
}

func (b *Backend) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	b.metrics.TotalRPCCalls.Inc()
	b.metrics.CodeAtCalls.Inc()
	_, c, err := b.conn()
	if err != nil {
		return nil, err
	}
	code, err := c.CodeAt(ctx, contract, blockNumber)
	if err != nil {
		b.metrics.TotalRPCErrors.Inc()
		return nil, err
	}
	return code, nil
}

func (b *Backend) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	b.metrics.TotalRPCCalls.Inc()
	b.metrics.CodeAtCalls.Inc()
	_, c, err := b.conn()
	if err != nil {
		return nil, err
	}
	code, err := c.PendingCodeAt(ctx, account)
	if err != nil {
		b.metrics.TotalRPCErrors.Inc()
		return nil, err
	}
	return code, nil
}

func (b *Backend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	b.metrics.TotalRPCCalls.Inc()
	b.metrics.CallContractCalls.Inc()
	_, c, err := b.conn()
	if err != nil {
		return nil, err
	}
	result, err := c.CallContract(ctx, call, blockNumber)
	if err != nil {
		b.metrics.TotalRPCErrors.Inc()
		return nil, err
	}
	return result, nil
}

func (b *Backend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	b.metrics.TotalRPCCalls.Inc()
	b.metrics.PendingNonceCalls.Inc()
	_, c, err := b.conn()
	if err != nil {
		return 0, err
	}
	nonce, err := c.PendingNonceAt(ctx, account)
	if err != nil {
		b.metrics.TotalRPCErrors.Inc()
		return 0, err
	}
	return nonce, nil
}

func (b *Backend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	b.metrics.TotalRPCCalls.Inc()
	b.metrics.SuggestGasPriceCalls.Inc()
	_, c, err := b.conn()
	if err != nil {
		return nil, err
	}
	gasPrice, err := c.SuggestGasPrice(ctx)
	if err != nil {
		b.metrics.TotalRPCErrors.Inc()
		return nil, err
	}
	return gasPrice, nil
}

func (b *Backend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	b.metrics.TotalRPCCalls.Inc()
	b.metrics.SuggestGasTipCapCalls.Inc()
	_, c, err := b.conn()
	if err != nil {
		return nil, err
	}
	gasTipCap, err := c.SuggestGasTipCap(ctx)
	if err != nil {
		b.metrics.TotalRPCErrors.Inc()
		return nil, err
	}
	return gasTipCap, nil
}

func (b *Backend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	b.metrics.TotalRPCCalls.Inc()
	b.metrics.EstimateGasCalls.Inc()
	_, c, err := b.conn()
	if err != nil {
		return 0, err
	}
	gas, err := c.EstimateGas(ctx, msg)
	if err != nil {
		b.metrics.TotalRPCErrors.Inc()
		return 0, err
	}
	return gas, nil
}

func (b *Backend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	b.metrics.TotalRPCCalls.Inc()
	b.metrics.SendTransactionCalls.Inc()
	_, c, err := b.conn()
	if err != nil {
		return err
	}
	err = c.SendTransaction(ctx, tx)
	if err != nil {
		b.metrics.TotalRPCErrors.Inc()
		return err
	}
	return nil
}

func (b *Backend) SendTransactionArgs(ctx context.Context, args transaction.SendArgs) (common.Hash, error) {
	b.metrics.TotalRPCCalls.Inc()
	b.metrics.SendTransactionArgsCalls.Inc()
	r, _, err := b.conn()
	if err != nil {
		return common.Hash{}, err
	}
	var txHash common.Hash
	err = r.CallContext(ctx, &txHash, "eth_sendTransaction", args.RPCArgs())
	if err != nil {
		b.metrics.TotalRPCErrors.Inc()
		return common.Hash{}, err
	}
	return txHash, nil
}

func (b *Backend) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	b.metrics.TotalRPCCalls.Inc()
	b.metrics.FilterLogsCalls.Inc()
	_, c, err := b.conn()
	if err != nil {
		return nil, err
	}
	logs, err := c.FilterLogs(ctx, query)
	if err != nil {
		b.metrics.TotalRPCErrors.Inc()
		return nil, err
	}
	return logs, nil
}

func (b *Backend) SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	b.metrics.TotalRPCCalls.Inc()
	b.metrics.SubscribeCalls.Inc()
	_, c, err := b.conn()
	if err != nil {
		return nil, err
	}
	sub, err := c.SubscribeFilterLogs(ctx, query, ch)
	if err != nil {
		b.metrics.TotalRPCErrors.Inc()
		return nil, err
	}
	return sub, nil
}

func (b *Backend) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	b.metrics.TotalRPCCalls.Inc()
	b.metrics.SubscribeCalls.Inc()
	_, c, err := b.conn()
	if err != nil {
		return nil, err
	}
	sub, err := c.SubscribeNewHead(ctx, ch)
	if err != nil {
		// http endpoints do not support subscriptions
		if !errors.Is(err, rpc.ErrNotificationsUnsupported) {
			b.metrics.TotalRPCErrors.Inc()
		}
		return nil, err
	}
	return sub, nil
}

func (b *Backend) ChainID(ctx context.Context) (*big.Int, error) {
	b.metrics.TotalRPCCalls.Inc()
	b.metrics.ChainIDCalls.Inc()
	_, c, err := b.conn()
	if err != nil {
		return nil, err
	}
	chainID, err := c.ChainID(ctx)
	if err != nil {
		b.metrics.TotalRPCErrors.Inc()
		return nil, err
	}
	return chainID, nil
}

// Close terminates the connection. Later calls fail.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.rpcClient != nil {
		b.rpcClient.Close()
	}
	b.rpcClient = nil
	b.client = nil
}
