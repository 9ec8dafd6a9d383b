// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mock provides transaction.Service doubles for tests of the send
// and call paths.
package mock

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethersphere/ledgerclient/pkg/transaction"
)

// ErrNotImplemented is returned by every method without a configured
// function.
var ErrNotImplemented = errors.New("not implemented")

type service struct {
	send                 func(ctx context.Context, request *transaction.TxRequest) (common.Hash, error)
	call                 func(ctx context.Context, request *transaction.TxRequest) ([]byte, error)
	waitForReceipt       func(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	watchSentTransaction func(ctx context.Context, txHash common.Hash, depth uint64) (<-chan transaction.Confirmation, <-chan error, error)
	storedTransaction    func(txHash common.Hash) (*transaction.StoredTransaction, error)
	pendingTransactions  func() ([]common.Hash, error)
	resendTransaction    func(ctx context.Context, txHash common.Hash) error
}

// New returns a transaction.Service answering with the functions set by
// opts. Later options override earlier ones.
func New(opts ...Option) transaction.Service {
	s := new(service)
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *service) Send(ctx context.Context, request *transaction.TxRequest) (common.Hash, error) {
	if s.send == nil {
		return common.Hash{}, ErrNotImplemented
	}
	return s.send(ctx, request)
}

func (s *service) Call(ctx context.Context, request *transaction.TxRequest) ([]byte, error) {
	if s.call == nil {
		return nil, ErrNotImplemented
	}
	return s.call(ctx, request)
}

func (s *service) WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if s.waitForReceipt == nil {
		return nil, ErrNotImplemented
	}
	return s.waitForReceipt(ctx, txHash)
}

func (s *service) WatchSentTransaction(ctx context.Context, txHash common.Hash, depth uint64) (<-chan transaction.Confirmation, <-chan error, error) {
	if s.watchSentTransaction == nil {
		return nil, nil, ErrNotImplemented
	}
	return s.watchSentTransaction(ctx, txHash, depth)
}

func (s *service) StoredTransaction(txHash common.Hash) (*transaction.StoredTransaction, error) {
	if s.storedTransaction == nil {
		return nil, ErrNotImplemented
	}
	return s.storedTransaction(txHash)
}

func (s *service) PendingTransactions() ([]common.Hash, error) {
	if s.pendingTransactions == nil {
		return nil, ErrNotImplemented
	}
	return s.pendingTransactions()
}

func (s *service) ResendTransaction(ctx context.Context, txHash common.Hash) error {
	if s.resendTransaction == nil {
		return ErrNotImplemented
	}
	return s.resendTransaction(ctx, txHash)
}

func (s *service) Close() error {
	return nil
}

// Option sets the answer of one method.
type Option func(*service)

func WithSendFunc(f func(ctx context.Context, request *transaction.TxRequest) (common.Hash, error)) Option {
	return func(s *service) {
		s.send = f
	}
}

func WithCallFunc(f func(ctx context.Context, request *transaction.TxRequest) ([]byte, error)) Option {
	return func(s *service) {
		s.call = f
	}
}

func WithWaitForReceiptFunc(f func(ctx context.Context, txHash common.Hash) (*types.Receipt, error)) Option {
	return func(s *service) {
		s.waitForReceipt = f
	}
}

func WithWatchSentTransactionFunc(f func(ctx context.Context, txHash common.Hash, depth uint64) (<-chan transaction.Confirmation, <-chan error, error)) Option {
	return func(s *service) {
		s.watchSentTransaction = f
	}
}

func WithStoredTransactionFunc(f func(txHash common.Hash) (*transaction.StoredTransaction, error)) Option {
	return func(s *service) {
		s.storedTransaction = f
	}
}

func WithPendingTransactionsFunc(f func() ([]common.Hash, error)) Option {
	return func(s *service) {
		s.pendingTransactions = f
	}
}

func WithResendTransactionFunc(f func(ctx context.Context, txHash common.Hash) error) Option {
	return func(s *service) {
		s.resendTransaction = f
	}
}

// WithABICall answers a single read call of method on the contract at to
// with result. Calls with other data or another recipient fail.
func WithABICall(contractABI *abi.ABI, to common.Address, result []byte, method string, params ...interface{}) Option {
	return func(s *service) {
		var once sync.Once
		s.call = func(ctx context.Context, request *transaction.TxRequest) (out []byte, err error) {
			err = errors.New("unexpected call")
			once.Do(func() {
				var data []byte
				data, err = contractABI.Pack(method, params...)
				if err != nil {
					return
				}
				switch {
				case !bytes.Equal(data, request.Data):
					err = fmt.Errorf("call data %x, want %x", request.Data, data)
				case request.To == nil || *request.To != to:
					err = fmt.Errorf("call recipient %v, want %s", request.To, to)
				default:
					out, err = result, nil
				}
			})
			return out, err
		}
	}
}

// DefaultStoredGasLimit is the gas limit Chain reports for stored
// transactions.
const DefaultStoredGasLimit = 100000

// Chain simulates a node that mines every accepted transaction at once.
// Hashes are handed out in submission order starting at 1. Reverted
// transactions fail on chain, all others reach every watched depth.
type Chain struct {
	mu       sync.Mutex
	requests []*transaction.TxRequest
	reverted map[common.Hash]bool
	accept   int
	rejected error
}

// NewChain returns a Chain where the transactions with the given hashes
// revert.
func NewChain(reverted ...common.Hash) *Chain {
	c := &Chain{reverted: make(map[common.Hash]bool)}
	for _, h := range reverted {
		c.reverted[h] = true
	}
	return c
}

// Hash returns the hash of the n-th accepted transaction, counted from 1.
func Hash(n int) common.Hash {
	return common.BigToHash(big.NewInt(int64(n)))
}

// RejectAfter makes the node reject every send after the first n with err.
func (c *Chain) RejectAfter(n int, err error) *Chain {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accept = n
	c.rejected = err
	return c
}

// Request returns the n-th accepted request, counted from 0.
func (c *Chain) Request(n int) *transaction.TxRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[n]
}

// Sent returns the number of accepted transactions.
func (c *Chain) Sent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func (c *Chain) send(_ context.Context, request *transaction.TxRequest) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rejected != nil && len(c.requests) >= c.accept {
		return common.Hash{}, c.rejected
	}
	c.requests = append(c.requests, request)
	return Hash(len(c.requests)), nil
}

func (c *Chain) receipt(txHash common.Hash) types.Receipt {
	r := types.Receipt{
		TxHash:      txHash,
		BlockNumber: big.NewInt(10),
		GasUsed:     90000,
		Status:      types.ReceiptStatusSuccessful,
	}
	if c.reverted[txHash] {
		r.Status = types.ReceiptStatusFailed
	}
	return r
}

func (c *Chain) watch(_ context.Context, txHash common.Hash, depth uint64) (<-chan transaction.Confirmation, <-chan error, error) {
	confirmC := make(chan transaction.Confirmation, depth)
	errC := make(chan error, 1)

	c.mu.Lock()
	receipt := c.receipt(txHash)
	c.mu.Unlock()

	if receipt.Status == types.ReceiptStatusFailed {
		errC <- &transaction.RevertedError{Receipt: receipt}
		return confirmC, errC, nil
	}
	for n := uint64(1); n <= depth; n++ {
		confirmC <- transaction.Confirmation{Number: n, Receipt: receipt}
	}
	return confirmC, errC, nil
}

func (c *Chain) stored(common.Hash) (*transaction.StoredTransaction, error) {
	return &transaction.StoredTransaction{GasLimit: DefaultStoredGasLimit}, nil
}

// Service returns a transaction.Service backed by the chain. Options given
// here override the chain's answers.
func (c *Chain) Service(opts ...Option) transaction.Service {
	return New(append([]Option{
		WithSendFunc(c.send),
		WithWatchSentTransactionFunc(c.watch),
		WithStoredTransactionFunc(c.stored),
	}, opts...)...)
}
