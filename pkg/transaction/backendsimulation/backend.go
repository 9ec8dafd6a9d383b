// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package backendsimulation provides a backend that replays a scripted
// sequence of blocks. Every BlockNumber call advances to the next block.
package backendsimulation

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethersphere/ledgerclient/pkg/transaction"
)

var errNotImplemented = errors.New("not implemented")

type AccountAtKey struct {
	BlockNumber uint64
	Account     common.Address
}

type simulatedBackend struct {
	mu          sync.Mutex
	blockNumber uint64

	receipts map[common.Hash]*types.Receipt
	noncesAt map[AccountAtKey]uint64

	blocks []Block
	step   uint64
}

type Block struct {
	Number   uint64
	Receipts map[common.Hash]*types.Receipt
	NoncesAt map[AccountAtKey]uint64
}

type Option interface {
	apply(*simulatedBackend)
}

type optionFunc func(*simulatedBackend)

func (f optionFunc) apply(r *simulatedBackend) { f(r) }

func WithBlocks(blocks ...Block) Option {
	return optionFunc(func(sb *simulatedBackend) {
		sb.blocks = blocks
	})
}

func New(options ...Option) transaction.Backend {
	m := &simulatedBackend{
		receipts: make(map[common.Hash]*types.Receipt),
		noncesAt: make(map[AccountAtKey]uint64),
	}
	for _, opt := range options {
		opt.apply(m)
	}

	return m
}

func (m *simulatedBackend) advanceBlock() {
	if m.step >= uint64(len(m.blocks)) {
		return
	}
	block := m.blocks[m.step]
	m.step++

	m.blockNumber = block.Number

	for hash, receipt := range block.Receipts {
		m.receipts[hash] = receipt
	}

	for addr, nonce := range block.NoncesAt {
		m.noncesAt[addr] = nonce
	}
}

func (*simulatedBackend) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return nil, errNotImplemented
}

func (*simulatedBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, errNotImplemented
}

func (*simulatedBackend) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return nil, errNotImplemented
}

func (*simulatedBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, errNotImplemented
}

func (*simulatedBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return nil, errNotImplemented
}

func (*simulatedBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return nil, errNotImplemented
}

func (*simulatedBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (gas uint64, err error) {
	return 0, errNotImplemented
}

func (*simulatedBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return errNotImplemented
}

func (*simulatedBackend) SendTransactionArgs(ctx context.Context, args transaction.SendArgs) (common.Hash, error) {
	return common.Hash{}, errNotImplemented
}

func (*simulatedBackend) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	return nil, errNotImplemented
}

func (*simulatedBackend) SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return nil, errNotImplemented
}

func (*simulatedBackend) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	return nil, errNotImplemented
}

func (m *simulatedBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	receipt, ok := m.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (*simulatedBackend) TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error) {
	return nil, false, errNotImplemented
}

func (m *simulatedBackend) BlockNumber(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.advanceBlock()
	return m.blockNumber, nil
}

func (*simulatedBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return nil, errNotImplemented
}

func (m *simulatedBackend) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.noncesAt[AccountAtKey{Account: account, BlockNumber: blockNumber.Uint64()}], nil
}

func (*simulatedBackend) ChainID(ctx context.Context) (*big.Int, error) {
	return nil, errNotImplemented
}
