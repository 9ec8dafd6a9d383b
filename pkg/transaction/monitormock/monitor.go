// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package monitormock

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethersphere/ledgerclient/pkg/transaction"
)

type transactionMonitorMock struct {
	watchTransaction func(ctx context.Context, txHash common.Hash, sender common.Address, nonce *uint64, depth uint64) (<-chan transaction.Confirmation, <-chan error, error)
}

func (m *transactionMonitorMock) WatchTransaction(ctx context.Context, txHash common.Hash, sender common.Address, nonce *uint64, depth uint64) (<-chan transaction.Confirmation, <-chan error, error) {
	if m.watchTransaction != nil {
		return m.watchTransaction(ctx, txHash, sender, nonce, depth)
	}
	return nil, nil, errors.New("not implemented")
}

func (m *transactionMonitorMock) Close() error {
	return nil
}

// Option is the option passed to the mock transaction monitor
type Option interface {
	apply(*transactionMonitorMock)
}

type optionFunc func(*transactionMonitorMock)

func (f optionFunc) apply(r *transactionMonitorMock) { f(r) }

func WithWatchTransactionFunc(f func(ctx context.Context, txHash common.Hash, sender common.Address, nonce *uint64, depth uint64) (<-chan transaction.Confirmation, <-chan error, error)) Option {
	return optionFunc(func(s *transactionMonitorMock) {
		s.watchTransaction = f
	})
}

// WithPending makes every watch block until its context ends, as if no
// transaction was ever mined.
func WithPending() Option {
	return WithWatchTransactionFunc(func(ctx context.Context, txHash common.Hash, sender common.Address, nonce *uint64, depth uint64) (<-chan transaction.Confirmation, <-chan error, error) {
		errC := make(chan error, 1)
		go func() {
			<-ctx.Done()
			errC <- ctx.Err()
		}()
		return make(chan transaction.Confirmation), errC, nil
	})
}

func New(opts ...Option) transaction.Monitor {
	mock := new(transactionMonitorMock)
	for _, o := range opts {
		o.apply(mock)
	}
	return mock
}
