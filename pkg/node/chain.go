// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package node

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethersphere/ledgerclient/pkg/crypto"
	"github.com/ethersphere/ledgerclient/pkg/logging"
	"github.com/ethersphere/ledgerclient/pkg/storage"
	"github.com/ethersphere/ledgerclient/pkg/transaction"
	"github.com/ethersphere/ledgerclient/pkg/transaction/cache"
	"github.com/ethersphere/ledgerclient/pkg/transaction/wrapped"
)

const (
	maxDelay                 = 1 * time.Minute
	defaultCancellationDepth = 6
	defaultBlockTime         = 15 * time.Second
)

// ChainOptions configure the node connection and the transaction service.
type ChainOptions struct {
	Endpoint          string
	BlockTime         time.Duration
	CancellationDepth uint64
	SkipSyncWait      bool
	Transaction       transaction.Options
}

// InitChain will initialize the Ethereum backend at the given endpoint and
// set up the Transaction Service to interact with it using the provided
// signers.
func InitChain(
	ctx context.Context,
	logger logging.Logger,
	stateStore storage.StateStorer,
	keyring *crypto.Keyring,
	o ChainOptions,
) (*wrapped.Backend, *big.Int, transaction.Monitor, transaction.Service, error) {
	if o.BlockTime <= 0 {
		o.BlockTime = defaultBlockTime
	}
	if o.CancellationDepth == 0 {
		o.CancellationDepth = defaultCancellationDepth
	}

	backend, err := wrapped.Dial(ctx, o.Endpoint)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("dial eth client: %w", err)
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		backend.Close()
		logger.Infof("could not connect to backend at %v. A working blockchain node is required. Check your node or specify another one using --endpoint.", o.Endpoint)
		return nil, nil, nil, nil, fmt.Errorf("get chain id: %w", err)
	}
	logger.Infof("connected to chain %d at %s", chainID, o.Endpoint)

	if !o.SkipSyncWait {
		logger.Info("waiting for the node to sync")
		if err := transaction.WaitSynced(ctx, backend, maxDelay, o.BlockTime); err != nil {
			backend.Close()
			return nil, nil, nil, nil, fmt.Errorf("wait synced: %w", err)
		}
	}

	for _, addr := range keyring.Addresses() {
		logger.Infof("signing transactions of %s", addr)
	}

	monitor := transaction.NewMonitor(logger, cache.New(backend, o.BlockTime), o.BlockTime, o.CancellationDepth)

	transactionService, err := transaction.NewService(logger, backend, keyring, stateStore, chainID, monitor, o.Transaction)
	if err != nil {
		monitor.Close()
		backend.Close()
		return nil, nil, nil, nil, fmt.Errorf("new transaction service: %w", err)
	}

	return backend, chainID, monitor, transactionService, nil
}
