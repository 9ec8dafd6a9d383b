// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transaction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ethersphere/ledgerclient/pkg/logging"
)

var (
	ErrTransactionCancelled = errors.New("transaction cancelled")
	ErrMonitorClosed        = errors.New("monitor closed")
)

// Confirmation is delivered once for every block on top of and including
// the block that mined a watched transaction, up to the watch depth.
type Confirmation struct {
	Number  uint64
	Receipt types.Receipt
}

// RevertedError is delivered for a mined transaction whose receipt reports
// failure.
type RevertedError struct {
	Receipt types.Receipt
}

func (e *RevertedError) Error() string {
	return fmt.Sprintf("transaction %x reverted in block %v", e.Receipt.TxHash, e.Receipt.BlockNumber)
}

func (e *RevertedError) Unwrap() error {
	return ErrTransactionReverted
}

// Monitor watches transactions until they reach a confirmation depth.
// Transactions with a known nonce are only looked up once the sender's
// nonce has passed them. If that nonce was used cancellationDepth blocks ago
// and there is still no receipt, the transaction is considered cancelled.
type Monitor interface {
	io.Closer
	// WatchTransaction delivers confirmations 1..depth of the transaction
	// and then stops. Failures, cancellation and the end of ctx are delivered
	// on the error channel. Each channel is buffered so that the monitor never
	// blocks on it. A nil nonce disables cancellation detection.
	WatchTransaction(ctx context.Context, txHash common.Hash, sender common.Address, nonce *uint64, depth uint64) (<-chan Confirmation, <-chan error, error)
}

type transactionMonitor struct {
	lock       sync.Mutex
	ctx        context.Context    // context which is used for all backend calls
	cancelFunc context.CancelFunc // function to cancel the above context
	wg         sync.WaitGroup

	logger  logging.Logger
	backend Backend

	pollingInterval   time.Duration // time between checking for new blocks
	cancellationDepth uint64        // number of blocks until considering a tx cancellation final

	watches    map[*transactionWatch]struct{} // active watches
	watchAdded chan struct{}                  // channel to trigger instant pending check
}

type transactionWatch struct {
	ctx      context.Context
	confirmC chan Confirmation // receives each confirmation once
	errC     chan error        // receives at most one error

	txHash    common.Hash
	sender    common.Address
	nonce     *uint64
	depth     uint64
	delivered uint64 // confirmations delivered so far, only touched by the watch loop
}

func NewMonitor(logger logging.Logger, backend Backend, pollingInterval time.Duration, cancellationDepth uint64) Monitor {
	ctx, cancelFunc := context.WithCancel(context.Background())

	t := &transactionMonitor{
		ctx:        ctx,
		cancelFunc: cancelFunc,
		logger:     logger,
		backend:    backend,

		pollingInterval:   pollingInterval,
		cancellationDepth: cancellationDepth,

		watches:    make(map[*transactionWatch]struct{}),
		watchAdded: make(chan struct{}, 1),
	}

	t.wg.Add(1)
	go t.watchPending()

	return t
}

func (tm *transactionMonitor) WatchTransaction(ctx context.Context, txHash common.Hash, sender common.Address, nonce *uint64, depth uint64) (<-chan Confirmation, <-chan error, error) {
	if depth == 0 {
		depth = 1
	}

	tm.lock.Lock()
	defer tm.lock.Unlock()

	if tm.ctx.Err() != nil {
		return nil, nil, ErrMonitorClosed
	}

	confirmC := make(chan Confirmation, depth)
	errC := make(chan error, 1)

	tm.watches[&transactionWatch{
		ctx:      ctx,
		confirmC: confirmC,
		errC:     errC,
		txHash:   txHash,
		sender:   sender,
		nonce:    nonce,
		depth:    depth,
	}] = struct{}{}

	select {
	case tm.watchAdded <- struct{}{}:
	default:
	}

	tm.logger.Tracef("starting to watch transaction %x to depth %d", txHash, depth)

	return confirmC, errC, nil
}

// main watch loop
func (tm *transactionMonitor) watchPending() {
	defer tm.wg.Done()
	defer func() {
		tm.lock.Lock()
		defer tm.lock.Unlock()

		for watch := range tm.watches {
			watch.errC <- ErrMonitorClosed
			delete(tm.watches, watch)
		}
	}()

	var (
		heads  chan *types.Header
		sub    ethereum.Subscription
		subErr <-chan error
		// push stays false for backends that can not notify at all
		push = true
	)
	subscribe := func() {
		ch := make(chan *types.Header, 1)
		s, err := tm.backend.SubscribeNewHead(tm.ctx, ch)
		if err != nil {
			if errors.Is(err, rpc.ErrNotificationsUnsupported) {
				push = false
			}
			tm.logger.Debugf("new head subscription unavailable, polling every %s: %v", tm.pollingInterval, err)
			return
		}
		heads, sub, subErr = ch, s, s.Err()
	}
	defer func() {
		if sub != nil {
			sub.Unsubscribe()
		}
	}()
	subscribe()

	ticker := time.NewTicker(tm.pollingInterval)
	defer ticker.Stop()

	var (
		lastBlock uint64 = 0
		added     bool   // flag if this iteration was triggered by the watchAdded channel
	)

	for {
		added = false
		select {
		// if a new watch has been added check again without waiting
		case <-tm.watchAdded:
			added = true
		case <-heads:
		case err := <-subErr:
			tm.logger.Debugf("new head subscription ended, polling every %s: %v", tm.pollingInterval, err)
			sub.Unsubscribe()
			heads, sub, subErr = nil, nil, nil
			continue
		case <-ticker.C:
			// the backend may have reconnected since the subscription ended
			if heads == nil && push {
				subscribe()
			}
		// if the main context is cancelled terminate
		case <-tm.ctx.Done():
			return
		}

		// if there are no watched transactions there is nothing to do
		if !tm.hasWatches() {
			continue
		}

		block, err := tm.backend.BlockNumber(tm.ctx)
		if err != nil {
			tm.logger.Errorf("could not get block number: %v", err)
			continue
		} else if block <= lastBlock && !added {
			// if the block number is not higher than before there is nothing todo
			// unless a watch was added in which case we will do the check anyway
			tm.dropEnded()
			continue
		}

		if err := tm.checkPending(block); err != nil {
			tm.logger.Tracef("error while checking pending transactions: %v", err)
			continue
		}
		lastBlock = block
	}
}

func (tm *transactionMonitor) hasWatches() bool {
	tm.lock.Lock()
	defer tm.lock.Unlock()
	return len(tm.watches) > 0
}

func (tm *transactionMonitor) activeWatches() (watches []*transactionWatch) {
	tm.lock.Lock()
	defer tm.lock.Unlock()

	for watch := range tm.watches {
		watches = append(watches, watch)
	}
	return watches
}

func (tm *transactionMonitor) remove(watch *transactionWatch, err error) {
	tm.lock.Lock()
	defer tm.lock.Unlock()

	if _, ok := tm.watches[watch]; !ok {
		return
	}
	if err != nil {
		watch.errC <- err
	}
	delete(tm.watches, watch)
}

// dropEnded removes all watches whose context is done.
func (tm *transactionMonitor) dropEnded() {
	for _, watch := range tm.activeWatches() {
		if err := watch.ctx.Err(); err != nil {
			tm.remove(watch, err)
		}
	}
}

// checkPending checks the given block (number) for confirmed, failed or
// cancelled transactions.
func (tm *transactionMonitor) checkPending(block uint64) error {
	watches := tm.activeWatches()

	nonces := make(map[common.Address]uint64)
	for _, watch := range watches {
		if watch.nonce == nil {
			continue
		}
		if _, ok := nonces[watch.sender]; ok {
			continue
		}
		nonce, err := tm.backend.NonceAt(tm.ctx, watch.sender, new(big.Int).SetUint64(block))
		if err != nil {
			return err
		}
		nonces[watch.sender] = nonce
	}

	var potentiallyCancelled []*transactionWatch
	for _, watch := range watches {
		if err := watch.ctx.Err(); err != nil {
			tm.remove(watch, err)
			continue
		}

		// the sender has not used this nonce yet so there is no receipt
		if watch.nonce != nil && watch.delivered == 0 && *watch.nonce >= nonces[watch.sender] {
			continue
		}

		receipt, err := tm.backend.TransactionReceipt(tm.ctx, watch.txHash)
		if receipt != nil {
			tm.deliver(watch, receipt, block)
		} else if err == nil || errors.Is(err, ethereum.NotFound) {
			// a transaction that lost its receipt after a reorg keeps its
			// delivered confirmations and waits to be mined again
			if watch.nonce != nil && watch.delivered == 0 {
				potentiallyCancelled = append(potentiallyCancelled, watch)
			}
		} else {
			return err
		}
	}

	if len(potentiallyCancelled) == 0 || block < tm.cancellationDepth {
		return nil
	}

	// mark all transactions without receipt whose nonce was already used at
	// least cancellationDepth blocks ago as cancelled
	oldNonces := make(map[common.Address]uint64)
	for _, watch := range potentiallyCancelled {
		oldNonce, ok := oldNonces[watch.sender]
		if !ok {
			var err error
			oldNonce, err = tm.backend.NonceAt(tm.ctx, watch.sender, new(big.Int).SetUint64(block-tm.cancellationDepth))
			if err != nil {
				return err
			}
			oldNonces[watch.sender] = oldNonce
		}
		if *watch.nonce < oldNonce {
			tm.logger.Debugf("transaction %x cancelled, nonce %d used by another transaction", watch.txHash, *watch.nonce)
			tm.remove(watch, ErrTransactionCancelled)
		}
	}
	return nil
}

// deliver hands out every confirmation the receipt newly qualifies for.
func (tm *transactionMonitor) deliver(watch *transactionWatch, receipt *types.Receipt, block uint64) {
	if receipt.Status == types.ReceiptStatusFailed {
		tm.remove(watch, &RevertedError{Receipt: *receipt})
		return
	}

	if receipt.BlockNumber == nil || block < receipt.BlockNumber.Uint64() {
		return
	}
	confirmations := block - receipt.BlockNumber.Uint64() + 1

	for watch.delivered < confirmations && watch.delivered < watch.depth {
		watch.delivered++
		watch.confirmC <- Confirmation{
			Number:  watch.delivered,
			Receipt: *receipt,
		}
	}

	if watch.delivered >= watch.depth {
		tm.remove(watch, nil)
	}
}

func (tm *transactionMonitor) Close() error {
	tm.cancelFunc()
	tm.wg.Wait()
	return nil
}
