// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package confirmation follows submitted transactions until they reach the
// confirmation depth or fail, and publishes their lifecycle events.
//
// Every tracked transaction moves from SUBMITTED through CONFIRMING(n) to
// either FINALIZED or FAILED. Both end states are reached at most once.
package confirmation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethersphere/ledgerclient/pkg/event"
	"github.com/ethersphere/ledgerclient/pkg/logging"
	"github.com/ethersphere/ledgerclient/pkg/transaction"
)

// DefaultDepth is the number of confirmations after which a transaction is
// final.
const DefaultDepth = 4

var (
	// ErrConfirmationTimeout is delivered for transactions that saw no
	// progress within the pending timeout.
	ErrConfirmationTimeout = errors.New("confirmation timeout")
	// ErrAlreadyTracked is returned when a hash is tracked twice.
	ErrAlreadyTracked = errors.New("transaction already tracked")
	// ErrClosed is returned by Track after Close.
	ErrClosed = errors.New("tracker closed")
)

// Watcher delivers the confirmations of a sent transaction.
type Watcher interface {
	WatchSentTransaction(ctx context.Context, txHash common.Hash, depth uint64) (<-chan transaction.Confirmation, <-chan error, error)
}

// Publisher receives lifecycle events.
type Publisher interface {
	Publish(e event.Event) int
}

// InFlight is a submitted transaction awaiting its confirmation depth.
type InFlight struct {
	Hash              common.Hash
	CorrelationID     string
	OperationID       string
	RetryOf           common.Hash
	ConfirmationsSeen uint64
	Resolved          bool
}

// IsRetry reports whether the transaction is itself a resubmission.
func (f InFlight) IsRetry() bool {
	return f.RetryOf != (common.Hash{})
}

// FailureFunc is invoked for execution failures of transactions that are
// not retries. The receipt is nil if the transaction never got mined. A nil
// error means the transaction was resubmitted.
type FailureFunc func(tx InFlight, receipt *types.Receipt) error

// Options configure a Tracker.
type Options struct {
	// Depth is the confirmation depth of finalization.
	Depth uint64
	// PendingTimeout fails a transaction that saw no new confirmation for
	// that long. Zero waits forever.
	PendingTimeout time.Duration
}

type Tracker struct {
	logger    logging.Logger
	watcher   Watcher
	publisher Publisher
	depth     uint64
	timeout   time.Duration
	metrics   metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inFlight map[common.Hash]*InFlight
}

func New(logger logging.Logger, watcher Watcher, publisher Publisher, o Options) *Tracker {
	if o.Depth == 0 {
		o.Depth = DefaultDepth
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Tracker{
		logger:    logger,
		watcher:   watcher,
		publisher: publisher,
		depth:     o.Depth,
		timeout:   o.PendingTimeout,
		metrics:   newMetrics(),
		ctx:       ctx,
		cancel:    cancel,
		inFlight:  make(map[common.Hash]*InFlight),
	}
}

// Depth returns the finalization depth.
func (t *Tracker) Depth() uint64 {
	return t.depth
}

// Track starts following tx. onFailure may be nil.
func (t *Tracker) Track(tx InFlight, onFailure FailureFunc) error {
	if t.ctx.Err() != nil {
		return ErrClosed
	}

	t.mu.Lock()
	if _, ok := t.inFlight[tx.Hash]; ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %x", ErrAlreadyTracked, tx.Hash)
	}
	tx.ConfirmationsSeen = 0
	tx.Resolved = false
	entry := &tx
	t.inFlight[tx.Hash] = entry
	t.mu.Unlock()

	confirmC, errC, err := t.watcher.WatchSentTransaction(t.ctx, tx.Hash, t.depth)
	if err != nil {
		t.mu.Lock()
		delete(t.inFlight, tx.Hash)
		t.mu.Unlock()
		return err
	}

	t.metrics.Tracked.Inc()
	t.metrics.Unresolved.Inc()

	t.wg.Add(1)
	go t.follow(entry, confirmC, errC, onFailure)

	return nil
}

func (t *Tracker) follow(entry *InFlight, confirmC <-chan transaction.Confirmation, errC <-chan error, onFailure FailureFunc) {
	defer t.wg.Done()

	var timeoutC <-chan time.Time
	var timer *time.Timer
	if t.timeout > 0 {
		timer = time.NewTimer(t.timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	for {
		select {
		case c := <-confirmC:
			if t.confirm(entry, c) {
				return
			}
			if timer != nil {
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(t.timeout)
			}
		case err := <-errC:
			if t.ctx.Err() != nil {
				return
			}
			t.fail(entry, err, onFailure)
			return
		case <-timeoutC:
			t.metrics.Timeouts.Inc()
			t.fail(entry, fmt.Errorf("%w: no confirmation of %x within %s", ErrConfirmationTimeout, entry.Hash, t.timeout), onFailure)
			return
		case <-t.ctx.Done():
			return
		}
	}
}

// confirm records confirmation c and reports whether the transaction is
// final.
func (t *Tracker) confirm(entry *InFlight, c transaction.Confirmation) bool {
	t.mu.Lock()
	if entry.Resolved || c.Number <= entry.ConfirmationsSeen {
		t.mu.Unlock()
		return entry.Resolved
	}
	entry.ConfirmationsSeen = c.Number
	final := c.Number >= t.depth
	tx := *entry
	t.mu.Unlock()

	t.metrics.Confirmations.Inc()
	receipt := c.Receipt

	if !final {
		t.logger.Tracef("transaction %x confirmation %d of %d", tx.Hash, c.Number, t.depth)
		t.publisher.Publish(event.Event{
			Kind:               event.TxConfirmation,
			CorrelationID:      tx.CorrelationID,
			OperationID:        tx.OperationID,
			Hash:               tx.Hash,
			RetryOf:            tx.RetryOf,
			ConfirmationNumber: c.Number,
			Receipt:            &receipt,
		})
		return false
	}

	if !t.resolve(entry) {
		return true
	}

	t.metrics.Finalized.Inc()
	t.logger.Debugf("transaction %x confirmed in block %v", tx.Hash, receipt.BlockNumber)
	t.publisher.Publish(event.Event{
		Kind:               event.TxConfirmed,
		CorrelationID:      tx.CorrelationID,
		OperationID:        tx.OperationID,
		Hash:               tx.Hash,
		RetryOf:            tx.RetryOf,
		ConfirmationNumber: c.Number,
		Receipt:            &receipt,
	})
	return true
}

func (t *Tracker) fail(entry *InFlight, err error, onFailure FailureFunc) {
	if !t.resolve(entry) {
		return
	}
	t.metrics.Failures.Inc()

	t.mu.Lock()
	tx := *entry
	t.mu.Unlock()

	var receipt *types.Receipt
	var reverted *transaction.RevertedError
	if errors.As(err, &reverted) {
		r := reverted.Receipt
		receipt = &r
	}

	retrying := onFailure != nil && !tx.IsRetry() && IsExecutionFailure(err)

	// the error of the original precedes every event of its retry
	t.logger.Debugf("transaction %x failed (retrying %t): %v", tx.Hash, retrying, err)
	t.publisher.Publish(event.Event{
		Kind:          event.TxError,
		CorrelationID: tx.CorrelationID,
		OperationID:   tx.OperationID,
		Hash:          tx.Hash,
		RetryOf:       tx.RetryOf,
		Retrying:      retrying,
		Receipt:       receipt,
		Err:           err,
	})
	if !retrying {
		return
	}

	if rerr := onFailure(tx, receipt); rerr != nil {
		t.logger.Errorf("could not resubmit failed transaction %x: %v", tx.Hash, rerr)
		t.publisher.Publish(event.Event{
			Kind:          event.TxFailed,
			CorrelationID: tx.CorrelationID,
			OperationID:   tx.OperationID,
			RetryOf:       tx.Hash,
			Err:           fmt.Errorf("resubmit: %w", rerr),
		})
		return
	}
	t.metrics.Retries.Inc()
}

// resolve marks the entry resolved and reports whether it was not before.
func (t *Tracker) resolve(entry *InFlight) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry.Resolved {
		return false
	}
	entry.Resolved = true
	delete(t.inFlight, entry.Hash)
	t.metrics.Unresolved.Dec()
	return true
}

// IsExecutionFailure reports whether err means the transaction reached the
// chain and did not take effect.
func IsExecutionFailure(err error) bool {
	return errors.Is(err, transaction.ErrTransactionReverted) || errors.Is(err, transaction.ErrTransactionCancelled)
}

// Unresolved returns the number of tracked transactions without a terminal
// state.
func (t *Tracker) Unresolved() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inFlight)
}

// Get returns a snapshot of the unresolved transaction with the given hash.
func (t *Tracker) Get(txHash common.Hash) (InFlight, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.inFlight[txHash]
	if !ok {
		return InFlight{}, false
	}
	return *entry, true
}

// Close stops following all transactions without publishing further events.
func (t *Tracker) Close() error {
	t.cancel()
	t.wg.Wait()
	return nil
}
