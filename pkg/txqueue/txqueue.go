// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package txqueue serializes send requests. A single drain loop submits
// entries in FIFO order and hands every accepted transaction to the
// confirmation tracker. Submission pauses while the number of unresolved
// transactions is at the in-flight limit.
package txqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethersphere/ledgerclient/pkg/confirmation"
	"github.com/ethersphere/ledgerclient/pkg/contract"
	"github.com/ethersphere/ledgerclient/pkg/event"
	"github.com/ethersphere/ledgerclient/pkg/logging"
	"github.com/ethersphere/ledgerclient/pkg/storage"
	"github.com/ethersphere/ledgerclient/pkg/tracing"
	"github.com/ethersphere/ledgerclient/pkg/transaction"
	"go.uber.org/atomic"
)

const (
	DefaultInFlightLimit   = 10
	DefaultBackoffInterval = time.Second

	requestKeyPrefix = "txqueue_request_"
)

var (
	ErrClosed       = errors.New("queue closed")
	ErrInvalidEntry = errors.New("invalid entry")
)

// Binder returns the current binding of a contract reference.
type Binder interface {
	Bind(ctx context.Context, ref contract.Ref) (*contract.Contract, error)
}

// Tracker follows submitted transactions.
type Tracker interface {
	Track(tx confirmation.InFlight, onFailure confirmation.FailureFunc) error
	Unresolved() int
}

// Publisher receives lifecycle events.
type Publisher interface {
	Publish(e event.Event) int
}

// StoredTransactions looks up transactions sent by this client.
type StoredTransactions interface {
	StoredTransaction(txHash common.Hash) (*transaction.StoredTransaction, error)
}

type Options struct {
	// InFlightLimit caps the number of unresolved transactions.
	InFlightLimit int
	// BackoffInterval is the pause before the limit is checked again.
	BackoffInterval time.Duration
}

type Queue struct {
	logger    logging.Logger
	binder    Binder
	txs       StoredTransactions
	tracker   Tracker
	publisher Publisher
	store     storage.StateStorer
	tracer    *tracing.Tracer
	limit     int
	backoff   time.Duration
	metrics   metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	entries  []Entry
	started  bool
	closed   bool
	draining *atomic.Bool
}

func New(logger logging.Logger, binder Binder, txs StoredTransactions, tracker Tracker, publisher Publisher, store storage.StateStorer, tracer *tracing.Tracer, o Options) *Queue {
	if o.InFlightLimit <= 0 {
		o.InFlightLimit = DefaultInFlightLimit
	}
	if o.BackoffInterval <= 0 {
		o.BackoffInterval = DefaultBackoffInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Queue{
		logger:    logger,
		binder:    binder,
		txs:       txs,
		tracker:   tracker,
		publisher: publisher,
		store:     store,
		tracer:    tracer,
		limit:     o.InFlightLimit,
		backoff:   o.BackoffInterval,
		metrics:   newMetrics(),
		ctx:       ctx,
		cancel:    cancel,
		draining:  atomic.NewBool(false),
	}
}

// Enqueue appends e to the queue and triggers the drain loop.
func (q *Queue) Enqueue(e Entry) error {
	if e.Method == "" || e.Contract.Address == "" {
		return fmt.Errorf("%w: missing contract address or method", ErrInvalidEntry)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.entries = append(q.entries, e)
	q.metrics.Enqueued.Inc()
	q.metrics.QueueLength.Set(float64(len(q.entries)))
	q.mu.Unlock()

	q.Drain()
	return nil
}

// Start allows draining. Entries enqueued before are submitted now.
func (q *Queue) Start() {
	q.mu.Lock()
	q.started = true
	q.mu.Unlock()

	q.Drain()
}

// Drain starts the drain loop unless it is already running. It never
// blocks.
func (q *Queue) Drain() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.started || q.closed || len(q.entries) == 0 {
		return
	}
	if !q.draining.CAS(false, true) {
		return
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			q.drain()
			q.draining.Store(false)

			// an entry enqueued while the flag was still set is picked up here
			if q.Len() == 0 || q.ctx.Err() != nil || !q.draining.CAS(false, true) {
				return
			}
		}
	}()
}

func (q *Queue) drain() {
	for {
		if q.ctx.Err() != nil {
			return
		}

		if q.tracker.Unresolved() >= q.limit {
			q.metrics.Backpressure.Inc()
			select {
			case <-time.After(q.backoff):
				continue
			case <-q.ctx.Done():
				return
			}
		}

		e, ok := q.pop()
		if !ok {
			return
		}
		q.submit(e)
	}
}

func (q *Queue) pop() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return Entry{}, false
	}
	e := q.entries[0]
	q.entries[0] = Entry{}
	q.entries = q.entries[1:]
	q.metrics.QueueLength.Set(float64(len(q.entries)))
	return e, true
}

func (q *Queue) submit(e Entry) {
	ctx := q.ctx
	if len(e.Trace) > 0 {
		if c, err := q.tracer.WithContextFromCarrier(ctx, e.Trace); err == nil {
			ctx = c
		}
	}
	span, logger, ctx := q.tracer.StartSpanFromContext(ctx, "txqueue-submit", q.logger)
	defer span.Finish()

	hash, err := q.send(ctx, e)
	if err != nil {
		q.metrics.SubmissionFailures.Inc()
		logger.Debugf("txqueue: submission of %s %s.%s failed: %v", e.CorrelationID, e.Contract, e.Method, err)
		q.publisher.Publish(event.Event{
			Kind:          event.TxFailed,
			CorrelationID: e.CorrelationID,
			OperationID:   e.OperationID,
			RetryOf:       e.RetryOf,
			Err:           err,
		})
		return
	}
	q.metrics.Submitted.Inc()
	logger.Debugf("txqueue: submitted %s %s.%s as %x", e.CorrelationID, e.Contract, e.Method, hash)

	err = q.store.Put(requestKey(hash), &StoredRequest{
		Entry:   e,
		Hash:    hash,
		Created: time.Now(),
	})
	if err != nil {
		logger.Errorf("txqueue: could not store request of %x: %v", hash, err)
	}

	q.publisher.Publish(event.Event{
		Kind:          event.TxSent,
		CorrelationID: e.CorrelationID,
		OperationID:   e.OperationID,
		Hash:          hash,
		RetryOf:       e.RetryOf,
	})

	err = q.tracker.Track(confirmation.InFlight{
		Hash:          hash,
		CorrelationID: e.CorrelationID,
		OperationID:   e.OperationID,
		RetryOf:       e.RetryOf,
	}, q.retry(e))
	if err != nil {
		logger.Errorf("txqueue: could not track %x: %v", hash, err)
		q.publisher.Publish(event.Event{
			Kind:          event.TxError,
			CorrelationID: e.CorrelationID,
			OperationID:   e.OperationID,
			Hash:          hash,
			RetryOf:       e.RetryOf,
			Err:           err,
		})
	}
}

func (q *Queue) send(ctx context.Context, e Entry) (common.Hash, error) {
	c, err := q.binder.Bind(ctx, e.Contract)
	if err != nil {
		return common.Hash{}, fmt.Errorf("bind %s: %w", e.Contract, err)
	}
	method, err := c.Method(e.Method)
	if err != nil {
		return common.Hash{}, err
	}
	args, err := contract.ParseArgs(method, e.Args)
	if err != nil {
		return common.Hash{}, err
	}

	opts := e.Options
	if e.GasOverride > 0 {
		opts.GasLimit = e.GasOverride
	}
	if e.IsRetry() {
		opts.Nonce = nil
	}

	return c.Send(ctx, opts, e.Method, args...)
}

// retry returns the failure handler that resubmits e once with the gas
// limit raised by half and the nonce left to the transaction service.
func (q *Queue) retry(e Entry) confirmation.FailureFunc {
	return func(tx confirmation.InFlight, receipt *types.Receipt) error {
		gas := e.Options.GasLimit
		if e.GasOverride > 0 {
			gas = e.GasOverride
		}
		if stored, err := q.txs.StoredTransaction(tx.Hash); err == nil && stored.GasLimit > gas {
			gas = stored.GasLimit
		}
		if receipt != nil && receipt.GasUsed > gas {
			gas = receipt.GasUsed
		}

		r := e
		r.RetryOf = tx.Hash
		r.GasOverride = gas * 3 / 2
		r.Options.Nonce = nil

		if err := q.Enqueue(r); err != nil {
			return err
		}
		q.metrics.Retries.Inc()
		q.logger.Debugf("txqueue: resubmitting %s after failure of %x with gas %d", e.CorrelationID, tx.Hash, r.GasOverride)
		return nil
	}
}

// StoredRequest returns the request that was submitted as txHash.
func (q *Queue) StoredRequest(txHash common.Hash) (*StoredRequest, error) {
	var r StoredRequest
	if err := q.store.Get(requestKey(txHash), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Len returns the number of entries waiting for submission.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Close stops the drain loop. Waiting entries are dropped.
func (q *Queue) Close() error {
	q.mu.Lock()
	q.closed = true
	dropped := len(q.entries)
	q.entries = nil
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()

	if dropped > 0 {
		q.logger.Warningf("txqueue: dropped %d unsubmitted entries", dropped)
	}
	return nil
}

func requestKey(txHash common.Hash) string {
	return fmt.Sprintf("%s%x", requestKeyPrefix, txHash)
}
