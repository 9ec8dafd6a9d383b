// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package callqueue runs read only contract calls. Calls are admitted in
// FIFO order up to an in-flight limit and their outcome, result or error,
// is published as a CallResult event.
package callqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ethersphere/ledgerclient/pkg/contract"
	"github.com/ethersphere/ledgerclient/pkg/event"
	"github.com/ethersphere/ledgerclient/pkg/logging"
	"github.com/ethersphere/ledgerclient/pkg/tracing"
	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const DefaultInFlightLimit = 50

var (
	ErrClosed       = errors.New("queue closed")
	ErrInvalidEntry = errors.New("invalid entry")
)

// Binder returns the current binding of a contract reference.
type Binder interface {
	Bind(ctx context.Context, ref contract.Ref) (*contract.Contract, error)
}

// Publisher receives call results.
type Publisher interface {
	Publish(e event.Event) int
}

// Entry is a read call waiting for admission.
type Entry struct {
	CorrelationID string
	Contract      contract.Ref
	Method        string
	Args          []json.RawMessage
	Trace         tracing.Carrier
}

type Options struct {
	// InFlightLimit caps the number of calls awaiting a response.
	InFlightLimit int
	// CallsPerSecond limits the admission rate. Zero is unlimited.
	CallsPerSecond float64
}

type Queue struct {
	logger    logging.Logger
	binder    Binder
	publisher Publisher
	tracer    *tracing.Tracer
	sem       *semaphore.Weighted
	limiter   *rate.Limiter
	inFlight  *atomic.Int64
	metrics   metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	wake   chan struct{}

	mu      sync.Mutex
	entries []Entry
	started bool
	closed  bool
}

func New(logger logging.Logger, binder Binder, publisher Publisher, tracer *tracing.Tracer, o Options) *Queue {
	if o.InFlightLimit <= 0 {
		o.InFlightLimit = DefaultInFlightLimit
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if o.CallsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(o.CallsPerSecond), 1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Queue{
		logger:    logger,
		binder:    binder,
		publisher: publisher,
		tracer:    tracer,
		sem:       semaphore.NewWeighted(int64(o.InFlightLimit)),
		limiter:   limiter,
		inFlight:  atomic.NewInt64(0),
		metrics:   newMetrics(),
		ctx:       ctx,
		cancel:    cancel,
		wake:      make(chan struct{}, 1),
	}
}

// Enqueue appends e to the queue.
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
	q.metrics.QueueLength.Set(float64(len(q.entries)))
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Start runs the admission loop.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started || q.closed {
		return
	}
	q.started = true

	q.wg.Add(1)
	go q.admit()
}

// admit takes a slot and a token before the head leaves the queue, so
// waiting entries stay counted in Len.
func (q *Queue) admit() {
	defer q.wg.Done()

	for {
		if q.Len() == 0 {
			select {
			case <-q.wake:
				continue
			case <-q.ctx.Done():
				return
			}
		}

		if err := q.sem.Acquire(q.ctx, 1); err != nil {
			return
		}
		if err := q.limiter.Wait(q.ctx); err != nil {
			q.sem.Release(1)
			return
		}

		e, ok := q.pop()
		if !ok {
			q.sem.Release(1)
			continue
		}
		q.inFlight.Inc()
		q.metrics.InFlight.Inc()

		q.wg.Add(1)
		go q.run(e)
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

func (q *Queue) run(e Entry) {
	defer q.wg.Done()
	defer func() {
		q.inFlight.Dec()
		q.metrics.InFlight.Dec()
		q.sem.Release(1)
	}()

	ctx := q.ctx
	if len(e.Trace) > 0 {
		if c, err := q.tracer.WithContextFromCarrier(ctx, e.Trace); err == nil {
			ctx = c
		}
	}
	span, logger, ctx := q.tracer.StartSpanFromContext(ctx, "callqueue-call", q.logger)
	defer span.Finish()

	q.metrics.Calls.Inc()
	result, err := q.call(ctx, e)
	if err != nil {
		q.metrics.CallErrors.Inc()
		logger.Debugf("callqueue: call %s %s.%s: %v", e.CorrelationID, e.Contract, e.Method, err)
	}

	q.publisher.Publish(event.Event{
		Kind:          event.CallResult,
		CorrelationID: e.CorrelationID,
		Result:        result,
		Err:           err,
	})
}

func (q *Queue) call(ctx context.Context, e Entry) ([]interface{}, error) {
	c, err := q.binder.Bind(ctx, e.Contract)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", e.Contract, err)
	}
	method, err := c.Method(e.Method)
	if err != nil {
		return nil, err
	}
	args, err := contract.ParseArgs(method, e.Args)
	if err != nil {
		return nil, err
	}
	out, err := c.Call(ctx, e.Method, args...)
	if err != nil {
		return nil, err
	}
	return contract.FormatValues(out), nil
}

// Len returns the number of calls waiting for admission.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// InFlight returns the number of admitted calls without a response.
func (q *Queue) InFlight() int {
	return int(q.inFlight.Load())
}

// Close stops admission and waits for running calls, which are cancelled.
func (q *Queue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.entries = nil
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	return nil
}
