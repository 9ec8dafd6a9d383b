// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dispatcher owns the node connection, the contract bindings and
// the send and call paths built on them. It accepts requests in their
// message form and reports their progress as events.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethersphere/ledgerclient/pkg/callqueue"
	"github.com/ethersphere/ledgerclient/pkg/confirmation"
	"github.com/ethersphere/ledgerclient/pkg/contract"
	"github.com/ethersphere/ledgerclient/pkg/event"
	"github.com/ethersphere/ledgerclient/pkg/logging"
	m "github.com/ethersphere/ledgerclient/pkg/metrics"
	"github.com/ethersphere/ledgerclient/pkg/operation"
	"github.com/ethersphere/ledgerclient/pkg/resolver"
	"github.com/ethersphere/ledgerclient/pkg/storage"
	"github.com/ethersphere/ledgerclient/pkg/tracing"
	"github.com/ethersphere/ledgerclient/pkg/transaction"
	"github.com/ethersphere/ledgerclient/pkg/txqueue"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// Connection is the node connection the bindings are derived from.
type Connection interface {
	Endpoint() string
	Reconnect(ctx context.Context) error
}

type Options struct {
	TxInFlightLimit       int
	CallInFlightLimit     int
	CallsPerSecond        float64
	ConfirmationDepth     uint64
	PendingTimeout        time.Duration
	BackoffInterval       time.Duration
	CallTimeout           time.Duration
	OperationPollInterval time.Duration
	BindingCacheSize      int
}

type Dispatcher struct {
	logger     logging.Logger
	conn       Connection
	tx         transaction.Service
	tracer     *tracing.Tracer
	bus        *event.Bus
	bindings   *registry
	tracker    *confirmation.Tracker
	txQueue    *txqueue.Queue
	callQueue  *callqueue.Queue
	aggregator *operation.Aggregator
	metrics    metrics
}

func New(logger logging.Logger, conn Connection, tx transaction.Service, r resolver.Interface, store storage.StateStorer, tracer *tracing.Tracer, o Options) (*Dispatcher, error) {
	d := &Dispatcher{
		logger:  logger,
		conn:    conn,
		tx:      tx,
		tracer:  tracer,
		bus:     event.NewBus(),
		metrics: newMetrics(),
	}

	bindings, err := newRegistry(r, tx, contract.Options{
		CallTimeout:   o.CallTimeout,
		NotResponding: d.notResponding,
	}, o.BindingCacheSize)
	if err != nil {
		return nil, err
	}
	d.bindings = bindings

	d.tracker = confirmation.New(logger, tx, d.bus, confirmation.Options{
		Depth:          o.ConfirmationDepth,
		PendingTimeout: o.PendingTimeout,
	})
	d.txQueue = txqueue.New(logger, bindings, tx, d.tracker, d.bus, store, tracer, txqueue.Options{
		InFlightLimit:   o.TxInFlightLimit,
		BackoffInterval: o.BackoffInterval,
	})
	d.callQueue = callqueue.New(logger, bindings, d.bus, tracer, callqueue.Options{
		InFlightLimit:  o.CallInFlightLimit,
		CallsPerSecond: o.CallsPerSecond,
	})
	d.aggregator = operation.New(logger, d.txQueue, operation.Options{
		PollInterval: o.OperationPollInterval,
	})

	return d, nil
}

// Start begins processing both queues.
func (d *Dispatcher) Start() {
	d.aggregator.Start(d.bus)
	d.txQueue.Start()
	d.callQueue.Start()
}

func (d *Dispatcher) notResponding(c *contract.Contract, method string) {
	d.metrics.NotResponding.Inc()
	d.logger.Warningf("node %s not responding to %s.%s", d.conn.Endpoint(), c, method)
}

func (d *Dispatcher) checkEndpoint(endpoint string) error {
	if endpoint != "" && endpoint != d.conn.Endpoint() {
		return fmt.Errorf("%w: %s", ErrEndpointMismatch, endpoint)
	}
	return nil
}

func (d *Dispatcher) carrier(ctx context.Context) tracing.Carrier {
	c, err := d.tracer.InjectCarrier(ctx)
	if err != nil {
		return nil
	}
	return c
}

// SubmitSend enqueues a send request and returns its correlation id, which
// is generated if the request has none.
func (d *Dispatcher) SubmitSend(ctx context.Context, r SendRequest) (string, error) {
	if err := validate(r.ContractAddress, r.ContractABI, r.MethodName); err != nil {
		return "", err
	}
	if err := d.checkEndpoint(r.NodeEndpoint); err != nil {
		return "", err
	}
	if r.CorrelationID == "" {
		r.CorrelationID = uuid.New().String()
	}

	e := txqueue.Entry{
		CorrelationID: r.CorrelationID,
		OperationID:   r.OperationID,
		Contract:      r.ref(),
		Method:        r.MethodName,
		Args:          r.Args,
		Options:       r.SenderOptions,
		GasOverride:   r.GasOverride,
		Trace:         d.carrier(ctx),
	}
	if r.RetryOfHash != nil {
		e.RetryOf = *r.RetryOfHash
		e.Options.Nonce = nil
	}

	if e.OperationID != "" && !e.IsRetry() {
		d.aggregator.Register(e.OperationID)
	}
	if err := d.txQueue.Enqueue(e); err != nil {
		if e.OperationID != "" && !e.IsRetry() {
			d.aggregator.Apply(event.Event{
				Kind:          event.TxFailed,
				CorrelationID: e.CorrelationID,
				OperationID:   e.OperationID,
				Err:           err,
			})
		}
		return "", err
	}

	d.metrics.Sends.Inc()
	return r.CorrelationID, nil
}

// SubmitCall enqueues a call request and returns its correlation id, which
// is generated if the request has none.
func (d *Dispatcher) SubmitCall(ctx context.Context, r CallRequest) (string, error) {
	if err := validate(r.ContractAddress, r.ContractABI, r.MethodName); err != nil {
		return "", err
	}
	if err := d.checkEndpoint(r.NodeEndpoint); err != nil {
		return "", err
	}
	if r.CorrelationID == "" {
		r.CorrelationID = uuid.New().String()
	}

	err := d.callQueue.Enqueue(callqueue.Entry{
		CorrelationID: r.CorrelationID,
		Contract:      r.ref(),
		Method:        r.MethodName,
		Args:          r.Args,
		Trace:         d.carrier(ctx),
	})
	if err != nil {
		return "", err
	}

	d.metrics.Calls.Inc()
	return r.CorrelationID, nil
}

// Subscribe delivers all events to ch. A subscriber whose channel is full
// when an event is published is dropped with event.ErrSubscriberTooSlow.
func (d *Dispatcher) Subscribe(ch chan<- event.Event) event.Subscription {
	return d.bus.SubscribeNonBlocking(ch)
}

func (d *Dispatcher) OperationState(id string) (operation.State, bool) {
	return d.aggregator.State(id)
}

func (d *Dispatcher) AwaitOperation(ctx context.Context, id string) (operation.State, error) {
	return d.aggregator.AwaitCompletion(ctx, id)
}

// WaitLanded waits until the transaction reached the landed depth.
func (d *Dispatcher) WaitLanded(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return d.tx.WaitForReceipt(ctx, txHash)
}

func (d *Dispatcher) StoredRequest(txHash common.Hash) (*txqueue.StoredRequest, error) {
	return d.txQueue.StoredRequest(txHash)
}

func (d *Dispatcher) StoredTransaction(txHash common.Hash) (*transaction.StoredTransaction, error) {
	return d.tx.StoredTransaction(txHash)
}

func (d *Dispatcher) PendingTransactions() ([]common.Hash, error) {
	return d.tx.PendingTransactions()
}

// ResendTransaction broadcasts a stored signed transaction again.
func (d *Dispatcher) ResendTransaction(ctx context.Context, txHash common.Hash) error {
	return d.tx.ResendTransaction(ctx, txHash)
}

// Status is a snapshot of the dispatcher load.
type Status struct {
	Endpoint        string `json:"endpoint"`
	QueuedSends     int    `json:"queuedSends"`
	UnresolvedSends int    `json:"unresolvedSends"`
	QueuedCalls     int    `json:"queuedCalls"`
	InFlightCalls   int    `json:"inFlightCalls"`
	Bindings        int    `json:"bindings"`
}

func (d *Dispatcher) Status() Status {
	return Status{
		Endpoint:        d.conn.Endpoint(),
		QueuedSends:     d.txQueue.Len(),
		UnresolvedSends: d.tracker.Unresolved(),
		QueuedCalls:     d.callQueue.Len(),
		InFlightCalls:   d.callQueue.InFlight(),
		Bindings:        d.bindings.len(),
	}
}

// Reconnect re-dials the node and resolves every named binding again.
// Binding lookups of both queues wait until it is done.
func (d *Dispatcher) Reconnect(ctx context.Context) error {
	d.metrics.Reconnects.Inc()
	d.logger.Infof("reconnecting to %s", d.conn.Endpoint())

	err := d.bindings.rebind(func() error {
		return d.conn.Reconnect(ctx)
	})
	if err != nil {
		d.logger.Errorf("reconnect to %s: %v", d.conn.Endpoint(), err)
		return err
	}
	return nil
}

func (d *Dispatcher) Metrics() []m.Collector {
	collectors := m.PrometheusCollectorsFromFields(d.metrics)
	collectors = append(collectors, d.txQueue.Metrics()...)
	collectors = append(collectors, d.callQueue.Metrics()...)
	collectors = append(collectors, d.tracker.Metrics()...)
	return collectors
}

// Close stops both queues and the tracker and ends all subscriptions.
func (d *Dispatcher) Close() error {
	var mErr *multierror.Error

	if err := d.txQueue.Close(); err != nil {
		mErr = multierror.Append(mErr, fmt.Errorf("send queue: %w", err))
	}
	if err := d.callQueue.Close(); err != nil {
		mErr = multierror.Append(mErr, fmt.Errorf("call queue: %w", err))
	}
	if err := d.tracker.Close(); err != nil {
		mErr = multierror.Append(mErr, fmt.Errorf("tracker: %w", err))
	}
	if err := d.aggregator.Close(); err != nil {
		mErr = multierror.Append(mErr, fmt.Errorf("aggregator: %w", err))
	}
	d.bus.Close()

	return mErr.ErrorOrNil()
}
