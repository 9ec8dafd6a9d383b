// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package operation groups transactions under caller supplied operation ids
// and follows their aggregate progress from send path events.
package operation

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethersphere/ledgerclient/pkg/event"
	"github.com/ethersphere/ledgerclient/pkg/logging"
)

const DefaultPollInterval = time.Second

// Drainer re-drives the send queue.
type Drainer interface {
	Drain()
}

// Subscriber delivers events to a channel.
type Subscriber interface {
	Subscribe(ch chan<- event.Event) event.Subscription
}

// Rejection is a transaction of an operation that did not take effect.
type Rejection struct {
	CorrelationID string
	Hash          common.Hash
	Err           error
}

type rejectionJSON struct {
	CorrelationID string       `json:"correlationId"`
	Hash          *common.Hash `json:"hash,omitempty"`
	Error         string       `json:"error,omitempty"`
}

func (r Rejection) MarshalJSON() ([]byte, error) {
	v := rejectionJSON{CorrelationID: r.CorrelationID}
	if r.Hash != (common.Hash{}) {
		h := r.Hash
		v.Hash = &h
	}
	if r.Err != nil {
		v.Error = r.Err.Error()
	}
	return json.Marshal(v)
}

// State is the aggregate progress of an operation. Confirmed is Finished
// minus the number of rejections.
type State struct {
	OperationID string        `json:"operationId"`
	Total       int           `json:"total"`
	Finished    int           `json:"finished"`
	Confirmed   int           `json:"confirmed"`
	Rejected    []Rejection   `json:"rejected"`
	Sent        []common.Hash `json:"sent"`
}

// Done reports whether every transaction of the operation reached a
// terminal state.
func (s State) Done() bool {
	return s.Finished >= s.Total
}

type operation struct {
	total    int
	finished int
	rejected []Rejection
	sent     []common.Hash
}

func (o *operation) state(id string) State {
	return State{
		OperationID: id,
		Total:       o.total,
		Finished:    o.finished,
		Confirmed:   o.finished - len(o.rejected),
		Rejected:    append([]Rejection{}, o.rejected...),
		Sent:        append([]common.Hash{}, o.sent...),
	}
}

type Options struct {
	// PollInterval is the tick of AwaitCompletion. Every tick re-drives the
	// send queue.
	PollInterval time.Duration
}

type Aggregator struct {
	logger   logging.Logger
	drainer  Drainer
	interval time.Duration

	mu         sync.Mutex
	operations map[string]*operation
	changed    chan struct{}

	sub  event.Subscription
	quit chan struct{}
	wg   sync.WaitGroup
}

func New(logger logging.Logger, drainer Drainer, o Options) *Aggregator {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	return &Aggregator{
		logger:     logger,
		drainer:    drainer,
		interval:   o.PollInterval,
		operations: make(map[string]*operation),
		changed:    make(chan struct{}),
		quit:       make(chan struct{}),
	}
}

// get returns the operation, creating it if needed. Must be called with
// the lock held.
func (a *Aggregator) get(id string) *operation {
	o, ok := a.operations[id]
	if !ok {
		o = new(operation)
		a.operations[id] = o
	}
	return o
}

// notify wakes all waiters. Must be called with the lock held.
func (a *Aggregator) notify() {
	close(a.changed)
	a.changed = make(chan struct{})
}

// Register counts one more transaction for the operation.
func (a *Aggregator) Register(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.get(id).total++
	a.notify()
}

// State returns the state of the operation and whether it is known.
func (a *Aggregator) State(id string) (State, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	o, ok := a.operations[id]
	if !ok {
		return State{OperationID: id, Rejected: []Rejection{}, Sent: []common.Hash{}}, false
	}
	return o.state(id), true
}

// AwaitCompletion blocks until every registered transaction of the
// operation finished and returns the final state.
func (a *Aggregator) AwaitCompletion(ctx context.Context, id string) (State, error) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		a.mu.Lock()
		s := a.get(id).state(id)
		changed := a.changed
		a.mu.Unlock()

		if s.Done() {
			return s, nil
		}

		select {
		case <-changed:
		case <-ticker.C:
			if a.drainer != nil {
				a.drainer.Drain()
			}
		case <-ctx.Done():
			return s, ctx.Err()
		case <-a.quit:
			return s, context.Canceled
		}
	}
}

// Start consumes send path events from s.
func (a *Aggregator) Start(s Subscriber) {
	events := make(chan event.Event, 64)
	a.sub = s.Subscribe(events)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case e := <-events:
				a.Apply(e)
			case err := <-a.sub.Err():
				if err != nil {
					a.logger.Errorf("operation: event subscription: %v", err)
				}
				return
			case <-a.quit:
				return
			}
		}
	}()
}

// Apply updates the operation of e.
func (a *Aggregator) Apply(e event.Event) {
	if e.OperationID == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	o := a.get(e.OperationID)
	original := !e.IsRetry()
	rejection := Rejection{CorrelationID: e.CorrelationID, Hash: e.Hash, Err: e.Err}

	switch e.Kind {
	case event.TxSent:
		if original {
			o.sent = append(o.sent, e.Hash)
		}
	case event.TxConfirmed:
		o.finished++
	case event.TxFailed:
		o.finished++
		if original {
			o.rejected = append(o.rejected, rejection)
		}
	case event.TxError:
		if original {
			o.rejected = append(o.rejected, rejection)
		}
		if !e.Retrying {
			o.finished++
		}
	default:
		return
	}

	if o.finished == o.total && o.total > 0 && e.Kind.Terminal() {
		a.logger.Debugf("operation %s finished: %d of %d confirmed", e.OperationID, o.finished-len(o.rejected), o.total)
	}
	a.notify()
}

func (a *Aggregator) Close() error {
	close(a.quit)
	if a.sub != nil {
		a.sub.Unsubscribe()
	}
	a.wg.Wait()
	return nil
}
