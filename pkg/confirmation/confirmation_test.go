// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package confirmation_test

import (
	"context"
	"errors"
	"io/ioutil"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethersphere/ledgerclient/pkg/confirmation"
	"github.com/ethersphere/ledgerclient/pkg/event"
	"github.com/ethersphere/ledgerclient/pkg/logging"
	"github.com/ethersphere/ledgerclient/pkg/transaction"
	transactionmock "github.com/ethersphere/ledgerclient/pkg/transaction/mock"
)

const waitTimeout = 5 * time.Second

type recorder struct {
	mu     sync.Mutex
	events []event.Event
	c      chan event.Event
}

func newRecorder() *recorder {
	return &recorder{c: make(chan event.Event, 100)}
}

func (r *recorder) Publish(e event.Event) int {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	r.c <- e
	return 1
}

func (r *recorder) next(t *testing.T) event.Event {
	t.Helper()
	select {
	case e := <-r.c:
		return e
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for event")
	}
	return event.Event{}
}

func (r *recorder) expectNone(t *testing.T) {
	t.Helper()
	select {
	case e := <-r.c:
		t.Fatalf("unexpected event %v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

type watch struct {
	confirmC chan transaction.Confirmation
	errC     chan error
}

func watcher(t *testing.T, depth uint64) (transaction.Service, chan watch) {
	t.Helper()

	watches := make(chan watch, 10)
	return transactionmock.New(transactionmock.WithWatchSentTransactionFunc(func(ctx context.Context, txHash common.Hash, d uint64) (<-chan transaction.Confirmation, <-chan error, error) {
		if d != depth {
			t.Errorf("got watch depth %d, want %d", d, depth)
		}
		w := watch{
			confirmC: make(chan transaction.Confirmation, 10),
			errC:     make(chan error, 1),
		}
		watches <- w
		return w.confirmC, w.errC, nil
	})), watches
}

func nextWatch(t *testing.T, watches chan watch) watch {
	t.Helper()
	select {
	case w := <-watches:
		return w
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for watch")
	}
	return watch{}
}

func confirmationNumber(hash common.Hash, n uint64) transaction.Confirmation {
	return transaction.Confirmation{
		Number: n,
		Receipt: types.Receipt{
			TxHash:      hash,
			Status:      types.ReceiptStatusSuccessful,
			BlockNumber: big.NewInt(100),
			GasUsed:     21000,
		},
	}
}

func TestTrackConfirmed(t *testing.T) {
	logger := logging.New(ioutil.Discard, 0)
	svc, watches := watcher(t, 4)
	rec := newRecorder()

	tracker := confirmation.New(logger, svc, rec, confirmation.Options{Depth: 4})
	defer tracker.Close()

	hash := common.HexToHash("0x01")
	err := tracker.Track(confirmation.InFlight{Hash: hash, CorrelationID: "c1", OperationID: "7"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if tracker.Unresolved() != 1 {
		t.Fatalf("got %d unresolved, want 1", tracker.Unresolved())
	}

	w := nextWatch(t, watches)
	for n := uint64(1); n < 4; n++ {
		w.confirmC <- confirmationNumber(hash, n)
		e := rec.next(t)
		if e.Kind != event.TxConfirmation || e.ConfirmationNumber != n {
			t.Fatalf("got event %v, want confirmation %d", e, n)
		}
		if e.CorrelationID != "c1" || e.OperationID != "7" {
			t.Fatalf("event not tagged: %v", e)
		}
	}

	if f, ok := tracker.Get(hash); !ok || f.ConfirmationsSeen != 3 || f.Resolved {
		t.Fatalf("got in flight %+v, want 3 confirmations", f)
	}

	w.confirmC <- confirmationNumber(hash, 4)
	e := rec.next(t)
	if e.Kind != event.TxConfirmed || e.Receipt == nil || e.Receipt.TxHash != hash {
		t.Fatalf("got event %v, want confirmed", e)
	}

	w.errC <- errors.New("late failure")
	rec.expectNone(t)

	if tracker.Unresolved() != 0 {
		t.Fatalf("got %d unresolved, want 0", tracker.Unresolved())
	}
}

func TestTrackDuplicateConfirmations(t *testing.T) {
	logger := logging.New(ioutil.Discard, 0)
	svc, watches := watcher(t, 2)
	rec := newRecorder()

	tracker := confirmation.New(logger, svc, rec, confirmation.Options{Depth: 2})
	defer tracker.Close()

	hash := common.HexToHash("0x01")
	if err := tracker.Track(confirmation.InFlight{Hash: hash}, nil); err != nil {
		t.Fatal(err)
	}

	w := nextWatch(t, watches)
	w.confirmC <- confirmationNumber(hash, 1)
	w.confirmC <- confirmationNumber(hash, 1)
	w.confirmC <- confirmationNumber(hash, 2)

	if e := rec.next(t); e.Kind != event.TxConfirmation {
		t.Fatalf("got event %v, want confirmation", e)
	}
	if e := rec.next(t); e.Kind != event.TxConfirmed {
		t.Fatalf("got event %v, want confirmed", e)
	}
	rec.expectNone(t)
}

func TestTrackAlreadyTracked(t *testing.T) {
	logger := logging.New(ioutil.Discard, 0)
	svc, _ := watcher(t, confirmation.DefaultDepth)

	tracker := confirmation.New(logger, svc, newRecorder(), confirmation.Options{})
	defer tracker.Close()

	hash := common.HexToHash("0x01")
	if err := tracker.Track(confirmation.InFlight{Hash: hash}, nil); err != nil {
		t.Fatal(err)
	}
	if err := tracker.Track(confirmation.InFlight{Hash: hash}, nil); !errors.Is(err, confirmation.ErrAlreadyTracked) {
		t.Fatalf("got error %v, want %v", err, confirmation.ErrAlreadyTracked)
	}
}

func TestTrackRevertedRetries(t *testing.T) {
	logger := logging.New(ioutil.Discard, 0)
	svc, watches := watcher(t, 4)
	rec := newRecorder()

	tracker := confirmation.New(logger, svc, rec, confirmation.Options{Depth: 4})
	defer tracker.Close()

	hash := common.HexToHash("0x01")
	failures := make(chan *types.Receipt, 2)
	onFailure := func(tx confirmation.InFlight, receipt *types.Receipt) error {
		if tx.Hash != hash {
			t.Errorf("failure for %x", tx.Hash)
		}
		rec.mu.Lock()
		published := len(rec.events) > 0 && rec.events[len(rec.events)-1].Kind == event.TxError
		rec.mu.Unlock()
		if !published {
			t.Error("resubmitted before the error of the original was published")
		}
		failures <- receipt
		return nil
	}

	if err := tracker.Track(confirmation.InFlight{Hash: hash, OperationID: "7"}, onFailure); err != nil {
		t.Fatal(err)
	}

	w := nextWatch(t, watches)
	w.confirmC <- confirmationNumber(hash, 1)
	if e := rec.next(t); e.Kind != event.TxConfirmation {
		t.Fatalf("got event %v, want confirmation", e)
	}

	w.errC <- &transaction.RevertedError{Receipt: types.Receipt{TxHash: hash, GasUsed: 50000, Status: types.ReceiptStatusFailed}}

	e := rec.next(t)
	if e.Kind != event.TxError || !e.Retrying {
		t.Fatalf("got event %v, want retrying error", e)
	}
	if !errors.Is(e.Err, transaction.ErrTransactionReverted) {
		t.Fatalf("got error %v, want %v", e.Err, transaction.ErrTransactionReverted)
	}

	select {
	case receipt := <-failures:
		if receipt == nil || receipt.GasUsed != 50000 {
			t.Fatalf("got receipt %v", receipt)
		}
	case <-time.After(waitTimeout):
		t.Fatal("failure callback not invoked")
	}

	w.confirmC <- confirmationNumber(hash, 2)
	rec.expectNone(t)
	if len(failures) != 0 {
		t.Fatal("failure handled twice")
	}
}

func TestTrackRetryNotRetried(t *testing.T) {
	logger := logging.New(ioutil.Discard, 0)
	svc, watches := watcher(t, 4)
	rec := newRecorder()

	tracker := confirmation.New(logger, svc, rec, confirmation.Options{})
	defer tracker.Close()

	called := false
	hash := common.HexToHash("0x02")
	err := tracker.Track(confirmation.InFlight{Hash: hash, RetryOf: common.HexToHash("0x01")}, func(confirmation.InFlight, *types.Receipt) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	w := nextWatch(t, watches)
	w.errC <- &transaction.RevertedError{Receipt: types.Receipt{TxHash: hash}}

	e := rec.next(t)
	if e.Kind != event.TxError || e.Retrying || !e.IsRetry() {
		t.Fatalf("got event %v, want final error of retry", e)
	}
	if called {
		t.Fatal("retry of a retry")
	}
}

func TestTrackRetryRefused(t *testing.T) {
	logger := logging.New(ioutil.Discard, 0)
	svc, watches := watcher(t, 4)
	rec := newRecorder()

	tracker := confirmation.New(logger, svc, rec, confirmation.Options{})
	defer tracker.Close()

	hash := common.HexToHash("0x01")
	refused := errors.New("queue closed")
	err := tracker.Track(confirmation.InFlight{Hash: hash, CorrelationID: "c", OperationID: "op"}, func(confirmation.InFlight, *types.Receipt) error {
		return refused
	})
	if err != nil {
		t.Fatal(err)
	}

	nextWatch(t, watches).errC <- transaction.ErrTransactionCancelled

	if e := rec.next(t); e.Kind != event.TxError || !e.Retrying || e.Hash != hash {
		t.Fatalf("got event %v, want retrying error of the original", e)
	}

	e := rec.next(t)
	if e.Kind != event.TxFailed || e.RetryOf != hash || e.CorrelationID != "c" || e.OperationID != "op" {
		t.Fatalf("got event %v, want failed retry of %x", e, hash)
	}
	if !errors.Is(e.Err, refused) {
		t.Fatalf("got error %v, want %v", e.Err, refused)
	}
	rec.expectNone(t)
}

func TestTrackNodeErrorNotRetried(t *testing.T) {
	logger := logging.New(ioutil.Discard, 0)
	svc, watches := watcher(t, 4)
	rec := newRecorder()

	tracker := confirmation.New(logger, svc, rec, confirmation.Options{})
	defer tracker.Close()

	called := false
	err := tracker.Track(confirmation.InFlight{Hash: common.HexToHash("0x01")}, func(confirmation.InFlight, *types.Receipt) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	nextWatch(t, watches).errC <- transaction.ErrMonitorClosed

	if e := rec.next(t); e.Kind != event.TxError || e.Retrying {
		t.Fatalf("got event %v, want non retrying error", e)
	}
	if called {
		t.Fatal("retried a transaction that did not fail on chain")
	}
}

func TestTrackPendingTimeout(t *testing.T) {
	logger := logging.New(ioutil.Discard, 0)
	svc, watches := watcher(t, 4)
	rec := newRecorder()

	tracker := confirmation.New(logger, svc, rec, confirmation.Options{PendingTimeout: 20 * time.Millisecond})
	defer tracker.Close()

	if err := tracker.Track(confirmation.InFlight{Hash: common.HexToHash("0x01")}, nil); err != nil {
		t.Fatal(err)
	}
	nextWatch(t, watches)

	e := rec.next(t)
	if e.Kind != event.TxError || !errors.Is(e.Err, confirmation.ErrConfirmationTimeout) {
		t.Fatalf("got event %v, want timeout", e)
	}
	if tracker.Unresolved() != 0 {
		t.Fatalf("got %d unresolved, want 0", tracker.Unresolved())
	}
}

func TestTrackWatchError(t *testing.T) {
	logger := logging.New(ioutil.Discard, 0)
	watchErr := errors.New("unknown transaction")
	svc := transactionmock.New(transactionmock.WithWatchSentTransactionFunc(func(ctx context.Context, txHash common.Hash, depth uint64) (<-chan transaction.Confirmation, <-chan error, error) {
		return nil, nil, watchErr
	}))

	tracker := confirmation.New(logger, svc, newRecorder(), confirmation.Options{})
	defer tracker.Close()

	if err := tracker.Track(confirmation.InFlight{Hash: common.HexToHash("0x01")}, nil); !errors.Is(err, watchErr) {
		t.Fatalf("got error %v, want %v", err, watchErr)
	}
	if tracker.Unresolved() != 0 {
		t.Fatalf("got %d unresolved, want 0", tracker.Unresolved())
	}
}

func TestClose(t *testing.T) {
	logger := logging.New(ioutil.Discard, 0)
	svc, watches := watcher(t, 4)
	rec := newRecorder()

	tracker := confirmation.New(logger, svc, rec, confirmation.Options{})
	if err := tracker.Track(confirmation.InFlight{Hash: common.HexToHash("0x01")}, nil); err != nil {
		t.Fatal(err)
	}
	nextWatch(t, watches)

	if err := tracker.Close(); err != nil {
		t.Fatal(err)
	}
	rec.expectNone(t)

	if err := tracker.Track(confirmation.InFlight{Hash: common.HexToHash("0x02")}, nil); !errors.Is(err, confirmation.ErrClosed) {
		t.Fatalf("got error %v, want %v", err, confirmation.ErrClosed)
	}
}
