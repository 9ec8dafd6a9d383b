// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dispatcher_test

import (
	"context"
	"encoding/json"
	"errors"
	"io/ioutil"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethersphere/ledgerclient/pkg/contract"
	"github.com/ethersphere/ledgerclient/pkg/dispatcher"
	"github.com/ethersphere/ledgerclient/pkg/event"
	"github.com/ethersphere/ledgerclient/pkg/logging"
	"github.com/ethersphere/ledgerclient/pkg/resolver"
	resolvermock "github.com/ethersphere/ledgerclient/pkg/resolver/mock"
	statestoremock "github.com/ethersphere/ledgerclient/pkg/statestore/mock"
	"github.com/ethersphere/ledgerclient/pkg/transaction"
	transactionmock "github.com/ethersphere/ledgerclient/pkg/transaction/mock"
)

const (
	endpoint    = "ws://node:8546"
	waitTimeout = 5 * time.Second
	tokenABI    = `[
		{"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
		{"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
	]`
)

var (
	tokenAddress = common.HexToAddress("0x1111111111111111111111111111111111111111")
	owner        = common.HexToAddress("0x2222222222222222222222222222222222222222")
	parsedABI    = transaction.ParseABIUnchecked(tokenABI)
)

type connection struct {
	mu         sync.Mutex
	reconnects int
	onConnect  func()
	err        error
}

func (c *connection) Endpoint() string {
	return endpoint
}

func (c *connection) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.reconnects++
	if c.onConnect != nil {
		c.onConnect()
	}
	return nil
}

var errNodeRejected = errors.New("node rejected transaction")

func newDispatcher(t *testing.T, conn *connection, tx transaction.Service, r resolver.Interface) *dispatcher.Dispatcher {
	t.Helper()

	d, err := dispatcher.New(logging.New(ioutil.Discard, 0), conn, tx, r, statestoremock.NewStateStore(), nil, dispatcher.Options{
		BackoffInterval:       5 * time.Millisecond,
		OperationPollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	d.Start()
	t.Cleanup(func() {
		if err := d.Close(); err != nil {
			t.Error(err)
		}
	})
	return d
}

func transfer(operationID string, amount int) dispatcher.SendRequest {
	return dispatcher.SendRequest{
		OperationID:     operationID,
		ContractAddress: tokenAddress.Hex(),
		ContractABI:     dispatcher.ABI(tokenABI),
		ContractName:    "token",
		NodeEndpoint:    endpoint,
		MethodName:      "transfer",
		SenderOptions:   contract.SendOptions{From: owner},
		Args: []json.RawMessage{
			json.RawMessage(`"` + owner.Hex() + `"`),
			json.RawMessage(`"` + big.NewInt(int64(amount)).String() + `"`),
		},
	}
}

func TestOperationWithRetry(t *testing.T) {
	c := transactionmock.NewChain(transactionmock.Hash(3))
	d := newDispatcher(t, &connection{}, c.Service(), nil)

	for i := 1; i <= 3; i++ {
		id, err := d.SubmitSend(context.Background(), transfer("7", i))
		if err != nil {
			t.Fatal(err)
		}
		if id == "" {
			t.Fatal("no correlation id assigned")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	s, err := d.AwaitOperation(ctx, "7")
	if err != nil {
		t.Fatal(err)
	}
	if s.Total != 3 || s.Finished != 3 || s.Confirmed != 2 || len(s.Rejected) != 1 || len(s.Sent) != 3 {
		t.Fatalf("got state %+v, want total 3 finished 3 confirmed 2 rejected 1 sent 3", s)
	}
	if s.Rejected[0].Hash != transactionmock.Hash(3) {
		t.Fatalf("got rejected %x, want the reverted transaction", s.Rejected[0].Hash)
	}

	retry := c.Request(3)
	if retry.GasLimit != 150000 {
		t.Fatalf("got retry gas limit %d, want 150000", retry.GasLimit)
	}
	if retry.Nonce != nil {
		t.Fatal("retry kept the nonce")
	}
	if retry.From != owner {
		t.Fatalf("got retry sender %x", retry.From)
	}

	stored, err := d.StoredRequest(transactionmock.Hash(4))
	if err != nil {
		t.Fatal(err)
	}
	if stored.RetryOf != transactionmock.Hash(3) || stored.GasOverride != 150000 {
		t.Fatalf("got stored retry %+v", stored)
	}
}

func TestOperationRetryRejected(t *testing.T) {
	for i := 0; i < 50; i++ {
		c := transactionmock.NewChain(transactionmock.Hash(1)).RejectAfter(1, errNodeRejected)
		d := newDispatcher(t, &connection{}, c.Service(), nil)

		if _, err := d.SubmitSend(context.Background(), transfer("op", 1)); err != nil {
			t.Fatal(err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		s, err := d.AwaitOperation(ctx, "op")
		cancel()
		if err != nil {
			t.Fatal(err)
		}
		if s.Total != 1 || s.Finished != 1 || s.Confirmed != 0 || len(s.Rejected) != 1 {
			t.Fatalf("run %d: got state %+v, want total 1 finished 1 confirmed 0 rejected 1", i, s)
		}
		if s.Rejected[0].Hash != transactionmock.Hash(1) {
			t.Fatalf("run %d: got rejected %x, want the reverted transaction", i, s.Rejected[0].Hash)
		}
	}
}

func TestSubmitSendEvents(t *testing.T) {
	c := transactionmock.NewChain()
	d := newDispatcher(t, &connection{}, c.Service(), nil)

	events := make(chan event.Event, 100)
	sub := d.Subscribe(events)
	defer sub.Unsubscribe()

	req := transfer("", 5)
	req.CorrelationID = "abc"
	if _, err := d.SubmitSend(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	var kinds []event.Kind
	for {
		select {
		case e := <-events:
			if e.CorrelationID != "abc" {
				t.Fatalf("got event %v for another request", e)
			}
			kinds = append(kinds, e.Kind)
			if e.Kind == event.TxConfirmation && e.ConfirmationNumber != uint64(len(kinds)-1) {
				t.Fatalf("got confirmation %d out of order", e.ConfirmationNumber)
			}
		case <-time.After(waitTimeout):
			t.Fatalf("timeout waiting for events, got %v", kinds)
		}
		if kinds[len(kinds)-1].Terminal() {
			break
		}
	}

	want := []event.Kind{event.TxSent, event.TxConfirmation, event.TxConfirmation, event.TxConfirmation, event.TxConfirmed}
	if len(kinds) != len(want) {
		t.Fatalf("got events %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("got events %v, want %v", kinds, want)
		}
	}
}

func TestSubmitValidation(t *testing.T) {
	d := newDispatcher(t, &connection{}, transactionmock.NewChain().Service(), nil)

	req := transfer("", 1)
	req.NodeEndpoint = "http://other:8545"
	if _, err := d.SubmitSend(context.Background(), req); !errors.Is(err, dispatcher.ErrEndpointMismatch) {
		t.Fatalf("got error %v, want %v", err, dispatcher.ErrEndpointMismatch)
	}

	req = transfer("", 1)
	req.MethodName = ""
	if _, err := d.SubmitSend(context.Background(), req); !errors.Is(err, dispatcher.ErrInvalidRequest) {
		t.Fatalf("got error %v, want %v", err, dispatcher.ErrInvalidRequest)
	}

	call := dispatcher.CallRequest{ContractAddress: tokenAddress.Hex(), MethodName: "balanceOf"}
	if _, err := d.SubmitCall(context.Background(), call); !errors.Is(err, dispatcher.ErrInvalidRequest) {
		t.Fatalf("got error %v, want %v", err, dispatcher.ErrInvalidRequest)
	}

	if _, ok := d.OperationState("none"); ok {
		t.Fatal("unknown operation reported")
	}
}

func TestSubmitCall(t *testing.T) {
	balance, err := parsedABI.Methods["balanceOf"].Outputs.Pack(big.NewInt(1000))
	if err != nil {
		t.Fatal(err)
	}
	c := transactionmock.NewChain()
	d := newDispatcher(t, &connection{}, c.Service(
		transactionmock.WithABICall(&parsedABI, tokenAddress, balance, "balanceOf", owner),
	), nil)

	events := make(chan event.Event, 10)
	sub := d.Subscribe(events)
	defer sub.Unsubscribe()

	id, err := d.SubmitCall(context.Background(), dispatcher.CallRequest{
		ContractAddress: tokenAddress.Hex(),
		ContractABI:     dispatcher.ABI(tokenABI),
		MethodName:      "balanceOf",
		Args:            []json.RawMessage{json.RawMessage(`"` + owner.Hex() + `"`)},
	})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case e := <-events:
		if e.Kind != event.CallResult || e.CorrelationID != id || e.Err != nil {
			t.Fatalf("got event %v", e)
		}
		if len(e.Result) != 1 || e.Result[0] != "1000" {
			t.Fatalf("got result %v", e.Result)
		}
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for call result")
	}
}

func TestReconnectRebinds(t *testing.T) {
	first := common.HexToAddress("0xaaaa000000000000000000000000000000000001")
	second := common.HexToAddress("0xaaaa000000000000000000000000000000000002")

	var mu sync.Mutex
	target := first
	r := resolvermock.NewResolver(resolvermock.WithResolveFunc(func(name string) (common.Address, error) {
		mu.Lock()
		defer mu.Unlock()
		return target, nil
	}))

	calls := make(chan common.Address, 10)
	balance, err := parsedABI.Methods["balanceOf"].Outputs.Pack(big.NewInt(1))
	if err != nil {
		t.Fatal(err)
	}
	tx := transactionmock.NewChain().Service(transactionmock.WithCallFunc(func(ctx context.Context, request *transaction.TxRequest) ([]byte, error) {
		calls <- *request.To
		return balance, nil
	}))

	conn := &connection{onConnect: func() {
		mu.Lock()
		target = second
		mu.Unlock()
	}}
	d := newDispatcher(t, conn, tx, r)

	events := make(chan event.Event, 10)
	sub := d.Subscribe(events)
	defer sub.Unsubscribe()

	call := func() common.Address {
		t.Helper()
		_, err := d.SubmitCall(context.Background(), dispatcher.CallRequest{
			ContractAddress: "token.eth",
			ContractABI:     dispatcher.ABI(tokenABI),
			MethodName:      "balanceOf",
			Args:            []json.RawMessage{json.RawMessage(`"` + owner.Hex() + `"`)},
		})
		if err != nil {
			t.Fatal(err)
		}
		select {
		case <-events:
		case <-time.After(waitTimeout):
			t.Fatal("timeout waiting for call result")
		}
		return <-calls
	}

	if got := call(); got != first {
		t.Fatalf("got call to %x, want %x", got, first)
	}
	if got := call(); got != first {
		t.Fatalf("got call to %x before reconnect, want cached %x", got, first)
	}
	if d.Status().Bindings != 1 {
		t.Fatalf("got %d bindings, want 1", d.Status().Bindings)
	}

	if err := d.Reconnect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if conn.reconnects != 1 {
		t.Fatalf("got %d reconnects, want 1", conn.reconnects)
	}

	if got := call(); got != second {
		t.Fatalf("got call to %x after reconnect, want %x", got, second)
	}
}

func TestReconnectError(t *testing.T) {
	dialErr := errors.New("dial refused")
	d := newDispatcher(t, &connection{err: dialErr}, transactionmock.NewChain().Service(), nil)

	if err := d.Reconnect(context.Background()); !errors.Is(err, dialErr) {
		t.Fatalf("got error %v, want %v", err, dialErr)
	}
}

func TestWaitLanded(t *testing.T) {
	hash := common.HexToHash("0x01")
	tx := transactionmock.NewChain().Service(transactionmock.WithWaitForReceiptFunc(func(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
		if txHash != hash {
			return nil, transaction.ErrUnknownTransaction
		}
		return &types.Receipt{TxHash: hash, Status: types.ReceiptStatusSuccessful}, nil
	}))
	d := newDispatcher(t, &connection{}, tx, nil)

	receipt, err := d.WaitLanded(context.Background(), hash)
	if err != nil {
		t.Fatal(err)
	}
	if receipt.TxHash != hash {
		t.Fatalf("got receipt of %x", receipt.TxHash)
	}
}
