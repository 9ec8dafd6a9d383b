// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api_test

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethersphere/ledgerclient/pkg/event"
	"github.com/ethersphere/ledgerclient/pkg/jsonhttp/jsonhttptest"
	"github.com/gorilla/websocket"
)

func dialEvents(t *testing.T, ts *testServer, bus *event.Bus, query string) *websocket.Conn {
	t.Helper()

	conn := jsonhttptest.DialEvents(t, ts.URL, "/events"+query)

	// the subscription is made after the upgrade
	deadline := time.Now().Add(5 * time.Second)
	for bus.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event stream not subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

type message map[string]interface{}

func TestEvents(t *testing.T) {
	bus := event.NewBus()
	ts := newTestServer(t, &mockDispatcher{bus: bus})
	conn := dialEvents(t, ts, bus, "")

	hash := common.HexToHash("0x01")
	bus.Publish(event.Event{Kind: event.TxSent, CorrelationID: "c1", OperationID: "op", Hash: hash})
	bus.Publish(event.Event{Kind: event.TxConfirmation, CorrelationID: "c1", OperationID: "op", Hash: hash, ConfirmationNumber: 1})
	bus.Publish(event.Event{Kind: event.TxFailed, CorrelationID: "c2", Err: errors.New("nonce too low")})

	jsonhttptest.ExpectMessages(t, conn,
		message{"kind": "txSent", "correlationId": "c1", "operationId": "op", "hash": hash.Hex()},
		message{"kind": "txConfirmation", "correlationId": "c1", "operationId": "op", "hash": hash.Hex(), "confirmationNumber": 1},
		message{"kind": "txFailed", "correlationId": "c2", "error": "nonce too low"},
	)
}

func TestEventsFilter(t *testing.T) {
	bus := event.NewBus()
	ts := newTestServer(t, &mockDispatcher{bus: bus})
	conn := dialEvents(t, ts, bus, "?operationId=op")

	bus.Publish(event.Event{Kind: event.CallResult, CorrelationID: "q1", Result: []interface{}{"1"}})
	bus.Publish(event.Event{Kind: event.TxSent, CorrelationID: "c9", OperationID: "other"})
	bus.Publish(event.Event{Kind: event.TxConfirmed, CorrelationID: "c1", OperationID: "op"})

	jsonhttptest.ExpectMessages(t, conn,
		message{"kind": "txConfirmed", "correlationId": "c1", "operationId": "op"},
	)
}

func TestEventsClose(t *testing.T) {
	bus := event.NewBus()
	ts := newTestServer(t, &mockDispatcher{bus: bus})
	conn := dialEvents(t, ts, bus, "")

	if err := ts.Service.Close(); err != nil {
		t.Fatal(err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatal(err)
	}
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("got error %v, want going away close", err)
	}
	if n := bus.Subscribers(); n != 0 {
		t.Fatalf("got %d subscribers after close, want 0", n)
	}
}

func TestEventsSubscriptionEnded(t *testing.T) {
	bus := event.NewBus()
	ts := newTestServer(t, &mockDispatcher{bus: bus})
	conn := dialEvents(t, ts, bus, "")

	bus.Close()

	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatal(err)
	}
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("got error %v, want going away close", err)
	}
}
