// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api_test

import (
	"context"
	"errors"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethersphere/ledgerclient"
	"github.com/ethersphere/ledgerclient/pkg/api"
	"github.com/ethersphere/ledgerclient/pkg/dispatcher"
	"github.com/ethersphere/ledgerclient/pkg/event"
	"github.com/ethersphere/ledgerclient/pkg/jsonhttp"
	"github.com/ethersphere/ledgerclient/pkg/jsonhttp/jsonhttptest"
	"github.com/ethersphere/ledgerclient/pkg/logging"
	m "github.com/ethersphere/ledgerclient/pkg/metrics"
	"github.com/ethersphere/ledgerclient/pkg/operation"
	"github.com/ethersphere/ledgerclient/pkg/storage"
	"github.com/ethersphere/ledgerclient/pkg/transaction"
	"github.com/ethersphere/ledgerclient/pkg/txqueue"
	"resenje.org/web"
)

var errNotImplemented = errors.New("not implemented")

// mockDispatcher answers with the configured functions and publishes on bus.
type mockDispatcher struct {
	bus *event.Bus

	submitSend          func(ctx context.Context, r dispatcher.SendRequest) (string, error)
	submitCall          func(ctx context.Context, r dispatcher.CallRequest) (string, error)
	operationState      func(id string) (operation.State, bool)
	awaitOperation      func(ctx context.Context, id string) (operation.State, error)
	waitLanded          func(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	storedRequest       func(txHash common.Hash) (*txqueue.StoredRequest, error)
	storedTransaction   func(txHash common.Hash) (*transaction.StoredTransaction, error)
	pendingTransactions func() ([]common.Hash, error)
	resendTransaction   func(ctx context.Context, txHash common.Hash) error
	reconnect           func(ctx context.Context) error
	status              dispatcher.Status
}

func (d *mockDispatcher) SubmitSend(ctx context.Context, r dispatcher.SendRequest) (string, error) {
	if d.submitSend == nil {
		return "", errNotImplemented
	}
	return d.submitSend(ctx, r)
}

func (d *mockDispatcher) SubmitCall(ctx context.Context, r dispatcher.CallRequest) (string, error) {
	if d.submitCall == nil {
		return "", errNotImplemented
	}
	return d.submitCall(ctx, r)
}

func (d *mockDispatcher) Subscribe(ch chan<- event.Event) event.Subscription {
	return d.bus.SubscribeNonBlocking(ch)
}

func (d *mockDispatcher) OperationState(id string) (operation.State, bool) {
	if d.operationState == nil {
		return operation.State{}, false
	}
	return d.operationState(id)
}

func (d *mockDispatcher) AwaitOperation(ctx context.Context, id string) (operation.State, error) {
	if d.awaitOperation == nil {
		return operation.State{}, errNotImplemented
	}
	return d.awaitOperation(ctx, id)
}

func (d *mockDispatcher) WaitLanded(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if d.waitLanded == nil {
		return nil, errNotImplemented
	}
	return d.waitLanded(ctx, txHash)
}

func (d *mockDispatcher) StoredRequest(txHash common.Hash) (*txqueue.StoredRequest, error) {
	if d.storedRequest == nil {
		return nil, storage.ErrNotFound
	}
	return d.storedRequest(txHash)
}

func (d *mockDispatcher) StoredTransaction(txHash common.Hash) (*transaction.StoredTransaction, error) {
	if d.storedTransaction == nil {
		return nil, transaction.ErrUnknownTransaction
	}
	return d.storedTransaction(txHash)
}

func (d *mockDispatcher) PendingTransactions() ([]common.Hash, error) {
	if d.pendingTransactions == nil {
		return nil, nil
	}
	return d.pendingTransactions()
}

func (d *mockDispatcher) ResendTransaction(ctx context.Context, txHash common.Hash) error {
	if d.resendTransaction == nil {
		return errNotImplemented
	}
	return d.resendTransaction(ctx, txHash)
}

func (d *mockDispatcher) Status() dispatcher.Status {
	return d.status
}

func (d *mockDispatcher) Reconnect(ctx context.Context) error {
	if d.reconnect == nil {
		return nil
	}
	return d.reconnect(ctx)
}

type testServer struct {
	Client  *http.Client
	URL     string
	Service *api.Service
}

func newTestServer(t *testing.T, d *mockDispatcher) *testServer {
	t.Helper()

	if d.bus == nil {
		d.bus = event.NewBus()
	}
	t.Cleanup(d.bus.Close)

	registry := m.NewRegistry(ledgerclient.Version)
	s := api.New(d, logging.New(ioutil.Discard, 0), nil, registry, api.Options{
		CORSAllowedOrigins: []string{"http://localhost"},
	})
	registry.MustRegister(s.Metrics()...)

	ts := httptest.NewServer(s)
	t.Cleanup(func() {
		s.Close()
		ts.Close()
	})

	client := &http.Client{
		Transport: web.RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			u, err := url.Parse(ts.URL + r.URL.String())
			if err != nil {
				return nil, err
			}
			r.URL = u
			return ts.Client().Transport.RoundTrip(r)
		}),
	}
	return &testServer{
		Client:  client,
		URL:     ts.URL,
		Service: s,
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, &mockDispatcher{})

	jsonhttptest.Request(t, ts.Client, http.MethodGet, "/health", http.StatusOK,
		jsonhttptest.WithExpectedJSONResponse(struct {
			Status  string `json:"status"`
			Version string `json:"version"`
		}{
			Status:  "ok",
			Version: ledgerclient.Version,
		}),
	)
}

func TestStatus(t *testing.T) {
	status := dispatcher.Status{
		Endpoint:        "ws://localhost:8546",
		QueuedSends:     3,
		UnresolvedSends: 10,
		QueuedCalls:     1,
		InFlightCalls:   50,
		Bindings:        2,
	}
	ts := newTestServer(t, &mockDispatcher{status: status})

	for _, path := range []string{"/status", "/v1/status"} {
		jsonhttptest.Request(t, ts.Client, http.MethodGet, path, http.StatusOK,
			jsonhttptest.WithExpectedJSONResponse(status),
		)
	}
}

func TestNotFoundAndMethods(t *testing.T) {
	ts := newTestServer(t, &mockDispatcher{})

	jsonhttptest.Request(t, ts.Client, http.MethodGet, "/missing", http.StatusNotFound,
		jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
			Message: "unknown path /missing",
			Code:    http.StatusNotFound,
		}),
	)
	jsonhttptest.Request(t, ts.Client, http.MethodPut, "/calls", http.StatusMethodNotAllowed,
		jsonhttptest.WithExpectedResponseHeader("Allow", "POST"),
		jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
			Message: "method PUT not allowed, use POST",
			Code:    http.StatusMethodNotAllowed,
		}),
	)
	jsonhttptest.Request(t, ts.Client, http.MethodHead, "/status", http.StatusOK)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, &mockDispatcher{})

	jsonhttptest.Request(t, ts.Client, http.MethodGet, "/health", http.StatusOK)

	var body []byte
	jsonhttptest.Request(t, ts.Client, http.MethodGet, "/metrics", http.StatusOK,
		jsonhttptest.WithPutResponseBody(&body),
	)
	for _, name := range []string{
		m.Namespace + "_api_request_count",
		m.Namespace + "_info",
	} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metric %s not exposed", name)
		}
	}
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, &mockDispatcher{})

	for _, tc := range []struct {
		origin string
		want   string
	}{
		{origin: "http://localhost", want: "http://localhost"},
		{origin: "http://example.com", want: ""},
	} {
		h := jsonhttptest.Request(t, ts.Client, http.MethodGet, "/status", http.StatusOK,
			jsonhttptest.WithRequestHeader("Origin", tc.origin),
		)
		if got := h.Get("Access-Control-Allow-Origin"); got != tc.want {
			t.Errorf("origin %s: got allowed origin %q, want %q", tc.origin, got, tc.want)
		}
	}
}
