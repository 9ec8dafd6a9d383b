// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package jsonhttptest checks responses of the JSON API and messages of its
// websocket event stream in tests.
package jsonhttptest

import (
	"bytes"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ethersphere/ledgerclient/pkg/jsonhttp"
	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
)

// Request sends a request to url, checks the status code and the response
// against opts and returns the response header.
func Request(t *testing.T, client *http.Client, method, url string, responseCode int, opts ...Option) http.Header {
	t.Helper()

	o := new(options)
	for _, opt := range opts {
		opt(o)
	}

	req, err := http.NewRequest(method, url, o.requestBody)
	if err != nil {
		t.Fatal(err)
	}
	req.Header = o.requestHeaders
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != responseCode {
		t.Errorf("%s %s: got response status %s, want %v %s", method, url, resp.Status, responseCode, http.StatusText(responseCode))
	}
	for key, want := range o.expectedHeaders {
		if got := resp.Header.Get(key); got != want {
			t.Errorf("%s %s: got header %s %q, want %q", method, url, key, got, want)
		}
	}

	got, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}

	switch {
	case o.expectedJSONResponse != nil:
		if v := resp.Header.Get("Content-Type"); v != jsonhttp.DefaultContentTypeHeader {
			t.Errorf("got content type %q, want %q", v, jsonhttp.DefaultContentTypeHeader)
		}
		compareJSON(t, bytes.TrimSpace(got), o.expectedJSONResponse)
	case o.unmarshalResponse != nil:
		if err := json.Unmarshal(got, o.unmarshalResponse); err != nil {
			t.Fatalf("%s %s: decode response %s: %v", method, url, string(got), err)
		}
	case o.responseBody != nil:
		*o.responseBody = got
	}
	return resp.Header
}

// compareJSON fails t if the JSON document got does not equal want encoded
// as JSON. Key order and number formatting do not matter.
func compareJSON(t *testing.T, got []byte, want interface{}) {
	t.Helper()

	b, err := json.Marshal(want)
	if err != nil {
		t.Fatal(err)
	}
	var gotValue, wantValue interface{}
	if err := json.Unmarshal(b, &wantValue); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(got, &gotValue); err != nil {
		t.Fatalf("got invalid json %s: %v", string(got), err)
	}
	if diff := cmp.Diff(wantValue, gotValue); diff != "" {
		t.Errorf("json mismatch (-want +got):\n%s", diff)
	}
}

// Option sets an expectation or a property of the request.
type Option func(*options)

func WithRequestBody(body io.Reader) Option {
	return func(o *options) {
		o.requestBody = body
	}
}

func WithRequestHeader(key, value string) Option {
	return func(o *options) {
		if o.requestHeaders == nil {
			o.requestHeaders = make(http.Header)
		}
		o.requestHeaders.Add(key, value)
	}
}

// WithExpectedResponseHeader expects the response header key to be value.
func WithExpectedResponseHeader(key, value string) Option {
	return func(o *options) {
		if o.expectedHeaders == nil {
			o.expectedHeaders = make(map[string]string)
		}
		o.expectedHeaders[key] = value
	}
}

// WithExpectedJSONResponse expects the response to be the JSON encoding of
// response.
func WithExpectedJSONResponse(response interface{}) Option {
	return func(o *options) {
		o.expectedJSONResponse = response
	}
}

func WithUnmarshalResponse(response interface{}) Option {
	return func(o *options) {
		o.unmarshalResponse = response
	}
}

func WithPutResponseBody(b *[]byte) Option {
	return func(o *options) {
		o.responseBody = b
	}
}

type options struct {
	requestBody          io.Reader
	requestHeaders       http.Header
	expectedHeaders      map[string]string
	expectedJSONResponse interface{}
	unmarshalResponse    interface{}
	responseBody         *[]byte
}

// MessageTimeout bounds the wait for a single websocket message.
var MessageTimeout = 5 * time.Second

// DialEvents opens a websocket to path on the test server at serverURL. The
// connection is closed when the test ends.
func DialEvents(t *testing.T, serverURL, path string) *websocket.Conn {
	t.Helper()

	u := "ws" + strings.TrimPrefix(serverURL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", u, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// ExpectMessages reads one message per want from conn and compares it with
// the JSON encoding of that want.
func ExpectMessages(t *testing.T, conn *websocket.Conn, want ...interface{}) {
	t.Helper()

	for i, w := range want {
		if err := conn.SetReadDeadline(time.Now().Add(MessageTimeout)); err != nil {
			t.Fatal(err)
		}
		_, got, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
		compareJSON(t, got, w)
	}
}
