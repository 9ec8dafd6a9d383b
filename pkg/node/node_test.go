// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package node_test

import (
	"errors"
	"io/ioutil"
	"testing"

	"github.com/ethersphere/ledgerclient/pkg/logging"
	"github.com/ethersphere/ledgerclient/pkg/node"
	"github.com/ethersphere/ledgerclient/pkg/storage"
)

func TestInitStateStore(t *testing.T) {
	logger := logging.New(ioutil.Discard, 0)

	t.Run("in memory", func(t *testing.T) {
		store, err := node.InitStateStore(logger, "")
		if err != nil {
			t.Fatal(err)
		}
		defer store.Close()

		if err := store.Put("nonce", uint64(3)); err != nil {
			t.Fatal(err)
		}
		var nonce uint64
		if err := store.Get("nonce", &nonce); err != nil {
			t.Fatal(err)
		}
		if nonce != 3 {
			t.Fatalf("got nonce %d, want 3", nonce)
		}
	})

	t.Run("persisted", func(t *testing.T) {
		dir := t.TempDir()

		store, err := node.InitStateStore(logger, dir)
		if err != nil {
			t.Fatal(err)
		}
		if err := store.Put("nonce", uint64(7)); err != nil {
			t.Fatal(err)
		}
		if err := store.Close(); err != nil {
			t.Fatal(err)
		}

		store, err = node.InitStateStore(logger, dir)
		if err != nil {
			t.Fatal(err)
		}
		defer store.Close()

		var nonce uint64
		if err := store.Get("nonce", &nonce); err != nil {
			t.Fatal(err)
		}
		if nonce != 7 {
			t.Fatalf("got nonce %d, want 7", nonce)
		}
		if err := store.Get("missing", &nonce); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("got error %v, want %v", err, storage.ErrNotFound)
		}
	})
}

func TestInitResolverDisabled(t *testing.T) {
	r, closer, err := node.InitResolver(logging.New(ioutil.Discard, 0), "")
	if err != nil {
		t.Fatal(err)
	}
	if r != nil {
		t.Fatalf("got resolver %v, want none", r)
	}
	if closer != nil {
		t.Fatalf("got closer %v, want none", closer)
	}
}
