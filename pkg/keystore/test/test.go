// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ethersphere/ledgerclient/pkg/crypto"
	"github.com/ethersphere/ledgerclient/pkg/keystore"
)

// Service is a utility testing function that can be used to test
// implementations of the keystore.Service interface.
func Service(t *testing.T, s keystore.Service) {
	t.Helper()

	exists, err := s.Exists("signer")
	if err != nil {
		t.Fatal(err)
	}

	if exists {
		t.Fatal("should not exist")
	}

	// create a new signer key
	k1, created, err := s.Key("signer", "pass123456")
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("key is not created")
	}

	exists, err = s.Exists("signer")
	if err != nil {
		t.Fatal(err)
	}

	if !exists {
		t.Fatal("should exist")
	}

	// get signer key
	k2, created, err := s.Key("signer", "pass123456")
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("key is created, but should not be")
	}
	if !bytes.Equal(crypto.EncodeSecp256k1PrivateKey(k1), crypto.EncodeSecp256k1PrivateKey(k2)) {
		t.Fatal("two keys are not equal")
	}

	// invalid password
	_, _, err = s.Key("signer", "invalid password")
	if !errors.Is(err, keystore.ErrInvalidPassword) {
		t.Fatalf("got error %v, want %v", err, keystore.ErrInvalidPassword)
	}

	// create a different key under another name
	k3, created, err := s.Key("other", "pass123456")
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("key is not created")
	}
	if bytes.Equal(k1.D.Bytes(), k3.D.Bytes()) {
		t.Fatal("keys with different names are equal")
	}
}
