// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package crypto_test

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethersphere/ledgerclient/pkg/crypto"
)

func TestDefaultSignerSignTx(t *testing.T) {
	privKey, err := crypto.GenerateSecp256k1Key()
	if err != nil {
		t.Fatal(err)
	}

	signer := crypto.NewDefaultSigner(privKey)
	address, err := signer.EthereumAddress()
	if err != nil {
		t.Fatal(err)
	}

	chainID := big.NewInt(5)
	tx := types.NewTransaction(3, common.HexToAddress("0xabcd"), big.NewInt(1), 21000, big.NewInt(1000000000), nil)

	signedTx, err := signer.SignTx(tx, chainID)
	if err != nil {
		t.Fatal(err)
	}

	sender, err := types.Sender(types.LatestSignerForChainID(chainID), signedTx)
	if err != nil {
		t.Fatal(err)
	}

	if sender != address {
		t.Fatalf("recovered sender %x, want %x", sender, address)
	}

	if signedTx.Nonce() != tx.Nonce() {
		t.Fatalf("got nonce %d, want %d", signedTx.Nonce(), tx.Nonce())
	}
}

func TestKeyringDefaultSigners(t *testing.T) {
	k1, err := crypto.GenerateSecp256k1Key()
	if err != nil {
		t.Fatal(err)
	}
	k2, err := crypto.GenerateSecp256k1Key()
	if err != nil {
		t.Fatal(err)
	}

	s1 := crypto.NewDefaultSigner(k1)
	s2 := crypto.NewDefaultSigner(k2)

	keyring, err := crypto.NewKeyring(s1, s2)
	if err != nil {
		t.Fatal(err)
	}

	a1, _ := s1.EthereumAddress()
	got, ok := keyring.Signer(a1)
	if !ok {
		t.Fatal("signer not found")
	}
	if got != s1 {
		t.Fatal("got wrong signer")
	}

	if _, ok := keyring.Signer(common.HexToAddress("0x01")); ok {
		t.Fatal("found signer for unknown address")
	}

	if l := len(keyring.Addresses()); l != 2 {
		t.Fatalf("got %d addresses, want 2", l)
	}

	var nilKeyring *crypto.Keyring
	if _, ok := nilKeyring.Signer(a1); ok {
		t.Fatal("nil keyring returned a signer")
	}
}
