// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package resolver_test

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethersphere/ledgerclient/pkg/resolver"
	"github.com/ethersphere/ledgerclient/pkg/resolver/mock"
)

func TestAddress(t *testing.T) {
	token := common.HexToAddress("0xabcdef0000000000000000000000000000000001")
	r := mock.NewResolver(mock.WithNames(map[string]common.Address{
		"token.eth": token,
	}))

	got, err := resolver.Address(r, token.Hex())
	if err != nil {
		t.Fatal(err)
	}
	if got != token {
		t.Fatalf("got %s, want %s", got, token)
	}

	got, err = resolver.Address(r, "token.eth")
	if err != nil {
		t.Fatal(err)
	}
	if got != token {
		t.Fatalf("got %s, want %s", got, token)
	}

	_, err = resolver.Address(nil, "token.eth")
	var invalid resolver.ErrInvalidName
	if !errors.As(err, &invalid) {
		t.Fatalf("got error %v, want invalid name", err)
	}
}
