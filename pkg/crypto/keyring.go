// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package crypto

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Keyring selects the signer for a sending address. Addresses without a
// signer are left to the node to sign.
type Keyring struct {
	signers map[common.Address]Signer
}

// NewKeyring indexes signers by their ethereum address.
func NewKeyring(signers ...Signer) (*Keyring, error) {
	k := &Keyring{
		signers: make(map[common.Address]Signer, len(signers)),
	}
	for _, s := range signers {
		addr, err := s.EthereumAddress()
		if err != nil {
			return nil, fmt.Errorf("signer address: %w", err)
		}
		k.signers[addr] = s
	}
	return k, nil
}

// Signer returns the signer for the address, if there is one.
func (k *Keyring) Signer(address common.Address) (Signer, bool) {
	if k == nil {
		return nil, false
	}
	s, ok := k.signers[address]
	return s, ok
}

// Addresses returns all addresses with a signer in ascending order.
func (k *Keyring) Addresses() []common.Address {
	if k == nil {
		return nil
	}
	addrs := make([]common.Address, 0, len(k.signers))
	for a := range k.signers {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return addrs[i].Hex() < addrs[j].Hex()
	})
	return addrs
}
