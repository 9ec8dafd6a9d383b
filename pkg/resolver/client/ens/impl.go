// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ens

import (
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	goens "github.com/wealdtech/go-ens/v3"
)

func wrapDial(ep string) (*ethclient.Client, error) {
	cl, err := ethclient.Dial(ep)
	if err != nil {
		return nil, err
	}

	// Ensure the ENS registry is reachable on the network we are now
	// connected to.
	if _, err := goens.PublicResolverAddress(cl); err != nil {
		cl.Close()
		return nil, err
	}

	return cl, nil
}

func wrapResolve(backend bind.ContractBackend, name string) (common.Address, error) {
	return goens.Resolve(backend, name)
}
