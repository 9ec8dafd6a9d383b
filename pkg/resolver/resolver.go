// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package resolver

import (
	"github.com/ethereum/go-ethereum/common"
)

// Interface can resolve a name into an associated Ethereum address.
type Interface interface {
	Resolve(name string) (common.Address, error)
}

// Address resolves s into an account address. Hex addresses are returned
// as they are and r is consulted only for names. A nil r resolves
// hex addresses only.
func Address(r Interface, s string) (common.Address, error) {
	if common.IsHexAddress(s) {
		return common.HexToAddress(s), nil
	}
	if r == nil {
		return common.Address{}, ErrInvalidName(s)
	}
	return r.Resolve(s)
}
