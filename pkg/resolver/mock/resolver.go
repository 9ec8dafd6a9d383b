// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mock

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethersphere/ledgerclient/pkg/resolver"
)

// Assure mock Resolver implements the Resolver interface.
var _ resolver.Interface = (*Resolver)(nil)

// ErrNotImplemented denotes a function has not been implemented.
var ErrNotImplemented = errors.New("function not implemented")

// Resolver is the mock Resolver implementation.
type Resolver struct {
	resolveFunc func(string) (common.Address, error)
}

// Option function sets the option on the mock Resolver.
type Option func(*Resolver)

// NewResolver will create a new mock Resolver.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{}

	for _, o := range opts {
		o(r)
	}

	return r
}

// WithResolveFunc will override the Resolve function implementation.
func WithResolveFunc(f func(string) (common.Address, error)) Option {
	return func(r *Resolver) {
		r.resolveFunc = f
	}
}

// WithNames makes the resolver answer from a fixed name table.
func WithNames(names map[string]common.Address) Option {
	return WithResolveFunc(func(name string) (common.Address, error) {
		a, ok := names[name]
		if !ok {
			return common.Address{}, resolver.ErrInvalidName(name)
		}
		return a, nil
	})
}

// Resolve implements the Resolver interface.
func (r *Resolver) Resolve(name string) (common.Address, error) {
	if r.resolveFunc != nil {
		return r.resolveFunc(name)
	}
	return common.Address{}, ErrNotImplemented
}
