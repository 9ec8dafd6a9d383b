// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethersphere/ledgerclient/pkg/contract"
	"github.com/ethersphere/ledgerclient/pkg/resolver"
	"github.com/ethersphere/ledgerclient/pkg/transaction"
	"github.com/hashicorp/go-multierror"
	lru "github.com/hashicorp/golang-lru"
	"resenje.org/singleflight"
)

const defaultBindingCacheSize = 256

type binding struct {
	ref      contract.Ref
	contract *contract.Contract
}

// registry holds the contract bindings shared by both queues. Lookups are
// paused while the bindings are re-derived.
type registry struct {
	resolver resolver.Interface
	tx       transaction.Service
	opts     contract.Options

	mu     sync.RWMutex
	cache  *lru.Cache
	flight singleflight.Group
}

func newRegistry(r resolver.Interface, tx transaction.Service, opts contract.Options, size int) (*registry, error) {
	if size <= 0 {
		size = defaultBindingCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &registry{
		resolver: r,
		tx:       tx,
		opts:     opts,
		cache:    cache,
	}, nil
}

// Bind returns the binding of ref, deriving it on first use.
func (r *registry) Bind(ctx context.Context, ref contract.Ref) (*contract.Contract, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := ref.Key()
	if v, ok := r.cache.Get(key); ok {
		return v.(binding).contract, nil
	}

	v, _, err := r.flight.Do(ctx, key, func(ctx context.Context) (interface{}, error) {
		c, err := contract.Bind(ref, r.resolver, r.tx, r.opts)
		if err != nil {
			return nil, err
		}
		r.cache.Add(key, binding{ref: ref, contract: c})
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*contract.Contract), nil
}

// rebind runs f with lookups paused and then resolves every named binding
// again. A binding holds no connection of its own: its calls and sends go
// through the transaction service, whose backend f re-dials. Bindings to a
// literal address are kept as they are.
func (r *registry) rebind(f func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := f(); err != nil {
		return err
	}

	var mErr *multierror.Error
	for _, k := range r.cache.Keys() {
		v, ok := r.cache.Peek(k)
		if !ok {
			continue
		}
		ref := v.(binding).ref
		if common.IsHexAddress(ref.Address) {
			continue
		}
		c, err := contract.Bind(ref, r.resolver, r.tx, r.opts)
		if err != nil {
			r.cache.Remove(k)
			mErr = multierror.Append(mErr, fmt.Errorf("rebind %s: %w", ref, err))
			continue
		}
		r.cache.Add(k, binding{ref: ref, contract: c})
	}
	return mErr.ErrorOrNil()
}

func (r *registry) len() int {
	return r.cache.Len()
}
