// Copyright 2023 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cache limits how often the block number is fetched from the node.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/ethersphere/ledgerclient/pkg/transaction"
)

var _ transaction.Backend = (*cachedBackend)(nil)

const defaultBlockNumberFetchInterval = time.Second * 20

type cachedBackend struct {
	transaction.Backend
	nowFn                    func() time.Time
	blockNumber              uint64
	blockNumberLastFetchTime time.Time
	blockNumberFetchInterval time.Duration

	lock sync.Mutex
}

// New returns backend with block numbers cached for interval. A zero
// interval uses the default.
func New(backend transaction.Backend, interval time.Duration) transaction.Backend {
	if interval <= 0 {
		interval = defaultBlockNumberFetchInterval
	}
	return &cachedBackend{
		Backend:                  backend,
		nowFn:                    time.Now,
		blockNumberFetchInterval: interval,
	}
}

func (b *cachedBackend) BlockNumber(ctx context.Context) (uint64, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	now := b.nowFn()
	if b.blockNumberLastFetchTime.Add(b.blockNumberFetchInterval).Before(now) {
		bno, err := b.Backend.BlockNumber(ctx)
		if err != nil {
			return bno, err
		}

		b.blockNumber = bno
		b.blockNumberLastFetchTime = now
	}

	return b.blockNumber, nil
}
