// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package node

import (
	"fmt"
	"io"

	"github.com/ethersphere/ledgerclient/pkg/logging"
	"github.com/ethersphere/ledgerclient/pkg/resolver"
	"github.com/ethersphere/ledgerclient/pkg/resolver/client/ens"
)

// InitResolver connects an ENS client to the given endpoint. Without an
// endpoint no resolver is returned and only hex addresses are accepted.
func InitResolver(logger logging.Logger, endpoint string, opts ...ens.Option) (resolver.Interface, io.Closer, error) {
	if endpoint == "" {
		logger.Info("name resolution disabled, only hex addresses are accepted")
		return nil, nil, nil
	}

	c := ens.NewClient(opts...)
	if err := c.Connect(endpoint); err != nil {
		return nil, nil, fmt.Errorf("connect ens resolver at %s: %w", endpoint, err)
	}
	logger.Infof("name resolution via ens at %s", endpoint)

	return c, c, nil
}
