// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ens

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethersphere/ledgerclient/pkg/resolver/client"
)

// Make sure Client implements the resolver.Client interface.
var _ client.Interface = (*Client)(nil)

var (
	errNotImplemented = errors.New("function not implemented")
	errNotConnected   = errors.New("not connected")
)

type dialType func(string) (*ethclient.Client, error)
type resolveType func(bind.ContractBackend, string) (common.Address, error)

// Client is a name resolution client that can connect to ENS via an
// Ethereum endpoint.
type Client struct {
	mu        sync.Mutex
	endpoint  string
	ethCl     *ethclient.Client
	dialFn    dialType
	resolveFn resolveType
}

// Option is a function that applies an option to a Client.
type Option func(*Client)

// NewClient will return a new Client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		dialFn:    wrapDial,
		resolveFn: wrapResolve,
	}

	for _, o := range opts {
		o(c)
	}

	return c
}

// Connect implements the resolver.Client interface.
func (c *Client) Connect(ep string) error {
	if c.dialFn == nil {
		return fmt.Errorf("%w: dialFn", errNotImplemented)
	}

	ethCl, err := c.dialFn(ep)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.ethCl = ethCl
	c.endpoint = ep
	c.mu.Unlock()

	return nil
}

// Endpoint returns the endpoint of the last successful Connect.
func (c *Client) Endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.endpoint
}

// IsConnected returns true if there is an active RPC connection with an
// Ethereum node at the configured endpoint.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.ethCl != nil
}

// Resolve implements the resolver.Interface interface.
func (c *Client) Resolve(name string) (common.Address, error) {
	if c.resolveFn == nil {
		return common.Address{}, fmt.Errorf("%w: resolveFn", errNotImplemented)
	}

	c.mu.Lock()
	ethCl := c.ethCl
	c.mu.Unlock()

	if ethCl == nil {
		return common.Address{}, errNotConnected
	}

	addr, err := c.resolveFn(ethCl, name)
	if err != nil {
		return common.Address{}, fmt.Errorf("resolve %s: %w", name, err)
	}
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: %s", ErrUnregistered, name)
	}

	return addr, nil
}

// Close closes the RPC connection with the client, terminating all unfinished
// requests.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ethCl != nil {
		c.ethCl.Close()
	}
	c.ethCl = nil

	return nil
}
