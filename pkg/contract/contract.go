// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package contract binds a deployed contract, given by its address and ABI,
// to a transaction service for method level reads and writes.
package contract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethersphere/ledgerclient/pkg/bigint"
	"github.com/ethersphere/ledgerclient/pkg/resolver"
	"github.com/ethersphere/ledgerclient/pkg/transaction"
)

// DefaultCallTimeout is the watchdog window of read calls.
const DefaultCallTimeout = 30 * time.Second

var (
	// ErrMethodNotFound is returned for methods the ABI does not have.
	ErrMethodNotFound = errors.New("method not found")
	// ErrCallTimeout is returned when a read call did not complete within
	// the watchdog window.
	ErrCallTimeout = errors.New("call timeout")
)

// NodeError wraps errors returned by the node for read calls.
type NodeError struct {
	Err error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node error: %v", e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// Ref references a deployed contract. Address is a hex address or a name
// resolved through ENS.
type Ref struct {
	Address string `json:"address"`
	ABI     string `json:"abi"`
	Name    string `json:"name,omitempty"`
}

// Key identifies the binding of the reference.
func (r Ref) Key() string {
	h := sha256.Sum256([]byte(r.ABI))
	return strings.ToLower(r.Address) + "/" + hex.EncodeToString(h[:8])
}

func (r Ref) String() string {
	if r.Name != "" {
		return fmt.Sprintf("%s(%s)", r.Name, r.Address)
	}
	return r.Address
}

// SendOptions are the sender options of a write call. Zero values are
// filled in by the transaction service.
type SendOptions struct {
	From     common.Address `json:"from"`
	GasPrice *bigint.BigInt `json:"gasPrice,omitempty"`
	GasLimit uint64         `json:"gas,omitempty"`
	Value    *bigint.BigInt `json:"value,omitempty"`
	Nonce    *uint64        `json:"nonce,omitempty"`
}

// Options configure a contract binding.
type Options struct {
	// CallTimeout is the watchdog window of read calls.
	CallTimeout time.Duration
	// NotResponding is invoked when a read call exceeds the watchdog window,
	// before the call fails.
	NotResponding func(c *Contract, method string)
}

// Contract is a deployed contract bound to a transaction service.
type Contract struct {
	address common.Address
	abi     abi.ABI
	name    string
	tx      transaction.Service
	opts    Options
}

// New binds the contract at address.
func New(address common.Address, contractABI abi.ABI, name string, tx transaction.Service, o Options) *Contract {
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	return &Contract{
		address: address,
		abi:     contractABI,
		name:    name,
		tx:      tx,
		opts:    o,
	}
}

// Bind parses the ABI of ref, resolves its address and binds it.
func Bind(ref Ref, r resolver.Interface, tx transaction.Service, o Options) (*Contract, error) {
	contractABI, err := abi.JSON(strings.NewReader(ref.ABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi of %s: %w", ref, err)
	}
	address, err := resolver.Address(r, ref.Address)
	if err != nil {
		return nil, err
	}
	return New(address, contractABI, ref.Name, tx, o), nil
}

func (c *Contract) Address() common.Address {
	return c.address
}

func (c *Contract) Name() string {
	return c.name
}

func (c *Contract) ABI() *abi.ABI {
	return &c.abi
}

// Method returns the ABI method with the given name.
func (c *Contract) Method(name string) (abi.Method, error) {
	m, ok := c.abi.Methods[name]
	if !ok {
		return abi.Method{}, fmt.Errorf("%w: %s", ErrMethodNotFound, name)
	}
	return m, nil
}

// Call invokes a read only method and returns its unpacked outputs.
func (c *Contract) Call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	if _, err := c.Method(method); err != nil {
		return nil, err
	}

	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		data []byte
		err  error
	}
	resultC := make(chan result, 1)
	go func() {
		data, err := c.tx.Call(ctx, &transaction.TxRequest{
			To:   &c.address,
			Data: data,
		})
		resultC <- result{data: data, err: err}
	}()

	watchdog := time.NewTimer(c.opts.CallTimeout)
	defer watchdog.Stop()

	select {
	case r := <-resultC:
		if r.err != nil {
			return nil, &NodeError{Err: r.err}
		}
		out, err := c.abi.Unpack(method, r.data)
		if err != nil {
			return nil, fmt.Errorf("unpack %s: %w", method, err)
		}
		return out, nil
	case <-watchdog.C:
		if c.opts.NotResponding != nil {
			c.opts.NotResponding(c, method)
		}
		return nil, fmt.Errorf("%w: %s.%s after %s", ErrCallTimeout, c, method, c.opts.CallTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send invokes a state changing method and returns the transaction hash
// once the node accepted it.
func (c *Contract) Send(ctx context.Context, opts SendOptions, method string, args ...interface{}) (common.Hash, error) {
	if _, err := c.Method(method); err != nil {
		return common.Hash{}, err
	}

	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack %s: %w", method, err)
	}

	return c.tx.Send(ctx, &transaction.TxRequest{
		From:        opts.From,
		To:          &c.address,
		Data:        data,
		GasPrice:    opts.GasPrice.Unwrap(),
		GasLimit:    opts.GasLimit,
		Value:       opts.Value.Unwrap(),
		Nonce:       opts.Nonce,
		Description: fmt.Sprintf("%s.%s", c, method),
	})
}

func (c *Contract) String() string {
	if c.name != "" {
		return c.name
	}
	return c.address.Hex()
}
