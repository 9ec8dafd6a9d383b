// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package txqueue

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethersphere/ledgerclient/pkg/bigint"
	"github.com/ethersphere/ledgerclient/pkg/contract"
	"github.com/ethersphere/ledgerclient/pkg/tracing"
	"github.com/vmihailenco/msgpack/v5"
)

// Entry is a send request waiting for submission.
type Entry struct {
	CorrelationID string
	OperationID   string
	Contract      contract.Ref
	Method        string
	Args          []json.RawMessage
	Options       contract.SendOptions
	// RetryOf is the hash of the failed transaction this entry resubmits.
	RetryOf common.Hash
	// GasOverride replaces the gas limit of Options if not zero.
	GasOverride uint64
	Trace       tracing.Carrier
}

// IsRetry reports whether the entry resubmits a failed transaction.
func (e Entry) IsRetry() bool {
	return e.RetryOf != (common.Hash{})
}

// StoredRequest is the persisted form of a submitted entry.
type StoredRequest struct {
	Entry
	Hash    common.Hash
	Created time.Time
}

type storedRequestWire struct {
	CorrelationID   string            `msgpack:"correlation_id"`
	OperationID     string            `msgpack:"operation_id,omitempty"`
	ContractAddress string            `msgpack:"contract_address"`
	ContractABI     string            `msgpack:"contract_abi"`
	ContractName    string            `msgpack:"contract_name,omitempty"`
	Method          string            `msgpack:"method"`
	Args            []string          `msgpack:"args"`
	From            string            `msgpack:"from"`
	GasPrice        string            `msgpack:"gas_price,omitempty"`
	GasLimit        uint64            `msgpack:"gas_limit,omitempty"`
	Value           string            `msgpack:"value,omitempty"`
	Nonce           *uint64           `msgpack:"nonce,omitempty"`
	RetryOf         string            `msgpack:"retry_of,omitempty"`
	GasOverride     uint64            `msgpack:"gas_override,omitempty"`
	Trace           map[string]string `msgpack:"trace,omitempty"`
	Hash            string            `msgpack:"hash"`
	Created         int64             `msgpack:"created"`
}

func (r *StoredRequest) MarshalBinary() ([]byte, error) {
	w := storedRequestWire{
		CorrelationID:   r.CorrelationID,
		OperationID:     r.OperationID,
		ContractAddress: r.Contract.Address,
		ContractABI:     r.Contract.ABI,
		ContractName:    r.Contract.Name,
		Method:          r.Method,
		Args:            make([]string, len(r.Args)),
		From:            r.Options.From.Hex(),
		GasPrice:        bigString(r.Options.GasPrice),
		GasLimit:        r.Options.GasLimit,
		Value:           bigString(r.Options.Value),
		Nonce:           r.Options.Nonce,
		GasOverride:     r.GasOverride,
		Trace:           r.Trace,
		Hash:            r.Hash.Hex(),
		Created:         r.Created.UnixNano(),
	}
	for i, a := range r.Args {
		w.Args[i] = string(a)
	}
	if r.IsRetry() {
		w.RetryOf = r.RetryOf.Hex()
	}
	return msgpack.Marshal(&w)
}

func (r *StoredRequest) UnmarshalBinary(data []byte) error {
	var w storedRequestWire
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return err
	}

	gasPrice, err := parseBig(w.GasPrice)
	if err != nil {
		return fmt.Errorf("gas price: %w", err)
	}
	value, err := parseBig(w.Value)
	if err != nil {
		return fmt.Errorf("value: %w", err)
	}

	args := make([]json.RawMessage, len(w.Args))
	for i, a := range w.Args {
		args[i] = json.RawMessage(a)
	}

	*r = StoredRequest{
		Entry: Entry{
			CorrelationID: w.CorrelationID,
			OperationID:   w.OperationID,
			Contract: contract.Ref{
				Address: w.ContractAddress,
				ABI:     w.ContractABI,
				Name:    w.ContractName,
			},
			Method: w.Method,
			Args:   args,
			Options: contract.SendOptions{
				From:     common.HexToAddress(w.From),
				GasPrice: gasPrice,
				GasLimit: w.GasLimit,
				Value:    value,
				Nonce:    w.Nonce,
			},
			GasOverride: w.GasOverride,
			Trace:       w.Trace,
		},
		Hash:    common.HexToHash(w.Hash),
		Created: time.Unix(0, w.Created),
	}
	if w.RetryOf != "" {
		r.RetryOf = common.HexToHash(w.RetryOf)
	}
	return nil
}

func bigString(i *bigint.BigInt) string {
	if i == nil {
		return ""
	}
	return i.String()
}

func parseBig(s string) (*bigint.BigInt, error) {
	if s == "" {
		return nil, nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid number %q", s)
	}
	return bigint.Wrap(n), nil
}
