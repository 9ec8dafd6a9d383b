// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package event defines the lifecycle events of sends and calls and the
// bus they are published on.
package event

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Kind enumerates lifecycle events.
type Kind int

const (
	// TxSent is published when the node accepted a transaction.
	TxSent Kind = iota + 1
	// TxConfirmation is published for every confirmation below the
	// finalization depth.
	TxConfirmation
	// TxConfirmed is published when a transaction reached the finalization
	// depth.
	TxConfirmed
	// TxFailed is published when a transaction could not be submitted.
	TxFailed
	// TxError is published when a submitted transaction failed.
	TxError
	// CallResult carries the result or the error of a read call.
	CallResult
)

var kindNames = map[Kind]string{
	TxSent:         "txSent",
	TxConfirmation: "txConfirmation",
	TxConfirmed:    "txConfirmed",
	TxFailed:       "txFailed",
	TxError:        "txError",
	CallResult:     "callResult",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *Kind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	for kind, name := range kindNames {
		if name == s {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown event kind %q", s)
}

// Terminal reports whether no further send events follow for the hash.
func (k Kind) Terminal() bool {
	return k == TxConfirmed || k == TxFailed || k == TxError
}

// Event is a single lifecycle notification. Fields not relevant to the Kind
// are left at their zero values.
type Event struct {
	Kind               Kind
	CorrelationID      string
	OperationID        string
	Hash               common.Hash
	RetryOf            common.Hash
	Retrying           bool
	ConfirmationNumber uint64
	Receipt            *types.Receipt
	Result             []interface{}
	Err                error
}

// IsRetry reports whether the event belongs to a resubmission.
func (e Event) IsRetry() bool {
	return e.RetryOf != (common.Hash{})
}

func (e Event) String() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s %s %x: %v", e.Kind, e.CorrelationID, e.Hash, e.Err)
	case e.Kind == TxConfirmation:
		return fmt.Sprintf("%s %s %x #%d", e.Kind, e.CorrelationID, e.Hash, e.ConfirmationNumber)
	default:
		return fmt.Sprintf("%s %s %x", e.Kind, e.CorrelationID, e.Hash)
	}
}

type eventJSON struct {
	Kind               Kind          `json:"kind"`
	CorrelationID      string        `json:"correlationId"`
	OperationID        string        `json:"operationId,omitempty"`
	Hash               *common.Hash  `json:"hash,omitempty"`
	RetryOf            *common.Hash  `json:"retryOf,omitempty"`
	Retrying           bool          `json:"retrying,omitempty"`
	ConfirmationNumber uint64        `json:"confirmationNumber,omitempty"`
	BlockNumber        uint64        `json:"blockNumber,omitempty"`
	GasUsed            uint64        `json:"gasUsed,omitempty"`
	Result             []interface{} `json:"result,omitempty"`
	Error              string        `json:"error,omitempty"`
}

// MarshalJSON renders the event in the message form delivered to clients.
// Errors are flattened to their message.
func (e Event) MarshalJSON() ([]byte, error) {
	v := eventJSON{
		Kind:               e.Kind,
		CorrelationID:      e.CorrelationID,
		OperationID:        e.OperationID,
		Retrying:           e.Retrying,
		ConfirmationNumber: e.ConfirmationNumber,
		Result:             e.Result,
	}
	if e.Hash != (common.Hash{}) {
		h := e.Hash
		v.Hash = &h
	}
	if e.IsRetry() {
		h := e.RetryOf
		v.RetryOf = &h
	}
	if e.Receipt != nil {
		if e.Receipt.BlockNumber != nil {
			v.BlockNumber = e.Receipt.BlockNumber.Uint64()
		}
		v.GasUsed = e.Receipt.GasUsed
	}
	if e.Err != nil {
		v.Error = e.Err.Error()
	}
	return json.Marshal(v)
}
