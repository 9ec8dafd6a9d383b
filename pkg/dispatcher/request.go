// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dispatcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethersphere/ledgerclient/pkg/contract"
)

var (
	ErrEndpointMismatch = errors.New("node endpoint does not match the connected node")
	ErrInvalidRequest   = errors.New("invalid request")
)

// ABI is a contract ABI given either as a JSON array or as a string holding
// one.
type ABI string

func (a *ABI) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*a = ABI(s)
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("contract abi must be a json array or a string: %w", err)
	}
	*a = ABI(b)
	return nil
}

func (a ABI) MarshalJSON() ([]byte, error) {
	if json.Valid([]byte(a)) {
		return []byte(a), nil
	}
	return json.Marshal(string(a))
}

// SendRequest asks for a state changing contract call.
type SendRequest struct {
	CorrelationID   string               `json:"correlationId,omitempty"`
	OperationID     string               `json:"operationId,omitempty"`
	ContractAddress string               `json:"contractAddress"`
	ContractABI     ABI                  `json:"contractAbi"`
	ContractName    string               `json:"contractName,omitempty"`
	NodeEndpoint    string               `json:"nodeEndpoint,omitempty"`
	MethodName      string               `json:"methodName"`
	SenderOptions   contract.SendOptions `json:"senderOptions"`
	Args            []json.RawMessage    `json:"args"`
	RetryOfHash     *common.Hash         `json:"retryOfHash,omitempty"`
	GasOverride     uint64               `json:"gasOverride,omitempty"`
}

func (r SendRequest) ref() contract.Ref {
	return contract.Ref{
		Address: r.ContractAddress,
		ABI:     string(r.ContractABI),
		Name:    r.ContractName,
	}
}

// CallRequest asks for a read only contract call.
type CallRequest struct {
	CorrelationID   string            `json:"correlationId,omitempty"`
	ContractAddress string            `json:"contractAddress"`
	ContractABI     ABI               `json:"contractAbi"`
	ContractName    string            `json:"contractName,omitempty"`
	NodeEndpoint    string            `json:"nodeEndpoint,omitempty"`
	MethodName      string            `json:"methodName"`
	Args            []json.RawMessage `json:"args"`
}

func (r CallRequest) ref() contract.Ref {
	return contract.Ref{
		Address: r.ContractAddress,
		ABI:     string(r.ContractABI),
		Name:    r.ContractName,
	}
}

func validate(address string, abi ABI, method string) error {
	switch {
	case strings.TrimSpace(address) == "":
		return fmt.Errorf("%w: missing contract address", ErrInvalidRequest)
	case strings.TrimSpace(string(abi)) == "":
		return fmt.Errorf("%w: missing contract abi", ErrInvalidRequest)
	case method == "":
		return fmt.Errorf("%w: missing method name", ErrInvalidRequest)
	}
	return nil
}
