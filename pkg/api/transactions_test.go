// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api_test

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethersphere/ledgerclient/pkg/contract"
	"github.com/ethersphere/ledgerclient/pkg/dispatcher"
	"github.com/ethersphere/ledgerclient/pkg/jsonhttp"
	"github.com/ethersphere/ledgerclient/pkg/jsonhttp/jsonhttptest"
	"github.com/ethersphere/ledgerclient/pkg/logging/httpaccess"
	"github.com/ethersphere/ledgerclient/pkg/transaction"
	"github.com/ethersphere/ledgerclient/pkg/txqueue"
)

const tokenABI = `[{"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}]`

var (
	txHash    = common.HexToHash("0xabcd")
	sender    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	recipient = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

func sendBody(extra string) string {
	return fmt.Sprintf(`{
		"correlationId": "c1",
		"operationId": "op",
		"contractAddress": %q,
		"contractAbi": %s,
		"methodName": "transfer",
		"senderOptions": {"from": %q, "gas": 90000}%s,
		"args": [%q, "1000"]
	}`, recipient.Hex(), tokenABI, sender.Hex(), extra, sender.Hex())
}

func TestTransactionSubmit(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		var got dispatcher.SendRequest
		ts := newTestServer(t, &mockDispatcher{
			submitSend: func(_ context.Context, r dispatcher.SendRequest) (string, error) {
				got = r
				return r.CorrelationID, nil
			},
		})

		jsonhttptest.Request(t, ts.Client, http.MethodPost, "/transactions", http.StatusAccepted,
			jsonhttptest.WithRequestBody(strings.NewReader(sendBody(""))),
			jsonhttptest.WithExpectedResponseHeader(httpaccess.CorrelationIDHeader, "c1"),
			jsonhttptest.WithExpectedJSONResponse(struct {
				CorrelationID string `json:"correlationId"`
			}{
				CorrelationID: "c1",
			}),
		)

		if got.OperationID != "op" || got.MethodName != "transfer" || got.ContractAddress != recipient.Hex() {
			t.Fatalf("got request %+v", got)
		}
		if got.SenderOptions.From != sender || got.SenderOptions.GasLimit != 90000 {
			t.Fatalf("got sender options %+v", got.SenderOptions)
		}
		if len(got.Args) != 2 || string(got.Args[1]) != `"1000"` {
			t.Fatalf("got args %s", got.Args)
		}
		if got.ContractABI != dispatcher.ABI(tokenABI) {
			t.Fatalf("got abi %s", got.ContractABI)
		}
	})

	t.Run("retry of", func(t *testing.T) {
		var got dispatcher.SendRequest
		ts := newTestServer(t, &mockDispatcher{
			submitSend: func(_ context.Context, r dispatcher.SendRequest) (string, error) {
				got = r
				return r.CorrelationID, nil
			},
		})

		jsonhttptest.Request(t, ts.Client, http.MethodPost, "/v1/transactions", http.StatusAccepted,
			jsonhttptest.WithRequestBody(strings.NewReader(sendBody(fmt.Sprintf(`, "retryOfHash": %q, "gasOverride": 135000`, txHash.Hex())))),
		)

		if got.RetryOfHash == nil || *got.RetryOfHash != txHash || got.GasOverride != 135000 {
			t.Fatalf("got request %+v", got)
		}
	})

	for _, tc := range []struct {
		name string
		err  error
		code int
	}{
		{name: "invalid request", err: fmt.Errorf("%w: missing method name", dispatcher.ErrInvalidRequest), code: http.StatusBadRequest},
		{name: "endpoint mismatch", err: dispatcher.ErrEndpointMismatch, code: http.StatusBadRequest},
		{name: "closed", err: txqueue.ErrClosed, code: http.StatusServiceUnavailable},
		{name: "other", err: errors.New("boom"), code: http.StatusInternalServerError},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, &mockDispatcher{
				submitSend: func(context.Context, dispatcher.SendRequest) (string, error) {
					return "", tc.err
				},
			})

			jsonhttptest.Request(t, ts.Client, http.MethodPost, "/transactions", tc.code,
				jsonhttptest.WithRequestBody(strings.NewReader(sendBody(""))),
			)
		})
	}

	t.Run("invalid body", func(t *testing.T) {
		ts := newTestServer(t, &mockDispatcher{})

		jsonhttptest.Request(t, ts.Client, http.MethodPost, "/transactions", http.StatusBadRequest,
			jsonhttptest.WithRequestBody(strings.NewReader(`{"contractAbi": 12}`)),
			jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
				Message: "invalid request body",
				Code:    http.StatusBadRequest,
			}),
		)
	})
}

type transactionResponse struct {
	TransactionHash common.Hash     `json:"transactionHash"`
	From            common.Address  `json:"from"`
	To              *common.Address `json:"to"`
	Nonce           *uint64         `json:"nonce"`
	GasLimit        uint64          `json:"gasLimit"`
	Data            string          `json:"data"`
	Created         time.Time       `json:"created"`
	Description     string          `json:"description"`
	Request         *struct {
		CorrelationID string       `json:"correlationId"`
		OperationID   string       `json:"operationId"`
		MethodName    string       `json:"methodName"`
		RetryOfHash   *common.Hash `json:"retryOfHash"`
		GasOverride   uint64       `json:"gasOverride"`
	} `json:"request"`
}

func storedTransaction() *transaction.StoredTransaction {
	nonce := uint64(12)
	return &transaction.StoredTransaction{
		From:        sender,
		To:          &recipient,
		Data:        common.Hex2Bytes("abdd"),
		GasPrice:    big.NewInt(23),
		GasLimit:    135000,
		Value:       big.NewInt(0),
		Nonce:       &nonce,
		Created:     1616451040,
		Description: "token.transfer",
	}
}

func TestTransactionDetail(t *testing.T) {
	original := common.HexToHash("0x01")

	ts := newTestServer(t, &mockDispatcher{
		storedTransaction: func(h common.Hash) (*transaction.StoredTransaction, error) {
			if h != txHash {
				return nil, transaction.ErrUnknownTransaction
			}
			return storedTransaction(), nil
		},
		storedRequest: func(h common.Hash) (*txqueue.StoredRequest, error) {
			return &txqueue.StoredRequest{
				Entry: txqueue.Entry{
					CorrelationID: "c1",
					OperationID:   "op",
					Contract:      contract.Ref{Address: recipient.Hex(), ABI: tokenABI},
					Method:        "transfer",
					RetryOf:       original,
					GasOverride:   135000,
				},
				Hash: h,
			}, nil
		},
	})

	t.Run("found", func(t *testing.T) {
		var got transactionResponse
		jsonhttptest.Request(t, ts.Client, http.MethodGet, "/transactions/"+txHash.Hex(), http.StatusOK,
			jsonhttptest.WithUnmarshalResponse(&got),
		)

		if got.TransactionHash != txHash || got.From != sender || *got.To != recipient || *got.Nonce != 12 {
			t.Fatalf("got transaction %+v", got)
		}
		if got.Data != "0xabdd" || got.GasLimit != 135000 || !got.Created.Equal(time.Unix(1616451040, 0)) {
			t.Fatalf("got transaction %+v", got)
		}
		if got.Request == nil || got.Request.CorrelationID != "c1" || got.Request.OperationID != "op" {
			t.Fatalf("got request %+v", got.Request)
		}
		if got.Request.RetryOfHash == nil || *got.Request.RetryOfHash != original || got.Request.GasOverride != 135000 {
			t.Fatalf("got request %+v", got.Request)
		}
	})

	t.Run("not found", func(t *testing.T) {
		jsonhttptest.Request(t, ts.Client, http.MethodGet, "/transactions/"+common.HexToHash("0x02").Hex(), http.StatusNotFound,
			jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
				Message: "unknown transaction",
				Code:    http.StatusNotFound,
			}),
		)
	})

	t.Run("invalid hash", func(t *testing.T) {
		jsonhttptest.Request(t, ts.Client, http.MethodGet, "/transactions/0xzz", http.StatusBadRequest)
		jsonhttptest.Request(t, ts.Client, http.MethodGet, "/transactions/0xabcd", http.StatusBadRequest)
	})
}

func TestTransactionList(t *testing.T) {
	hashes := []common.Hash{common.HexToHash("0x01"), common.HexToHash("0x02")}

	ts := newTestServer(t, &mockDispatcher{
		pendingTransactions: func() ([]common.Hash, error) {
			return hashes, nil
		},
		storedTransaction: func(common.Hash) (*transaction.StoredTransaction, error) {
			return storedTransaction(), nil
		},
	})

	var got struct {
		PendingTransactions []transactionResponse `json:"pendingTransactions"`
	}
	jsonhttptest.Request(t, ts.Client, http.MethodGet, "/transactions", http.StatusOK,
		jsonhttptest.WithUnmarshalResponse(&got),
	)

	if len(got.PendingTransactions) != 2 {
		t.Fatalf("got %d pending transactions, want 2", len(got.PendingTransactions))
	}
	for i, tx := range got.PendingTransactions {
		if tx.TransactionHash != hashes[i] {
			t.Errorf("got hash %x at %d, want %x", tx.TransactionHash, i, hashes[i])
		}
		if tx.Request != nil {
			t.Errorf("got request %+v for a transaction without one", tx.Request)
		}
	}
}

func TestTransactionListError(t *testing.T) {
	ts := newTestServer(t, &mockDispatcher{
		pendingTransactions: func() ([]common.Hash, error) {
			return nil, errors.New("store failure")
		},
	})

	jsonhttptest.Request(t, ts.Client, http.MethodGet, "/transactions", http.StatusInternalServerError,
		jsonhttptest.WithExpectedJSONResponse(jsonhttp.StatusResponse{
			Message: "cannot get transaction",
			Code:    http.StatusInternalServerError,
		}),
	)
}

func TestTransactionResend(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		code int
	}{
		{name: "ok", code: http.StatusOK},
		{name: "unknown", err: transaction.ErrUnknownTransaction, code: http.StatusNotFound},
		{name: "node signed", err: transaction.ErrNodeSigned, code: http.StatusBadRequest},
		{name: "other", err: errors.New("boom"), code: http.StatusInternalServerError},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var resent common.Hash
			ts := newTestServer(t, &mockDispatcher{
				resendTransaction: func(_ context.Context, h common.Hash) error {
					resent = h
					return tc.err
				},
			})

			jsonhttptest.Request(t, ts.Client, http.MethodPost, "/transactions/"+txHash.Hex(), tc.code)

			if resent != txHash {
				t.Fatalf("got resent %x, want %x", resent, txHash)
			}
		})
	}
}

func TestTransactionLanded(t *testing.T) {
	receipt := &types.Receipt{
		TxHash:      txHash,
		BlockHash:   common.HexToHash("0xb1"),
		BlockNumber: big.NewInt(7),
		GasUsed:     21000,
		Status:      types.ReceiptStatusSuccessful,
	}

	t.Run("landed", func(t *testing.T) {
		ts := newTestServer(t, &mockDispatcher{
			waitLanded: func(context.Context, common.Hash) (*types.Receipt, error) {
				return receipt, nil
			},
		})

		var got struct {
			TransactionHash common.Hash `json:"transactionHash"`
			BlockHash       common.Hash `json:"blockHash"`
			BlockNumber     string      `json:"blockNumber"`
			GasUsed         uint64      `json:"gasUsed"`
			Status          uint64      `json:"status"`
		}
		jsonhttptest.Request(t, ts.Client, http.MethodGet, "/transactions/"+txHash.Hex()+"/landed", http.StatusOK,
			jsonhttptest.WithUnmarshalResponse(&got),
		)

		if got.TransactionHash != txHash || got.BlockHash != receipt.BlockHash || got.BlockNumber != "7" || got.GasUsed != 21000 || got.Status != 1 {
			t.Fatalf("got receipt %+v", got)
		}
	})

	for _, tc := range []struct {
		name string
		err  error
		code int
	}{
		{name: "unknown", err: transaction.ErrUnknownTransaction, code: http.StatusNotFound},
		{name: "cancelled", err: transaction.ErrTransactionCancelled, code: http.StatusConflict},
		{name: "node error", err: errors.New("connection refused"), code: http.StatusBadGateway},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, &mockDispatcher{
				waitLanded: func(context.Context, common.Hash) (*types.Receipt, error) {
					return nil, tc.err
				},
			})

			jsonhttptest.Request(t, ts.Client, http.MethodGet, "/transactions/"+txHash.Hex()+"/landed", tc.code)
		})
	}
}
