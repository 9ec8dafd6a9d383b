// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"encoding/json"
	"errors"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethersphere/ledgerclient/pkg/bigint"
	"github.com/ethersphere/ledgerclient/pkg/callqueue"
	"github.com/ethersphere/ledgerclient/pkg/dispatcher"
	"github.com/ethersphere/ledgerclient/pkg/jsonhttp"
	"github.com/ethersphere/ledgerclient/pkg/logging/httpaccess"
	"github.com/ethersphere/ledgerclient/pkg/storage"
	"github.com/ethersphere/ledgerclient/pkg/transaction"
	"github.com/ethersphere/ledgerclient/pkg/txqueue"
	"github.com/gorilla/mux"
)

const (
	errCantGetTransaction    = "cannot get transaction"
	errUnknownTransaction    = "unknown transaction"
	errCantResendTransaction = "cannot resend transaction"
	errInvalidHash           = "invalid transaction hash"
	errInvalidBody           = "invalid request body"
	errCantReadBody          = "cannot read request"
)

type submitResponse struct {
	CorrelationID string `json:"correlationId"`
}

type requestInfo struct {
	CorrelationID   string            `json:"correlationId"`
	OperationID     string            `json:"operationId,omitempty"`
	ContractAddress string            `json:"contractAddress"`
	ContractName    string            `json:"contractName,omitempty"`
	MethodName      string            `json:"methodName"`
	Args            []json.RawMessage `json:"args"`
	RetryOfHash     *common.Hash      `json:"retryOfHash,omitempty"`
	GasOverride     uint64            `json:"gasOverride,omitempty"`
}

type transactionInfo struct {
	TransactionHash common.Hash     `json:"transactionHash"`
	From            common.Address  `json:"from"`
	To              *common.Address `json:"to"`
	Nonce           *uint64         `json:"nonce"`
	GasPrice        *bigint.BigInt  `json:"gasPrice"`
	GasLimit        uint64          `json:"gasLimit"`
	Data            string          `json:"data"`
	Created         time.Time       `json:"created"`
	Description     string          `json:"description"`
	Value           *bigint.BigInt  `json:"value"`
	NodeSigned      bool            `json:"nodeSigned"`
	Request         *requestInfo    `json:"request,omitempty"`
}

type transactionPendingList struct {
	PendingTransactions []transactionInfo `json:"pendingTransactions"`
}

type receiptResponse struct {
	TransactionHash common.Hash    `json:"transactionHash"`
	BlockHash       common.Hash    `json:"blockHash"`
	BlockNumber     *bigint.BigInt `json:"blockNumber"`
	GasUsed         uint64         `json:"gasUsed"`
	Status          uint64         `json:"status"`
}

type statusMessageResponse struct {
	Message string `json:"message"`
}

// readJSONBody decodes the request body into v and responds if it fails.
func (s *Service) readJSONBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		if jsonhttp.HandleBodyReadError(err, w) {
			return false
		}
		s.logger.Debugf("read request body: %v", err)
		s.logger.Error("read request body")
		jsonhttp.InternalServerError(w, errCantReadBody)
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		s.logger.Debugf("decode request body: %v", err)
		jsonhttp.BadRequest(w, errInvalidBody)
		return false
	}
	return true
}

func (s *Service) respondSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dispatcher.ErrInvalidRequest),
		errors.Is(err, dispatcher.ErrEndpointMismatch),
		errors.Is(err, txqueue.ErrInvalidEntry),
		errors.Is(err, callqueue.ErrInvalidEntry):
		jsonhttp.BadRequest(w, err.Error())
	case errors.Is(err, txqueue.ErrClosed), errors.Is(err, callqueue.ErrClosed):
		jsonhttp.ServiceUnavailable(w, err.Error())
	default:
		s.logger.Errorf("submit request: %v", err)
		jsonhttp.InternalServerError(w, nil)
	}
}

func (s *Service) transactionSubmitHandler(w http.ResponseWriter, r *http.Request) {
	var req dispatcher.SendRequest
	if !s.readJSONBody(w, r, &req) {
		return
	}

	id, err := s.dispatcher.SubmitSend(r.Context(), req)
	if err != nil {
		s.logger.Debugf("submit send %s: %v", req.MethodName, err)
		s.respondSubmitError(w, err)
		return
	}

	httpaccess.SetCorrelationID(w, r, id)
	if req.OperationID != "" {
		httpaccess.SetOperationID(r, req.OperationID)
	}
	jsonhttp.Accepted(w, submitResponse{CorrelationID: id})
}

func (s *Service) transactionListHandler(w http.ResponseWriter, _ *http.Request) {
	txHashes, err := s.dispatcher.PendingTransactions()
	if err != nil {
		s.logger.Debugf("get pending transactions: %v", err)
		s.logger.Error("get pending transactions")
		jsonhttp.InternalServerError(w, errCantGetTransaction)
		return
	}

	infos := make([]transactionInfo, 0, len(txHashes))
	for _, txHash := range txHashes {
		info, err := s.transactionDetail(txHash)
		if err != nil {
			s.logger.Debugf("get stored transaction %x: %v", txHash, err)
			s.logger.Error("get pending transactions")
			jsonhttp.InternalServerError(w, errCantGetTransaction)
			return
		}
		infos = append(infos, *info)
	}

	jsonhttp.OK(w, transactionPendingList{
		PendingTransactions: infos,
	})
}

func parseHash(r *http.Request) (common.Hash, bool) {
	s := mux.Vars(r)["hash"]
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, false
	}
	return common.BytesToHash(b), true
}

func (s *Service) transactionDetailHandler(w http.ResponseWriter, r *http.Request) {
	txHash, ok := parseHash(r)
	if !ok {
		jsonhttp.BadRequest(w, errInvalidHash)
		return
	}

	info, err := s.transactionDetail(txHash)
	if err != nil {
		s.logger.Debugf("get stored transaction %x: %v", txHash, err)
		if errors.Is(err, transaction.ErrUnknownTransaction) {
			jsonhttp.NotFound(w, errUnknownTransaction)
			return
		}
		s.logger.Errorf("get stored transaction %x", txHash)
		jsonhttp.InternalServerError(w, errCantGetTransaction)
		return
	}

	jsonhttp.OK(w, info)
}

func (s *Service) transactionDetail(txHash common.Hash) (*transactionInfo, error) {
	stored, err := s.dispatcher.StoredTransaction(txHash)
	if err != nil {
		return nil, err
	}

	info := &transactionInfo{
		TransactionHash: txHash,
		From:            stored.From,
		To:              stored.To,
		Nonce:           stored.Nonce,
		GasPrice:        bigint.Wrap(stored.GasPrice),
		GasLimit:        stored.GasLimit,
		Data:            hexutil.Encode(stored.Data),
		Created:         time.Unix(stored.Created, 0),
		Description:     stored.Description,
		Value:           bigint.Wrap(stored.Value),
		NodeSigned:      stored.NodeSigned,
	}

	req, err := s.dispatcher.StoredRequest(txHash)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		info.Request = &requestInfo{
			CorrelationID:   req.CorrelationID,
			OperationID:     req.OperationID,
			ContractAddress: req.Contract.Address,
			ContractName:    req.Contract.Name,
			MethodName:      req.Method,
			Args:            req.Args,
			GasOverride:     req.GasOverride,
		}
		if req.IsRetry() {
			retryOf := req.RetryOf
			info.Request.RetryOfHash = &retryOf
		}
	}

	return info, nil
}

func (s *Service) transactionResendHandler(w http.ResponseWriter, r *http.Request) {
	txHash, ok := parseHash(r)
	if !ok {
		jsonhttp.BadRequest(w, errInvalidHash)
		return
	}

	err := s.dispatcher.ResendTransaction(r.Context(), txHash)
	if err != nil {
		s.logger.Debugf("resend transaction %x: %v", txHash, err)
		switch {
		case errors.Is(err, transaction.ErrUnknownTransaction):
			jsonhttp.NotFound(w, errUnknownTransaction)
		case errors.Is(err, transaction.ErrNodeSigned):
			jsonhttp.BadRequest(w, err.Error())
		default:
			s.logger.Errorf("resend transaction %x", txHash)
			jsonhttp.InternalServerError(w, errCantResendTransaction)
		}
		return
	}

	jsonhttp.OK(w, statusMessageResponse{Message: "resent"})
}

func (s *Service) transactionLandedHandler(w http.ResponseWriter, r *http.Request) {
	txHash, ok := parseHash(r)
	if !ok {
		jsonhttp.BadRequest(w, errInvalidHash)
		return
	}

	receipt, err := s.dispatcher.WaitLanded(r.Context(), txHash)
	if err != nil {
		s.logger.Debugf("wait for landed transaction %x: %v", txHash, err)
		switch {
		case errors.Is(err, transaction.ErrUnknownTransaction):
			jsonhttp.NotFound(w, errUnknownTransaction)
		case errors.Is(err, transaction.ErrTransactionCancelled),
			errors.Is(err, transaction.ErrTransactionReverted):
			jsonhttp.Conflict(w, err.Error())
		default:
			jsonhttp.BadGateway(w, err.Error())
		}
		return
	}

	jsonhttp.OK(w, receiptResponse{
		TransactionHash: receipt.TxHash,
		BlockHash:       receipt.BlockHash,
		BlockNumber:     bigint.Wrap(receipt.BlockNumber),
		GasUsed:         receipt.GasUsed,
		Status:          receipt.Status,
	})
}
