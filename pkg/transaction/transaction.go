// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package transaction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethersphere/ledgerclient/pkg/crypto"
	"github.com/ethersphere/ledgerclient/pkg/logging"
	"github.com/ethersphere/ledgerclient/pkg/storage"
)

const (
	noncePrefix              = "transaction_nonce_"
	storedTransactionPrefix  = "transaction_stored_"
	pendingTransactionPrefix = "transaction_pending_"
)

const (
	DefaultFallbackGasLimit uint64 = 3000000
	DefaultLandedDepth      uint64 = 2
)

var (
	DefaultMinGasPrice = big.NewInt(1000000000)
	DefaultMaxGasPrice = big.NewInt(500000000000)
)

var (
	// ErrTransactionReverted denotes that the sent transaction has been
	// reverted.
	ErrTransactionReverted = errors.New("transaction reverted")
	ErrUnknownTransaction  = errors.New("unknown transaction")
	ErrAlreadyImported     = errors.New("already imported")
	// ErrEstimation is logged when gas estimation fails. It never fails a
	// send.
	ErrEstimation = errors.New("gas estimation failed")
	// ErrNodeSigned is returned when resending a transaction that the node
	// signed for one of its own accounts.
	ErrNodeSigned = errors.New("transaction signed by the node")
)

// SubmissionError is returned when the node rejected a transaction before
// it was mined.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("transaction rejected: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// TxRequest describes a request for a transaction that can be executed.
type TxRequest struct {
	From        common.Address  // sender of the transaction
	To          *common.Address // recipient of the transaction
	Data        []byte          // transaction data
	GasPrice    *big.Int        // gas price or nil if suggested gas price should be used
	GasLimit    uint64          // gas limit or 0 if it should be estimated
	Value       *big.Int        // amount of wei to send
	Nonce       *uint64         // nonce or nil if it should be assigned
	Description string          // optional description
}

type StoredTransaction struct {
	From        common.Address  // sender of the transaction
	To          *common.Address // recipient of the transaction
	Data        []byte          // transaction data
	GasPrice    *big.Int        // used gas price
	GasLimit    uint64          // used gas limit, 0 if left to the node
	Value       *big.Int        // amount of wei to send
	Nonce       *uint64         // used nonce, nil if unknown
	NodeSigned  bool            // signed by the node
	Created     int64           // creation timestamp
	Description string          // description
}

// Service is the service to send transactions. It takes care of gas price, gas
// limit and nonce management.
type Service interface {
	io.Closer
	// Send creates a transaction based on the request and sends it. Senders
	// with a signer in the keyring are signed locally, all others are signed
	// by the node.
	Send(ctx context.Context, request *TxRequest) (txHash common.Hash, err error)
	// Call simulate a transaction based on the request.
	Call(ctx context.Context, request *TxRequest) (result []byte, err error)
	// WaitForReceipt waits until the transaction with the given hash has
	// landed or the context is cancelled.
	// This is only valid for transaction sent by this service.
	WaitForReceipt(ctx context.Context, txHash common.Hash) (receipt *types.Receipt, err error)
	// WatchSentTransaction start watching the given transaction up to depth
	// confirmations.
	// This is only valid for transaction sent by this service.
	WatchSentTransaction(ctx context.Context, txHash common.Hash, depth uint64) (<-chan Confirmation, <-chan error, error)
	// StoredTransaction retrieves the stored information for the transaction
	StoredTransaction(txHash common.Hash) (*StoredTransaction, error)
	// PendingTransactions retrieves the list of all pending transaction hashes
	PendingTransactions() ([]common.Hash, error)
	// ResendTransaction resends a previously sent transaction
	// This operation can be useful if for some reason the transaction vanished from the eth networks pending pool
	ResendTransaction(ctx context.Context, txHash common.Hash) error
}

// Options tune fee selection and the landed check.
type Options struct {
	MinGasPrice      *big.Int
	MaxGasPrice      *big.Int
	FallbackGasLimit uint64
	LandedDepth      uint64
}

type transactionService struct {
	wg     sync.WaitGroup
	lock   sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc

	logger  logging.Logger
	backend Backend
	keyring *crypto.Keyring
	store   storage.StateStorer
	chainID *big.Int
	monitor Monitor
	opts    Options

	senderLocks map[common.Address]*sync.Mutex
}

// NewService creates a new transaction service.
func NewService(logger logging.Logger, backend Backend, keyring *crypto.Keyring, store storage.StateStorer, chainID *big.Int, monitor Monitor, o Options) (Service, error) {
	if o.MinGasPrice == nil {
		o.MinGasPrice = DefaultMinGasPrice
	}
	if o.MaxGasPrice == nil {
		o.MaxGasPrice = DefaultMaxGasPrice
	}
	if o.MaxGasPrice.Cmp(o.MinGasPrice) < 0 {
		return nil, fmt.Errorf("max gas price %s below min gas price %s", o.MaxGasPrice, o.MinGasPrice)
	}
	if o.FallbackGasLimit == 0 {
		o.FallbackGasLimit = DefaultFallbackGasLimit
	}
	if o.LandedDepth == 0 {
		o.LandedDepth = DefaultLandedDepth
	}

	ctx, cancel := context.WithCancel(context.Background())

	t := &transactionService{
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
		backend:     backend,
		keyring:     keyring,
		store:       store,
		chainID:     chainID,
		monitor:     monitor,
		opts:        o,
		senderLocks: make(map[common.Address]*sync.Mutex),
	}

	pendingTxs, err := t.PendingTransactions()
	if err != nil {
		cancel()
		return nil, err
	}
	for _, txHash := range pendingTxs {
		t.logger.Debugf("resuming watch of pending transaction %x", txHash)
		t.waitForPendingTx(txHash)
	}

	return t, nil
}

// Send creates and signs a transaction based on the request and sends it.
func (t *transactionService) Send(ctx context.Context, request *TxRequest) (txHash common.Hash, err error) {
	signer, ok := t.keyring.Signer(request.From)
	if !ok {
		return t.sendNodeSigned(ctx, request)
	}

	lock := t.senderLock(request.From)
	lock.Lock()
	defer lock.Unlock()

	gasLimit := t.gasLimit(ctx, request, t.opts.FallbackGasLimit)
	gasPrice := t.gasPrice(ctx, request)

	nonce, previous, err := t.nextNonce(ctx, request.From, request.Nonce)
	if err != nil {
		return common.Hash{}, err
	}

	// the nonce is taken before submission so that concurrent sends never
	// reuse it and released again if the node does not accept the transaction
	if err := t.putNonce(request.From, nonce); err != nil {
		return common.Hash{}, err
	}

	signedTx, err := signer.SignTx(newTransaction(nonce, request.To, request.Value, gasLimit, gasPrice, request.Data), t.chainID)
	if err != nil {
		t.restoreNonce(request.From, previous)
		return common.Hash{}, err
	}

	t.logger.Tracef("sending transaction %x with nonce %d", signedTx.Hash(), nonce)

	if err := t.backend.SendTransaction(ctx, signedTx); err != nil {
		// this lowers the stored nonce again. Sends of the sender are
		// serialized by lock, so no later nonce was handed out meanwhile.
		t.restoreNonce(request.From, previous)
		return common.Hash{}, &SubmissionError{Err: err}
	}

	txHash = signedTx.Hash()

	err = t.record(txHash, StoredTransaction{
		From:        request.From,
		To:          signedTx.To(),
		Data:        signedTx.Data(),
		GasPrice:    signedTx.GasPrice(),
		GasLimit:    signedTx.Gas(),
		Value:       signedTx.Value(),
		Nonce:       &nonce,
		Created:     time.Now().Unix(),
		Description: request.Description,
	})
	if err != nil {
		return common.Hash{}, err
	}

	return txHash, nil
}

// sendNodeSigned submits the request for the node to sign with one of its
// own accounts. The node assigns the nonce unless the request has one.
func (t *transactionService) sendNodeSigned(ctx context.Context, request *TxRequest) (common.Hash, error) {
	gasLimit := t.gasLimit(ctx, request, 0)
	gasPrice := t.gasPrice(ctx, request)

	txHash, err := t.backend.SendTransactionArgs(ctx, SendArgs{
		From:     request.From,
		To:       request.To,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Value:    request.Value,
		Data:     request.Data,
		Nonce:    request.Nonce,
	})
	if err != nil {
		return common.Hash{}, &SubmissionError{Err: err}
	}

	t.logger.Tracef("sent transaction %x signed by the node for %x", txHash, request.From)

	nonce := request.Nonce
	if nonce == nil {
		tx, _, err := t.backend.TransactionByHash(ctx, txHash)
		if err != nil {
			t.logger.Debugf("could not get nonce of transaction %x: %v", txHash, err)
		} else {
			n := tx.Nonce()
			nonce = &n
		}
	}

	err = t.record(txHash, StoredTransaction{
		From:        request.From,
		To:          request.To,
		Data:        request.Data,
		GasPrice:    gasPrice,
		GasLimit:    gasLimit,
		Value:       request.Value,
		Nonce:       nonce,
		NodeSigned:  true,
		Created:     time.Now().Unix(),
		Description: request.Description,
	})
	if err != nil {
		return common.Hash{}, err
	}

	return txHash, nil
}

// record stores the sent transaction, marks it pending and starts watching
// it until it has landed.
func (t *transactionService) record(txHash common.Hash, stored StoredTransaction) error {
	if err := t.store.Put(storedTransactionKey(txHash), stored); err != nil {
		return err
	}

	if err := t.store.Put(pendingTransactionKey(txHash), struct{}{}); err != nil {
		return err
	}

	t.waitForPendingTx(txHash)
	return nil
}

func (t *transactionService) waitForPendingTx(txHash common.Hash) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		_, err := t.WaitForReceipt(t.ctx, txHash)
		switch {
		case err == nil:
			t.logger.Tracef("pending transaction %x landed", txHash)
		case errors.Is(err, context.Canceled), errors.Is(err, ErrMonitorClosed):
			// still pending, watched again on the next start
			return
		case errors.Is(err, ErrTransactionCancelled):
			t.logger.Warningf("pending transaction %x cancelled", txHash)
		default:
			t.logger.Errorf("error while waiting for pending transaction %x: %v", txHash, err)
		}

		err = t.store.Delete(pendingTransactionKey(txHash))
		if err != nil {
			t.logger.Errorf("error while unregistering transaction as pending %x: %v", txHash, err)
		}
	}()
}

func (t *transactionService) Call(ctx context.Context, request *TxRequest) ([]byte, error) {
	msg := ethereum.CallMsg{
		From:     request.From,
		To:       request.To,
		Data:     request.Data,
		GasPrice: request.GasPrice,
		Gas:      request.GasLimit,
		Value:    request.Value,
	}
	data, err := t.backend.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, err
	}

	return data, nil
}

func (t *transactionService) StoredTransaction(txHash common.Hash) (*StoredTransaction, error) {
	var tx StoredTransaction
	err := t.store.Get(storedTransactionKey(txHash), &tx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUnknownTransaction
		}
		return nil, err
	}
	return &tx, nil
}

// gasLimit returns the requested gas limit or the estimate plus 20%. When
// the estimation fails the fallback is used.
func (t *transactionService) gasLimit(ctx context.Context, request *TxRequest, fallback uint64) uint64 {
	if request.GasLimit != 0 {
		return request.GasLimit
	}

	gasLimit, err := t.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  request.From,
		To:    request.To,
		Data:  request.Data,
		Value: request.Value,
	})
	if err != nil {
		t.logger.Warningf("%v: %v", ErrEstimation, err)
		return fallback
	}

	return gasLimit + gasLimit/5 // add 20% on top
}

// gasPrice returns the requested or suggested gas price within the
// configured bounds.
func (t *transactionService) gasPrice(ctx context.Context, request *TxRequest) *big.Int {
	gasPrice := request.GasPrice
	if gasPrice == nil {
		var err error
		gasPrice, err = t.backend.SuggestGasPrice(ctx)
		if err != nil {
			t.logger.Warningf("could not get gas price suggestion: %v", err)
			gasPrice = t.opts.MinGasPrice
		}
	}

	if gasPrice.Cmp(t.opts.MinGasPrice) < 0 {
		return new(big.Int).Set(t.opts.MinGasPrice)
	}
	if gasPrice.Cmp(t.opts.MaxGasPrice) > 0 {
		t.logger.Warningf("gas price %s above maximum, using %s", gasPrice, t.opts.MaxGasPrice)
		return new(big.Int).Set(t.opts.MaxGasPrice)
	}
	return gasPrice
}

func newTransaction(nonce uint64, to *common.Address, value *big.Int, gasLimit uint64, gasPrice *big.Int, data []byte) *types.Transaction {
	if value == nil {
		value = new(big.Int)
	}

	if to != nil {
		return types.NewTransaction(
			nonce,
			*to,
			value,
			gasLimit,
			gasPrice,
			data,
		)
	}

	return types.NewContractCreation(
		nonce,
		value,
		gasLimit,
		gasPrice,
		data,
	)
}

func nonceKey(sender common.Address) string {
	return fmt.Sprintf("%s%x", noncePrefix, sender)
}

func storedTransactionKey(txHash common.Hash) string {
	return fmt.Sprintf("%s%x", storedTransactionPrefix, txHash)
}

func pendingTransactionKey(txHash common.Hash) string {
	return fmt.Sprintf("%s%x", pendingTransactionPrefix, txHash)
}

func (t *transactionService) senderLock(sender common.Address) *sync.Mutex {
	t.lock.Lock()
	defer t.lock.Unlock()

	l, ok := t.senderLocks[sender]
	if !ok {
		l = new(sync.Mutex)
		t.senderLocks[sender] = l
	}
	return l
}

// nextNonce returns the nonce for the next transaction of sender and the
// last used nonce, if any. The node's pending nonce, or the supplied one,
// is used unless it was already used in which case the last used nonce plus
// one is taken.
func (t *transactionService) nextNonce(ctx context.Context, sender common.Address, supplied *uint64) (nonce uint64, previous *uint64, err error) {
	if supplied != nil {
		nonce = *supplied
	} else {
		nonce, err = t.backend.PendingNonceAt(ctx, sender)
		if err != nil {
			return 0, nil, err
		}
	}

	var lastUsed uint64
	err = t.store.Get(nonceKey(sender), &lastUsed)
	if err != nil {
		// If no nonce was found locally use whatever we get from the backend.
		if errors.Is(err, storage.ErrNotFound) {
			return nonce, nil, nil
		}
		return 0, nil, err
	}

	// the node may not have seen our last transaction yet
	if lastUsed >= nonce {
		nonce = lastUsed + 1
	}
	return nonce, &lastUsed, nil
}

func (t *transactionService) putNonce(sender common.Address, nonce uint64) error {
	return t.store.Put(nonceKey(sender), nonce)
}

// restoreNonce rolls the stored nonce of sender back to previous. It must
// only be called with the sender lock held.
func (t *transactionService) restoreNonce(sender common.Address, previous *uint64) {
	var err error
	if previous == nil {
		err = t.store.Delete(nonceKey(sender))
	} else {
		err = t.putNonce(sender, *previous)
	}
	if err != nil {
		t.logger.Errorf("could not restore nonce of %x: %v", sender, err)
	}
}

// WaitForReceipt waits until either the transaction with the given hash has
// landed or the context is cancelled.
func (t *transactionService) WaitForReceipt(ctx context.Context, txHash common.Hash) (receipt *types.Receipt, err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	confirmC, errC, err := t.WatchSentTransaction(ctx, txHash, t.opts.LandedDepth)
	if err != nil {
		return nil, err
	}
	for {
		select {
		case c := <-confirmC:
			if c.Number >= t.opts.LandedDepth {
				return &c.Receipt, nil
			}
		case err := <-errC:
			return nil, err
		// don't wait longer than the context that was passed in
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (t *transactionService) WatchSentTransaction(ctx context.Context, txHash common.Hash, depth uint64) (<-chan Confirmation, <-chan error, error) {
	// loading the tx here guarantees it was in fact sent from this transaction service
	// also it allows us to avoid having to load the transaction during the watch loop
	storedTransaction, err := t.StoredTransaction(txHash)
	if err != nil {
		return nil, nil, err
	}

	return t.monitor.WatchTransaction(ctx, txHash, storedTransaction.From, storedTransaction.Nonce, depth)
}

func (t *transactionService) PendingTransactions() ([]common.Hash, error) {
	var txHashes []common.Hash = make([]common.Hash, 0)
	err := t.store.Iterate(pendingTransactionPrefix, func(key, value []byte) (stop bool, err error) {
		txHash := common.HexToHash(strings.TrimPrefix(string(key), pendingTransactionPrefix))
		txHashes = append(txHashes, txHash)
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return txHashes, nil
}

func (t *transactionService) ResendTransaction(ctx context.Context, txHash common.Hash) error {
	storedTransaction, err := t.StoredTransaction(txHash)
	if err != nil {
		return err
	}

	signer, ok := t.keyring.Signer(storedTransaction.From)
	if storedTransaction.NodeSigned || !ok || storedTransaction.Nonce == nil {
		return ErrNodeSigned
	}

	tx := newTransaction(
		*storedTransaction.Nonce,
		storedTransaction.To,
		storedTransaction.Value,
		storedTransaction.GasLimit,
		storedTransaction.GasPrice,
		storedTransaction.Data,
	)

	signedTx, err := signer.SignTx(tx, t.chainID)
	if err != nil {
		return err
	}

	if signedTx.Hash() != txHash {
		return errors.New("transaction hash changed")
	}

	err = t.backend.SendTransaction(ctx, signedTx)
	if err != nil {
		if strings.Contains(err.Error(), "already imported") || strings.Contains(err.Error(), "already known") {
			return ErrAlreadyImported
		}
		return err
	}
	return nil
}

func (t *transactionService) Close() error {
	t.cancel()
	t.wg.Wait()
	return nil
}
