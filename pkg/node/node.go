// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package node wires the node connection, the transaction service, the
// dispatcher and the HTTP API of a ledger client.
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/big"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethersphere/ledgerclient"
	"github.com/ethersphere/ledgerclient/pkg/api"
	"github.com/ethersphere/ledgerclient/pkg/crypto"
	"github.com/ethersphere/ledgerclient/pkg/dispatcher"
	"github.com/ethersphere/ledgerclient/pkg/logging"
	m "github.com/ethersphere/ledgerclient/pkg/metrics"
	"github.com/ethersphere/ledgerclient/pkg/tracing"
	"github.com/ethersphere/ledgerclient/pkg/transaction"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var ErrShutdownInProgress = errors.New("shutdown in progress")

type Node struct {
	ctxCancel                context.CancelFunc
	apiCloser                io.Closer
	apiServer                *http.Server
	apiListener              net.Listener
	dispatcher               *dispatcher.Dispatcher
	dispatcherCloser         io.Closer
	errorLogWriter           *io.PipeWriter
	tracerCloser             io.Closer
	stateStoreCloser         io.Closer
	resolverCloser           io.Closer
	ethClientCloser          func()
	transactionMonitorCloser io.Closer
	transactionCloser        io.Closer
	shutdownInProgress       bool
	shutdownMutex            sync.Mutex
}

type Options struct {
	DataDir            string
	APIAddr            string
	CORSAllowedOrigins []string
	Endpoint           string
	ResolverEndpoint   string
	BlockTime          time.Duration
	SkipSyncWait       bool
	TracingEnabled     bool
	TracingEndpoint    string
	TracingServiceName string

	TxInFlightLimit       int
	CallInFlightLimit     int
	CallsPerSecond        float64
	ConfirmationDepth     uint64
	LandedDepth           uint64
	CancellationDepth     uint64
	PendingTimeout        time.Duration
	BackoffInterval       time.Duration
	CallTimeout           time.Duration
	OperationPollInterval time.Duration
	BindingCacheSize      int
	MinGasPrice           *big.Int
	MaxGasPrice           *big.Int
	FallbackGasLimit      uint64
}

// NewNode connects to the node at o.Endpoint and starts serving requests.
// Transactions of addresses held by signers are signed locally, all others
// are left to the node. The API is not served if o.APIAddr is empty.
func NewNode(logger logging.Logger, signers []crypto.Signer, o Options) (n *Node, err error) {
	tracer, tracerCloser, err := tracing.NewTracer(&tracing.Options{
		Enabled:     o.TracingEnabled,
		Endpoint:    o.TracingEndpoint,
		ServiceName: o.TracingServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer: %w", err)
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	n = &Node{
		ctxCancel:      ctxCancel,
		errorLogWriter: logger.WriterLevel(logrus.ErrorLevel),
		tracerCloser:   tracerCloser,
	}

	defer func() {
		if err != nil {
			if e := n.Shutdown(context.Background()); e != nil {
				logger.Errorf("failed to shut down: %v", e)
			}
		}
	}()

	stateStore, err := InitStateStore(logger, o.DataDir)
	if err != nil {
		return nil, fmt.Errorf("statestore: %w", err)
	}
	n.stateStoreCloser = stateStore

	keyring, err := crypto.NewKeyring(signers...)
	if err != nil {
		return nil, fmt.Errorf("keyring: %w", err)
	}

	backend, _, monitor, transactionService, err := InitChain(ctx, logger, stateStore, keyring, ChainOptions{
		Endpoint:          o.Endpoint,
		BlockTime:         o.BlockTime,
		CancellationDepth: o.CancellationDepth,
		SkipSyncWait:      o.SkipSyncWait,
		Transaction: transaction.Options{
			MinGasPrice:      o.MinGasPrice,
			MaxGasPrice:      o.MaxGasPrice,
			FallbackGasLimit: o.FallbackGasLimit,
			LandedDepth:      o.LandedDepth,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init chain: %w", err)
	}
	n.ethClientCloser = backend.Close
	n.transactionMonitorCloser = monitor
	n.transactionCloser = transactionService

	r, resolverCloser, err := InitResolver(logger, o.ResolverEndpoint)
	if err != nil {
		return nil, fmt.Errorf("resolver: %w", err)
	}
	n.resolverCloser = resolverCloser

	d, err := dispatcher.New(logger, backend, transactionService, r, stateStore, tracer, dispatcher.Options{
		TxInFlightLimit:       o.TxInFlightLimit,
		CallInFlightLimit:     o.CallInFlightLimit,
		CallsPerSecond:        o.CallsPerSecond,
		ConfirmationDepth:     o.ConfirmationDepth,
		PendingTimeout:        o.PendingTimeout,
		BackoffInterval:       o.BackoffInterval,
		CallTimeout:           o.CallTimeout,
		OperationPollInterval: o.OperationPollInterval,
		BindingCacheSize:      o.BindingCacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("dispatcher: %w", err)
	}
	d.Start()
	n.dispatcher = d
	n.dispatcherCloser = d

	if o.APIAddr != "" {
		registry := m.NewRegistry(ledgerclient.Version)

		apiService := api.New(d, logger, tracer, registry, api.Options{
			CORSAllowedOrigins: o.CORSAllowedOrigins,
		})
		n.apiCloser = apiService

		registry.MustRegister(logger.Metrics()...)
		registry.MustRegister(backend.Metrics()...)
		registry.MustRegister(d.Metrics()...)
		registry.MustRegister(apiService.Metrics()...)

		apiListener, err := net.Listen("tcp", o.APIAddr)
		if err != nil {
			return nil, fmt.Errorf("api listener: %w", err)
		}
		n.apiListener = apiListener

		apiServer := &http.Server{
			IdleTimeout:       30 * time.Second,
			ReadHeaderTimeout: 3 * time.Second,
			Handler:           apiService,
			ErrorLog:          log.New(n.errorLogWriter, "", 0),
		}

		go func() {
			logger.Infof("api address: %s", apiListener.Addr())

			if err := apiServer.Serve(apiListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Debugf("api server: %v", err)
				logger.Error("unable to serve api")
			}
		}()

		n.apiServer = apiServer
	}

	return n, nil
}

// Dispatcher returns the dispatcher serving requests of this node.
func (n *Node) Dispatcher() *dispatcher.Dispatcher {
	return n.dispatcher
}

// APIAddr returns the address the API listens on, or nil if it is not served.
func (n *Node) APIAddr() net.Addr {
	if n.apiListener == nil {
		return nil
	}
	return n.apiListener.Addr()
}

// Shutdown stops serving the API, stops both queues and closes the node
// connection and the state store.
func (n *Node) Shutdown(ctx context.Context) error {
	var mErr error

	// if a shutdown is already in process, return here
	n.shutdownMutex.Lock()
	if n.shutdownInProgress {
		n.shutdownMutex.Unlock()
		return ErrShutdownInProgress
	}
	n.shutdownInProgress = true
	n.shutdownMutex.Unlock()

	// tryClose is a convenient closure which decrease
	// repetitive io.Closer tryClose procedure.
	tryClose := func(c io.Closer, errMsg string) {
		if c == nil {
			return
		}
		if err := c.Close(); err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("%s: %w", errMsg, err))
		}
	}

	tryClose(n.apiCloser, "api")

	var eg errgroup.Group
	if n.apiServer != nil {
		eg.Go(func() error {
			if err := n.apiServer.Shutdown(ctx); err != nil {
				return fmt.Errorf("api server: %w", err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		mErr = multierror.Append(mErr, err)
	}

	n.ctxCancel()

	tryClose(n.dispatcherCloser, "dispatcher")
	tryClose(n.transactionMonitorCloser, "transaction monitor")
	tryClose(n.transactionCloser, "transaction")

	if c := n.ethClientCloser; c != nil {
		c()
	}

	tryClose(n.resolverCloser, "resolver service")
	tryClose(n.tracerCloser, "tracer")
	tryClose(n.stateStoreCloser, "statestore")

	if n.errorLogWriter != nil {
		tryClose(n.errorLogWriter, "error log writer")
	}

	return mErr
}
