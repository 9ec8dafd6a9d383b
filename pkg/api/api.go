// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package api exposes the send and call paths, operation progress and the
// event stream over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethersphere/ledgerclient/pkg/dispatcher"
	"github.com/ethersphere/ledgerclient/pkg/event"
	"github.com/ethersphere/ledgerclient/pkg/logging"
	m "github.com/ethersphere/ledgerclient/pkg/metrics"
	"github.com/ethersphere/ledgerclient/pkg/operation"
	"github.com/ethersphere/ledgerclient/pkg/tracing"
	"github.com/ethersphere/ledgerclient/pkg/transaction"
	"github.com/ethersphere/ledgerclient/pkg/txqueue"
)

const (
	defaultMaxRequestSize = 1 << 20
	defaultPingPeriod     = 30 * time.Second
)

// Dispatcher is the part of the dispatcher the API serves.
type Dispatcher interface {
	SubmitSend(ctx context.Context, r dispatcher.SendRequest) (string, error)
	SubmitCall(ctx context.Context, r dispatcher.CallRequest) (string, error)
	Subscribe(ch chan<- event.Event) event.Subscription
	OperationState(id string) (operation.State, bool)
	AwaitOperation(ctx context.Context, id string) (operation.State, error)
	WaitLanded(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	StoredRequest(txHash common.Hash) (*txqueue.StoredRequest, error)
	StoredTransaction(txHash common.Hash) (*transaction.StoredTransaction, error)
	PendingTransactions() ([]common.Hash, error)
	ResendTransaction(ctx context.Context, txHash common.Hash) error
	Status() dispatcher.Status
	Reconnect(ctx context.Context) error
}

type Options struct {
	CORSAllowedOrigins []string
	// MaxRequestSize limits request bodies in bytes.
	MaxRequestSize int64
	// WsPingPeriod is the interval of pings on event streams.
	WsPingPeriod time.Duration
}

// Service implements http.Handler interface to be used in HTTP server.
type Service struct {
	http.Handler

	dispatcher      Dispatcher
	logger          logging.Logger
	tracer          *tracing.Tracer
	metricsRegistry *m.Registry
	metrics         metrics
	options         Options

	wsWg sync.WaitGroup
	quit chan struct{}
	once sync.Once
}

// New returns the API service. Metrics of registry are served on /metrics.
func New(d Dispatcher, logger logging.Logger, tracer *tracing.Tracer, registry *m.Registry, o Options) *Service {
	if o.MaxRequestSize <= 0 {
		o.MaxRequestSize = defaultMaxRequestSize
	}
	if o.WsPingPeriod <= 0 {
		o.WsPingPeriod = defaultPingPeriod
	}

	s := &Service{
		dispatcher:      d,
		logger:          logger,
		tracer:          tracer,
		metricsRegistry: registry,
		metrics:         newMetrics(),
		options:         o,
		quit:            make(chan struct{}),
	}

	s.setupRouting()

	return s
}

// Close ends all event streams and waits for them to finish.
func (s *Service) Close() error {
	s.once.Do(func() {
		close(s.quit)
	})
	s.wsWg.Wait()
	return nil
}

func (s *Service) checkOrigin(r *http.Request) bool {
	origin := r.Header["Origin"]
	if len(origin) == 0 {
		return true
	}
	for _, o := range s.options.CORSAllowedOrigins {
		if o == "*" || o == origin[0] {
			return true
		}
	}
	return false
}

// newTracingHandler starts a span named spanName for every request. A span
// context sent in the request headers becomes its parent.
func (s *Service) newTracingHandler(spanName string) func(h http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, err := s.tracer.WithContextFromHTTPHeaders(r.Context(), r.Header)
			if err != nil && !errors.Is(err, tracing.ErrContextNotFound) {
				s.logger.Debugf("span context from headers: %v", err)
			}

			span, _, ctx := s.tracer.StartSpanFromContext(ctx, spanName, s.logger)
			defer span.Finish()

			if err := s.tracer.AddContextHTTPHeader(ctx, w.Header()); err != nil {
				s.logger.Debugf("inject span context to headers: %v", err)
			}

			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
