// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"resenje.org/web"

	"github.com/ethersphere/ledgerclient/pkg/jsonhttp"
	"github.com/ethersphere/ledgerclient/pkg/logging/httpaccess"
)

func (s *Service) setupRouting() {
	apiVersion := "v1" // only one api version exists, this should be configurable with more

	handle := func(router *mux.Router, path string, handler http.Handler) {
		router.Handle(path, handler)
		router.Handle("/"+apiVersion+path, handler)
	}

	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(jsonhttp.NotFoundHandler)

	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "Ledger Client")
	})

	router.Handle("/health", web.ChainHandlers(
		httpaccess.SetAccessLogLevelHandler(0), // suppress access log messages
		web.FinalHandlerFunc(s.healthHandler),
	))

	if s.metricsRegistry != nil {
		router.Path("/metrics").Handler(web.ChainHandlers(
			httpaccess.SetAccessLogLevelHandler(0), // suppress access log messages
			web.FinalHandler(promhttp.InstrumentMetricHandler(
				s.metricsRegistry,
				promhttp.HandlerFor(s.metricsRegistry, promhttp.HandlerOpts{}),
			)),
		))
	}

	handle(router, "/status", jsonhttp.MethodHandler{
		"GET": http.HandlerFunc(s.statusHandler),
	})

	handle(router, "/transactions", jsonhttp.MethodHandler{
		"GET": http.HandlerFunc(s.transactionListHandler),
		"POST": web.ChainHandlers(
			jsonhttp.NewMaxBodyBytesHandler(s.options.MaxRequestSize),
			s.newTracingHandler("transaction-submit"),
			web.FinalHandlerFunc(s.transactionSubmitHandler),
		),
	})
	handle(router, "/transactions/{hash}", jsonhttp.MethodHandler{
		"GET": http.HandlerFunc(s.transactionDetailHandler),
		"POST": web.ChainHandlers(
			s.newTracingHandler("transaction-resend"),
			web.FinalHandlerFunc(s.transactionResendHandler),
		),
	})
	handle(router, "/transactions/{hash}/landed", jsonhttp.MethodHandler{
		"GET": http.HandlerFunc(s.transactionLandedHandler),
	})

	handle(router, "/calls", jsonhttp.MethodHandler{
		"POST": web.ChainHandlers(
			jsonhttp.NewMaxBodyBytesHandler(s.options.MaxRequestSize),
			s.newTracingHandler("call-submit"),
			web.FinalHandlerFunc(s.callSubmitHandler),
		),
	})

	handle(router, "/operations/{id}", jsonhttp.MethodHandler{
		"GET": http.HandlerFunc(s.operationHandler),
	})

	handle(router, "/connection/reconnect", jsonhttp.MethodHandler{
		"POST": http.HandlerFunc(s.reconnectHandler),
	})

	handle(router, "/events", jsonhttp.MethodHandler{
		"GET": http.HandlerFunc(s.eventsHandler),
	})

	s.Handler = web.ChainHandlers(
		httpaccess.NewHTTPAccessLogHandler(s.logger, logrus.InfoLevel, s.tracer, "api access"),
		handlers.RecoveryHandler(handlers.RecoveryLogger(s.logger.WithField("component", "api"))),
		s.pageviewMetricsHandler,
		s.responseCodeMetricsHandler,
		func(h http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if o := r.Header.Get("Origin"); o != "" && s.checkOrigin(r) {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
					w.Header().Set("Access-Control-Allow-Origin", o)
					w.Header().Set("Access-Control-Allow-Headers", "Origin, Accept, Authorization, Content-Type, X-Requested-With, Access-Control-Request-Headers, Access-Control-Request-Method")
					w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS, POST")
					w.Header().Set("Access-Control-Max-Age", "3600")
				}
				h.ServeHTTP(w, r)
			})
		},
		web.FinalHandler(router),
	)
}
