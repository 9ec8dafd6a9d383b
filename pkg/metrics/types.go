// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace is prefixed before every metric. If it is changed, it must be done
// before any metrics collector is registered.
const Namespace = "ledgerclient"

// Prometheus types aliases
type (
	Collector = prometheus.Collector
	Registry  = prometheus.Registry
	Metric    = prometheus.Metric
	Labels    = prometheus.Labels

	Counter     = prometheus.Counter
	CounterOpts = prometheus.CounterOpts
	CounterVec  = prometheus.CounterVec

	Gauge     = prometheus.Gauge
	GaugeOpts = prometheus.GaugeOpts

	Histogram     = prometheus.Histogram
	HistogramOpts = prometheus.HistogramOpts

	HandlerOpts = promhttp.HandlerOpts
)
