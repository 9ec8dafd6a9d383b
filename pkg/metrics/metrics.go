// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package metrics

import (
	"net/http"
	"reflect"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector is implemented by every component that exposes its metrics
// for registration.
type MetricsCollector interface {
	Metrics() []Collector
}

// PrometheusCollectorsFromFields returns all exported struct fields of v that
// implement prometheus.Collector. Nil fields are skipped.
func PrometheusCollectorsFromFields(i interface{}) (cs []Collector) {
	v := reflect.Indirect(reflect.ValueOf(i))
	for i := 0; i < v.NumField(); i++ {
		if !v.Field(i).CanInterface() {
			continue
		}
		if u, ok := v.Field(i).Interface().(Collector); ok {
			if reflect.ValueOf(u).IsNil() {
				continue
			}
			cs = append(cs, u)
		}
	}
	return cs
}

func NewCounter(opts CounterOpts) Counter {
	return prometheus.NewCounter(opts)
}

func NewCounterVec(opts CounterOpts, names []string) *CounterVec {
	return prometheus.NewCounterVec(opts, names)
}

func NewGauge(opts GaugeOpts) Gauge {
	return prometheus.NewGauge(opts)
}

func NewHistogram(opts HistogramOpts) Histogram {
	return prometheus.NewHistogram(opts)
}

// NewRegistry returns a registry with the process and go runtime collectors
// already registered.
func NewRegistry(version string) *Registry {
	r := prometheus.NewRegistry()

	r.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{
			Namespace: Namespace,
		}),
		collectors.NewGoCollector(),
		prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "info",
			Help:      "Ledger client information.",
			ConstLabels: prometheus.Labels{
				"version": version,
			},
		}),
	)

	return r
}

func HandlerFor(reg *Registry, opts HandlerOpts) http.Handler {
	return promhttp.HandlerFor(reg, opts)
}
