// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package callqueue

import (
	m "github.com/ethersphere/ledgerclient/pkg/metrics"
)

type metrics struct {
	Calls       m.Counter
	CallErrors  m.Counter
	InFlight    m.Gauge
	QueueLength m.Gauge
}

func newMetrics() metrics {
	subsystem := "callqueue"

	return metrics{
		Calls: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "calls_count",
			Help:      "Number of read calls made.",
		}),
		CallErrors: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "call_errors_count",
			Help:      "Number of read calls that failed.",
		}),
		InFlight: m.NewGauge(m.GaugeOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "in_flight",
			Help:      "Number of read calls awaiting a response.",
		}),
		QueueLength: m.NewGauge(m.GaugeOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "queue_length",
			Help:      "Number of read calls waiting for admission.",
		}),
	}
}

func (q *Queue) Metrics() []m.Collector {
	return m.PrometheusCollectorsFromFields(q.metrics)
}
