// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package confirmation

import (
	m "github.com/ethersphere/ledgerclient/pkg/metrics"
)

type metrics struct {
	Tracked       m.Counter
	Confirmations m.Counter
	Finalized     m.Counter
	Failures      m.Counter
	Retries       m.Counter
	Timeouts      m.Counter
	Unresolved    m.Gauge
}

func newMetrics() metrics {
	subsystem := "confirmation"

	return metrics{
		Tracked: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "tracked_count",
			Help:      "Number of transactions tracked.",
		}),
		Confirmations: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "confirmations_count",
			Help:      "Number of confirmations observed.",
		}),
		Finalized: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "finalized_count",
			Help:      "Number of transactions that reached the confirmation depth.",
		}),
		Failures: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "failures_count",
			Help:      "Number of transactions that failed after submission.",
		}),
		Retries: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "retries_count",
			Help:      "Number of failed transactions handed out for resubmission.",
		}),
		Timeouts: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "timeouts_count",
			Help:      "Number of transactions given up after the pending timeout.",
		}),
		Unresolved: m.NewGauge(m.GaugeOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "unresolved",
			Help:      "Number of tracked transactions without a terminal state.",
		}),
	}
}

func (t *Tracker) Metrics() []m.Collector {
	return m.PrometheusCollectorsFromFields(t.metrics)
}
