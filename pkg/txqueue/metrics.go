// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package txqueue

import (
	m "github.com/ethersphere/ledgerclient/pkg/metrics"
)

type metrics struct {
	Enqueued           m.Counter
	Submitted          m.Counter
	SubmissionFailures m.Counter
	Retries            m.Counter
	Backpressure       m.Counter
	QueueLength        m.Gauge
}

func newMetrics() metrics {
	subsystem := "txqueue"

	return metrics{
		Enqueued: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "enqueued_count",
			Help:      "Number of send requests enqueued.",
		}),
		Submitted: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "submitted_count",
			Help:      "Number of transactions accepted by the node.",
		}),
		SubmissionFailures: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "submission_failures_count",
			Help:      "Number of send requests that could not be submitted.",
		}),
		Retries: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "retries_count",
			Help:      "Number of failed transactions enqueued again.",
		}),
		Backpressure: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "backpressure_count",
			Help:      "Number of pauses at the in-flight limit.",
		}),
		QueueLength: m.NewGauge(m.GaugeOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "queue_length",
			Help:      "Number of send requests waiting for submission.",
		}),
	}
}

func (q *Queue) Metrics() []m.Collector {
	return m.PrometheusCollectorsFromFields(q.metrics)
}
