// Copyright 2021 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dispatcher

import (
	m "github.com/ethersphere/ledgerclient/pkg/metrics"
)

type metrics struct {
	Sends         m.Counter
	Calls         m.Counter
	Reconnects    m.Counter
	NotResponding m.Counter
}

func newMetrics() metrics {
	subsystem := "dispatcher"

	return metrics{
		Sends: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "send_requests_count",
			Help:      "Number of send requests accepted.",
		}),
		Calls: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "call_requests_count",
			Help:      "Number of call requests accepted.",
		}),
		Reconnects: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "reconnects_count",
			Help:      "Number of node reconnects.",
		}),
		NotResponding: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "not_responding_count",
			Help:      "Number of read calls that exceeded the call timeout.",
		}),
	}
}
