// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LinkReconnects tracks reconnect attempts against the blaze link.
	LinkReconnects = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "reconnects_total",
			Help:      "Total number of link reconnect attempts",
		},
		[]string{"outcome"}, // success, failure
	)

	// LinkPendingTransactions tracks the size of the in-flight request map.
	LinkPendingTransactions = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "pending_transactions",
			Help:      "Number of requests awaiting a response over the link",
		},
	)

	// LinkFloodMessagesWritten tracks inbound CREATE_MESSAGE frames written
	// into the flood message store.
	LinkFloodMessagesWritten = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "flood_messages_written_total",
			Help:      "Total number of flood messages persisted from the link",
		},
	)

	// LinkWriteDuration tracks how long a round trip over the link takes.
	LinkWriteDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "write_duration_seconds",
			Help:      "Duration of request/response round trips over the link",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
		[]string{"action"},
	)
)
