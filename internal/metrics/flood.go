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
	// FloodMessagesProcessed tracks flood messages dispatched by category.
	FloodMessagesProcessed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flood",
			Name:      "messages_processed_total",
			Help:      "Total number of flood messages processed",
		},
		[]string{"category", "status"}, // raw category (e.g. SIGNAL_KEY) or unknown; success/failure
	)

	// FloodQueueDepth tracks how many flood messages are awaiting processing.
	FloodQueueDepth = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "flood",
			Name:      "queue_depth",
			Help:      "Number of unprocessed flood messages in the store",
		},
	)

	// FloodDecryptFailures tracks decrypt failures during flood processing.
	FloodDecryptFailures = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flood",
			Name:      "decrypt_failures_total",
			Help:      "Total number of decrypt failures while processing flood messages",
		},
		[]string{"reason"}, // no_session, duplicate, bad_mac, untrusted_identity
	)

	// FloodProcessingDuration tracks processing latency per flood message.
	FloodProcessingDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "flood",
			Name:      "processing_duration_seconds",
			Help:      "Flood message processing duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12), // 0.1ms to ~205ms
		},
	)

	// FloodMessageSize tracks the size of processed flood message payloads.
	FloodMessageSize = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "flood",
			Name:      "message_size_bytes",
			Help:      "Flood message payload size in bytes",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10), // 64B to 16MB
		},
	)
)
