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
	// ProvisioningInitiated tracks device provisioning attempts started.
	ProvisioningInitiated = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provisioning",
			Name:      "initiated_total",
			Help:      "Total number of device provisioning attempts initiated",
		},
		[]string{"role"}, // primary, secondary
	)

	// ProvisioningCompleted tracks provisioning outcomes.
	ProvisioningCompleted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provisioning",
			Name:      "completed_total",
			Help:      "Total number of device provisioning attempts completed",
		},
		[]string{"status"}, // success, failure
	)

	// ProvisioningFailed breaks down failures by cause.
	ProvisioningFailed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provisioning",
			Name:      "failed_total",
			Help:      "Total number of failed provisioning attempts by error type",
		},
		[]string{"error_type"}, // timeout, invalid_mac, expired, network
	)

	// ProvisioningDuration tracks how long each poll round takes.
	ProvisioningDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provisioning",
			Name:      "duration_seconds",
			Help:      "Provisioning stage duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
		},
		[]string{"stage"}, // ephemeral_key, poll, decode
	)
)
