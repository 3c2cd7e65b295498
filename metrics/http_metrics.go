/***************************************************************
 *
 * Copyright (C) 2025, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request-level metrics for the transfer engine

var (
	HttpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vos_client_http_requests_total",
		Help: "Total number of HTTP requests sent to VOSpace services",
	}, []string{"method", "code"}) // code: response status or "error" for transport failures

	HttpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vos_client_http_request_duration_seconds",
		Help:    "Time to first response byte for requests sent to VOSpace services",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	HttpBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vos_client_http_bytes_total",
		Help: "Total bytes moved through transfer bodies",
	}, []string{"direction"})

	TransferRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vos_client_transfer_retries_total",
		Help: "Number of backoff sleeps taken before restarting a candidate URL list",
	})

	TransferFailoversTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vos_client_transfer_failovers_total",
		Help: "Number of times a transfer moved on to the next candidate URL",
	})

	TransferRedirectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vos_client_transfer_redirects_total",
		Help: "Number of redirects followed by the transfer engine",
	})

	TransferExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vos_client_transfer_exhausted_total",
		Help: "Number of transfers abandoned after the retry budget ran out",
	})
)

const (
	DirectionIn  = "in"  // Bytes received (GET bodies)
	DirectionOut = "out" // Bytes sent (PUT/POST bodies)
)
