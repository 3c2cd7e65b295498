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

type (
	JobPhase string
)

const (
	JobCompleted JobPhase = "COMPLETED"
	JobAborted   JobPhase = "ABORTED"
	JobError     JobPhase = "ERROR"
)

var (
	VOSCacheEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vos_client_cache_events_total",
		Help: "Lookups against the client caches",
	}, []string{"name", "type"}) // name: nodes, endpoints; type: hit, miss, insert, evict

	VOSJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vos_client_jobs_total",
		Help: "Asynchronous jobs run to a terminal phase",
	}, []string{"phase"})

	VOSJobPollsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vos_client_job_polls_total",
		Help: "Phase polls issued against asynchronous jobs",
	})

	VOSCopiesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vos_client_copies_total",
		Help: "Copy operations by direction and result",
	}, []string{"direction", "result"}) // direction: get, put; result: ok, skipped, error
)
