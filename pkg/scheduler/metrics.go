/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/courierkit/courier/pkg/metrics"
)

func init() {
	metrics.Registry.MustRegister(ticksCounter)
	metrics.Registry.MustRegister(claimsCounter)
	metrics.Registry.MustRegister(reportsCounter)
	metrics.Registry.MustRegister(messagesCreatedCounter)
	metrics.Registry.MustRegister(operationDurationHistogram)
	metrics.Registry.MustRegister(throttleNextSendGauge)
}

var ticksCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "scheduler",
		Name:      "ticks_total",
		Help:      "Count of tick engine passes. Labeled by result: ready, throttled, no_due_messages, error.",
	},
	[]string{metrics.ResultLabel},
)

var claimsCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "scheduler",
		Name:      "claims_total",
		Help:      "Count of gateway claim requests. Labeled by result: pending, promoted, none, error.",
	},
	[]string{metrics.ResultLabel},
)

var reportsCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "scheduler",
		Name:      "reports_total",
		Help:      "Count of gateway delivery reports. Labeled by reported status.",
	},
	[]string{metrics.StatusLabel},
)

var messagesCreatedCounter = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Subsystem: "scheduler",
		Name:      "messages_created_total",
		Help:      "Count of messages accepted into the schedule.",
	},
)

var operationDurationHistogram = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: metrics.Namespace,
		Subsystem: "scheduler",
		Name:      "operation_duration_seconds",
		Help:      "Duration of scheduler operations in seconds. Labeled by operation.",
		Buckets:   metrics.DurationBuckets(),
	},
	[]string{metrics.OperationLabel},
)

var throttleNextSendGauge = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: metrics.Namespace,
		Subsystem: "scheduler",
		Name:      "throttle_next_send_in_seconds",
		Help:      "Seconds until the throttle permits the next promotion. Negative when the gate is open.",
	},
)
