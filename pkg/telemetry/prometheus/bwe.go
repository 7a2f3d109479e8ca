// Copyright 2024 VoxBridge, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

const (
	voxbridgeNamespace = "voxbridge"
	bweSubsystem       = "bwe"
)

var (
	predictionFailureCount atomic.Int64

	promBandwidthEstimate = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: voxbridgeNamespace,
		Subsystem: bweSubsystem,
		Name:      "estimate_bps",
		Help:      "latest reported bandwidth estimate per endpoint",
	}, []string{"endpoint_id", "algorithm"})

	promEstimateReports = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: voxbridgeNamespace,
		Subsystem: bweSubsystem,
		Name:      "estimate_reports_total",
		Help:      "number of successful estimate recomputations reported downstream",
	}, []string{"algorithm"})

	promPredictionFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: voxbridgeNamespace,
		Subsystem: bweSubsystem,
		Name:      "prediction_failures_total",
		Help:      "external predictor calls that failed and degraded to the retained estimate",
	}, []string{"transport"})

	promPredictionLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: voxbridgeNamespace,
		Subsystem: bweSubsystem,
		Name:      "prediction_latency_seconds",
		Help:      "round trip latency of external predictor calls",
		Buckets:   []float64{.005, .01, .025, .05, .1, .2, .5, 1, 2},
	}, []string{"transport"})
)

// Init registers bandwidth estimation metrics with the default registry.
// Metrics record fine without registration, so library users that bring
// their own registry can skip this.
func Init() {
	prometheus.MustRegister(promBandwidthEstimate)
	prometheus.MustRegister(promEstimateReports)
	prometheus.MustRegister(promPredictionFailures)
	prometheus.MustRegister(promPredictionLatency)
}

func RecordBandwidthEstimate(endpointID string, algorithm string, estimateBps int64) {
	promBandwidthEstimate.WithLabelValues(endpointID, algorithm).Set(float64(estimateBps))
	promEstimateReports.WithLabelValues(algorithm).Inc()
}

func RecordPredictionFailure(transport string) {
	predictionFailureCount.Inc()
	promPredictionFailures.WithLabelValues(transport).Inc()
}

func RecordPredictionLatency(transport string, latency time.Duration) {
	promPredictionLatency.WithLabelValues(transport).Observe(latency.Seconds())
}

func PredictionFailureCount() int64 {
	return predictionFailureCount.Load()
}
