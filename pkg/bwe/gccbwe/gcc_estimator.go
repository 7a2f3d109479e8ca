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

package gccbwe

import (
	"math"
	"sync"
	"time"

	"github.com/livekit/protocol/logger"
	"go.uber.org/atomic"

	"github.com/voxbridge/bwe/pkg/bwe"
	"github.com/voxbridge/bwe/pkg/bwe/delaybwe"
	"github.com/voxbridge/bwe/pkg/bwe/lossbwe"
	"github.com/voxbridge/bwe/pkg/telemetry/prometheus"
)

//
// Google Congestion Control style combiner. The delay signal source and
// the loss/RTT signal source are fed from packet events, and at every
// feedback round past the throttle gate the loss source's refreshed value
// (already informed by the delay source's remote estimate) is adopted as
// the combined estimate. The estimate production step is pluggable, an
// injected EstimateProvider may substitute an externally predicted value.
//

// ------------------------------------------------

// epsilon keeps the loss rate well-defined in packet-free periods
const cLossRateEpsilon = 0.001

// ------------------------------------------------

type Config struct {
	EstimateInterval time.Duration `yaml:"estimate_interval,omitempty"`

	InitialBitrate int64      `yaml:"initial_bitrate,omitempty"`
	Bounds         bwe.Bounds `yaml:"bounds,omitempty"`

	Delay delaybwe.Config `yaml:"delay,omitempty"`
	Loss  lossbwe.Config  `yaml:"loss,omitempty"`
}

var (
	DefaultConfig = Config{
		EstimateInterval: 200 * time.Millisecond,
		InitialBitrate:   2_500_000,
		Bounds: bwe.Bounds{
			Min: 50_000,
			Max: 20_000_000,
		},
		Delay: delaybwe.DefaultConfig,
		Loss:  lossbwe.DefaultConfig,
	}
)

// ------------------------------------------------

type Params struct {
	Config      Config
	Logger      logger.Logger
	Diagnostics bwe.DiagnosticContext

	// nil selects the local loss/delay combination
	Provider bwe.EstimateProvider
}

var _ bwe.Estimator = (*GCCEstimator)(nil)

type GCCEstimator struct {
	params   Params
	provider bwe.EstimateProvider

	lock   sync.Mutex
	delay  *delaybwe.Estimator
	loss   *lossbwe.Estimator
	bounds bwe.Bounds

	packetsReceived uint32
	packetsLost     uint32
	rttSamples      uint32
	lastEstimateAt  time.Time

	latestEstimate atomic.Int64

	listener bwe.EstimateListener
}

func NewGCCEstimator(params Params) (*GCCEstimator, error) {
	if err := params.Config.Bounds.Validate(); err != nil {
		return nil, err
	}

	provider := params.Provider
	if provider == nil {
		provider = &LocalProvider{}
	}

	g := &GCCEstimator{
		params:   params,
		provider: provider,
		delay: delaybwe.NewEstimator(delaybwe.Params{
			Config: params.Config.Delay,
			Logger: params.Logger,
		}),
		loss:   lossbwe.NewEstimator(lossbwe.Params{Config: params.Config.Loss, Logger: params.Logger}, params.Config.InitialBitrate),
		bounds: params.Config.Bounds,
	}
	g.propagateBoundsLocked()
	g.latestEstimate.Store(g.bounds.Clamp(params.Config.InitialBitrate))
	return g, nil
}

func (g *GCCEstimator) SetEstimateListener(listener bwe.EstimateListener) {
	g.lock.Lock()
	defer g.lock.Unlock()

	g.listener = listener
}

func (g *GCCEstimator) OnPacketArrival(
	at time.Time,
	sendTime time.Time,
	recvTime time.Time,
	_sn uint16,
	size int,
	_ecn uint8,
	previouslyReportedLost bool,
) {
	g.lock.Lock()
	defer g.lock.Unlock()

	if !sendTime.IsZero() && !recvTime.IsZero() {
		g.delay.IncomingPacketInfo(at, sendTime, recvTime, size)
	}
	if remoteEstimate := g.delay.LatestRemoteEstimate(at); remoteEstimate != 0 {
		g.loss.UpdateReceiverEstimate(remoteEstimate)
	}
	g.loss.PacketArrived(at, previouslyReportedLost)
	g.packetsReceived++
}

func (g *GCCEstimator) OnPacketLost(at time.Time, _sendTime time.Time, _sn uint16) {
	g.lock.Lock()
	defer g.lock.Unlock()

	g.loss.PacketLost(at)
	g.packetsLost++
}

func (g *GCCEstimator) OnRTTUpdate(at time.Time, rtt time.Duration) {
	g.lock.Lock()
	defer g.lock.Unlock()

	g.delay.OnRTTUpdate(at, rtt)
	g.loss.OnRTTUpdate(rtt)
	g.rttSamples++
}

// OnFeedbackRoundComplete attempts a recompute, the body runs only when
// the throttle interval has elapsed since the previous one. The gate is
// consumed and the period counters cleared under the lock before the
// provider call, the provider itself runs unlocked so packet events keep
// flowing while a slow external predictor is in flight.
func (g *GCCEstimator) OnFeedbackRoundComplete(at time.Time) {
	g.lock.Lock()
	if at.Sub(g.lastEstimateAt) <= g.params.Config.EstimateInterval {
		g.lock.Unlock()
		return
	}

	g.loss.UpdateEstimate(at)

	telemetry := g.assembleTelemetryLocked(at)
	listener := g.listener
	bounds := g.bounds

	g.lastEstimateAt = at
	g.packetsReceived = 0
	g.packetsLost = 0
	g.rttSamples = 0
	g.lock.Unlock()

	estimate, err := g.provider.EstimateBandwidth(at, telemetry)
	if err != nil {
		// degrade gracefully, the previous estimate stays authoritative
		prometheus.RecordPredictionFailure(g.provider.Name())
		g.params.Logger.Warnw(
			"bwe: estimate provider failed, retaining previous estimate", err,
			"provider", g.provider.Name(),
			"retained(bps)", g.latestEstimate.Load(),
		)
		return
	}

	adopted := bounds.Clamp(estimate)
	g.latestEstimate.Store(adopted)
	prometheus.RecordBandwidthEstimate(g.params.Diagnostics.EndpointID, g.provider.Name(), adopted)

	if listener != nil {
		listener.OnBandwidthEstimate(at, adopted)
	}
}

func (g *GCCEstimator) assembleTelemetryLocked(at time.Time) bwe.Telemetry {
	lossRate := float64(g.packetsLost) /
		(float64(g.packetsLost) + float64(g.packetsReceived) + cLossRateEpsilon)

	telemetry := bwe.Telemetry{
		EndpointID:      g.params.Diagnostics.EndpointID,
		At:              at,
		EstimateBps:     g.loss.LatestEstimate(),
		IncomingBitrate: g.delay.IncomingBitrate(at),
		LossRate:        lossRate,
		RTT:             g.loss.RTT(),
		NoiseStdDev:     math.Sqrt(g.delay.NoiseVariance()),
		UsageState:      g.delay.UsageState(),
	}
	if g.params.Diagnostics.BitrateHints != nil {
		if ideal, target, ok := g.params.Diagnostics.BitrateHints(); ok {
			telemetry.IdealBps = ideal
			telemetry.TargetBps = target
			telemetry.HasBitrateHints = true
		}
	}
	return telemetry
}

func (g *GCCEstimator) CurrentEstimate(_at time.Time) int64 {
	return g.latestEstimate.Load()
}

func (g *GCCEstimator) Stats(at time.Time) bwe.StatisticsSnapshot {
	g.lock.Lock()
	defer g.lock.Unlock()

	return bwe.StatisticsSnapshot{
		Name:                     g.provider.Name(),
		EstimateBps:              g.latestEstimate.Load(),
		NumExpiredDelayEstimates: g.delay.NumExpiredEstimates(),
		ReceiverEstimateBps:      g.delay.LatestRemoteEstimate(at),
		LossFraction:             g.loss.LatestLossFraction(),
		LossLimitedDuration:      g.loss.LossLimitedDuration(),
		LossFreeDuration:         g.loss.LossFreeDuration(),
		LossDegradedDuration:     g.loss.LossDegradedDuration(),
	}
}

// ReconfigureBounds atomically updates the clamp and pushes it into both
// signal sources, neither source ever observes min > max.
func (g *GCCEstimator) ReconfigureBounds(bounds bwe.Bounds) error {
	if err := bounds.Validate(); err != nil {
		return err
	}

	g.lock.Lock()
	defer g.lock.Unlock()

	g.bounds = bounds
	g.propagateBoundsLocked()
	return nil
}

func (g *GCCEstimator) propagateBoundsLocked() {
	g.delay.SetMinBitrate(g.bounds.Min)
	g.loss.SetMinMaxBitrate(g.bounds.Min, g.bounds.Max)
}

func (g *GCCEstimator) Reset() {
	g.lock.Lock()
	defer g.lock.Unlock()

	g.bounds = g.params.Config.Bounds
	g.propagateBoundsLocked()
	g.delay.Reset()
	g.loss.Reset(g.params.Config.InitialBitrate)

	g.packetsReceived = 0
	g.packetsLost = 0
	g.rttSamples = 0
	g.lastEstimateAt = time.Time{}
	g.latestEstimate.Store(g.bounds.Clamp(g.params.Config.InitialBitrate))
}

func (g *GCCEstimator) Stop() {
}

// ------------------------------------------------
