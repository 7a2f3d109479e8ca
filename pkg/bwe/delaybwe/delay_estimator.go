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

package delaybwe

import (
	"time"

	"github.com/gammazero/deque"
	"github.com/livekit/protocol/logger"

	"github.com/voxbridge/bwe/pkg/bwe"
)

//
// Delay based estimation from packet pair inter-arrival timing.
//
// For consecutive packets with known send and receive time stamps, the
// delta one-way-delay
//     d = (recv_i - recv_i-1) - (send_i - send_i-1)
// is smoothed into a gradient. A sustained positive gradient means queues
// are building (overuse), a sustained negative one means they are
// draining (underuse). The remote estimate tracks the measured incoming
// bitrate, backed off multiplicatively on overuse and grown on underuse.
//

// ------------------------------------------------

type Config struct {
	RateWindow time.Duration `yaml:"rate_window,omitempty"`

	GradientAlpha     float64       `yaml:"gradient_alpha,omitempty"`
	OveruseThreshold  time.Duration `yaml:"overuse_threshold,omitempty"`
	UnderuseThreshold time.Duration `yaml:"underuse_threshold,omitempty"`

	BackoffFactor  float64 `yaml:"backoff_factor,omitempty"`
	RecoveryFactor float64 `yaml:"recovery_factor,omitempty"`

	EstimateExpiry time.Duration `yaml:"estimate_expiry,omitempty"`
}

var (
	DefaultConfig = Config{
		RateWindow:        time.Second,
		GradientAlpha:     0.9,
		OveruseThreshold:  5 * time.Millisecond,
		UnderuseThreshold: 2 * time.Millisecond,
		BackoffFactor:     0.85,
		RecoveryFactor:    1.05,
		EstimateExpiry:    2 * time.Second,
	}
)

// ------------------------------------------------

type packetSample struct {
	at   time.Time
	size int
}

// ------------------------------------------------

type Params struct {
	Config Config
	Logger logger.Logger
}

type Estimator struct {
	params Params

	minBitrate int64
	rtt        time.Duration

	samples       deque.Deque[packetSample]
	windowedBytes int64

	lastSendTime time.Time
	lastRecvTime time.Time
	gradient     float64 // seconds
	noiseMean    float64
	noiseVar     float64

	usageState bwe.UsageState

	remoteEstimate   int64
	remoteEstimateAt time.Time
	numExpired       int
}

func NewEstimator(params Params) *Estimator {
	return &Estimator{
		params: params,
	}
}

func (e *Estimator) SetMinBitrate(bps int64) {
	e.minBitrate = bps
}

func (e *Estimator) OnRTTUpdate(_at time.Time, rtt time.Duration) {
	e.rtt = rtt
}

func (e *Estimator) IncomingPacketInfo(at time.Time, sendTime time.Time, recvTime time.Time, sizeBytes int) {
	e.addRateSample(at, sizeBytes)

	if !e.lastSendTime.IsZero() && !e.lastRecvTime.IsZero() {
		deltaOneWayDelay := recvTime.Sub(e.lastRecvTime) - sendTime.Sub(e.lastSendTime)
		e.updateGradient(deltaOneWayDelay)
		e.updateUsageState()
		e.updateRemoteEstimate(at)
	}
	e.lastSendTime = sendTime
	e.lastRecvTime = recvTime
}

func (e *Estimator) addRateSample(at time.Time, sizeBytes int) {
	e.samples.PushBack(packetSample{at, sizeBytes})
	e.windowedBytes += int64(sizeBytes)

	cutoff := at.Add(-e.params.Config.RateWindow)
	for e.samples.Len() != 0 && e.samples.Front().at.Before(cutoff) {
		e.windowedBytes -= int64(e.samples.PopFront().size)
	}
}

func (e *Estimator) updateGradient(deltaOneWayDelay time.Duration) {
	alpha := e.params.Config.GradientAlpha
	d := deltaOneWayDelay.Seconds()
	e.gradient = alpha*e.gradient + (1.0-alpha)*d

	// exponentially smoothed variance of the gradient samples, the
	// square root of this is the noise figure exported in telemetry
	deviation := d - e.noiseMean
	e.noiseMean = alpha*e.noiseMean + (1.0-alpha)*d
	e.noiseVar = alpha*e.noiseVar + (1.0-alpha)*deviation*deviation
}

func (e *Estimator) updateUsageState() {
	switch {
	case e.gradient > e.params.Config.OveruseThreshold.Seconds():
		e.usageState = bwe.UsageStateOveruse
	case e.gradient < -e.params.Config.UnderuseThreshold.Seconds():
		e.usageState = bwe.UsageStateUnderuse
	default:
		e.usageState = bwe.UsageStateNormal
	}
}

func (e *Estimator) updateRemoteEstimate(at time.Time) {
	incoming := e.incomingBitrateAt(at)
	if incoming == 0 {
		return
	}

	switch e.usageState {
	case bwe.UsageStateOveruse:
		e.remoteEstimate = int64(float64(incoming) * e.params.Config.BackoffFactor)

	case bwe.UsageStateUnderuse:
		if e.remoteEstimate == 0 {
			e.remoteEstimate = incoming
		} else {
			e.remoteEstimate = int64(float64(e.remoteEstimate) * e.params.Config.RecoveryFactor)
		}

	default:
		if e.remoteEstimate == 0 {
			e.remoteEstimate = incoming
		}
	}

	if e.remoteEstimate < e.minBitrate {
		e.remoteEstimate = e.minBitrate
	}
	e.remoteEstimateAt = at
}

func (e *Estimator) incomingBitrateAt(at time.Time) int64 {
	if e.samples.Len() < 2 {
		return 0
	}

	interval := at.Sub(e.samples.Front().at)
	if interval <= 0 {
		return 0
	}
	return int64(float64(e.windowedBytes*8) / interval.Seconds())
}

func (e *Estimator) Reset() {
	e.rtt = 0
	e.samples.Clear()
	e.windowedBytes = 0
	e.lastSendTime = time.Time{}
	e.lastRecvTime = time.Time{}
	e.gradient = 0
	e.noiseMean = 0
	e.noiseVar = 0
	e.usageState = bwe.UsageStateNormal
	e.remoteEstimate = 0
	e.remoteEstimateAt = time.Time{}
}

// ------------------------------------------------

func (e *Estimator) IncomingBitrate(at time.Time) int64 {
	return e.incomingBitrateAt(at)
}

// LatestRemoteEstimate returns the current delay based estimate or 0 when
// no packet pair has been seen yet or the estimate has gone stale.
func (e *Estimator) LatestRemoteEstimate(at time.Time) int64 {
	if e.remoteEstimate == 0 {
		return 0
	}
	if at.Sub(e.remoteEstimateAt) > e.params.Config.EstimateExpiry {
		e.numExpired++
		e.remoteEstimate = 0
		e.remoteEstimateAt = time.Time{}
		return 0
	}
	return e.remoteEstimate
}

func (e *Estimator) NoiseVariance() float64 {
	return e.noiseVar
}

func (e *Estimator) UsageState() bwe.UsageState {
	return e.usageState
}

func (e *Estimator) NumExpiredEstimates() int {
	return e.numExpired
}

// ------------------------------------------------
