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

package lossbwe

import (
	"fmt"
	"time"

	"github.com/livekit/protocol/logger"
)

//
// Send side loss/RTT based estimation in the style of the WebRTC
// SendSideBandwidthEstimation:
//   o low loss    -> multiplicative increase
//   o medium loss -> hold
//   o high loss   -> multiplicative decrease proportional to loss
// The estimate is capped by the receiver (remote) estimate when one is
// known and always bounded by the configured min/max.
//

// ------------------------------------------------

type lossState int

const (
	lossStateFree lossState = iota
	lossStateDegraded
	lossStateLimited
)

func (l lossState) String() string {
	switch l {
	case lossStateFree:
		return "FREE"
	case lossStateDegraded:
		return "DEGRADED"
	case lossStateLimited:
		return "LIMITED"
	default:
		return fmt.Sprintf("%d", int(l))
	}
}

// ------------------------------------------------

type Config struct {
	LowLossThreshold  float64 `yaml:"low_loss_threshold,omitempty"`
	HighLossThreshold float64 `yaml:"high_loss_threshold,omitempty"`
	IncreaseFactor    float64 `yaml:"increase_factor,omitempty"`
	DecreaseFactor    float64 `yaml:"decrease_factor,omitempty"`

	// minimum number of feedback marked packets before the loss
	// fraction is refreshed
	LimitNumPackets int `yaml:"limit_num_packets,omitempty"`
}

var (
	DefaultConfig = Config{
		LowLossThreshold:  0.02,
		HighLossThreshold: 0.1,
		IncreaseFactor:    1.08,
		DecreaseFactor:    0.5,
		LimitNumPackets:   20,
	}
)

// ------------------------------------------------

type Params struct {
	Config Config
	Logger logger.Logger
}

type Estimator struct {
	params Params

	bitrate    int64
	minBitrate int64
	maxBitrate int64

	// 0 = no receiver estimate yet, i. e. uncapped
	receiverEstimate int64

	rtt time.Duration

	arrivedSinceLastUpdate int64
	lostSinceLastUpdate    int64
	lossFraction           float64

	state         lossState
	lastUpdatedAt time.Time

	lossLimitedDuration  time.Duration
	lossFreeDuration     time.Duration
	lossDegradedDuration time.Duration
}

func NewEstimator(params Params, initialBitrate int64) *Estimator {
	return &Estimator{
		params:  params,
		bitrate: initialBitrate,
	}
}

func (e *Estimator) UpdateReceiverEstimate(estimateBps int64) {
	e.receiverEstimate = estimateBps
}

func (e *Estimator) PacketArrived(_at time.Time, previouslyReportedLost bool) {
	e.arrivedSinceLastUpdate++
	if previouslyReportedLost && e.lostSinceLastUpdate > 0 {
		// recovered after being reported lost, undo the loss
		e.lostSinceLastUpdate--
	}
}

func (e *Estimator) PacketLost(_at time.Time) {
	e.lostSinceLastUpdate++
}

func (e *Estimator) OnRTTUpdate(rtt time.Duration) {
	e.rtt = rtt
}

func (e *Estimator) SetMinMaxBitrate(minBitrate int64, maxBitrate int64) {
	e.minBitrate = minBitrate
	e.maxBitrate = maxBitrate
}

// UpdateEstimate consolidates the loss observations since the previous
// call into a refreshed estimate for time `at`.
func (e *Estimator) UpdateEstimate(at time.Time) {
	total := e.arrivedSinceLastUpdate + e.lostSinceLastUpdate
	if total >= int64(e.params.Config.LimitNumPackets) {
		e.lossFraction = float64(e.lostSinceLastUpdate) / float64(total)
		e.arrivedSinceLastUpdate = 0
		e.lostSinceLastUpdate = 0
	}

	newState := e.state
	target := float64(e.bitrate)
	switch {
	case e.lossFraction < e.params.Config.LowLossThreshold:
		target = float64(e.bitrate) * e.params.Config.IncreaseFactor
		newState = lossStateFree

	case e.lossFraction > e.params.Config.HighLossThreshold:
		target = float64(e.bitrate) * (1.0 - e.params.Config.DecreaseFactor*e.lossFraction)
		newState = lossStateLimited

	default:
		newState = lossStateDegraded
	}

	e.accumulateStateDuration(at)
	if newState != e.state {
		e.params.Logger.Debugw(
			"loss bwe: state change",
			"from", e.state,
			"to", newState,
			"lossFraction", e.lossFraction,
			"bitrate(bps)", e.bitrate,
		)
		e.state = newState
	}

	e.bitrate = e.applyLimits(int64(target))
}

func (e *Estimator) applyLimits(bps int64) int64 {
	upper := e.maxBitrate
	if e.receiverEstimate != 0 && e.receiverEstimate < upper {
		upper = e.receiverEstimate
	}
	if upper != 0 && bps > upper {
		bps = upper
	}
	if bps < e.minBitrate {
		bps = e.minBitrate
	}
	return bps
}

func (e *Estimator) accumulateStateDuration(at time.Time) {
	if !e.lastUpdatedAt.IsZero() {
		elapsed := at.Sub(e.lastUpdatedAt)
		if elapsed > 0 {
			switch e.state {
			case lossStateFree:
				e.lossFreeDuration += elapsed
			case lossStateDegraded:
				e.lossDegradedDuration += elapsed
			case lossStateLimited:
				e.lossLimitedDuration += elapsed
			}
		}
	}
	e.lastUpdatedAt = at
}

func (e *Estimator) Reset(initialBitrate int64) {
	e.bitrate = initialBitrate
	e.receiverEstimate = 0
	e.rtt = 0
	e.arrivedSinceLastUpdate = 0
	e.lostSinceLastUpdate = 0
	e.lossFraction = 0
	e.state = lossStateFree
	e.lastUpdatedAt = time.Time{}
	e.lossLimitedDuration = 0
	e.lossFreeDuration = 0
	e.lossDegradedDuration = 0
}

// ------------------------------------------------

func (e *Estimator) LatestEstimate() int64 {
	return e.bitrate
}

func (e *Estimator) RTT() time.Duration {
	return e.rtt
}

func (e *Estimator) LatestLossFraction() float64 {
	return e.lossFraction
}

func (e *Estimator) LossLimitedDuration() time.Duration {
	return e.lossLimitedDuration
}

func (e *Estimator) LossFreeDuration() time.Duration {
	return e.lossFreeDuration
}

func (e *Estimator) LossDegradedDuration() time.Duration {
	return e.lossDegradedDuration
}

// ------------------------------------------------
