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

package bwe

import (
	"errors"
	"fmt"
	"time"
)

// ------------------------------------------------

var (
	ErrInvalidBounds = errors.New("invalid bandwidth bounds, min greater than max")
	ErrNoPrediction  = errors.New("no prediction available")
)

// ------------------------------------------------

// UsageState is the coarse bandwidth usage classification produced by the
// delay signal source from inter-arrival delay gradients.
type UsageState int

const (
	UsageStateNormal UsageState = iota
	UsageStateUnderuse
	UsageStateOveruse
)

func (u UsageState) String() string {
	switch u {
	case UsageStateNormal:
		return "NORMAL"
	case UsageStateUnderuse:
		return "UNDERUSE"
	case UsageStateOveruse:
		return "OVERUSE"
	default:
		return fmt.Sprintf("%d", int(u))
	}
}

// ------------------------------------------------

// Bounds is the reconfigurable clamp applied to adopted estimates,
// in bits per second.
type Bounds struct {
	Min int64 `yaml:"min,omitempty"`
	Max int64 `yaml:"max,omitempty"`
}

func (b Bounds) Validate() error {
	if b.Min < 0 || b.Max < 0 || b.Min > b.Max {
		return ErrInvalidBounds
	}
	return nil
}

func (b Bounds) Clamp(bps int64) int64 {
	if bps < b.Min {
		return b.Min
	}
	if bps > b.Max {
		return b.Max
	}
	return bps
}

// ------------------------------------------------

// Telemetry is the tuple of locally observed congestion signals assembled
// at every estimate recomputation and handed to the active EstimateProvider.
type Telemetry struct {
	EndpointID      string
	At              time.Time
	EstimateBps     int64 // loss/RTT source estimate for this period
	IncomingBitrate int64
	LossRate        float64
	RTT             time.Duration
	NoiseStdDev     float64
	UsageState      UsageState
	IdealBps        int64
	TargetBps       int64
	HasBitrateHints bool
}

// ------------------------------------------------

// EstimateProvider produces the bandwidth value adopted at the end of an
// evaluation period. The default implementation returns the locally
// computed estimate carried in the telemetry; external predictor
// implementations substitute a remotely computed value.
type EstimateProvider interface {
	Name() string
	EstimateBandwidth(at time.Time, telemetry Telemetry) (int64, error)
}

// ------------------------------------------------

type EstimateListener interface {
	OnBandwidthEstimate(at time.Time, estimateBps int64)
}

// ------------------------------------------------

type StatisticsSnapshot struct {
	Name                     string
	EstimateBps              int64
	NumExpiredDelayEstimates int
	ReceiverEstimateBps      int64
	LossFraction             float64
	LossLimitedDuration      time.Duration
	LossFreeDuration         time.Duration
	LossDegradedDuration     time.Duration
}

// ------------------------------------------------

// DiagnosticContext is owned by the surrounding endpoint/session
// bookkeeping, estimators only read from it.
type DiagnosticContext struct {
	EndpointID   string
	BitrateHints func() (idealBps int64, targetBps int64, ok bool)
}

// ------------------------------------------------

// Estimator is the event-driven lifecycle every concrete bandwidth
// estimator honors. Packet events are conventionally serialized per
// session, but CurrentEstimate and Stats may be called concurrently
// from stats reporting paths.
type Estimator interface {
	SetEstimateListener(listener EstimateListener)

	// zero valued sendTime/recvTime mean the timing was not reported
	OnPacketArrival(at time.Time, sendTime time.Time, recvTime time.Time, sn uint16, size int, ecn uint8, previouslyReportedLost bool)
	OnPacketLost(at time.Time, sendTime time.Time, sn uint16)
	OnRTTUpdate(at time.Time, rtt time.Duration)
	OnFeedbackRoundComplete(at time.Time)

	CurrentEstimate(at time.Time) int64
	Stats(at time.Time) StatisticsSnapshot

	ReconfigureBounds(bounds Bounds) error
	Reset()
	Stop()
}

// ------------------------------------------------
