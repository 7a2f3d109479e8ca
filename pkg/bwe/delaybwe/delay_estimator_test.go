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
	"testing"
	"time"

	"github.com/livekit/protocol/logger"
	"github.com/stretchr/testify/require"

	"github.com/voxbridge/bwe/pkg/bwe"
)

func newTestEstimator() *Estimator {
	return NewEstimator(Params{Config: DefaultConfig, Logger: logger.GetLogger()})
}

// feed packet pairs with the given send/receive spacings
func feedPackets(e *Estimator, t0 time.Time, count int, sendSpacing time.Duration, recvSpacing time.Duration, size int) {
	for i := 0; i < count; i++ {
		at := t0.Add(time.Duration(i) * recvSpacing)
		sendTime := t0.Add(time.Duration(i) * sendSpacing)
		recvTime := t0.Add(time.Duration(i) * recvSpacing)
		e.IncomingPacketInfo(at, sendTime, recvTime, size)
	}
}

func TestIncomingBitrate(t *testing.T) {
	e := newTestEstimator()

	t0 := time.Now()
	feedPackets(e, t0, 10, 10*time.Millisecond, 10*time.Millisecond, 1200)

	at := t0.Add(90 * time.Millisecond)
	// 12000 bytes over 90ms
	require.InEpsilon(t, 12000.0*8.0/0.09, float64(e.IncomingBitrate(at)), 1e-6)
}

func TestRateWindowPruning(t *testing.T) {
	e := newTestEstimator()

	t0 := time.Now()
	e.IncomingPacketInfo(t0, t0, t0, 1200)
	// far outside the rate window, the old sample is dropped
	t1 := t0.Add(5 * time.Second)
	e.IncomingPacketInfo(t1, t1, t1, 1200)

	require.Equal(t, int64(0), e.IncomingBitrate(t1))
}

func TestUsageStateOveruse(t *testing.T) {
	e := newTestEstimator()

	t0 := time.Now()
	// receive spacing much larger than send spacing, queues are building
	feedPackets(e, t0, 30, 10*time.Millisecond, 30*time.Millisecond, 1200)

	require.Equal(t, bwe.UsageStateOveruse, e.UsageState())
	require.Greater(t, e.NoiseVariance(), 0.0)
}

func TestUsageStateUnderuse(t *testing.T) {
	e := newTestEstimator()

	t0 := time.Now()
	// packets sent 30ms apart arriving bunched together, queues draining
	for i := 0; i < 30; i++ {
		at := t0.Add(time.Duration(i) * 10 * time.Millisecond)
		sendTime := t0.Add(time.Duration(i) * 30 * time.Millisecond)
		e.IncomingPacketInfo(at, sendTime, at, 1200)
	}

	require.Equal(t, bwe.UsageStateUnderuse, e.UsageState())
}

func TestUsageStateNormal(t *testing.T) {
	e := newTestEstimator()

	t0 := time.Now()
	feedPackets(e, t0, 30, 10*time.Millisecond, 10*time.Millisecond, 1200)

	require.Equal(t, bwe.UsageStateNormal, e.UsageState())
}

func TestRemoteEstimateBackoffOnOveruse(t *testing.T) {
	e := newTestEstimator()

	t0 := time.Now()
	feedPackets(e, t0, 30, 10*time.Millisecond, 30*time.Millisecond, 1200)

	at := t0.Add(29 * 30 * time.Millisecond)
	estimate := e.LatestRemoteEstimate(at)
	require.NotZero(t, estimate)
	require.InEpsilon(t, DefaultConfig.BackoffFactor, float64(estimate)/float64(e.IncomingBitrate(at)), 0.01)
}

func TestRemoteEstimateExpiry(t *testing.T) {
	e := newTestEstimator()

	t0 := time.Now()
	feedPackets(e, t0, 30, 10*time.Millisecond, 10*time.Millisecond, 1200)

	lastAt := t0.Add(29 * 10 * time.Millisecond)
	require.NotZero(t, e.LatestRemoteEstimate(lastAt))
	require.Equal(t, 0, e.NumExpiredEstimates())

	require.Zero(t, e.LatestRemoteEstimate(lastAt.Add(3*time.Second)))
	require.Equal(t, 1, e.NumExpiredEstimates())

	// stays expired without a fresh packet pair, not double counted
	require.Zero(t, e.LatestRemoteEstimate(lastAt.Add(4*time.Second)))
	require.Equal(t, 1, e.NumExpiredEstimates())
}

func TestMinBitrateFloor(t *testing.T) {
	e := newTestEstimator()
	e.SetMinBitrate(5_000_000)

	t0 := time.Now()
	// tiny packets, measured rate far below the floor
	feedPackets(e, t0, 30, 10*time.Millisecond, 30*time.Millisecond, 10)

	at := t0.Add(29 * 30 * time.Millisecond)
	require.Equal(t, int64(5_000_000), e.LatestRemoteEstimate(at))
}

func TestReset(t *testing.T) {
	e := newTestEstimator()

	t0 := time.Now()
	feedPackets(e, t0, 30, 10*time.Millisecond, 30*time.Millisecond, 1200)
	require.Equal(t, bwe.UsageStateOveruse, e.UsageState())

	e.Reset()
	require.Equal(t, bwe.UsageStateNormal, e.UsageState())
	require.Zero(t, e.LatestRemoteEstimate(t0))
	require.Equal(t, 0.0, e.NoiseVariance())
	require.Equal(t, int64(0), e.IncomingBitrate(t0))
}
