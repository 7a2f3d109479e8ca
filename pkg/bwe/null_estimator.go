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

import "time"

// NullEstimator is an embeddable no-op implementation of Estimator.
type NullEstimator struct {
}

func (n *NullEstimator) SetEstimateListener(_listener EstimateListener) {}

func (n *NullEstimator) OnPacketArrival(
	_at time.Time,
	_sendTime time.Time,
	_recvTime time.Time,
	_sn uint16,
	_size int,
	_ecn uint8,
	_previouslyReportedLost bool,
) {
}

func (n *NullEstimator) OnPacketLost(_at time.Time, _sendTime time.Time, _sn uint16) {}

func (n *NullEstimator) OnRTTUpdate(_at time.Time, _rtt time.Duration) {}

func (n *NullEstimator) OnFeedbackRoundComplete(_at time.Time) {}

func (n *NullEstimator) CurrentEstimate(_at time.Time) int64 {
	return 0
}

func (n *NullEstimator) Stats(_at time.Time) StatisticsSnapshot {
	return StatisticsSnapshot{Name: "null"}
}

func (n *NullEstimator) ReconfigureBounds(_bounds Bounds) error {
	return nil
}

func (n *NullEstimator) Reset() {}

func (n *NullEstimator) Stop() {}

// ------------------------------------------------
