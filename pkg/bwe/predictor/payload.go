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

package predictor

import (
	"encoding/json"
	"errors"
	"math"

	"github.com/voxbridge/bwe/pkg/bwe"
)

var (
	ErrMissingURL        = errors.New("predictor URL not configured")
	ErrMalformedResponse = errors.New("malformed predictor response")
)

// telemetryTuple renders the telemetry as the ordered tuple the predictor
// service expects:
//
//	[endpoint_id, unix_millis, incoming_bps, loss_rate, rtt_ms,
//	 noise_std_dev, usage_state, ideal_bps, target_bps]
//
// bitrate hints are null when the diagnostic context supplies none.
func telemetryTuple(t bwe.Telemetry) []interface{} {
	var idealBps, targetBps interface{}
	if t.HasBitrateHints {
		idealBps = t.IdealBps
		targetBps = t.TargetBps
	}
	return []interface{}{
		t.EndpointID,
		t.At.UnixMilli(),
		t.IncomingBitrate,
		t.LossRate,
		float64(t.RTT.Microseconds()) / 1000.0,
		t.NoiseStdDev,
		t.UsageState.String(),
		idealBps,
		targetBps,
	}
}

type predictionResponse struct {
	Bandwidth *float64 `json:"bandwidth"`
}

// parsePrediction extracts the predicted bandwidth. A missing field or a
// non-finite value is malformed, out-of-bounds values are passed through,
// the combiner clamps at adoption.
func parsePrediction(data []byte) (int64, error) {
	var resp predictionResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, ErrMalformedResponse
	}
	if resp.Bandwidth == nil || math.IsNaN(*resp.Bandwidth) || math.IsInf(*resp.Bandwidth, 0) {
		return 0, ErrMalformedResponse
	}
	return int64(*resp.Bandwidth), nil
}
