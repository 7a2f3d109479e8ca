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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voxbridge/bwe/pkg/bwe"
)

func TestTelemetryTupleHints(t *testing.T) {
	telemetry := testTelemetry()
	tuple := telemetryTuple(telemetry)
	require.Len(t, tuple, 9)
	// no hints supplied, trailing entries are null
	require.Nil(t, tuple[7])
	require.Nil(t, tuple[8])

	telemetry.HasBitrateHints = true
	telemetry.IdealBps = 4_000_000
	telemetry.TargetBps = 3_000_000
	tuple = telemetryTuple(telemetry)
	require.Equal(t, int64(4_000_000), tuple[7])
	require.Equal(t, int64(3_000_000), tuple[8])
	require.Equal(t, bwe.UsageStateNormal.String(), tuple[6])
}

func TestParsePrediction(t *testing.T) {
	estimate, err := parsePrediction([]byte(`{"bandwidth": 1500000.5}`))
	require.NoError(t, err)
	require.Equal(t, int64(1_500_000), estimate)

	// out of range values pass through, the combiner clamps at adoption
	estimate, err = parsePrediction([]byte(`{"bandwidth": -5}`))
	require.NoError(t, err)
	require.Equal(t, int64(-5), estimate)

	_, err = parsePrediction([]byte(`{"bandwidth": null}`))
	require.ErrorIs(t, err, ErrMalformedResponse)

	_, err = parsePrediction([]byte(`{"other": 1}`))
	require.ErrorIs(t, err, ErrMalformedResponse)

	_, err = parsePrediction([]byte(`not json`))
	require.ErrorIs(t, err, ErrMalformedResponse)
}
