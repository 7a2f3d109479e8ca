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
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/livekit/protocol/logger"
	"github.com/stretchr/testify/require"

	"github.com/voxbridge/bwe/pkg/bwe"
)

func testTelemetry() bwe.Telemetry {
	return bwe.Telemetry{
		EndpointID:      "endpoint-1",
		At:              time.Now(),
		EstimateBps:     2_500_000,
		IncomingBitrate: 1_800_000,
		LossRate:        0.01,
		RTT:             80 * time.Millisecond,
		NoiseStdDev:     0.002,
	}
}

func newHTTPProvider(t *testing.T, url string, timeout time.Duration) *HTTPProvider {
	p, err := NewHTTPProvider(HTTPProviderParams{
		Config: HTTPProviderConfig{URL: url, Timeout: timeout},
		Logger: logger.GetLogger(),
	})
	require.NoError(t, err)
	return p
}

func TestHTTPProviderSuccess(t *testing.T) {
	var received []interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &received))
		_, _ = w.Write([]byte(`{"bandwidth": 3200000.0}`))
	}))
	defer server.Close()

	p := newHTTPProvider(t, server.URL, 0)
	defer p.Close()

	estimate, err := p.EstimateBandwidth(time.Now(), testTelemetry())
	require.NoError(t, err)
	require.Equal(t, int64(3_200_000), estimate)

	// ordered tuple, endpoint id first
	require.Len(t, received, 9)
	require.Equal(t, "endpoint-1", received[0])
}

func TestHTTPProviderErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	p := newHTTPProvider(t, server.URL, 0)
	defer p.Close()

	_, err := p.EstimateBandwidth(time.Now(), testTelemetry())
	require.Error(t, err)
}

func TestHTTPProviderMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"speed": "fast"}`))
	}))
	defer server.Close()

	p := newHTTPProvider(t, server.URL, 0)
	defer p.Close()

	_, err := p.EstimateBandwidth(time.Now(), testTelemetry())
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestHTTPProviderTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"bandwidth": 1000000.0}`))
	}))
	defer server.Close()

	p := newHTTPProvider(t, server.URL, 20*time.Millisecond)
	defer p.Close()

	_, err := p.EstimateBandwidth(time.Now(), testTelemetry())
	require.Error(t, err)
}

func TestHTTPProviderRequiresURL(t *testing.T) {
	_, err := NewHTTPProvider(HTTPProviderParams{Logger: logger.GetLogger()})
	require.ErrorIs(t, err, ErrMissingURL)
}
