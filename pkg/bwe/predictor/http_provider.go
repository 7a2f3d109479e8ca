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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/livekit/protocol/logger"
	"github.com/livekit/protocol/utils/mono"

	"github.com/voxbridge/bwe/pkg/bwe"
	"github.com/voxbridge/bwe/pkg/telemetry/prometheus"
)

// ------------------------------------------------

const cMaxResponseSize = 4096

// ------------------------------------------------

type HTTPProviderConfig struct {
	URL     string        `yaml:"url,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

var (
	DefaultHTTPProviderConfig = HTTPProviderConfig{
		Timeout: 500 * time.Millisecond,
	}
)

// ------------------------------------------------

type HTTPProviderParams struct {
	Config HTTPProviderConfig
	Logger logger.Logger
}

var _ bwe.EstimateProvider = (*HTTPProvider)(nil)

// HTTPProvider obtains the bandwidth estimate from an external predictor
// over a synchronous HTTP round trip. The call blocks its caller, so it
// is usually wrapped in an AsyncProvider to keep the packet processing
// path free of network latency.
type HTTPProvider struct {
	params HTTPProviderParams

	client *http.Client
}

func NewHTTPProvider(params HTTPProviderParams) (*HTTPProvider, error) {
	if params.Config.URL == "" {
		return nil, ErrMissingURL
	}
	if params.Config.Timeout == 0 {
		params.Config.Timeout = DefaultHTTPProviderConfig.Timeout
	}

	return &HTTPProvider{
		params: params,
		client: &http.Client{
			Timeout: params.Config.Timeout,
		},
	}, nil
}

func (h *HTTPProvider) Name() string {
	return "gcc-http"
}

func (h *HTTPProvider) EstimateBandwidth(_at time.Time, telemetry bwe.Telemetry) (int64, error) {
	body, err := json.Marshal(telemetryTuple(telemetry))
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.params.Config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.params.Config.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := mono.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	prometheus.RecordPredictionLatency(h.Name(), mono.Now().Sub(start))

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("predictor returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, cMaxResponseSize))
	if err != nil {
		return 0, err
	}
	return parsePrediction(data)
}

func (h *HTTPProvider) Close() {
	h.client.CloseIdleConnections()
}
