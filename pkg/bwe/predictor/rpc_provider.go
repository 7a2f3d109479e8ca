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
	"sync"
	"time"

	"github.com/frostbyte73/core"
	"github.com/gorilla/websocket"
	"github.com/livekit/protocol/logger"
	"github.com/livekit/protocol/utils/mono"
	"go.uber.org/atomic"

	"github.com/voxbridge/bwe/pkg/bwe"
	"github.com/voxbridge/bwe/pkg/telemetry/prometheus"
)

// ------------------------------------------------

var (
	ErrProviderClosed    = errors.New("predictor connection closed")
	ErrPredictionTimeout = errors.New("prediction timed out")
)

// ------------------------------------------------

type RPCProviderConfig struct {
	URL     string        `yaml:"url,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

var (
	DefaultRPCProviderConfig = RPCProviderConfig{
		Timeout: 500 * time.Millisecond,
	}
)

// ------------------------------------------------

type rpcRequest struct {
	ID        uint64        `json:"id"`
	Telemetry []interface{} `json:"telemetry"`
}

// only the correlation id is lifted here, the bandwidth field is parsed
// by parsePrediction from the raw frame
type rpcResponse struct {
	ID uint64 `json:"id"`
}

type rpcResult struct {
	estimateBps int64
	err         error
}

// ------------------------------------------------

type RPCProviderParams struct {
	Config RPCProviderConfig
	Logger logger.Logger
}

var _ bwe.EstimateProvider = (*RPCProvider)(nil)

// RPCProvider issues predictions over a persistent websocket. Requests
// are correlated by id, each call awaits its own response with a bounded
// wait. The connection is dialed eagerly at construction and owned
// explicitly, release it with Close.
type RPCProvider struct {
	params RPCProviderParams

	conn      *websocket.Conn
	writeLock sync.Mutex

	pendingLock sync.Mutex
	pending     map[uint64]chan rpcResult
	nextID      atomic.Uint64

	stop core.Fuse
}

func NewRPCProvider(params RPCProviderParams) (*RPCProvider, error) {
	if params.Config.URL == "" {
		return nil, ErrMissingURL
	}
	if params.Config.Timeout == 0 {
		params.Config.Timeout = DefaultRPCProviderConfig.Timeout
	}

	conn, _, err := websocket.DefaultDialer.Dial(params.Config.URL, nil)
	if err != nil {
		return nil, err
	}

	r := &RPCProvider{
		params:  params,
		conn:    conn,
		pending: make(map[uint64]chan rpcResult),
	}
	go r.readLoop()
	return r, nil
}

func (r *RPCProvider) Name() string {
	return "gcc-rpc"
}

func (r *RPCProvider) EstimateBandwidth(_at time.Time, telemetry bwe.Telemetry) (int64, error) {
	if r.stop.IsBroken() {
		return 0, ErrProviderClosed
	}

	id := r.nextID.Inc()
	resultCh := make(chan rpcResult, 1)

	r.pendingLock.Lock()
	r.pending[id] = resultCh
	r.pendingLock.Unlock()
	defer func() {
		r.pendingLock.Lock()
		delete(r.pending, id)
		r.pendingLock.Unlock()
	}()

	payload, err := json.Marshal(rpcRequest{
		ID:        id,
		Telemetry: telemetryTuple(telemetry),
	})
	if err != nil {
		return 0, err
	}

	start := mono.Now()
	r.writeLock.Lock()
	err = r.conn.WriteMessage(websocket.TextMessage, payload)
	r.writeLock.Unlock()
	if err != nil {
		return 0, err
	}

	select {
	case result := <-resultCh:
		prometheus.RecordPredictionLatency(r.Name(), mono.Now().Sub(start))
		return result.estimateBps, result.err

	case <-time.After(r.params.Config.Timeout):
		return 0, ErrPredictionTimeout

	case <-r.stop.Watch():
		return 0, ErrProviderClosed
	}
}

func (r *RPCProvider) readLoop() {
	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			r.failPending(err)
			r.stop.Break()
			return
		}

		var resp rpcResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			r.params.Logger.Warnw("rpc predictor: discarding unparseable frame", err)
			continue
		}

		result := rpcResult{}
		result.estimateBps, result.err = parsePrediction(data)

		r.pendingLock.Lock()
		resultCh, ok := r.pending[resp.ID]
		if ok {
			delete(r.pending, resp.ID)
		}
		r.pendingLock.Unlock()

		if ok {
			resultCh <- result
		}
	}
}

func (r *RPCProvider) failPending(err error) {
	r.pendingLock.Lock()
	defer r.pendingLock.Unlock()

	for id, resultCh := range r.pending {
		resultCh <- rpcResult{err: err}
		delete(r.pending, id)
	}
}

func (r *RPCProvider) Close() {
	r.stop.Break()
	_ = r.conn.Close()
}
