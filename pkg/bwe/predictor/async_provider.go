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
	"sync"
	"time"

	"github.com/frostbyte73/core"
	"github.com/gammazero/deque"
	"github.com/livekit/protocol/logger"
	"go.uber.org/atomic"

	"github.com/voxbridge/bwe/pkg/bwe"
)

// ------------------------------------------------

type AsyncProviderConfig struct {
	QueueSize int `yaml:"queue_size,omitempty"`
}

var (
	DefaultAsyncProviderConfig = AsyncProviderConfig{
		QueueSize: 1,
	}
)

// ------------------------------------------------

type asyncRequest struct {
	at        time.Time
	telemetry bwe.Telemetry
}

type AsyncProviderParams struct {
	Config AsyncProviderConfig
	Logger logger.Logger
}

var _ bwe.EstimateProvider = (*AsyncProvider)(nil)

// AsyncProvider keeps a blocking provider off the packet processing
// path. EstimateBandwidth never blocks, it enqueues the telemetry for a
// dedicated worker and returns the most recent completed prediction.
// Until the first prediction completes it returns bwe.ErrNoPrediction
// and the combiner retains its prior estimate for the period. The queue
// is bounded, older telemetry is dropped in favor of newer.
type AsyncProvider struct {
	params AsyncProviderParams
	inner  bwe.EstimateProvider

	lock  sync.Mutex
	queue deque.Deque[asyncRequest]

	wake chan struct{}
	stop core.Fuse

	lastPrediction atomic.Int64
	hasPrediction  atomic.Bool
}

func NewAsyncProvider(params AsyncProviderParams, inner bwe.EstimateProvider) *AsyncProvider {
	if params.Config.QueueSize <= 0 {
		params.Config.QueueSize = DefaultAsyncProviderConfig.QueueSize
	}

	a := &AsyncProvider{
		params: params,
		inner:  inner,
		wake:   make(chan struct{}, 1),
	}
	go a.worker()
	return a
}

func (a *AsyncProvider) Name() string {
	return "async-" + a.inner.Name()
}

func (a *AsyncProvider) EstimateBandwidth(at time.Time, telemetry bwe.Telemetry) (int64, error) {
	a.lock.Lock()
	for a.queue.Len() >= a.params.Config.QueueSize {
		a.queue.PopFront()
	}
	a.queue.PushBack(asyncRequest{at, telemetry})
	a.lock.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}

	if !a.hasPrediction.Load() {
		return 0, bwe.ErrNoPrediction
	}
	return a.lastPrediction.Load(), nil
}

func (a *AsyncProvider) worker() {
	for {
		select {
		case <-a.wake:
			for {
				a.lock.Lock()
				if a.queue.Len() == 0 {
					a.lock.Unlock()
					break
				}
				request := a.queue.PopFront()
				a.lock.Unlock()

				estimateBps, err := a.inner.EstimateBandwidth(request.at, request.telemetry)
				if err != nil {
					// keep the last good prediction, the failure is
					// counted/logged by the inner transport path
					a.params.Logger.Debugw("async predictor: request failed", "error", err)
					continue
				}
				a.lastPrediction.Store(estimateBps)
				a.hasPrediction.Store(true)
			}

		case <-a.stop.Watch():
			return
		}
	}
}

func (a *AsyncProvider) Stop() {
	a.stop.Break()
}
