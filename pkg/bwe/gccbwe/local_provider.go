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

package gccbwe

import (
	"time"

	"github.com/voxbridge/bwe/pkg/bwe"
)

var _ bwe.EstimateProvider = (*LocalProvider)(nil)

// LocalProvider adopts the locally combined estimate carried in the
// telemetry, i. e. the loss/RTT source value already informed by the
// delay source's remote estimate. It never fails.
type LocalProvider struct {
}

func (l *LocalProvider) Name() string {
	return "gcc"
}

func (l *LocalProvider) EstimateBandwidth(_at time.Time, telemetry bwe.Telemetry) (int64, error) {
	return telemetry.EstimateBps, nil
}
