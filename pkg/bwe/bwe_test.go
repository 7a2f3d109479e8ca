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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBoundsValidate(t *testing.T) {
	require.NoError(t, Bounds{Min: 50_000, Max: 20_000_000}.Validate())
	require.NoError(t, Bounds{Min: 0, Max: 0}.Validate())
	require.ErrorIs(t, Bounds{Min: 100, Max: 50}.Validate(), ErrInvalidBounds)
	require.ErrorIs(t, Bounds{Min: -1, Max: 50}.Validate(), ErrInvalidBounds)
}

func TestBoundsClamp(t *testing.T) {
	bounds := Bounds{Min: 50_000, Max: 20_000_000}
	require.Equal(t, int64(50_000), bounds.Clamp(0))
	require.Equal(t, int64(50_000), bounds.Clamp(-5))
	require.Equal(t, int64(1_000_000), bounds.Clamp(1_000_000))
	require.Equal(t, int64(20_000_000), bounds.Clamp(100_000_000))
}
