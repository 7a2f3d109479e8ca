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

package config

import (
	"github.com/livekit/protocol/logger"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/voxbridge/bwe/pkg/bwe"
	"github.com/voxbridge/bwe/pkg/bwe/gccbwe"
	"github.com/voxbridge/bwe/pkg/bwe/predictor"
)

// ------------------------------------------------

type PredictorMode string

const (
	PredictorModeNone PredictorMode = ""
	PredictorModeHTTP PredictorMode = "http"
	PredictorModeRPC  PredictorMode = "rpc"
)

var (
	ErrInvalidPredictorMode = errors.New("invalid predictor mode")
	ErrMissingPredictorURL  = errors.New("predictor mode set without a URL")
)

// ------------------------------------------------

type PredictorConfig struct {
	Mode PredictorMode `yaml:"mode,omitempty"`

	HTTP predictor.HTTPProviderConfig `yaml:"http,omitempty"`
	RPC  predictor.RPCProviderConfig  `yaml:"rpc,omitempty"`

	// run predictor calls on a dedicated worker instead of the
	// feedback processing path
	Async      bool                          `yaml:"async,omitempty"`
	AsyncQueue predictor.AsyncProviderConfig `yaml:"async_queue,omitempty"`
}

type LoggingConfig struct {
	logger.Config `yaml:",inline"`
}

type Config struct {
	Estimator gccbwe.Config   `yaml:"estimator,omitempty"`
	Predictor PredictorConfig `yaml:"predictor,omitempty"`
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
}

var (
	DefaultConfig = Config{
		Estimator: gccbwe.DefaultConfig,
		Predictor: PredictorConfig{
			HTTP:       predictor.DefaultHTTPProviderConfig,
			RPC:        predictor.DefaultRPCProviderConfig,
			AsyncQueue: predictor.DefaultAsyncProviderConfig,
		},
	}
)

// ------------------------------------------------

func NewConfig(confString string) (*Config, error) {
	conf := DefaultConfig
	if confString != "" {
		if err := yaml.Unmarshal([]byte(confString), &conf); err != nil {
			return nil, errors.Wrap(err, "could not parse config")
		}
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

func (c *Config) Validate() error {
	if err := c.Estimator.Bounds.Validate(); err != nil {
		return err
	}

	switch c.Predictor.Mode {
	case PredictorModeNone:

	case PredictorModeHTTP:
		if c.Predictor.HTTP.URL == "" {
			return ErrMissingPredictorURL
		}

	case PredictorModeRPC:
		if c.Predictor.RPC.URL == "" {
			return ErrMissingPredictorURL
		}

	default:
		return errors.Wrapf(ErrInvalidPredictorMode, "%q", c.Predictor.Mode)
	}
	return nil
}

func (c *Config) InitLogger() {
	logger.InitFromConfig(&c.Logging.Config, "voxbridge-bwe")
}

// ------------------------------------------------

// NewEstimator wires up an estimator per the config: the configured
// predictor transport (if any) is constructed explicitly and injected
// into the combiner. The returned closer releases predictor resources
// and is non-nil even when there is nothing to release.
func (c *Config) NewEstimator(l logger.Logger, diagnostics bwe.DiagnosticContext) (bwe.Estimator, func(), error) {
	var provider bwe.EstimateProvider
	closer := func() {}

	switch c.Predictor.Mode {
	case PredictorModeHTTP:
		httpProvider, err := predictor.NewHTTPProvider(predictor.HTTPProviderParams{
			Config: c.Predictor.HTTP,
			Logger: l,
		})
		if err != nil {
			return nil, nil, err
		}
		provider = httpProvider
		closer = httpProvider.Close

	case PredictorModeRPC:
		rpcProvider, err := predictor.NewRPCProvider(predictor.RPCProviderParams{
			Config: c.Predictor.RPC,
			Logger: l,
		})
		if err != nil {
			return nil, nil, err
		}
		provider = rpcProvider
		closer = rpcProvider.Close
	}

	if provider != nil && c.Predictor.Async {
		asyncProvider := predictor.NewAsyncProvider(predictor.AsyncProviderParams{
			Config: c.Predictor.AsyncQueue,
			Logger: l,
		}, provider)
		innerCloser := closer
		closer = func() {
			asyncProvider.Stop()
			innerCloser()
		}
		provider = asyncProvider
	}

	estimator, err := gccbwe.NewGCCEstimator(gccbwe.Params{
		Config:      c.Estimator,
		Logger:      l,
		Diagnostics: diagnostics,
		Provider:    provider,
	})
	if err != nil {
		closer()
		return nil, nil, err
	}
	return estimator, closer, nil
}
