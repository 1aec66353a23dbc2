// Copyright 2025 Tom Barlow
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

package controller

import (
	"log/slog"

	"github.com/tombee/stepchain/internal/config"
	"github.com/tombee/stepchain/pkg/httpclient"
)

// httpConfig maps the model section onto the outbound HTTP client config.
func httpConfig(m config.ModelConfig, logger *slog.Logger) httpclient.Config {
	cfg := httpclient.DefaultConfig()
	if m.Timeout > 0 {
		cfg.Timeout = m.Timeout
	}
	if m.UserAgent != "" {
		cfg.UserAgent = m.UserAgent
	}
	cfg.RequestsPerSecond = m.RequestsPerSecond
	cfg.Burst = m.Burst
	cfg.Logger = logger
	return cfg
}
