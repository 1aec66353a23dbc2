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

package shared

import (
	"fmt"
	"os"

	"github.com/tombee/stepchain/internal/config"
)

// LoadConfig loads the config file named by --config, or the default
// location when that file exists. --verbose lowers the log level to debug;
// --quiet raises it to error.
func LoadConfig() (*config.Config, error) {
	path := GetConfigPath()
	if path == "" {
		if _, err := os.Stat(config.ConfigPath()); err == nil {
			path = config.ConfigPath()
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, &ExitError{Code: ExitConfigError, Message: "failed to load configuration", Cause: err}
	}
	switch {
	case GetVerbose():
		cfg.Log.Level = "debug"
	case GetQuiet():
		cfg.Log.Level = "error"
	}
	return cfg, nil
}

// FormatCost renders a USD amount for display.
func FormatCost(usd float64) string {
	return fmt.Sprintf("$%.4f", usd)
}
