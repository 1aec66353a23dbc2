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

/*
Package cli provides the root command for stepchain's CLI.

This package creates the Cobra command tree and handles global concerns like
version information, persistent flags and exit codes. Individual commands
are implemented in the internal/commands subpackages.

# Command Tree

	stepchain
	├── run         Execute a plan file and wait for it
	├── validate    Validate plan documents
	├── serve       Run the HTTP API
	├── runs        Manage runs on a server (list, show, start, watch, cancel)
	├── model       Inspect the model catalog (list, info, cheapest)
	├── example     Browse and copy embedded example plans
	├── config      Show, locate and validate configuration
	├── completion  Generate shell completion scripts
	├── version     Show version
	└── help        Show help, optionally as JSON

# Global Flags

	--verbose, -v   Enable verbose output
	--quiet, -q     Suppress non-error output
	--json          Output in JSON format
	--config        Path to config file

# Exit Codes

	0    success
	1    run failed
	2    plan invalid
	3    configuration error
	130  run cancelled
*/
package cli
