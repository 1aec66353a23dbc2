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

// Package promptctx carries step outputs forward into later prompts.
//
// Extract reduces a step's output to the context handed to the next step,
// according to the step's context mode:
//
//   - full: the output unchanged
//   - summary: head and tail of the output around a truncation marker
//   - selective: fenced code blocks (default, "code", "codeblocks"), the
//     first valid JSON value ("json"), or every match of a regular expression
//   - custom: as selective, plus "jq:<query>" selectors run against the
//     output parsed as JSON
//
// Inject fills a prompt template:
//
//	{{previous_output}}  context extracted from the previous step
//	{{step_N_output}}    full output of the step with order N
//	{{all_outputs}}      every prior output, each under a "=== Step N ===" banner
//
// Placeholders without a value are left as written.
package promptctx
