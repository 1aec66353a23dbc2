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

// Package client is a Go client for the stepchain HTTP API served by
// `stepchain serve`.
//
//	c, err := client.New("http://localhost:8080")
//	run, err := c.StartRun(ctx, "blog-post", nil)
//	err = c.WatchRun(ctx, run.ID, func(ev plan.ProgressEvent) error {
//		fmt.Println(ev.Status, ev.CompletedSteps, ev.TotalSteps)
//		return nil
//	})
package client
