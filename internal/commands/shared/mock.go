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
	"github.com/tombee/stepchain/internal/testing/mock"
	"github.com/tombee/stepchain/pkg/llm"
)

// LoadMockClient builds a scripted model backend from the fixture at path.
func LoadMockClient(path string) (llm.Client, error) {
	f, err := mock.LoadFixture(path)
	if err != nil {
		return nil, &ExitError{Code: ExitConfigError, Message: "invalid mock fixture", Cause: err}
	}
	return mock.NewClient(f, nil), nil
}
