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

package llm

import (
	"errors"
	"fmt"
)

// ErrorKind classifies model call failures.
type ErrorKind string

const (
	// ErrorKindRateLimit indicates the backend rejected the call with HTTP 429.
	ErrorKindRateLimit ErrorKind = "rate_limit"

	// ErrorKindAuth indicates the credentials were rejected (HTTP 401).
	ErrorKindAuth ErrorKind = "auth"

	// ErrorKindTimeout indicates the client deadline elapsed.
	ErrorKindTimeout ErrorKind = "timeout"

	// ErrorKindGeneric covers every other failure.
	ErrorKindGeneric ErrorKind = "generic"
)

// CallError is returned by Client implementations for failed calls.
type CallError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *CallError) Error() string {
	switch e.Kind {
	case ErrorKindRateLimit:
		return "rate limit exceeded, try again later"
	case ErrorKindAuth:
		return "invalid API key"
	case ErrorKindTimeout:
		return "request timeout: the model took too long to respond"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("model call failed: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("model call failed: %s", e.Message)
}

// Unwrap returns the underlying cause.
func (e *CallError) Unwrap() error {
	return e.Cause
}

// KindOf returns the kind of a *CallError anywhere in err's chain, or
// ErrorKindGeneric when err is not a CallError.
func KindOf(err error) ErrorKind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ErrorKindGeneric
}
