// Copyright 2025 The Kubernetes Authors.
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

// Package eventcontext holds the state that lives exactly as long as one
// notification: the prior version of the notified resource and the scope of
// per-notification component instances.
//
// Go has no thread-local storage, so both are activated by deriving a child
// context.Context and released through the returned Release func. A subscriber
// can only see them through the context it was invoked with, and only until
// the activation is released.
package eventcontext

import "errors"

var (
	// ErrContextNotActive is returned when prior state or scope storage is
	// queried outside of an active notification window. It is never
	// converted into an empty value.
	ErrContextNotActive = errors.New("notification context is not active")

	// ErrNilResource is returned when a prior-state entry is recorded for a
	// nil resource.
	ErrNilResource = errors.New("resource must not be nil")
)

// IsContextNotActive returns true if err was caused by a query outside of an
// active notification window.
func IsContextNotActive(err error) bool {
	return errors.Is(err, ErrContextNotActive)
}

// Release ends an activation. It is safe to call more than once.
type Release func()
