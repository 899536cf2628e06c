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

package binding

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoSelectorTags is returned for a producer none of whose tags is a
	// selector.
	ErrNoSelectorTags = errors.New("no selector tags")

	// ErrCloseTimeout is returned when a controller does not quiesce in time.
	ErrCloseTimeout = errors.New("timed out waiting for controller to stop")

	// ErrAlreadyStarted is returned when a controller or an engine is
	// started twice.
	ErrAlreadyStarted = errors.New("already started")
)

// StartError reports a binding whose controller failed to start.
type StartError struct {
	Binding string
	Err     error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start controller for binding %q: %v", e.Binding, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// ShutdownError collects the failures of closing the controllers. Primary is
// the first failure; the others are kept in Suppressed in the order they
// happened.
type ShutdownError struct {
	Primary    error
	Suppressed []error
}

func (e *ShutdownError) Error() string {
	if len(e.Suppressed) == 0 {
		return e.Primary.Error()
	}
	msgs := make([]string, len(e.Suppressed))
	for i, err := range e.Suppressed {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%v (suppressed: %s)", e.Primary, strings.Join(msgs, "; "))
}

func (e *ShutdownError) Unwrap() []error {
	return append([]error{e.Primary}, e.Suppressed...)
}

func newShutdownError(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return &ShutdownError{Primary: errs[0], Suppressed: errs[1:]}
}
