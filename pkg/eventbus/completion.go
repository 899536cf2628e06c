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

package eventbus

import "sync"

// Completion is the handle of an asynchronous notification.
type Completion struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Completed returns a Completion that is already resolved with err.
func Completed(err error) *Completion {
	c := newCompletion()
	c.complete(err)
	return c
}

func (c *Completion) complete(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Done is closed once the notification has finished.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the notification has finished and returns its error.
func (c *Completion) Wait() error {
	<-c.done
	return c.err
}

// Then runs fn with the result of c on a new goroutine once c resolves,
// without blocking the caller. The returned Completion resolves with the
// error returned by fn.
func (c *Completion) Then(fn func(err error) error) *Completion {
	next := newCompletion()
	go func() {
		<-c.done
		var err error
		defer func() { next.complete(err) }()
		err = fn(c.err)
	}()
	return next
}
