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

package watchtracker

import "time"

// Status is the health of a binding's watch.
type Status string

const (
	// StatusSyncing means the controller started and the initial list has
	// not completed yet.
	StatusSyncing Status = "Syncing"
	// StatusSyncingError means the initial list is still pending and the
	// watch reported errors.
	StatusSyncingError Status = "SyncingError"
	// StatusSynced means the initial list completed and no recent errors.
	StatusSynced Status = "Synced"
	// StatusDegraded means the watch synced once but reported recent errors.
	StatusDegraded Status = "Degraded"
	// StatusStopped means the controller was closed.
	StatusStopped Status = "Stopped"
)

// State is the tracked state of one binding.
type State struct {
	Status        Status
	Synced        bool
	HasError      bool
	LastError     error
	LastErrorTime time.Time
	ErrorCount    int
}

// StateChangeEvent reports a status transition of a binding.
type StateChangeEvent struct {
	Binding  string
	OldState State
	NewState State
}
