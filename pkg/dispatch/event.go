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

package dispatch

import (
	"errors"
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/kro-run/eventselector/pkg/eventcontext"
	"github.com/kro-run/eventselector/pkg/selector"
)

// ErrUnmatchedEventKind is returned for events that can never be delivered:
// resync deletions and kinds outside Added, Modified and Deleted.
var ErrUnmatchedEventKind = errors.New("unmatched event kind")

// Kind identifies the change carried by an Event.
type Kind string

const (
	KindAdded    Kind = "Added"
	KindModified Kind = "Modified"
	KindDeleted  Kind = "Deleted"
)

// Delivery tags appended to a binding's tag-set when an event is fired.
// Subscriptions that name a kind carry the matching tag, so they only
// receive that kind of event.
const (
	TagAdded          selector.Tag = selector.BuiltinPrefix + "added"
	TagAddedResync    selector.Tag = selector.BuiltinPrefix + "added.resync"
	TagModified       selector.Tag = selector.BuiltinPrefix + "modified"
	TagModifiedResync selector.Tag = selector.BuiltinPrefix + "modified.resync"
	TagDeleted        selector.Tag = selector.BuiltinPrefix + "deleted"
)

// Event is a change emitted by a binding's controller.
type Event struct {
	Kind   Kind
	Object *unstructured.Unstructured
	// Prior is the previous version of Object, nil when unknown.
	Prior *unstructured.Unstructured
	// Resync marks synthetic Added/Modified events replaying known state.
	Resync bool
}

// Notification is what a subscriber receives.
type Notification struct {
	Binding string
	Kind    Kind
	Resync  bool
	Object  *unstructured.Unstructured
	// Prior is only filled for subscriptions that asked for it. Others can
	// still query it through PriorFrom while they are being notified.
	Prior eventcontext.Prior[unstructured.Unstructured]
}

// DeliveryTag returns the tag identifying kind and resync.
func DeliveryTag(kind Kind, resync bool) (selector.Tag, error) {
	switch kind {
	case KindAdded:
		if resync {
			return TagAddedResync, nil
		}
		return TagAdded, nil
	case KindModified:
		if resync {
			return TagModifiedResync, nil
		}
		return TagModified, nil
	case KindDeleted:
		if resync {
			return "", fmt.Errorf("%w: deleted resources cannot be resynchronized", ErrUnmatchedEventKind)
		}
		return TagDeleted, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnmatchedEventKind, kind)
	}
}

// BindingTag returns the builtin tag scoping notifications to the binding
// with the given ID. A binding fires with it and its subscriptions observe
// with it, so overlapping tag-sets never receive each other's events.
func BindingTag(id string) selector.Tag {
	return selector.Tag(selector.BuiltinPrefix + "binding=" + id)
}
