/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package fake

import (
	"context"
	"sync"

	"github.com/google/uuid"

	v1 "github.com/courierkit/courier/pkg/apis/v1"
)

// EventRecorder captures fan-out calls so tests can assert what was published after
// commit.
type EventRecorder struct {
	mu       sync.Mutex
	recorded []*v1.MessageStatusEvent
}

func NewEventRecorder() *EventRecorder {
	return &EventRecorder{}
}

func (r *EventRecorder) Record(_ context.Context, event *v1.MessageStatusEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorded = append(r.recorded, copyEvent(event))
}

// Reset must be called between tests otherwise tests will pollute each other.
func (r *EventRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorded = nil
}

// Recorded returns every published event in publish order.
func (r *EventRecorder) Recorded() []*v1.MessageStatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*v1.MessageStatusEvent, 0, len(r.recorded))
	for _, event := range r.recorded {
		out = append(out, copyEvent(event))
	}
	return out
}

// RecordedFor returns the published events of one message in publish order.
func (r *EventRecorder) RecordedFor(id uuid.UUID) []*v1.MessageStatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*v1.MessageStatusEvent
	for _, event := range r.recorded {
		if event.MessageID == id {
			out = append(out, copyEvent(event))
		}
	}
	return out
}
