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

// Package events fans committed status events out to realtime subscribers. Fan-out is
// best-effort: recorders run after the owning transaction commits and never fail it.
package events

import (
	"context"

	v1 "github.com/courierkit/courier/pkg/apis/v1"
)

// Recorder receives one call per committed audit event.
type Recorder interface {
	Record(ctx context.Context, event *v1.MessageStatusEvent)
}

// NopRecorder drops every event. Used when no fan-out backend is configured.
type NopRecorder struct{}

func NewNopRecorder() NopRecorder {
	return NopRecorder{}
}

func (NopRecorder) Record(context.Context, *v1.MessageStatusEvent) {}
