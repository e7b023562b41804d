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

package v1

import (
	"time"

	"github.com/google/uuid"
)

// MaxToHandleLength bounds the recipient handle column.
const MaxToHandleLength = 255

// ScheduledMessage is a message to be delivered to a recipient at or after its
// scheduled time. It is created once, mutated only by the tick engine, claim, report,
// and cancel operations, and never deleted.
type ScheduledMessage struct {
	ID           uuid.UUID
	ToHandle     string
	Body         string
	ScheduledFor time.Time
	Status       MessageStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
	// ClaimedAt is the time a concrete gateway took ownership. Nil while queued and
	// while a tick-engine promotion awaits pickup.
	ClaimedAt *time.Time
	Claim     ClaimRef
	// AttemptCount is the number of failed delivery attempts so far. It only grows.
	AttemptCount int
	// LastError holds the most recent failure reason; cleared by successful reports.
	LastError *string
}

// DeepCopy returns an independent copy of the message.
func (m *ScheduledMessage) DeepCopy() *ScheduledMessage {
	if m == nil {
		return nil
	}
	out := *m
	if m.ClaimedAt != nil {
		t := *m.ClaimedAt
		out.ClaimedAt = &t
	}
	if m.LastError != nil {
		s := *m.LastError
		out.LastError = &s
	}
	return &out
}

// EventDetail is the free-form attribution payload attached to a status event.
type EventDetail map[string]any

// MessageStatusEvent is one row of the append-only audit log. Every status change
// records exactly one event carrying the new status; audit-only events (claim
// attribution, cancel-race notes) carry the current status.
type MessageStatusEvent struct {
	ID        int64
	MessageID uuid.UUID
	Status    MessageStatus
	Timestamp time.Time
	Detail    EventDetail
}

// NewEvent builds an audit event for a message at the given time.
func NewEvent(messageID uuid.UUID, status MessageStatus, at time.Time, detail EventDetail) *MessageStatusEvent {
	if detail == nil {
		detail = EventDetail{}
	}
	return &MessageStatusEvent{
		MessageID: messageID,
		Status:    status,
		Timestamp: at,
		Detail:    detail,
	}
}
