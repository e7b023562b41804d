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
	"fmt"
)

// MessageStatus is the lifecycle state of a ScheduledMessage.
type MessageStatus string

const (
	// StatusQueued means the message is waiting to become due. Queued messages are never claimed.
	StatusQueued MessageStatus = "QUEUED"
	// StatusAccepted means the message has been admitted into delivery, either by the tick
	// engine (pending a gateway) or directly by a claiming gateway.
	StatusAccepted MessageStatus = "ACCEPTED"
	// StatusSent means a gateway handed the message to the platform.
	StatusSent MessageStatus = "SENT"
	// StatusDelivered means the platform acknowledged delivery to the recipient device.
	StatusDelivered MessageStatus = "DELIVERED"
	// StatusReceived means the recipient acknowledged receipt.
	StatusReceived MessageStatus = "RECEIVED"
	// StatusFailed means delivery failed; terminal once the attempt budget is exhausted.
	StatusFailed MessageStatus = "FAILED"
	// StatusCanceled means a caller withdrew the message before it was sent.
	StatusCanceled MessageStatus = "CANCELED"
)

// AllStatuses lists every message status in lifecycle order.
var AllStatuses = []MessageStatus{
	StatusQueued,
	StatusAccepted,
	StatusSent,
	StatusDelivered,
	StatusReceived,
	StatusFailed,
	StatusCanceled,
}

// validTransitions is the single source of truth for the message state machine.
// Every mutator consults it; transitions absent from this table are invalid.
var validTransitions = map[MessageStatus][]MessageStatus{
	StatusQueued:    {StatusAccepted, StatusCanceled},
	StatusAccepted:  {StatusSent, StatusDelivered, StatusReceived, StatusFailed, StatusQueued, StatusCanceled},
	StatusSent:      {StatusDelivered, StatusReceived},
	StatusDelivered: {StatusReceived},
	StatusReceived:  {},
	StatusFailed:    {StatusQueued, StatusCanceled},
	StatusCanceled:  {},
}

// reportableStatuses are the statuses a gateway may report for a delivery attempt.
var reportableStatuses = map[MessageStatus]struct{}{
	StatusSent:      {},
	StatusDelivered: {},
	StatusReceived:  {},
	StatusFailed:    {},
}

// ParseStatus converts a wire string into a MessageStatus.
func ParseStatus(s string) (MessageStatus, error) {
	for _, status := range AllStatuses {
		if string(status) == s {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown message status %q", s)
}

// CanTransition reports whether the state machine permits moving from one status to another.
func CanTransition(from, to MessageStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns an InvalidStateError when the state machine forbids from -> to.
func ValidateTransition(from, to MessageStatus) error {
	if !CanTransition(from, to) {
		return NewInvalidStateError(fmt.Errorf("transition %s -> %s is not allowed", from, to))
	}
	return nil
}

// IsReportable reports whether a gateway may report this status as a delivery outcome.
func (s MessageStatus) IsReportable() bool {
	_, ok := reportableStatuses[s]
	return ok
}

// IsSentClass reports whether the message already left for the platform. Sent-class
// messages cannot be canceled.
func (s MessageStatus) IsSentClass() bool {
	return s == StatusSent || s == StatusDelivered || s == StatusReceived
}

// IsTerminal reports whether no further transitions exist from this status.
func (s MessageStatus) IsTerminal() bool {
	return len(validTransitions[s]) == 0
}
