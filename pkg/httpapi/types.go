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

package httpapi

import (
	"time"

	"github.com/samber/lo"

	v1 "github.com/courierkit/courier/pkg/apis/v1"
)

type createMessageRequest struct {
	ToHandle     string `json:"to_handle" validate:"required,max=255"`
	Body         string `json:"body" validate:"required"`
	ScheduledFor string `json:"scheduled_for" validate:"required"`
}

type claimRequest struct {
	GatewayID string `json:"gateway_id" validate:"required"`
}

type reportRequest struct {
	MessageID string         `json:"message_id" validate:"required,uuid"`
	Status    string         `json:"status" validate:"required"`
	Error     string         `json:"error,omitempty"`
	Detail    v1.EventDetail `json:"detail,omitempty"`
}

type throttleRequest struct {
	NextSendAt       *time.Time `json:"next_send_at,omitempty"`
	IntervalSeconds  *int       `json:"interval_seconds,omitempty"`
	MaxAttempts      *int       `json:"max_attempts,omitempty"`
	RetryBaseSeconds *int       `json:"retry_base_seconds,omitempty"`
	RetryMaxSeconds  *int       `json:"retry_max_seconds,omitempty"`
}

type messageResponse struct {
	ID           string         `json:"id"`
	ToHandle     string         `json:"to_handle"`
	Body         string         `json:"body"`
	ScheduledFor time.Time      `json:"scheduled_for"`
	Status       string         `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	ClaimedAt    *time.Time     `json:"claimed_at"`
	ClaimedBy    *string        `json:"claimed_by"`
	AttemptCount int            `json:"attempt_count"`
	LastError    *string        `json:"last_error"`
	Events       []eventPayload `json:"events,omitempty"`
}

type eventPayload struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Detail    v1.EventDetail `json:"detail"`
}

// claimResponse carries only what a gateway needs to perform the delivery.
type claimResponse struct {
	ID           string    `json:"id"`
	ToHandle     string    `json:"to_handle"`
	Body         string    `json:"body"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

type throttleResponse struct {
	NextSendAt       time.Time `json:"next_send_at"`
	IntervalSeconds  int       `json:"interval_seconds"`
	MaxAttempts      int       `json:"max_attempts"`
	RetryBaseSeconds int       `json:"retry_base_seconds"`
	RetryMaxSeconds  int       `json:"retry_max_seconds"`
}

type healthResponse struct {
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}

type statsResponse struct {
	Counts map[string]int `json:"counts"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func toMessageResponse(msg *v1.ScheduledMessage, events []*v1.MessageStatusEvent) messageResponse {
	return messageResponse{
		ID:           msg.ID.String(),
		ToHandle:     msg.ToHandle,
		Body:         msg.Body,
		ScheduledFor: msg.ScheduledFor,
		Status:       string(msg.Status),
		CreatedAt:    msg.CreatedAt,
		UpdatedAt:    msg.UpdatedAt,
		ClaimedAt:    msg.ClaimedAt,
		ClaimedBy:    msg.Claim.Value(),
		AttemptCount: msg.AttemptCount,
		LastError:    msg.LastError,
		Events: lo.Map(events, func(event *v1.MessageStatusEvent, _ int) eventPayload {
			return eventPayload{
				Status:    string(event.Status),
				Timestamp: event.Timestamp,
				Detail:    event.Detail,
			}
		}),
	}
}

func toThrottleResponse(throttle *v1.DeliveryThrottle) throttleResponse {
	return throttleResponse{
		NextSendAt:       throttle.NextSendAt,
		IntervalSeconds:  throttle.IntervalSeconds,
		MaxAttempts:      throttle.MaxAttempts,
		RetryBaseSeconds: throttle.RetryBaseSeconds,
		RetryMaxSeconds:  throttle.RetryMaxSeconds,
	}
}
