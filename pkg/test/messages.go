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

// Package test provides object factories shared by the test suites.
package test

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	v1 "github.com/courierkit/courier/pkg/apis/v1"
)

var handleSequence atomic.Uint64

// RandomHandle returns a unique recipient handle.
func RandomHandle() string {
	return fmt.Sprintf("+1555%07d", handleSequence.Add(1))
}

// Message creates a test message with defaults that can be overridden by overrides.
// Overrides are applied in order, with a last write wins semantic on non-zero fields.
func Message(overrides ...v1.ScheduledMessage) *v1.ScheduledMessage {
	override := v1.ScheduledMessage{}
	for _, opts := range overrides {
		mergeMessage(&override, opts)
	}
	if override.ID == uuid.Nil {
		override.ID = uuid.New()
	}
	if override.ToHandle == "" {
		override.ToHandle = RandomHandle()
	}
	if override.Body == "" {
		override.Body = "hello from courier"
	}
	if override.Status == "" {
		override.Status = v1.StatusQueued
	}
	now := time.Now().UTC()
	if override.ScheduledFor.IsZero() {
		override.ScheduledFor = now
	}
	if override.CreatedAt.IsZero() {
		override.CreatedAt = now
	}
	if override.UpdatedAt.IsZero() {
		override.UpdatedAt = override.CreatedAt
	}
	return &override
}

func mergeMessage(dst *v1.ScheduledMessage, src v1.ScheduledMessage) {
	if src.ID != uuid.Nil {
		dst.ID = src.ID
	}
	if src.ToHandle != "" {
		dst.ToHandle = src.ToHandle
	}
	if src.Body != "" {
		dst.Body = src.Body
	}
	if !src.ScheduledFor.IsZero() {
		dst.ScheduledFor = src.ScheduledFor
	}
	if src.Status != "" {
		dst.Status = src.Status
	}
	if !src.CreatedAt.IsZero() {
		dst.CreatedAt = src.CreatedAt
	}
	if !src.UpdatedAt.IsZero() {
		dst.UpdatedAt = src.UpdatedAt
	}
	if src.ClaimedAt != nil {
		dst.ClaimedAt = src.ClaimedAt
	}
	if !src.Claim.IsUnowned() {
		dst.Claim = src.Claim
	}
	if src.AttemptCount != 0 {
		dst.AttemptCount = src.AttemptCount
	}
	if src.LastError != nil {
		dst.LastError = src.LastError
	}
}

// Throttle creates a test pacing row with defaults that can be overridden by overrides.
func Throttle(overrides ...v1.DeliveryThrottle) *v1.DeliveryThrottle {
	throttle := *v1.NewDeliveryThrottle(time.Now().UTC())
	for _, opts := range overrides {
		if !opts.NextSendAt.IsZero() {
			throttle.NextSendAt = opts.NextSendAt
		}
		if opts.IntervalSeconds != 0 {
			throttle.IntervalSeconds = opts.IntervalSeconds
		}
		if opts.MaxAttempts != 0 {
			throttle.MaxAttempts = opts.MaxAttempts
		}
		if opts.RetryBaseSeconds != 0 {
			throttle.RetryBaseSeconds = opts.RetryBaseSeconds
		}
		if opts.RetryMaxSeconds != 0 {
			throttle.RetryMaxSeconds = opts.RetryMaxSeconds
		}
	}
	return &throttle
}
