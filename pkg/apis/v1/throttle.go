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
)

const (
	// ThrottleSingletonID is the forced primary key of the one throttle row.
	ThrottleSingletonID = 1

	DefaultIntervalSeconds  = 3600
	DefaultMaxAttempts      = 5
	DefaultRetryBaseSeconds = 60
	DefaultRetryMaxSeconds  = 21600
)

// DeliveryThrottle is the singleton pacing row. All promotions into delivery, whether
// by the tick engine or by a claiming gateway, are gated on NextSendAt and advance it
// under an exclusive row lock.
type DeliveryThrottle struct {
	ID               int
	NextSendAt       time.Time
	IntervalSeconds  int
	MaxAttempts      int
	RetryBaseSeconds int
	RetryMaxSeconds  int
}

// NewDeliveryThrottle returns the defaults row, ready to send immediately.
func NewDeliveryThrottle(now time.Time) *DeliveryThrottle {
	return &DeliveryThrottle{
		ID:               ThrottleSingletonID,
		NextSendAt:       now,
		IntervalSeconds:  DefaultIntervalSeconds,
		MaxAttempts:      DefaultMaxAttempts,
		RetryBaseSeconds: DefaultRetryBaseSeconds,
		RetryMaxSeconds:  DefaultRetryMaxSeconds,
	}
}

// Interval returns the pacing interval between promotions.
func (t *DeliveryThrottle) Interval() time.Duration {
	return time.Duration(t.IntervalSeconds) * time.Second
}

// Open reports whether a promotion is permitted at the given instant.
func (t *DeliveryThrottle) Open(now time.Time) bool {
	return !now.Before(t.NextSendAt)
}

// Advance moves the gate one interval past now. Callers must hold the row lock.
func (t *DeliveryThrottle) Advance(now time.Time) {
	t.NextSendAt = now.Add(t.Interval())
}

// RetryDelay returns the backoff before the given failed attempt is retried:
// retry_base_seconds doubled per prior attempt, capped at retry_max_seconds.
// Attempt one waits the base, attempt two twice that, and so on.
func (t *DeliveryThrottle) RetryDelay(attempt int) time.Duration {
	maxDelay := time.Duration(t.RetryMaxSeconds) * time.Second
	if attempt < 1 {
		attempt = 1
	}
	// Shifting past 30 bits cannot come back under any sane cap.
	if attempt-1 > 30 {
		return maxDelay
	}
	delay := time.Duration(t.RetryBaseSeconds<<(attempt-1)) * time.Second
	if delay <= 0 || delay > maxDelay {
		return maxDelay
	}
	return delay
}

// DeepCopy returns an independent copy of the throttle row.
func (t *DeliveryThrottle) DeepCopy() *DeliveryThrottle {
	if t == nil {
		return nil
	}
	out := *t
	return &out
}
