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

package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	v1 "github.com/courierkit/courier/pkg/apis/v1"
)

// ThrottleUpdate tunes the pacing singleton. Nil fields stay unchanged.
type ThrottleUpdate struct {
	NextSendAt       *time.Time
	IntervalSeconds  *int
	MaxAttempts      *int
	RetryBaseSeconds *int
	RetryMaxSeconds  *int
}

func (in ThrottleUpdate) validate() error {
	var err error
	if in.IntervalSeconds != nil && *in.IntervalSeconds <= 0 {
		err = multierr.Append(err, fmt.Errorf("interval_seconds must be positive"))
	}
	if in.MaxAttempts != nil && *in.MaxAttempts <= 0 {
		err = multierr.Append(err, fmt.Errorf("max_attempts must be positive"))
	}
	if in.RetryBaseSeconds != nil && *in.RetryBaseSeconds <= 0 {
		err = multierr.Append(err, fmt.Errorf("retry_base_seconds must be positive"))
	}
	if in.RetryMaxSeconds != nil && *in.RetryMaxSeconds <= 0 {
		err = multierr.Append(err, fmt.Errorf("retry_max_seconds must be positive"))
	}
	return err
}

// GetThrottle returns the pacing singleton, materializing the defaults row on first use.
func (s *Scheduler) GetThrottle(ctx context.Context) (*v1.DeliveryThrottle, error) {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, v1.NewStoreError(err)
	}
	defer tx.Rollback(ctx)
	throttle, err := tx.LockThrottle(ctx, s.now())
	if err != nil {
		return nil, v1.NewStoreError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, v1.NewStoreError(err)
	}
	return throttle, nil
}

// UpdateThrottle applies operator tuning under the row lock.
func (s *Scheduler) UpdateThrottle(ctx context.Context, in ThrottleUpdate) (*v1.DeliveryThrottle, error) {
	if err := in.validate(); err != nil {
		return nil, v1.NewInvalidArgumentError(err)
	}
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, v1.NewStoreError(err)
	}
	defer tx.Rollback(ctx)

	throttle, err := tx.LockThrottle(ctx, s.now())
	if err != nil {
		return nil, v1.NewStoreError(err)
	}
	if in.NextSendAt != nil {
		throttle.NextSendAt = in.NextSendAt.UTC()
	}
	if in.IntervalSeconds != nil {
		throttle.IntervalSeconds = *in.IntervalSeconds
	}
	if in.MaxAttempts != nil {
		throttle.MaxAttempts = *in.MaxAttempts
	}
	if in.RetryBaseSeconds != nil {
		throttle.RetryBaseSeconds = *in.RetryBaseSeconds
	}
	if in.RetryMaxSeconds != nil {
		throttle.RetryMaxSeconds = *in.RetryMaxSeconds
	}
	if err := tx.SaveThrottle(ctx, throttle); err != nil {
		return nil, v1.NewStoreError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, v1.NewStoreError(err)
	}
	s.log.Infow("updated throttle", "next_send_at", throttle.NextSendAt, "interval_seconds", throttle.IntervalSeconds,
		"max_attempts", throttle.MaxAttempts)
	return throttle, nil
}
