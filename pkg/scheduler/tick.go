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
	"time"

	"github.com/google/uuid"

	v1 "github.com/courierkit/courier/pkg/apis/v1"
	"github.com/courierkit/courier/pkg/store"
)

const (
	// SkipReasonThrottled means the pacing gate has not opened yet.
	SkipReasonThrottled = "throttled"
	// SkipReasonNoDueMessages means no QUEUED message qualifies for promotion.
	SkipReasonNoDueMessages = "no_due_messages"
)

// TickResult describes the outcome of one tick engine pass.
type TickResult struct {
	Ready     bool
	Skipped   bool
	Reason    string
	MessageID uuid.UUID
	// NextSendAt accompanies a throttled skip so callers can see when the gate opens.
	NextSendAt time.Time
}

// Tick promotes at most one due QUEUED message to ACCEPTED-pending-pickup and
// advances the throttle gate by one interval, all in one transaction. The tick is the
// pacing authority: because the gate advances atomically with the promotion, no
// concurrent tick or claim can produce a second promotion inside the same interval.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	defer s.measure("tick")()
	result, err := s.tick(ctx)
	switch {
	case err != nil:
		ticksCounter.WithLabelValues("error").Inc()
	case result.Ready:
		ticksCounter.WithLabelValues("ready").Inc()
	default:
		ticksCounter.WithLabelValues(result.Reason).Inc()
	}
	return result, err
}

func (s *Scheduler) tick(ctx context.Context) (TickResult, error) {
	now := s.now()
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return TickResult{}, v1.NewStoreError(err)
	}
	defer tx.Rollback(ctx)

	throttle, err := tx.LockThrottle(ctx, now)
	if err != nil {
		return TickResult{}, v1.NewStoreError(err)
	}
	throttleNextSendGauge.Set(throttle.NextSendAt.Sub(now).Seconds())
	if !throttle.Open(now) {
		if err := tx.Commit(ctx); err != nil {
			return TickResult{}, v1.NewStoreError(err)
		}
		return TickResult{Skipped: true, Reason: SkipReasonThrottled, NextSendAt: throttle.NextSendAt}, nil
	}

	msg, err := tx.PickDueQueued(ctx, now, throttle.MaxAttempts)
	if err != nil {
		if store.IsNoRows(err) {
			if err := tx.Commit(ctx); err != nil {
				return TickResult{}, v1.NewStoreError(err)
			}
			return TickResult{Skipped: true, Reason: SkipReasonNoDueMessages}, nil
		}
		return TickResult{}, v1.NewStoreError(err)
	}

	// ClaimedAt stays nil: the promotion reserves the pacing slot, ownership is
	// decided when a gateway picks the message up.
	msg.Status = v1.StatusAccepted
	msg.Claim = v1.Pending()
	msg.ClaimedAt = nil
	msg.UpdatedAt = now
	if err := tx.UpdateMessage(ctx, msg); err != nil {
		return TickResult{}, v1.NewStoreError(err)
	}
	event := v1.NewEvent(msg.ID, v1.StatusAccepted, now, v1.EventDetail{"claimed_by": msg.Claim.String()})
	if err := tx.AppendEvent(ctx, event); err != nil {
		return TickResult{}, v1.NewStoreError(err)
	}

	throttle.Advance(now)
	if err := tx.SaveThrottle(ctx, throttle); err != nil {
		return TickResult{}, v1.NewStoreError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return TickResult{}, v1.NewStoreError(err)
	}
	throttleNextSendGauge.Set(throttle.NextSendAt.Sub(now).Seconds())
	s.log.Infow("promoted message", "id", msg.ID, "next_send_at", throttle.NextSendAt)
	s.publish(ctx, event)
	return TickResult{Ready: true, MessageID: msg.ID}, nil
}
