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

	v1 "github.com/courierkit/courier/pkg/apis/v1"
	"github.com/courierkit/courier/pkg/store"
)

// Claim hands at most one deliverable message to the calling gateway. The fast path
// picks up a promotion the tick engine already paced; the fallback promotes a due
// QUEUED message directly, subject to the same throttle the tick obeys. A nil message
// with nil error means nothing is available.
func (s *Scheduler) Claim(ctx context.Context, gatewayID string) (*v1.ScheduledMessage, error) {
	defer s.measure("claim")()
	if gatewayID == "" {
		claimsCounter.WithLabelValues("error").Inc()
		return nil, v1.NewInvalidArgumentError(fmt.Errorf("gateway_id is required"))
	}
	if v1.IsReservedGatewayID(gatewayID) {
		claimsCounter.WithLabelValues("error").Inc()
		return nil, v1.NewInvalidArgumentError(fmt.Errorf("gateway_id %q is reserved", gatewayID))
	}
	msg, result, err := s.claim(ctx, gatewayID)
	if err != nil {
		claimsCounter.WithLabelValues("error").Inc()
		return nil, err
	}
	claimsCounter.WithLabelValues(result).Inc()
	return msg, nil
}

func (s *Scheduler) claim(ctx context.Context, gatewayID string) (*v1.ScheduledMessage, string, error) {
	now := s.now()
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, "", v1.NewStoreError(err)
	}
	defer tx.Rollback(ctx)

	// Fast path: a pending promotion is already paced; attribute it without touching
	// the throttle.
	msg, err := tx.PickPendingForGateway(ctx, now)
	if err != nil && !store.IsNoRows(err) {
		return nil, "", v1.NewStoreError(err)
	}
	if err == nil {
		claimedAt := now
		msg.Claim = v1.OwnedBy(gatewayID)
		msg.ClaimedAt = &claimedAt
		msg.UpdatedAt = now
		if err := tx.UpdateMessage(ctx, msg); err != nil {
			return nil, "", v1.NewStoreError(err)
		}
		event := v1.NewEvent(msg.ID, v1.StatusAccepted, now, v1.EventDetail{"gateway_id": gatewayID, "source": "gateway_claim"})
		if err := tx.AppendEvent(ctx, event); err != nil {
			return nil, "", v1.NewStoreError(err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, "", v1.NewStoreError(err)
		}
		s.log.Infow("gateway picked up pending message", "id", msg.ID, "gateway_id", gatewayID)
		s.publish(ctx, event)
		return msg, "pending", nil
	}

	// Fallback: no pending work; the gateway drives scheduling itself, gated and
	// paced exactly like a tick.
	throttle, err := tx.LockThrottle(ctx, now)
	if err != nil {
		return nil, "", v1.NewStoreError(err)
	}
	if !throttle.Open(now) {
		if err := tx.Commit(ctx); err != nil {
			return nil, "", v1.NewStoreError(err)
		}
		return nil, "none", nil
	}
	msg, err = tx.PickDueQueued(ctx, now, throttle.MaxAttempts)
	if err != nil {
		if store.IsNoRows(err) {
			if err := tx.Commit(ctx); err != nil {
				return nil, "", v1.NewStoreError(err)
			}
			return nil, "none", nil
		}
		return nil, "", v1.NewStoreError(err)
	}

	claimedAt := now
	msg.Status = v1.StatusAccepted
	msg.Claim = v1.OwnedBy(gatewayID)
	msg.ClaimedAt = &claimedAt
	msg.UpdatedAt = now
	if err := tx.UpdateMessage(ctx, msg); err != nil {
		return nil, "", v1.NewStoreError(err)
	}
	event := v1.NewEvent(msg.ID, v1.StatusAccepted, now, v1.EventDetail{"gateway_id": gatewayID})
	if err := tx.AppendEvent(ctx, event); err != nil {
		return nil, "", v1.NewStoreError(err)
	}
	throttle.Advance(now)
	if err := tx.SaveThrottle(ctx, throttle); err != nil {
		return nil, "", v1.NewStoreError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, "", v1.NewStoreError(err)
	}
	s.log.Infow("gateway claimed message directly", "id", msg.ID, "gateway_id", gatewayID, "next_send_at", throttle.NextSendAt)
	s.publish(ctx, event)
	return msg, "promoted", nil
}
