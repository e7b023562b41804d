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

	"github.com/google/uuid"

	v1 "github.com/courierkit/courier/pkg/apis/v1"
	"github.com/courierkit/courier/pkg/store"
)

// SkippedBecauseCanceledNote marks an audit event recorded when a delivery report
// arrives for a message that was canceled while in flight.
const SkippedBecauseCanceledNote = "skipped_send_because_canceled"

const defaultErrorMessage = "unknown error"

// ReportInput carries a gateway's delivery outcome.
type ReportInput struct {
	MessageID uuid.UUID
	Status    v1.MessageStatus
	// Error is the failure reason accompanying a FAILED report.
	Error  string
	Detail v1.EventDetail
}

// Report applies a delivery outcome: success-class statuses advance the message,
// failures schedule a retry with exponential backoff until the attempt budget is
// exhausted. A report racing a cancellation loses: the message stays CANCELED and
// only an audit event is recorded.
func (s *Scheduler) Report(ctx context.Context, in ReportInput) (*v1.ScheduledMessage, error) {
	defer s.measure("report")()
	if !in.Status.IsReportable() {
		return nil, v1.NewInvalidArgumentError(fmt.Errorf("status %q is not a reportable delivery outcome", in.Status))
	}
	msg, err := s.report(ctx, in)
	if err != nil {
		return nil, err
	}
	reportsCounter.WithLabelValues(string(in.Status)).Inc()
	return msg, nil
}

func (s *Scheduler) report(ctx context.Context, in ReportInput) (*v1.ScheduledMessage, error) {
	now := s.now()
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, v1.NewStoreError(err)
	}
	defer tx.Rollback(ctx)

	// Lock order matches tick and claim fallback: throttle first, then the message.
	throttle, err := tx.LockThrottle(ctx, now)
	if err != nil {
		return nil, v1.NewStoreError(err)
	}
	msg, err := tx.LockMessage(ctx, in.MessageID)
	if err != nil {
		if store.IsNoRows(err) {
			return nil, v1.NewNotFoundError(fmt.Errorf("message %s not found", in.MessageID))
		}
		return nil, v1.NewStoreError(err)
	}

	if msg.Status == v1.StatusCanceled {
		// Cancellation won the race; the delivery may have happened externally but
		// the record stays CANCELED. Keep an audit trail of the late report.
		event := v1.NewEvent(msg.ID, v1.StatusCanceled, now, v1.EventDetail{
			"note":            SkippedBecauseCanceledNote,
			"reported_status": string(in.Status),
		})
		if err := tx.AppendEvent(ctx, event); err != nil {
			return nil, v1.NewStoreError(err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, v1.NewStoreError(err)
		}
		s.log.Infow("skipped report for canceled message", "id", msg.ID, "reported_status", in.Status)
		s.publish(ctx, event)
		return msg, nil
	}

	var committed []*v1.MessageStatusEvent
	if in.Status == v1.StatusFailed {
		committed, err = s.applyFailure(ctx, tx, msg, throttle, in, now)
	} else {
		committed, err = s.applySuccess(ctx, tx, msg, in, now)
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, v1.NewStoreError(err)
	}
	s.publish(ctx, committed...)
	return msg, nil
}

func (s *Scheduler) applyFailure(ctx context.Context, tx store.Tx, msg *v1.ScheduledMessage, throttle *v1.DeliveryThrottle, in ReportInput, now time.Time) ([]*v1.MessageStatusEvent, error) {
	if err := v1.ValidateTransition(msg.Status, v1.StatusFailed); err != nil {
		return nil, err
	}
	reason := in.Error
	if reason == "" {
		reason = defaultErrorMessage
	}
	msg.AttemptCount++
	msg.LastError = &reason

	failedEvent := v1.NewEvent(msg.ID, v1.StatusFailed, now, v1.EventDetail{
		"reported_at":   now.Format(time.RFC3339),
		"error":         reason,
		"attempt_count": msg.AttemptCount,
	})
	if in.Detail != nil {
		failedEvent.Detail["detail"] = in.Detail
	}
	if err := tx.AppendEvent(ctx, failedEvent); err != nil {
		return nil, v1.NewStoreError(err)
	}
	committed := []*v1.MessageStatusEvent{failedEvent}

	if msg.AttemptCount < throttle.MaxAttempts {
		// Requeue with backoff. The throttle gate is untouched: the retry is a
		// future-dated QUEUED row and gets re-paced on its next promotion.
		delay := throttle.RetryDelay(msg.AttemptCount)
		msg.Status = v1.StatusQueued
		msg.ScheduledFor = now.Add(delay)
		msg.ClaimedAt = nil
		msg.Claim = v1.Unowned()
		retryEvent := v1.NewEvent(msg.ID, v1.StatusQueued, now, v1.EventDetail{
			"source":           "retry",
			"retry_in_seconds": int(delay.Seconds()),
			"scheduled_for":    msg.ScheduledFor.Format(time.RFC3339),
			"attempt_count":    msg.AttemptCount,
		})
		if err := tx.AppendEvent(ctx, retryEvent); err != nil {
			return nil, v1.NewStoreError(err)
		}
		committed = append(committed, retryEvent)
		s.log.Infow("requeued failed message", "id", msg.ID, "attempt", msg.AttemptCount, "retry_in", delay)
	} else {
		msg.Status = v1.StatusFailed
		s.log.Warnw("message failed permanently", "id", msg.ID, "attempts", msg.AttemptCount, "error", reason)
	}

	msg.UpdatedAt = now
	if err := tx.UpdateMessage(ctx, msg); err != nil {
		return nil, v1.NewStoreError(err)
	}
	return committed, nil
}

func (s *Scheduler) applySuccess(ctx context.Context, tx store.Tx, msg *v1.ScheduledMessage, in ReportInput, now time.Time) ([]*v1.MessageStatusEvent, error) {
	if err := v1.ValidateTransition(msg.Status, in.Status); err != nil {
		return nil, err
	}
	msg.Status = in.Status
	msg.LastError = nil
	msg.UpdatedAt = now
	if err := tx.UpdateMessage(ctx, msg); err != nil {
		return nil, v1.NewStoreError(err)
	}
	event := v1.NewEvent(msg.ID, in.Status, now, v1.EventDetail{"reported_at": now.Format(time.RFC3339)})
	if in.Error != "" {
		event.Detail["error"] = in.Error
	}
	if in.Detail != nil {
		event.Detail["detail"] = in.Detail
	}
	if err := tx.AppendEvent(ctx, event); err != nil {
		return nil, v1.NewStoreError(err)
	}
	s.log.Infow("recorded delivery outcome", "id", msg.ID, "status", in.Status)
	return []*v1.MessageStatusEvent{event}, nil
}
