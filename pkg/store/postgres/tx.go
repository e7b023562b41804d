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

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	v1 "github.com/courierkit/courier/pkg/apis/v1"
	"github.com/courierkit/courier/pkg/store"
)

type tx struct {
	pgx.Tx
}

func (s *Store) BeginTx(ctx context.Context) (store.Tx, error) {
	pgxTx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &tx{Tx: pgxTx}, nil
}

func (t *tx) LockThrottle(ctx context.Context, now time.Time) (*v1.DeliveryThrottle, error) {
	throttle, err := t.selectThrottleForUpdate(ctx)
	if err == nil {
		return throttle, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("locking throttle: %w", err)
	}
	// First use: materialize the defaults row, then take the lock. A concurrent
	// creator makes the insert a no-op and the re-select blocks until it commits.
	defaults := v1.NewDeliveryThrottle(now)
	if _, err := t.Exec(ctx, `
		INSERT INTO delivery_throttle (id, next_send_at, interval_seconds, max_attempts, retry_base_seconds, retry_max_seconds)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		defaults.ID, defaults.NextSendAt, defaults.IntervalSeconds, defaults.MaxAttempts,
		defaults.RetryBaseSeconds, defaults.RetryMaxSeconds,
	); err != nil {
		return nil, fmt.Errorf("creating throttle: %w", err)
	}
	throttle, err = t.selectThrottleForUpdate(ctx)
	if err != nil {
		return nil, fmt.Errorf("locking throttle after create: %w", err)
	}
	return throttle, nil
}

func (t *tx) selectThrottleForUpdate(ctx context.Context) (*v1.DeliveryThrottle, error) {
	var throttle v1.DeliveryThrottle
	err := t.QueryRow(ctx, `
		SELECT id, next_send_at, interval_seconds, max_attempts, retry_base_seconds, retry_max_seconds
		FROM delivery_throttle
		WHERE id = $1
		FOR UPDATE`, v1.ThrottleSingletonID,
	).Scan(
		&throttle.ID, &throttle.NextSendAt, &throttle.IntervalSeconds,
		&throttle.MaxAttempts, &throttle.RetryBaseSeconds, &throttle.RetryMaxSeconds,
	)
	if err != nil {
		return nil, err
	}
	return &throttle, nil
}

func (t *tx) SaveThrottle(ctx context.Context, throttle *v1.DeliveryThrottle) error {
	tag, err := t.Exec(ctx, `
		UPDATE delivery_throttle
		SET next_send_at = $2, interval_seconds = $3, max_attempts = $4, retry_base_seconds = $5, retry_max_seconds = $6
		WHERE id = $1`,
		throttle.ID, throttle.NextSendAt, throttle.IntervalSeconds, throttle.MaxAttempts,
		throttle.RetryBaseSeconds, throttle.RetryMaxSeconds,
	)
	if err != nil {
		return fmt.Errorf("saving throttle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("saving throttle: %w", store.ErrNoRows)
	}
	return nil
}

func (t *tx) PickDueQueued(ctx context.Context, now time.Time, maxAttempts int) (*v1.ScheduledMessage, error) {
	row := t.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM scheduled_messages
		WHERE status = $1 AND scheduled_for <= $2 AND claimed_at IS NULL AND attempt_count < $3
		ORDER BY scheduled_for ASC, created_at ASC, id ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, messageColumns),
		string(v1.StatusQueued), now, maxAttempts)
	msg, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("picking due queued message: %w", mapNoRows(err))
	}
	return msg, nil
}

func (t *tx) PickPendingForGateway(ctx context.Context, now time.Time) (*v1.ScheduledMessage, error) {
	row := t.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM scheduled_messages
		WHERE status = $1 AND claimed_by = $2 AND claimed_at IS NULL AND scheduled_for <= $3
		ORDER BY scheduled_for ASC, created_at ASC, id ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, messageColumns),
		string(v1.StatusAccepted), v1.Pending().Value(), now)
	msg, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("picking pending message: %w", mapNoRows(err))
	}
	return msg, nil
}

func (t *tx) LockMessage(ctx context.Context, id uuid.UUID) (*v1.ScheduledMessage, error) {
	row := t.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM scheduled_messages WHERE id = $1 FOR UPDATE`, messageColumns), id)
	msg, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("locking message %s: %w", id, mapNoRows(err))
	}
	return msg, nil
}

func (t *tx) InsertMessage(ctx context.Context, msg *v1.ScheduledMessage) error {
	_, err := t.Exec(ctx, `
		INSERT INTO scheduled_messages (id, to_handle, body, scheduled_for, status, created_at, updated_at,
			claimed_at, claimed_by, attempt_count, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		msg.ID, msg.ToHandle, msg.Body, msg.ScheduledFor, string(msg.Status),
		msg.CreatedAt, msg.UpdatedAt, msg.ClaimedAt, msg.Claim.Value(),
		msg.AttemptCount, msg.LastError,
	)
	if err != nil {
		return fmt.Errorf("inserting message %s: %w", msg.ID, err)
	}
	return nil
}

func (t *tx) UpdateMessage(ctx context.Context, msg *v1.ScheduledMessage) error {
	tag, err := t.Exec(ctx, `
		UPDATE scheduled_messages
		SET to_handle = $2, body = $3, scheduled_for = $4, status = $5, updated_at = $6,
			claimed_at = $7, claimed_by = $8, attempt_count = $9, last_error = $10
		WHERE id = $1`,
		msg.ID, msg.ToHandle, msg.Body, msg.ScheduledFor, string(msg.Status),
		msg.UpdatedAt, msg.ClaimedAt, msg.Claim.Value(), msg.AttemptCount, msg.LastError,
	)
	if err != nil {
		return fmt.Errorf("updating message %s: %w", msg.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("updating message %s: %w", msg.ID, store.ErrNoRows)
	}
	return nil
}

func (t *tx) AppendEvent(ctx context.Context, event *v1.MessageStatusEvent) error {
	detail, err := json.Marshal(event.Detail)
	if err != nil {
		return fmt.Errorf("encoding event detail: %w", err)
	}
	if err := t.QueryRow(ctx, `
		INSERT INTO message_status_events (message_id, status, timestamp, detail)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		event.MessageID, string(event.Status), event.Timestamp, detail,
	).Scan(&event.ID); err != nil {
		return fmt.Errorf("appending %s event for %s: %w", event.Status, event.MessageID, err)
	}
	return nil
}

func (t *tx) Commit(ctx context.Context) error {
	if err := t.Tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	if err := t.Tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rolling back transaction: %w", err)
	}
	return nil
}
