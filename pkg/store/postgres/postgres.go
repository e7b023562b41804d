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

// Package postgres implements the store against PostgreSQL using pgx. Row locks and
// SKIP LOCKED selections carry all of the scheduler's concurrency guarantees.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	v1 "github.com/courierkit/courier/pkg/apis/v1"
	"github.com/courierkit/courier/pkg/store"
)

const messageColumns = `id, to_handle, body, scheduled_for, status, created_at, updated_at,
	claimed_at, claimed_by, attempt_count, last_error`

type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects a pool and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

func (s *Store) GetMessage(ctx context.Context, id uuid.UUID) (*v1.ScheduledMessage, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM scheduled_messages WHERE id = $1`, messageColumns), id)
	msg, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("getting message %s: %w", id, mapNoRows(err))
	}
	return msg, nil
}

func (s *Store) ListEvents(ctx context.Context, messageID uuid.UUID) ([]*v1.MessageStatusEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, message_id, status, timestamp, detail
		FROM message_status_events
		WHERE message_id = $1
		ORDER BY timestamp ASC, id ASC`, messageID)
	if err != nil {
		return nil, fmt.Errorf("listing events for %s: %w", messageID, err)
	}
	defer rows.Close()

	var events []*v1.MessageStatusEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return events, nil
}

func (s *Store) ListMessages(ctx context.Context, filter store.Filter) ([]*v1.ScheduledMessage, error) {
	var where []string
	var args []any

	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.ScheduledFrom != nil {
		args = append(args, *filter.ScheduledFrom)
		where = append(where, fmt.Sprintf("scheduled_for >= $%d", len(args)))
	}
	if filter.ScheduledTo != nil {
		args = append(args, *filter.ScheduledTo)
		where = append(where, fmt.Sprintf("scheduled_for <= $%d", len(args)))
	}
	if filter.ToHandle != "" {
		args = append(args, "%"+escapeLike(filter.ToHandle)+"%")
		where = append(where, fmt.Sprintf(`to_handle ILIKE $%d ESCAPE '\'`, len(args)))
	}
	args = append(args, normalizeLimit(filter.Limit))

	query := fmt.Sprintf(`SELECT %s FROM scheduled_messages`, messageColumns)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var msgs []*v1.ScheduledMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return msgs, nil
}

func (s *Store) CountByStatus(ctx context.Context) (map[v1.MessageStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM scheduled_messages GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting messages: %w", err)
	}
	defer rows.Close()

	counts := map[v1.MessageStatus]int{}
	for _, status := range v1.AllStatuses {
		counts[status] = 0
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scanning count: %w", err)
		}
		counts[v1.MessageStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating counts: %w", err)
	}
	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*v1.ScheduledMessage, error) {
	var msg v1.ScheduledMessage
	var status string
	var claimedBy *string
	if err := row.Scan(
		&msg.ID, &msg.ToHandle, &msg.Body, &msg.ScheduledFor, &status,
		&msg.CreatedAt, &msg.UpdatedAt, &msg.ClaimedAt, &claimedBy,
		&msg.AttemptCount, &msg.LastError,
	); err != nil {
		return nil, err
	}
	msg.Status = v1.MessageStatus(status)
	msg.Claim = v1.ParseClaimRef(claimedBy)
	return &msg, nil
}

func scanEvent(row rowScanner) (*v1.MessageStatusEvent, error) {
	var event v1.MessageStatusEvent
	var status string
	var detail []byte
	if err := row.Scan(&event.ID, &event.MessageID, &status, &event.Timestamp, &detail); err != nil {
		return nil, err
	}
	event.Status = v1.MessageStatus(status)
	if len(detail) > 0 {
		if err := json.Unmarshal(detail, &event.Detail); err != nil {
			return nil, fmt.Errorf("decoding event detail: %w", err)
		}
	}
	return &event, nil
}

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNoRows
	}
	return err
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return store.DefaultListLimit
	}
	if limit > store.MaxListLimit {
		return store.MaxListLimit
	}
	return limit
}

// escapeLike neutralizes LIKE metacharacters in user input.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
