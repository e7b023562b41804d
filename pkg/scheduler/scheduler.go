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

// Package scheduler implements the core operations of the message scheduler: create,
// list, tick, claim, report, cancel, and throttle tuning. Every mutation runs inside
// one store transaction; correctness against concurrent processes rests on the row
// locks the store takes on its behalf.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	v1 "github.com/courierkit/courier/pkg/apis/v1"
	"github.com/courierkit/courier/pkg/events"
	"github.com/courierkit/courier/pkg/store"
)

type Scheduler struct {
	store    store.Store
	recorder events.Recorder
	clock    clock.Clock
	log      *zap.SugaredLogger
}

func New(s store.Store, recorder events.Recorder, clk clock.Clock, log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		store:    s,
		recorder: recorder,
		clock:    clk,
		log:      log.Named("scheduler"),
	}
}

// CreateInput carries the caller-supplied fields of a new message.
type CreateInput struct {
	ToHandle     string
	Body         string
	ScheduledFor time.Time
}

func (in CreateInput) validate() error {
	var err error
	if strings.TrimSpace(in.ToHandle) == "" {
		err = multierr.Append(err, fmt.Errorf("to_handle is required"))
	}
	if len(in.ToHandle) > v1.MaxToHandleLength {
		err = multierr.Append(err, fmt.Errorf("to_handle exceeds %d characters", v1.MaxToHandleLength))
	}
	if in.Body == "" {
		err = multierr.Append(err, fmt.Errorf("body is required"))
	}
	if in.ScheduledFor.IsZero() {
		err = multierr.Append(err, fmt.Errorf("scheduled_for is required"))
	}
	return err
}

// Create persists a new QUEUED message along with its creation audit event.
func (s *Scheduler) Create(ctx context.Context, in CreateInput) (*v1.ScheduledMessage, error) {
	defer s.measure("create")()
	if err := in.validate(); err != nil {
		return nil, v1.NewInvalidArgumentError(err)
	}
	now := s.now()
	msg := &v1.ScheduledMessage{
		ID:           uuid.New(),
		ToHandle:     in.ToHandle,
		Body:         in.Body,
		ScheduledFor: in.ScheduledFor.UTC(),
		Status:       v1.StatusQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	event := v1.NewEvent(msg.ID, v1.StatusQueued, now, v1.EventDetail{"source": "api"})

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, v1.NewStoreError(err)
	}
	defer tx.Rollback(ctx)
	if err := tx.InsertMessage(ctx, msg); err != nil {
		return nil, v1.NewStoreError(err)
	}
	if err := tx.AppendEvent(ctx, event); err != nil {
		return nil, v1.NewStoreError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, v1.NewStoreError(err)
	}
	messagesCreatedCounter.Inc()
	s.log.Infow("created message", "id", msg.ID, "to_handle", msg.ToHandle, "scheduled_for", msg.ScheduledFor)
	s.publish(ctx, event)
	return msg, nil
}

// Get returns one message and its ordered audit history.
func (s *Scheduler) Get(ctx context.Context, id uuid.UUID) (*v1.ScheduledMessage, []*v1.MessageStatusEvent, error) {
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		if store.IsNoRows(err) {
			return nil, nil, v1.NewNotFoundError(fmt.Errorf("message %s not found", id))
		}
		return nil, nil, v1.NewStoreError(err)
	}
	msgEvents, err := s.store.ListEvents(ctx, id)
	if err != nil {
		return nil, nil, v1.NewStoreError(err)
	}
	return msg, msgEvents, nil
}

// List returns messages matching the filter, newest first.
func (s *Scheduler) List(ctx context.Context, filter store.Filter) ([]*v1.ScheduledMessage, error) {
	msgs, err := s.store.ListMessages(ctx, filter)
	if err != nil {
		return nil, v1.NewStoreError(err)
	}
	return msgs, nil
}

// Stats returns message counts per status, zeroes included.
func (s *Scheduler) Stats(ctx context.Context) (map[v1.MessageStatus]int, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, v1.NewStoreError(err)
	}
	return counts, nil
}

func (s *Scheduler) now() time.Time {
	return s.clock.Now().UTC()
}

// publish fans committed events out; it must only run after a successful commit.
func (s *Scheduler) publish(ctx context.Context, committed ...*v1.MessageStatusEvent) {
	for _, event := range committed {
		s.recorder.Record(ctx, event)
	}
}

func (s *Scheduler) measure(operation string) func() {
	start := s.clock.Now()
	return func() {
		operationDurationHistogram.WithLabelValues(operation).Observe(s.clock.Since(start).Seconds())
	}
}
