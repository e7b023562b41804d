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

	"github.com/google/uuid"

	v1 "github.com/courierkit/courier/pkg/apis/v1"
	"github.com/courierkit/courier/pkg/store"
)

// Cancel withdraws a message that has not yet left the system. A concurrent in-flight
// delivery may still complete externally; its report will observe CANCELED and skip
// the transition. Canceling an already-CANCELED message is an idempotent no-op.
func (s *Scheduler) Cancel(ctx context.Context, id uuid.UUID) (*v1.ScheduledMessage, error) {
	defer s.measure("cancel")()
	now := s.now()
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, v1.NewStoreError(err)
	}
	defer tx.Rollback(ctx)

	msg, err := tx.LockMessage(ctx, id)
	if err != nil {
		if store.IsNoRows(err) {
			return nil, v1.NewNotFoundError(fmt.Errorf("message %s not found", id))
		}
		return nil, v1.NewStoreError(err)
	}
	if msg.Status.IsSentClass() {
		return nil, v1.NewInvalidStateError(fmt.Errorf("cannot cancel message %s: already %s", id, msg.Status))
	}
	if msg.Status == v1.StatusCanceled {
		if err := tx.Commit(ctx); err != nil {
			return nil, v1.NewStoreError(err)
		}
		return msg, nil
	}

	msg.Status = v1.StatusCanceled
	msg.UpdatedAt = now
	if err := tx.UpdateMessage(ctx, msg); err != nil {
		return nil, v1.NewStoreError(err)
	}
	event := v1.NewEvent(msg.ID, v1.StatusCanceled, now, v1.EventDetail{"source": "api"})
	if err := tx.AppendEvent(ctx, event); err != nil {
		return nil, v1.NewStoreError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, v1.NewStoreError(err)
	}
	s.log.Infow("canceled message", "id", msg.ID)
	s.publish(ctx, event)
	return msg, nil
}
