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

// Package store defines the persistence boundary of the scheduler. It is the only
// layer that knows about storage; ordering and concurrency invariants are expressed
// in terms of its operations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	v1 "github.com/courierkit/courier/pkg/apis/v1"
)

// ErrNoRows is returned by point reads and picks that match nothing.
var ErrNoRows = errors.New("no rows in result set")

// DefaultListLimit bounds listings when the caller does not choose a page size.
const DefaultListLimit = 100

// MaxListLimit is the hard ceiling on a single listing.
const MaxListLimit = 500

// Filter narrows ListMessages. Zero values mean "no constraint".
type Filter struct {
	Status        *v1.MessageStatus
	ScheduledFrom *time.Time
	ScheduledTo   *time.Time
	// ToHandle matches as a case-insensitive substring.
	ToHandle string
	Limit    int
}

// Store is the persistence boundary. Reads outside a transaction see committed data;
// every mutation happens inside a Tx.
type Store interface {
	// BeginTx opens a read-committed or stricter transactional scope.
	BeginTx(ctx context.Context) (Tx, error)
	// GetMessage returns one message by id, ErrNoRows if absent.
	GetMessage(ctx context.Context, id uuid.UUID) (*v1.ScheduledMessage, error)
	// ListEvents returns the audit log of one message ordered by (timestamp, id).
	ListEvents(ctx context.Context, messageID uuid.UUID) ([]*v1.MessageStatusEvent, error)
	// ListMessages returns messages matching the filter ordered by created_at descending.
	ListMessages(ctx context.Context, filter Filter) ([]*v1.ScheduledMessage, error)
	// CountByStatus returns row counts grouped by status; missing statuses count zero.
	CountByStatus(ctx context.Context) (map[v1.MessageStatus]int, error)
}

// Tx is one transactional scope. All mutators must be called between BeginTx and
// Commit; Rollback after Commit is a no-op. Locks are held until the scope ends.
type Tx interface {
	// LockThrottle returns the singleton pacing row under an exclusive row lock,
	// inserting the defaults row (gate open at now) on first use.
	LockThrottle(ctx context.Context, now time.Time) (*v1.DeliveryThrottle, error)
	// SaveThrottle persists the pacing row. Callers must hold the lock.
	SaveThrottle(ctx context.Context, throttle *v1.DeliveryThrottle) error
	// PickDueQueued returns the next due QUEUED message under an exclusive lock,
	// skipping rows locked by concurrent transactions. Ordering is
	// (scheduled_for, created_at, id) ascending. ErrNoRows when none qualify.
	PickDueQueued(ctx context.Context, now time.Time, maxAttempts int) (*v1.ScheduledMessage, error)
	// PickPendingForGateway returns the next due ACCEPTED message still awaiting
	// gateway pickup, with the same ordering and skip-locked contract.
	PickPendingForGateway(ctx context.Context, now time.Time) (*v1.ScheduledMessage, error)
	// LockMessage returns one message under an exclusive row lock, blocking on
	// concurrent holders. ErrNoRows if absent.
	LockMessage(ctx context.Context, id uuid.UUID) (*v1.ScheduledMessage, error)
	// InsertMessage persists a new message row.
	InsertMessage(ctx context.Context, msg *v1.ScheduledMessage) error
	// UpdateMessage persists every mutable field of the message.
	UpdateMessage(ctx context.Context, msg *v1.ScheduledMessage) error
	// AppendEvent adds one row to the append-only audit log and fills its ID.
	AppendEvent(ctx context.Context, event *v1.MessageStatusEvent) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// IsNoRows reports whether the error chain ends at an empty result.
func IsNoRows(err error) bool {
	return errors.Is(err, ErrNoRows)
}
