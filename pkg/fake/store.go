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

package fake

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	v1 "github.com/courierkit/courier/pkg/apis/v1"
	"github.com/courierkit/courier/pkg/store"
)

// StoreBehavior must be reset between tests otherwise tests will
// pollute each other.
type StoreBehavior struct {
	NextError     AtomicError
	CommitError   AtomicError
	BeginTxCalls  atomic.Int64
	CommitCalls   atomic.Int64
	RollbackCalls atomic.Int64
}

// Store is an in-memory store with real lock semantics: LockThrottle and LockMessage
// block like FOR UPDATE, the pick operations skip rows held by concurrent
// transactions, and staged writes become visible only on Commit.
type Store struct {
	StoreBehavior

	mu       sync.Mutex
	messages map[uuid.UUID]*v1.ScheduledMessage
	events   []*v1.MessageStatusEvent
	throttle *v1.DeliveryThrottle
	eventSeq int64

	throttleSem chan struct{}
	rowSems     map[uuid.UUID]chan struct{}
}

func NewStore() *Store {
	s := &Store{}
	s.initLocked()
	return s
}

func (s *Store) initLocked() {
	s.messages = map[uuid.UUID]*v1.ScheduledMessage{}
	s.events = nil
	s.throttle = nil
	s.eventSeq = 0
	s.throttleSem = make(chan struct{}, 1)
	s.rowSems = map[uuid.UUID]chan struct{}{}
}

// Reset must be called between tests otherwise tests will pollute each other.
func (s *Store) Reset() {
	s.mu.Lock()
	s.initLocked()
	s.mu.Unlock()
	s.NextError.Reset()
	s.CommitError.Reset()
	s.BeginTxCalls.Store(0)
	s.CommitCalls.Store(0)
	s.RollbackCalls.Store(0)
}

// Seed installs committed messages directly.
func (s *Store) Seed(msgs ...*v1.ScheduledMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range msgs {
		s.messages[msg.ID] = msg.DeepCopy()
	}
}

// SeedThrottle installs the committed pacing row directly.
func (s *Store) SeedThrottle(throttle *v1.DeliveryThrottle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.throttle = throttle.DeepCopy()
}

// Message returns a committed snapshot, nil if absent.
func (s *Store) Message(id uuid.UUID) *v1.ScheduledMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[id].DeepCopy()
}

// Events returns committed snapshots of one message's audit log in append order.
func (s *Store) Events(id uuid.UUID) []*v1.MessageStatusEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*v1.MessageStatusEvent
	for _, event := range s.events {
		if event.MessageID == id {
			out = append(out, copyEvent(event))
		}
	}
	sortEvents(out)
	return out
}

// Throttle returns a committed snapshot of the pacing row, nil if never created.
func (s *Store) Throttle() *v1.DeliveryThrottle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.throttle.DeepCopy()
}

func (s *Store) rowSem(id uuid.UUID) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	sem, ok := s.rowSems[id]
	if !ok {
		sem = make(chan struct{}, 1)
		s.rowSems[id] = sem
	}
	return sem
}

func (s *Store) GetMessage(_ context.Context, id uuid.UUID) (*v1.ScheduledMessage, error) {
	if err := s.NextError.Get(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, store.ErrNoRows
	}
	return msg.DeepCopy(), nil
}

func (s *Store) ListEvents(_ context.Context, messageID uuid.UUID) ([]*v1.MessageStatusEvent, error) {
	if err := s.NextError.Get(); err != nil {
		return nil, err
	}
	return s.Events(messageID), nil
}

func (s *Store) ListMessages(_ context.Context, filter store.Filter) ([]*v1.ScheduledMessage, error) {
	if err := s.NextError.Get(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*v1.ScheduledMessage
	for _, msg := range s.messages {
		if filter.Status != nil && msg.Status != *filter.Status {
			continue
		}
		if filter.ScheduledFrom != nil && msg.ScheduledFor.Before(*filter.ScheduledFrom) {
			continue
		}
		if filter.ScheduledTo != nil && msg.ScheduledFor.After(*filter.ScheduledTo) {
			continue
		}
		if filter.ToHandle != "" && !containsFold(msg.ToHandle, filter.ToHandle) {
			continue
		}
		out = append(out, msg.DeepCopy())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return lessUUID(out[j].ID, out[i].ID)
	})
	limit := filter.Limit
	if limit <= 0 {
		limit = store.DefaultListLimit
	}
	if limit > store.MaxListLimit {
		limit = store.MaxListLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CountByStatus(_ context.Context) (map[v1.MessageStatus]int, error) {
	if err := s.NextError.Get(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[v1.MessageStatus]int{}
	for _, status := range v1.AllStatuses {
		counts[status] = 0
	}
	for _, msg := range s.messages {
		counts[msg.Status]++
	}
	return counts, nil
}

func (s *Store) BeginTx(_ context.Context) (store.Tx, error) {
	s.BeginTxCalls.Add(1)
	if err := s.NextError.Get(); err != nil {
		return nil, err
	}
	return &storeTx{store: s}, nil
}

type storeTx struct {
	store *Store

	mu             sync.Mutex
	done           bool
	holdsThrottle  bool
	heldRows       []uuid.UUID
	stagedMessages []*v1.ScheduledMessage
	stagedEvents   []*v1.MessageStatusEvent
	stagedThrottle *v1.DeliveryThrottle
}

func (t *storeTx) LockThrottle(ctx context.Context, now time.Time) (*v1.DeliveryThrottle, error) {
	if err := t.store.NextError.Get(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.holdsThrottle {
		select {
		case t.store.throttleSem <- struct{}{}:
			t.holdsThrottle = true
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if t.stagedThrottle != nil {
		return t.stagedThrottle.DeepCopy(), nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.store.throttle == nil {
		// First use materializes the defaults row; it commits with the transaction.
		t.stagedThrottle = v1.NewDeliveryThrottle(now)
		return t.stagedThrottle.DeepCopy(), nil
	}
	return t.store.throttle.DeepCopy(), nil
}

func (t *storeTx) SaveThrottle(_ context.Context, throttle *v1.DeliveryThrottle) error {
	if err := t.store.NextError.Get(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stagedThrottle = throttle.DeepCopy()
	return nil
}

func (t *storeTx) PickDueQueued(ctx context.Context, now time.Time, maxAttempts int) (*v1.ScheduledMessage, error) {
	return t.pick(ctx, func(msg *v1.ScheduledMessage) bool {
		return msg.Status == v1.StatusQueued &&
			!msg.ScheduledFor.After(now) &&
			msg.ClaimedAt == nil &&
			msg.AttemptCount < maxAttempts
	})
}

func (t *storeTx) PickPendingForGateway(ctx context.Context, now time.Time) (*v1.ScheduledMessage, error) {
	return t.pick(ctx, func(msg *v1.ScheduledMessage) bool {
		return msg.Status == v1.StatusAccepted &&
			msg.Claim.IsPending() &&
			msg.ClaimedAt == nil &&
			!msg.ScheduledFor.After(now)
	})
}

func (t *storeTx) pick(_ context.Context, qualifies func(*v1.ScheduledMessage) bool) (*v1.ScheduledMessage, error) {
	if err := t.store.NextError.Get(); err != nil {
		return nil, err
	}
	t.store.mu.Lock()
	var candidates []*v1.ScheduledMessage
	for _, msg := range t.store.messages {
		if qualifies(msg) {
			candidates = append(candidates, msg)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].ScheduledFor.Equal(candidates[j].ScheduledFor) {
			return candidates[i].ScheduledFor.Before(candidates[j].ScheduledFor)
		}
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return lessUUID(candidates[i].ID, candidates[j].ID)
	})
	ids := make([]uuid.UUID, 0, len(candidates))
	for _, msg := range candidates {
		ids = append(ids, msg.ID)
	}
	t.store.mu.Unlock()

	for _, id := range ids {
		sem := t.store.rowSem(id)
		select {
		case sem <- struct{}{}:
		default:
			// Held by a concurrent transaction; skip, never block.
			continue
		}
		t.mu.Lock()
		t.heldRows = append(t.heldRows, id)
		t.mu.Unlock()

		t.store.mu.Lock()
		msg, ok := t.store.messages[id]
		stillQualifies := ok && qualifies(msg)
		var snapshot *v1.ScheduledMessage
		if stillQualifies {
			snapshot = msg.DeepCopy()
		}
		t.store.mu.Unlock()
		if stillQualifies {
			return snapshot, nil
		}
	}
	return nil, store.ErrNoRows
}

func (t *storeTx) LockMessage(ctx context.Context, id uuid.UUID) (*v1.ScheduledMessage, error) {
	if err := t.store.NextError.Get(); err != nil {
		return nil, err
	}
	t.store.mu.Lock()
	_, exists := t.store.messages[id]
	t.store.mu.Unlock()
	if !exists {
		return nil, store.ErrNoRows
	}
	if !t.holds(id) {
		sem := t.store.rowSem(id)
		select {
		case sem <- struct{}{}:
			t.mu.Lock()
			t.heldRows = append(t.heldRows, id)
			t.mu.Unlock()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	msg, ok := t.store.messages[id]
	if !ok {
		return nil, store.ErrNoRows
	}
	return msg.DeepCopy(), nil
}

func (t *storeTx) holds(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, held := range t.heldRows {
		if held == id {
			return true
		}
	}
	return false
}

func (t *storeTx) InsertMessage(_ context.Context, msg *v1.ScheduledMessage) error {
	if err := t.store.NextError.Get(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stagedMessages = append(t.stagedMessages, msg.DeepCopy())
	return nil
}

func (t *storeTx) UpdateMessage(_ context.Context, msg *v1.ScheduledMessage) error {
	if err := t.store.NextError.Get(); err != nil {
		return err
	}
	t.store.mu.Lock()
	_, exists := t.store.messages[msg.ID]
	t.store.mu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()
	if !exists {
		for _, staged := range t.stagedMessages {
			if staged.ID == msg.ID {
				exists = true
				break
			}
		}
	}
	if !exists {
		return store.ErrNoRows
	}
	t.stagedMessages = append(t.stagedMessages, msg.DeepCopy())
	return nil
}

func (t *storeTx) AppendEvent(_ context.Context, event *v1.MessageStatusEvent) error {
	if err := t.store.NextError.Get(); err != nil {
		return err
	}
	t.store.mu.Lock()
	t.store.eventSeq++
	event.ID = t.store.eventSeq
	t.store.mu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stagedEvents = append(t.stagedEvents, copyEvent(event))
	return nil
}

func (t *storeTx) Commit(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	defer t.release()
	if err := t.store.CommitError.Get(); err != nil {
		return err
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, msg := range t.stagedMessages {
		t.store.messages[msg.ID] = msg.DeepCopy()
	}
	for _, event := range t.stagedEvents {
		t.store.events = append(t.store.events, copyEvent(event))
	}
	if t.stagedThrottle != nil {
		t.store.throttle = t.stagedThrottle.DeepCopy()
	}
	t.store.CommitCalls.Add(1)
	return nil
}

func (t *storeTx) Rollback(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	t.stagedMessages, t.stagedEvents, t.stagedThrottle = nil, nil, nil
	t.release()
	t.store.RollbackCalls.Add(1)
	return nil
}

// release drops every lock this transaction holds. Callers hold t.mu.
func (t *storeTx) release() {
	if t.holdsThrottle {
		<-t.store.throttleSem
		t.holdsThrottle = false
	}
	for _, id := range t.heldRows {
		<-t.store.rowSem(id)
	}
	t.heldRows = nil
}

func copyEvent(event *v1.MessageStatusEvent) *v1.MessageStatusEvent {
	out := *event
	out.Detail = v1.EventDetail{}
	for k, v := range event.Detail {
		out.Detail[k] = v
	}
	return &out
}

func sortEvents(events []*v1.MessageStatusEvent) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].ID < events[j].ID
	})
}

func lessUUID(a, b uuid.UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

func containsFold(haystack, needle string) bool {
	h := []byte(haystack)
	n := []byte(needle)
	if len(n) == 0 {
		return true
	}
	for i := 0; i+len(n) <= len(h); i++ {
		if equalFold(h[i:i+len(n)], n) {
			return true
		}
	}
	return false
}

func equalFold(a, b []byte) bool {
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
