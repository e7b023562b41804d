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

package postgres_test

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	v1 "github.com/courierkit/courier/pkg/apis/v1"
	"github.com/courierkit/courier/pkg/store"
	"github.com/courierkit/courier/pkg/test"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func insert(msg *v1.ScheduledMessage) {
	GinkgoHelper()
	tx, err := pgStore.BeginTx(ctx)
	Expect(err).ToNot(HaveOccurred())
	Expect(tx.InsertMessage(ctx, msg)).To(Succeed())
	Expect(tx.Commit(ctx)).To(Succeed())
}

var _ = Describe("Messages", func() {
	It("should roundtrip every field", func() {
		claimedAt := baseTime.Add(-time.Minute)
		msg := test.Message(v1.ScheduledMessage{
			Status:       v1.StatusAccepted,
			ScheduledFor: baseTime,
			CreatedAt:    baseTime.Add(-time.Hour),
			UpdatedAt:    baseTime.Add(-time.Minute),
			Claim:        v1.OwnedBy("mac-1"),
			ClaimedAt:    &claimedAt,
			AttemptCount: 2,
			LastError:    lo.ToPtr("no signal"),
		})
		insert(msg)

		stored, err := pgStore.GetMessage(ctx, msg.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(stored.ToHandle).To(Equal(msg.ToHandle))
		Expect(stored.Body).To(Equal(msg.Body))
		Expect(stored.Status).To(Equal(v1.StatusAccepted))
		Expect(stored.Claim).To(Equal(v1.OwnedBy("mac-1")))
		Expect(stored.AttemptCount).To(Equal(2))
		Expect(stored.LastError).To(HaveValue(Equal("no signal")))
		// The driver may hand timestamps back in a different location.
		Expect(stored.ScheduledFor).To(BeTemporally("==", msg.ScheduledFor))
		Expect(stored.CreatedAt).To(BeTemporally("==", msg.CreatedAt))
		Expect(stored.UpdatedAt).To(BeTemporally("==", msg.UpdatedAt))
		Expect(stored.ClaimedAt).To(HaveValue(BeTemporally("==", claimedAt)))
	})
	It("should return ErrNoRows for unknown ids", func() {
		_, err := pgStore.GetMessage(ctx, uuid.New())
		Expect(store.IsNoRows(err)).To(BeTrue())
	})
	It("should update in place and refuse missing rows", func() {
		msg := test.Message(v1.ScheduledMessage{ScheduledFor: baseTime, CreatedAt: baseTime, UpdatedAt: baseTime})
		insert(msg)

		msg.Status = v1.StatusCanceled
		msg.UpdatedAt = baseTime.Add(time.Second)
		tx, err := pgStore.BeginTx(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(tx.UpdateMessage(ctx, msg)).To(Succeed())
		Expect(tx.Commit(ctx)).To(Succeed())

		stored, err := pgStore.GetMessage(ctx, msg.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(stored.Status).To(Equal(v1.StatusCanceled))

		tx, err = pgStore.BeginTx(ctx)
		Expect(err).ToNot(HaveOccurred())
		defer func() { Expect(tx.Rollback(ctx)).To(Succeed()) }()
		missing := test.Message()
		Expect(store.IsNoRows(tx.UpdateMessage(ctx, missing))).To(BeTrue())
	})
})

var _ = Describe("ListMessages", func() {
	It("should filter and order newest first", func() {
		older := test.Message(v1.ScheduledMessage{ToHandle: "+15550001111", ScheduledFor: baseTime, CreatedAt: baseTime.Add(-time.Hour), UpdatedAt: baseTime})
		newer := test.Message(v1.ScheduledMessage{ToHandle: "+15550002222", ScheduledFor: baseTime, CreatedAt: baseTime, UpdatedAt: baseTime})
		other := test.Message(v1.ScheduledMessage{ToHandle: "+16660003333", ScheduledFor: baseTime, CreatedAt: baseTime, UpdatedAt: baseTime})
		insert(older)
		insert(newer)
		insert(other)

		msgs, err := pgStore.ListMessages(ctx, store.Filter{ToHandle: "555"})
		Expect(err).ToNot(HaveOccurred())
		Expect(lo.Map(msgs, func(m *v1.ScheduledMessage, _ int) uuid.UUID { return m.ID })).
			To(Equal([]uuid.UUID{newer.ID, older.ID}))
	})
	It("should treat LIKE metacharacters in the handle filter literally", func() {
		msg := test.Message(v1.ScheduledMessage{ToHandle: "percent%handle", ScheduledFor: baseTime, CreatedAt: baseTime, UpdatedAt: baseTime})
		insert(msg)
		insert(test.Message(v1.ScheduledMessage{ToHandle: "percentXhandle", ScheduledFor: baseTime, CreatedAt: baseTime, UpdatedAt: baseTime}))

		msgs, err := pgStore.ListMessages(ctx, store.Filter{ToHandle: "percent%"})
		Expect(err).ToNot(HaveOccurred())
		Expect(msgs).To(HaveLen(1))
		Expect(msgs[0].ID).To(Equal(msg.ID))
	})
	It("should bound the scheduled window", func() {
		inside := test.Message(v1.ScheduledMessage{ScheduledFor: baseTime, CreatedAt: baseTime, UpdatedAt: baseTime})
		insert(inside)
		insert(test.Message(v1.ScheduledMessage{ScheduledFor: baseTime.Add(2 * time.Hour), CreatedAt: baseTime, UpdatedAt: baseTime}))

		msgs, err := pgStore.ListMessages(ctx, store.Filter{
			ScheduledFrom: lo.ToPtr(baseTime.Add(-time.Hour)),
			ScheduledTo:   lo.ToPtr(baseTime.Add(time.Hour)),
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(msgs).To(HaveLen(1))
		Expect(msgs[0].ID).To(Equal(inside.ID))
	})
})

var _ = Describe("Events", func() {
	It("should append with assigned ids and list in order", func() {
		msg := test.Message(v1.ScheduledMessage{ScheduledFor: baseTime, CreatedAt: baseTime, UpdatedAt: baseTime})
		insert(msg)

		tx, err := pgStore.BeginTx(ctx)
		Expect(err).ToNot(HaveOccurred())
		first := v1.NewEvent(msg.ID, v1.StatusQueued, baseTime, v1.EventDetail{"source": "api"})
		second := v1.NewEvent(msg.ID, v1.StatusAccepted, baseTime.Add(time.Second), v1.EventDetail{"claimed_by": "gateway_pending"})
		Expect(tx.AppendEvent(ctx, first)).To(Succeed())
		Expect(tx.AppendEvent(ctx, second)).To(Succeed())
		Expect(tx.Commit(ctx)).To(Succeed())
		Expect(first.ID).ToNot(BeZero())

		events, err := pgStore.ListEvents(ctx, msg.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(lo.Map(events, func(e *v1.MessageStatusEvent, _ int) v1.MessageStatus { return e.Status })).
			To(Equal([]v1.MessageStatus{v1.StatusQueued, v1.StatusAccepted}))
		Expect(events[0].Detail).To(HaveKeyWithValue("source", "api"))
	})
})

var _ = Describe("CountByStatus", func() {
	It("should zero-fill every status", func() {
		insert(test.Message(v1.ScheduledMessage{ScheduledFor: baseTime, CreatedAt: baseTime, UpdatedAt: baseTime}))

		counts, err := pgStore.CountByStatus(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(counts).To(HaveLen(len(v1.AllStatuses)))
		Expect(counts[v1.StatusQueued]).To(Equal(1))
		Expect(counts[v1.StatusFailed]).To(BeZero())
	})
})

var _ = Describe("Throttle", func() {
	It("should materialize defaults on first lock and persist tuning", func() {
		tx, err := pgStore.BeginTx(ctx)
		Expect(err).ToNot(HaveOccurred())
		throttle, err := tx.LockThrottle(ctx, baseTime)
		Expect(err).ToNot(HaveOccurred())
		Expect(throttle.IntervalSeconds).To(Equal(v1.DefaultIntervalSeconds))
		Expect(throttle.NextSendAt).To(BeTemporally("==", baseTime))

		throttle.Advance(baseTime)
		Expect(tx.SaveThrottle(ctx, throttle)).To(Succeed())
		Expect(tx.Commit(ctx)).To(Succeed())

		tx, err = pgStore.BeginTx(ctx)
		Expect(err).ToNot(HaveOccurred())
		defer func() { Expect(tx.Rollback(ctx)).To(Succeed()) }()
		reloaded, err := tx.LockThrottle(ctx, baseTime.Add(time.Hour))
		Expect(err).ToNot(HaveOccurred())
		Expect(reloaded.NextSendAt).To(BeTemporally("==", baseTime.Add(time.Duration(v1.DefaultIntervalSeconds)*time.Second)))
	})
})

var _ = Describe("Picks", func() {
	It("should pick due queued messages FIFO and skip rows locked elsewhere", func() {
		first := test.Message(v1.ScheduledMessage{ScheduledFor: baseTime.Add(-2 * time.Minute), CreatedAt: baseTime, UpdatedAt: baseTime})
		second := test.Message(v1.ScheduledMessage{ScheduledFor: baseTime.Add(-time.Minute), CreatedAt: baseTime, UpdatedAt: baseTime})
		insert(first)
		insert(second)

		blocker, err := pgStore.BeginTx(ctx)
		Expect(err).ToNot(HaveOccurred())
		_, err = blocker.LockMessage(ctx, first.ID)
		Expect(err).ToNot(HaveOccurred())

		tx, err := pgStore.BeginTx(ctx)
		Expect(err).ToNot(HaveOccurred())
		picked, err := tx.PickDueQueued(ctx, baseTime, v1.DefaultMaxAttempts)
		Expect(err).ToNot(HaveOccurred())
		Expect(picked.ID).To(Equal(second.ID))
		Expect(tx.Rollback(ctx)).To(Succeed())
		Expect(blocker.Rollback(ctx)).To(Succeed())
	})
	It("should exclude future, exhausted, and claimed rows", func() {
		insert(test.Message(v1.ScheduledMessage{ScheduledFor: baseTime.Add(time.Hour), CreatedAt: baseTime, UpdatedAt: baseTime}))
		insert(test.Message(v1.ScheduledMessage{ScheduledFor: baseTime.Add(-time.Minute), CreatedAt: baseTime, UpdatedAt: baseTime, AttemptCount: v1.DefaultMaxAttempts}))

		tx, err := pgStore.BeginTx(ctx)
		Expect(err).ToNot(HaveOccurred())
		defer func() { Expect(tx.Rollback(ctx)).To(Succeed()) }()
		_, err = tx.PickDueQueued(ctx, baseTime, v1.DefaultMaxAttempts)
		Expect(store.IsNoRows(err)).To(BeTrue())
	})
	It("should pick only unattributed pending rows for gateways", func() {
		pending := test.Message(v1.ScheduledMessage{Status: v1.StatusAccepted, Claim: v1.Pending(), ScheduledFor: baseTime.Add(-time.Minute), CreatedAt: baseTime, UpdatedAt: baseTime})
		insert(pending)
		claimedAt := baseTime
		insert(test.Message(v1.ScheduledMessage{Status: v1.StatusAccepted, Claim: v1.OwnedBy("mac-2"), ClaimedAt: &claimedAt, ScheduledFor: baseTime.Add(-time.Hour), CreatedAt: baseTime, UpdatedAt: baseTime}))

		tx, err := pgStore.BeginTx(ctx)
		Expect(err).ToNot(HaveOccurred())
		defer func() { Expect(tx.Rollback(ctx)).To(Succeed()) }()
		picked, err := tx.PickPendingForGateway(ctx, baseTime)
		Expect(err).ToNot(HaveOccurred())
		Expect(picked.ID).To(Equal(pending.ID))
	})
})
