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

package scheduler_test

import (
	"time"

	v1 "github.com/courierkit/courier/pkg/apis/v1"
	"github.com/courierkit/courier/pkg/scheduler"
	"github.com/courierkit/courier/pkg/test"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Tick", func() {
	It("should skip when the throttle gate has not opened", func() {
		fakeStore.SeedThrottle(test.Throttle(v1.DeliveryThrottle{NextSendAt: baseTime.Add(time.Hour)}))
		fakeStore.Seed(test.Message(v1.ScheduledMessage{ScheduledFor: baseTime.Add(-time.Minute)}))

		result, err := sched.Tick(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Skipped).To(BeTrue())
		Expect(result.Reason).To(Equal(scheduler.SkipReasonThrottled))
		Expect(result.NextSendAt).To(Equal(baseTime.Add(time.Hour)))
	})
	It("should leave a throttled message queued", func() {
		fakeStore.SeedThrottle(test.Throttle(v1.DeliveryThrottle{NextSendAt: baseTime.Add(time.Hour)}))
		msg := test.Message(v1.ScheduledMessage{ScheduledFor: baseTime.Add(-time.Minute)})
		fakeStore.Seed(msg)

		_, err := sched.Tick(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(fakeStore.Message(msg.ID).Status).To(Equal(v1.StatusQueued))
	})
	It("should skip when nothing is due", func() {
		fakeStore.SeedThrottle(test.Throttle(v1.DeliveryThrottle{NextSendAt: baseTime.Add(-time.Second)}))
		fakeStore.Seed(test.Message(v1.ScheduledMessage{ScheduledFor: baseTime.Add(time.Hour)}))

		result, err := sched.Tick(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Skipped).To(BeTrue())
		Expect(result.Reason).To(Equal(scheduler.SkipReasonNoDueMessages))
	})
	It("should promote the next due message to pending pickup", func() {
		fakeStore.SeedThrottle(test.Throttle(v1.DeliveryThrottle{NextSendAt: baseTime.Add(-time.Second)}))
		msg := test.Message(v1.ScheduledMessage{ScheduledFor: baseTime.Add(-time.Minute)})
		fakeStore.Seed(msg)

		result, err := sched.Tick(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Ready).To(BeTrue())
		Expect(result.MessageID).To(Equal(msg.ID))

		promoted := fakeStore.Message(msg.ID)
		Expect(promoted.Status).To(Equal(v1.StatusAccepted))
		Expect(promoted.Claim.IsPending()).To(BeTrue())
		// Ownership is not decided by the tick; claimed_at stays empty until pickup.
		Expect(promoted.ClaimedAt).To(BeNil())
	})
	It("should advance the throttle gate atomically with the promotion", func() {
		fakeStore.SeedThrottle(test.Throttle(v1.DeliveryThrottle{NextSendAt: baseTime.Add(-time.Second), IntervalSeconds: 3600}))
		fakeStore.Seed(test.Message(v1.ScheduledMessage{ScheduledFor: baseTime.Add(-time.Minute)}))

		_, err := sched.Tick(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(fakeStore.Throttle().NextSendAt).To(Equal(baseTime.Add(time.Hour)))

		// The next pass inside the same interval skips.
		result, err := sched.Tick(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Reason).To(Equal(scheduler.SkipReasonThrottled))
	})
	It("should record the promotion event with the pending attribution", func() {
		fakeStore.SeedThrottle(test.Throttle(v1.DeliveryThrottle{NextSendAt: baseTime.Add(-time.Second)}))
		msg := test.Message(v1.ScheduledMessage{ScheduledFor: baseTime.Add(-time.Minute)})
		fakeStore.Seed(msg)

		_, err := sched.Tick(ctx)
		Expect(err).ToNot(HaveOccurred())
		events := fakeStore.Events(msg.ID)
		Expect(events).To(HaveLen(1))
		Expect(events[0].Status).To(Equal(v1.StatusAccepted))
		Expect(events[0].Detail).To(HaveKeyWithValue("claimed_by", "gateway_pending"))
		Expect(recorder.RecordedFor(msg.ID)).To(HaveLen(1))
	})
	It("should promote in FIFO order within the due window", func() {
		fakeStore.SeedThrottle(test.Throttle(v1.DeliveryThrottle{NextSendAt: baseTime.Add(-time.Second)}))
		second := test.Message(v1.ScheduledMessage{ScheduledFor: baseTime.Add(-time.Minute), CreatedAt: baseTime.Add(-time.Minute)})
		first := test.Message(v1.ScheduledMessage{ScheduledFor: baseTime.Add(-2 * time.Minute), CreatedAt: baseTime.Add(-time.Second)})
		fakeStore.Seed(second, first)

		result, err := sched.Tick(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(result.MessageID).To(Equal(first.ID))
	})
	It("should break scheduled_for ties by creation order", func() {
		fakeStore.SeedThrottle(test.Throttle(v1.DeliveryThrottle{NextSendAt: baseTime.Add(-time.Second)}))
		due := baseTime.Add(-time.Minute)
		younger := test.Message(v1.ScheduledMessage{ScheduledFor: due, CreatedAt: baseTime.Add(-time.Second)})
		older := test.Message(v1.ScheduledMessage{ScheduledFor: due, CreatedAt: baseTime.Add(-time.Minute)})
		fakeStore.Seed(younger, older)

		result, err := sched.Tick(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(result.MessageID).To(Equal(older.ID))
	})
	It("should never select a message that exhausted its attempt budget", func() {
		fakeStore.SeedThrottle(test.Throttle(v1.DeliveryThrottle{NextSendAt: baseTime.Add(-time.Second), MaxAttempts: 3}))
		exhausted := test.Message(v1.ScheduledMessage{ScheduledFor: baseTime.Add(-time.Minute), AttemptCount: 3})
		fakeStore.Seed(exhausted)

		result, err := sched.Tick(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Reason).To(Equal(scheduler.SkipReasonNoDueMessages))
		Expect(fakeStore.Message(exhausted.ID).Status).To(Equal(v1.StatusQueued))
	})
	It("should skip rows held by a concurrent transaction", func() {
		fakeStore.SeedThrottle(test.Throttle(v1.DeliveryThrottle{NextSendAt: baseTime.Add(-time.Second)}))
		held := test.Message(v1.ScheduledMessage{ScheduledFor: baseTime.Add(-2 * time.Minute)})
		free := test.Message(v1.ScheduledMessage{ScheduledFor: baseTime.Add(-time.Minute)})
		fakeStore.Seed(held, free)

		blocker, err := fakeStore.BeginTx(ctx)
		Expect(err).ToNot(HaveOccurred())
		_, err = blocker.LockMessage(ctx, held.ID)
		Expect(err).ToNot(HaveOccurred())
		defer blocker.Rollback(ctx)

		result, err := sched.Tick(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Ready).To(BeTrue())
		Expect(result.MessageID).To(Equal(free.ID))
	})
	It("should create the throttle row with defaults on first use", func() {
		fakeStore.Seed(test.Message(v1.ScheduledMessage{ScheduledFor: baseTime.Add(-time.Minute)}))

		result, err := sched.Tick(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Ready).To(BeTrue())

		throttle := fakeStore.Throttle()
		Expect(throttle.IntervalSeconds).To(Equal(v1.DefaultIntervalSeconds))
		Expect(throttle.MaxAttempts).To(Equal(v1.DefaultMaxAttempts))
		Expect(throttle.NextSendAt).To(Equal(baseTime.Add(time.Hour)))
	})
})
