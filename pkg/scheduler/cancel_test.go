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
	"github.com/google/uuid"

	v1 "github.com/courierkit/courier/pkg/apis/v1"
	"github.com/courierkit/courier/pkg/test"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Cancel", func() {
	It("should return NOT_FOUND for unknown messages", func() {
		_, err := sched.Cancel(ctx, uuid.New())
		Expect(err).To(HaveOccurred())
		Expect(v1.IsNotFound(err)).To(BeTrue())
	})
	It("should cancel a queued message and record it", func() {
		queued := test.Message()
		fakeStore.Seed(queued)

		msg, err := sched.Cancel(ctx, queued.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(msg.Status).To(Equal(v1.StatusCanceled))

		events := fakeStore.Events(queued.ID)
		Expect(events).To(HaveLen(1))
		Expect(events[0].Status).To(Equal(v1.StatusCanceled))
		Expect(events[0].Detail).To(HaveKeyWithValue("source", "api"))
	})
	It("should cancel an accepted in-flight message", func() {
		accepted := test.Message(v1.ScheduledMessage{Status: v1.StatusAccepted, Claim: v1.OwnedBy("g1")})
		fakeStore.Seed(accepted)

		msg, err := sched.Cancel(ctx, accepted.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(msg.Status).To(Equal(v1.StatusCanceled))
	})
	It("should refuse to cancel sent-class messages", func() {
		for _, status := range []v1.MessageStatus{v1.StatusSent, v1.StatusDelivered, v1.StatusReceived} {
			sent := test.Message(v1.ScheduledMessage{Status: status})
			fakeStore.Seed(sent)
			_, err := sched.Cancel(ctx, sent.ID)
			Expect(err).To(HaveOccurred())
			Expect(v1.IsInvalidState(err)).To(BeTrue())
			Expect(fakeStore.Message(sent.ID).Status).To(Equal(status))
		}
	})
	It("should treat canceling a canceled message as a no-op", func() {
		queued := test.Message()
		fakeStore.Seed(queued)

		_, err := sched.Cancel(ctx, queued.ID)
		Expect(err).ToNot(HaveOccurred())
		again, err := sched.Cancel(ctx, queued.ID)
		Expect(err).ToNot(HaveOccurred())
		Expect(again.Status).To(Equal(v1.StatusCanceled))
		// No duplicate CANCELED event.
		Expect(fakeStore.Events(queued.ID)).To(HaveLen(1))
	})
})
