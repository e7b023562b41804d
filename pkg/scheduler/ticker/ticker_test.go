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

package ticker_test

import (
	"context"
	"time"

	"go.uber.org/zap"
	clocktesting "k8s.io/utils/clock/testing"

	v1 "github.com/courierkit/courier/pkg/apis/v1"
	"github.com/courierkit/courier/pkg/fake"
	"github.com/courierkit/courier/pkg/scheduler"
	"github.com/courierkit/courier/pkg/scheduler/ticker"
	"github.com/courierkit/courier/pkg/test"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Ticker", func() {
	var ctx context.Context
	var cancel context.CancelFunc
	var fakeClock *clocktesting.FakeClock
	var fakeStore *fake.Store
	var loop *ticker.Ticker
	var baseTime = time.Date(2025, time.March, 14, 9, 26, 53, 0, time.UTC)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		fakeClock = clocktesting.NewFakeClock(baseTime)
		fakeStore = fake.NewStore()
		sched := scheduler.New(fakeStore, fake.NewEventRecorder(), fakeClock, zap.NewNop().Sugar())
		loop = ticker.New(sched, fakeClock, time.Second, zap.NewNop().Sugar())
	})
	AfterEach(func() {
		cancel()
	})

	It("should promote due work on the cadence", func() {
		fakeStore.SeedThrottle(test.Throttle(v1.DeliveryThrottle{NextSendAt: baseTime.Add(-time.Second)}))
		msg := test.Message(v1.ScheduledMessage{ScheduledFor: baseTime.Add(-time.Minute)})
		fakeStore.Seed(msg)

		loop.Start(ctx)
		defer loop.Stop()
		Eventually(fakeClock.HasWaiters).Should(BeTrue())
		fakeClock.Step(time.Second)
		Eventually(func() v1.MessageStatus {
			return fakeStore.Message(msg.ID).Status
		}).Should(Equal(v1.StatusAccepted))
	})
	It("should keep ticking after a pass fails", func() {
		fakeStore.SeedThrottle(test.Throttle(v1.DeliveryThrottle{NextSendAt: baseTime.Add(-time.Second)}))
		msg := test.Message(v1.ScheduledMessage{ScheduledFor: baseTime.Add(-time.Minute)})
		fakeStore.Seed(msg)
		fakeStore.NextError.Set(context.DeadlineExceeded)

		loop.Start(ctx)
		defer loop.Stop()
		Eventually(fakeClock.HasWaiters).Should(BeTrue())
		fakeClock.Step(time.Second)
		Eventually(fakeClock.HasWaiters).Should(BeTrue())
		fakeClock.Step(time.Second)
		Eventually(func() v1.MessageStatus {
			return fakeStore.Message(msg.ID).Status
		}).Should(Equal(v1.StatusAccepted))
	})
	It("should stop cleanly and not tick afterwards", func() {
		fakeStore.SeedThrottle(test.Throttle(v1.DeliveryThrottle{NextSendAt: baseTime.Add(-time.Second)}))
		msg := test.Message(v1.ScheduledMessage{ScheduledFor: baseTime.Add(-time.Minute)})
		fakeStore.Seed(msg)

		loop.Start(ctx)
		loop.Stop()
		fakeClock.Step(time.Second)
		Consistently(func() v1.MessageStatus {
			return fakeStore.Message(msg.ID).Status
		}).Should(Equal(v1.StatusQueued))
	})
})
