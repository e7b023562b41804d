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

package v1_test

import (
	"errors"
	"fmt"

	v1 "github.com/courierkit/courier/pkg/apis/v1"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Status", func() {
	It("should parse every known status", func() {
		for _, status := range v1.AllStatuses {
			parsed, err := v1.ParseStatus(string(status))
			Expect(err).ToNot(HaveOccurred())
			Expect(parsed).To(Equal(status))
		}
	})
	It("should reject unknown statuses", func() {
		_, err := v1.ParseStatus("SHIPPED")
		Expect(err).To(HaveOccurred())
		_, err = v1.ParseStatus("queued")
		Expect(err).To(HaveOccurred())
	})
	It("should allow the delivery happy path", func() {
		Expect(v1.CanTransition(v1.StatusQueued, v1.StatusAccepted)).To(BeTrue())
		Expect(v1.CanTransition(v1.StatusAccepted, v1.StatusSent)).To(BeTrue())
		Expect(v1.CanTransition(v1.StatusSent, v1.StatusDelivered)).To(BeTrue())
		Expect(v1.CanTransition(v1.StatusDelivered, v1.StatusReceived)).To(BeTrue())
	})
	It("should allow the retry loop", func() {
		Expect(v1.CanTransition(v1.StatusAccepted, v1.StatusFailed)).To(BeTrue())
		Expect(v1.CanTransition(v1.StatusAccepted, v1.StatusQueued)).To(BeTrue())
		Expect(v1.CanTransition(v1.StatusFailed, v1.StatusQueued)).To(BeTrue())
	})
	It("should allow cancellation only before the message leaves", func() {
		Expect(v1.CanTransition(v1.StatusQueued, v1.StatusCanceled)).To(BeTrue())
		Expect(v1.CanTransition(v1.StatusAccepted, v1.StatusCanceled)).To(BeTrue())
		Expect(v1.CanTransition(v1.StatusFailed, v1.StatusCanceled)).To(BeTrue())
		Expect(v1.CanTransition(v1.StatusSent, v1.StatusCanceled)).To(BeFalse())
		Expect(v1.CanTransition(v1.StatusDelivered, v1.StatusCanceled)).To(BeFalse())
		Expect(v1.CanTransition(v1.StatusReceived, v1.StatusCanceled)).To(BeFalse())
	})
	It("should forbid leaving terminal statuses", func() {
		for _, status := range v1.AllStatuses {
			Expect(v1.CanTransition(v1.StatusReceived, status)).To(BeFalse())
			Expect(v1.CanTransition(v1.StatusCanceled, status)).To(BeFalse())
		}
	})
	It("should forbid skipping admission", func() {
		Expect(v1.CanTransition(v1.StatusQueued, v1.StatusSent)).To(BeFalse())
		Expect(v1.CanTransition(v1.StatusQueued, v1.StatusDelivered)).To(BeFalse())
		Expect(v1.CanTransition(v1.StatusQueued, v1.StatusFailed)).To(BeFalse())
	})
	It("should return INVALID_STATE for forbidden transitions", func() {
		err := v1.ValidateTransition(v1.StatusCanceled, v1.StatusSent)
		Expect(err).To(HaveOccurred())
		Expect(v1.IsInvalidState(err)).To(BeTrue())
		Expect(v1.ValidateTransition(v1.StatusQueued, v1.StatusAccepted)).To(Succeed())
	})
	It("should classify reportable and sent-class statuses", func() {
		Expect(v1.StatusSent.IsReportable()).To(BeTrue())
		Expect(v1.StatusFailed.IsReportable()).To(BeTrue())
		Expect(v1.StatusQueued.IsReportable()).To(BeFalse())
		Expect(v1.StatusCanceled.IsReportable()).To(BeFalse())

		Expect(v1.StatusSent.IsSentClass()).To(BeTrue())
		Expect(v1.StatusDelivered.IsSentClass()).To(BeTrue())
		Expect(v1.StatusReceived.IsSentClass()).To(BeTrue())
		Expect(v1.StatusAccepted.IsSentClass()).To(BeFalse())

		Expect(v1.StatusReceived.IsTerminal()).To(BeTrue())
		Expect(v1.StatusCanceled.IsTerminal()).To(BeTrue())
		Expect(v1.StatusFailed.IsTerminal()).To(BeFalse())
	})
})

var _ = Describe("Errors", func() {
	It("should match kinds through wrapping", func() {
		err := v1.NewNotFoundError(errors.New("message not found"))
		Expect(v1.IsNotFound(err)).To(BeTrue())
		Expect(v1.IsInvalidState(err)).To(BeFalse())
		Expect(v1.KindOf(err)).To(Equal(v1.ErrorKindNotFound))
	})
	It("should match kinds wrapped deeper in a chain", func() {
		err := fmt.Errorf("canceling: %w", v1.NewInvalidStateError(errors.New("already sent")))
		Expect(v1.IsInvalidState(err)).To(BeTrue())
		Expect(v1.KindOf(err)).To(Equal(v1.ErrorKindInvalidState))
	})
	It("should classify unwrapped errors as store errors", func() {
		Expect(v1.KindOf(errors.New("boom"))).To(Equal(v1.ErrorKindStoreError))
		Expect(v1.IsKind(nil, v1.ErrorKindStoreError)).To(BeFalse())
	})
})
