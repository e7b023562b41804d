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
	"context"
	"sync"
)

// SentMessage is one delivery the fake sender performed.
type SentMessage struct {
	ToHandle string
	Body     string
}

// Sender stands in for the platform send command in gateway worker tests.
type Sender struct {
	SendError AtomicError

	mu   sync.Mutex
	sent []SentMessage
}

func NewSender() *Sender {
	return &Sender{}
}

func (s *Sender) Send(_ context.Context, toHandle, body string) error {
	if err := s.SendError.Get(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, SentMessage{ToHandle: toHandle, Body: body})
	return nil
}

// Reset must be called between tests otherwise tests will pollute each other.
func (s *Sender) Reset() {
	s.mu.Lock()
	s.sent = nil
	s.mu.Unlock()
	s.SendError.Reset()
}

// Sent returns every delivery in send order.
func (s *Sender) Sent() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SentMessage, len(s.sent))
	copy(out, s.sent)
	return out
}
