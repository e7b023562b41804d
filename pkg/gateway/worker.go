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

package gateway

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	v1 "github.com/courierkit/courier/pkg/apis/v1"
)

// DefaultPollInterval is how often a worker asks the scheduler for work when
// no interval is configured.
const DefaultPollInterval = 5 * time.Second

// Worker polls the scheduler for claimable messages, delivers them through a
// Sender, and reports each outcome. At most one message is in flight at a
// time, and a claim hands the worker exclusive responsibility to report.
type Worker struct {
	client   *Client
	sender   Sender
	clock    clock.WithTicker
	interval time.Duration
	log      *zap.SugaredLogger

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewWorker(client *Client, sender Sender, clk clock.WithTicker, interval time.Duration, log *zap.SugaredLogger) *Worker {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Worker{
		client:   client,
		sender:   sender,
		clock:    clk,
		interval: interval,
		log:      log.Named("worker"),
		done:     make(chan struct{}),
	}
}

// Start launches the poll loop. Calling Start more than once is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		ctx, w.cancel = context.WithCancel(ctx)
		go w.run(ctx)
	})
}

// Stop halts polling and waits for any in-flight delivery to be reported.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
		<-w.done
	})
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)
	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		w.poll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		}
	}
}

// poll drains everything currently claimable so a backlog is not paced at one
// message per poll interval on top of the scheduler's own throttle.
func (w *Worker) poll(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		claimed, err := w.client.Claim(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.log.Errorw("claim failed", "error", err)
			}
			return
		}
		if claimed == nil {
			return
		}
		w.deliver(ctx, claimed)
	}
}

func (w *Worker) deliver(ctx context.Context, claimed *ClaimedMessage) {
	report := Report{MessageID: claimed.ID, Status: string(v1.StatusSent)}
	if err := w.sender.Send(ctx, claimed.ToHandle, claimed.Body); err != nil {
		w.log.Errorw("send failed", "message-id", claimed.ID, "to-handle", claimed.ToHandle, "error", err)
		report.Status = string(v1.StatusFailed)
		report.Error = err.Error()
	} else {
		w.log.Infow("message sent", "message-id", claimed.ID, "to-handle", claimed.ToHandle)
	}
	// The claim is only resolved by a report, so reporting does not share the
	// poll context's cancellation.
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), requestTimeout)
	defer cancel()
	if err := w.client.SendReport(reportCtx, report); err != nil {
		w.log.Errorw("report failed", "message-id", claimed.ID, "status", report.Status, "error", err)
	}
}
