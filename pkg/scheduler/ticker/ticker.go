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

// Package ticker drives the tick engine at a fixed cadence.
package ticker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/courierkit/courier/pkg/scheduler"
)

// DefaultInterval is the tick cadence when the operator does not choose one.
const DefaultInterval = 5 * time.Second

type Ticker struct {
	scheduler *scheduler.Scheduler
	clock     clock.WithTicker
	interval  time.Duration
	log       *zap.SugaredLogger

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func New(s *scheduler.Scheduler, clk clock.WithTicker, interval time.Duration, log *zap.SugaredLogger) *Ticker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Ticker{
		scheduler: s,
		clock:     clk,
		interval:  interval,
		log:       log.Named("ticker"),
		done:      make(chan struct{}),
	}
}

// Start launches the tick loop in its own goroutine. Tick failures are logged and
// counted; they never stop the loop.
func (t *Ticker) Start(ctx context.Context) {
	t.startOnce.Do(func() {
		ctx, t.cancel = context.WithCancel(ctx)
		go t.run(ctx)
	})
}

// Stop cancels the loop and waits for the in-flight pass to finish.
func (t *Ticker) Stop() {
	t.stopOnce.Do(func() {
		if t.cancel != nil {
			t.cancel()
		}
		<-t.done
	})
}

func (t *Ticker) run(ctx context.Context) {
	defer close(t.done)
	t.log.Infow("starting tick loop", "interval", t.interval)
	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			t.log.Info("stopping tick loop")
			return
		case <-ticker.C():
			t.tick(ctx)
		}
	}
}

func (t *Ticker) tick(ctx context.Context) {
	result, err := t.scheduler.Tick(ctx)
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		t.log.Errorw("tick failed", "error", err)
	case result.Ready:
		t.log.Infow("tick promoted message", "id", result.MessageID)
	case result.Reason == scheduler.SkipReasonThrottled:
		t.log.Debugw("tick skipped", "reason", result.Reason, "next_send_at", result.NextSendAt)
	default:
		t.log.Debugw("tick skipped", "reason", result.Reason)
	}
}
