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

// Package operator assembles the scheduler process: storage, event fan-out,
// the tick loop, and the HTTP surfaces.
package operator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/courierkit/courier/pkg/events"
	"github.com/courierkit/courier/pkg/httpapi"
	"github.com/courierkit/courier/pkg/metrics"
	"github.com/courierkit/courier/pkg/operator/options"
	"github.com/courierkit/courier/pkg/scheduler"
	"github.com/courierkit/courier/pkg/scheduler/ticker"
	"github.com/courierkit/courier/pkg/store/postgres"
)

const shutdownGracePeriod = 10 * time.Second

// Operator owns every long-lived component of the scheduler process.
type Operator struct {
	Scheduler *scheduler.Scheduler
	Ticker    *ticker.Ticker

	log       *zap.SugaredLogger
	pool      *pgxpool.Pool
	recorder  events.Recorder
	apiServer *http.Server
	metrics   *http.Server
}

// NewOperator migrates the database and wires the process together or panics.
func NewOperator(ctx context.Context, opts *options.Options, log *zap.SugaredLogger) *Operator {
	if err := postgres.Migrate(ctx, opts.DatabaseURL); err != nil {
		panic(fmt.Sprintf("migrating database, %s", err))
	}
	pool, err := postgres.Open(ctx, opts.DatabaseURL)
	if err != nil {
		panic(fmt.Sprintf("connecting to database, %s", err))
	}

	var recorder events.Recorder = events.NewNopRecorder()
	if opts.RedisURL != "" {
		redisRecorder, err := events.NewRedisRecorder(ctx, opts.RedisURL, log)
		if err != nil {
			panic(fmt.Sprintf("connecting to redis, %s", err))
		}
		recorder = redisRecorder
	}

	clk := clock.RealClock{}
	sched := scheduler.New(postgres.New(pool), recorder, clk, log)
	return &Operator{
		Scheduler: sched,
		Ticker:    ticker.New(sched, clk, opts.TickInterval, log),
		log:       log.Named("operator"),
		pool:      pool,
		recorder:  recorder,
		apiServer: &http.Server{
			Addr:    opts.ListenAddress,
			Handler: httpapi.NewServer(sched, clk, log).Router(opts.CORSOriginList()),
		},
		metrics: &http.Server{
			Addr:    fmt.Sprintf(":%d", opts.MetricsPort),
			Handler: metrics.Handler(),
		},
	}
}

// Start runs the tick loop and both HTTP listeners until ctx is canceled,
// then drains in-flight requests and releases every connection.
func (o *Operator) Start(ctx context.Context) error {
	o.Ticker.Start(ctx)

	errCh := make(chan error, 2)
	go func() {
		o.log.Infow("serving api", "address", o.apiServer.Addr)
		errCh <- o.apiServer.ListenAndServe()
	}()
	go func() {
		o.log.Infow("serving metrics", "address", o.metrics.Addr)
		errCh <- o.metrics.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			o.shutdown()
			return err
		}
	}
	o.shutdown()
	return nil
}

func (o *Operator) shutdown() {
	o.log.Info("shutting down")
	o.Ticker.Stop()

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if err := o.apiServer.Shutdown(drainCtx); err != nil {
		o.log.Errorw("draining api server", "error", err)
	}
	if err := o.metrics.Shutdown(drainCtx); err != nil {
		o.log.Errorw("draining metrics server", "error", err)
	}
	if closer, ok := o.recorder.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			o.log.Errorw("closing event recorder", "error", err)
		}
	}
	o.pool.Close()
}
