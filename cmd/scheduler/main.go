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

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/courierkit/courier/pkg/operator"
	"github.com/courierkit/courier/pkg/operator/options"
	"github.com/courierkit/courier/pkg/utils/log"
)

func main() {
	opts := options.New().MustParse()
	log := log.NewLogger(opts.LogLevel)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	op := operator.NewOperator(ctx, opts, log)
	if err := op.Start(ctx); err != nil {
		log.Fatalw("scheduler exited", "error", err)
	}
}
