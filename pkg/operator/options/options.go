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

package options

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/courierkit/courier/pkg/utils/env"
)

// Options for running the scheduler binary
type Options struct {
	*flag.FlagSet
	ListenAddress string
	MetricsPort   int
	DatabaseURL   string
	RedisURL      string
	TickInterval  time.Duration
	LogLevel      string
	CORSOrigins   string
}

// New creates an Options struct and registers CLI flags and environment variables to fill-in the Options struct fields
func New() *Options {
	opts := &Options{}
	f := flag.NewFlagSet("courier-scheduler", flag.ContinueOnError)
	opts.FlagSet = f

	f.StringVar(&opts.ListenAddress, "listen-address", env.WithDefaultString("LISTEN_ADDRESS", ":8000"), "The address the HTTP API binds to")
	f.IntVar(&opts.MetricsPort, "metrics-port", env.WithDefaultInt("METRICS_PORT", 8090), "The port the metric endpoint binds to for operating metrics about the scheduler itself")
	f.StringVar(&opts.DatabaseURL, "database-url", env.WithDefaultString("DATABASE_URL", ""), "PostgreSQL connection string for the message store")
	f.StringVar(&opts.RedisURL, "redis-url", env.WithDefaultString("REDIS_URL", ""), "Redis connection string for publishing status events. Empty disables event publishing.")
	f.DurationVar(&opts.TickInterval, "tick-interval", env.WithDefaultDuration("TICK_INTERVAL", 5*time.Second), "How often the scheduler promotes due messages under the delivery throttle")
	f.StringVar(&opts.LogLevel, "log-level", env.WithDefaultString("LOG_LEVEL", "info"), "Log verbosity (debug, info, warn, error)")
	f.StringVar(&opts.CORSOrigins, "cors-origins", env.WithDefaultString("CORS_ORIGINS", "*"), "Comma-separated list of origins allowed to call the HTTP API")
	return opts
}

// MustParse reads the user passed flags, environment variables, and default values.
// Options are validated and panics if an error is returned
func (o *Options) MustParse() *Options {
	err := o.Parse(os.Args[1:])

	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		panic(err)
	}
	if err := o.Validate(); err != nil {
		panic(err)
	}
	return o
}

func (o Options) Validate() (err error) {
	if o.DatabaseURL == "" {
		err = multierr.Append(err, fmt.Errorf("DATABASE_URL is required"))
	}
	if o.TickInterval <= 0 {
		err = multierr.Append(err, fmt.Errorf("tick-interval must be positive"))
	}
	if o.MetricsPort <= 0 || o.MetricsPort > 65535 {
		err = multierr.Append(err, fmt.Errorf("metrics-port must be a valid port"))
	}
	return err
}

// CORSOriginList splits the configured origins, dropping empty entries.
func (o Options) CORSOriginList() []string {
	var origins []string
	for _, origin := range strings.Split(o.CORSOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}
