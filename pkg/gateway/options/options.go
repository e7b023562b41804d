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
	"net/url"
	"os"
	"time"

	"go.uber.org/multierr"

	v1 "github.com/courierkit/courier/pkg/apis/v1"
	"github.com/courierkit/courier/pkg/utils/env"
)

// Options for running the gateway worker binary
type Options struct {
	*flag.FlagSet
	APIBaseURL   string
	GatewayID    string
	PollInterval time.Duration
	SendCommand  string
	LogLevel     string
}

// New creates an Options struct and registers CLI flags and environment variables to fill-in the Options struct fields
func New() *Options {
	opts := &Options{}
	f := flag.NewFlagSet("courier-gateway", flag.ContinueOnError)
	opts.FlagSet = f

	f.StringVar(&opts.APIBaseURL, "api-base-url", env.WithDefaultString("API_BASE_URL", "http://127.0.0.1:8000"), "Base URL of the scheduler API this worker claims messages from")
	f.StringVar(&opts.GatewayID, "gateway-id", env.WithDefaultString("GATEWAY_ID", "mac-1"), "Identifier this worker reports as the claim owner")
	f.DurationVar(&opts.PollInterval, "poll-interval", env.WithDefaultDuration("POLL_INTERVAL", 5*time.Second), "How often the worker polls the scheduler for claimable messages")
	f.StringVar(&opts.SendCommand, "send-command", env.WithDefaultString("SEND_COMMAND", ""), "Shell-free command template used to deliver a message; {to_handle} and {body} are substituted per message. Empty selects the built-in osascript iMessage sender.")
	f.StringVar(&opts.LogLevel, "log-level", env.WithDefaultString("LOG_LEVEL", "info"), "Log verbosity (debug, info, warn, error)")
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
	err = multierr.Append(err, o.validateBaseURL())
	if o.GatewayID == "" {
		err = multierr.Append(err, fmt.Errorf("GATEWAY_ID is required"))
	}
	if v1.IsReservedGatewayID(o.GatewayID) {
		err = multierr.Append(err, fmt.Errorf("%q is a reserved gateway id", o.GatewayID))
	}
	if o.PollInterval <= 0 {
		err = multierr.Append(err, fmt.Errorf("poll-interval must be positive"))
	}
	return err
}

func (o Options) validateBaseURL() error {
	base, err := url.Parse(o.APIBaseURL)
	// url.Parse() will accept a lot of input without error; make
	// sure it's a real URL
	if err != nil || !base.IsAbs() || base.Hostname() == "" {
		return fmt.Errorf("%q is not a valid API_BASE_URL", o.APIBaseURL)
	}
	return nil
}
