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

// Package gateway implements the delivery worker that polls the scheduler,
// performs the actual send, and reports the outcome back.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go"

	v1 "github.com/courierkit/courier/pkg/apis/v1"
)

const (
	requestTimeout = 30 * time.Second
	retryAttempts  = 3
)

// ClaimedMessage is the scheduler's claim payload, the minimum a worker
// needs to perform one delivery.
type ClaimedMessage struct {
	ID           string    `json:"id"`
	ToHandle     string    `json:"to_handle"`
	Body         string    `json:"body"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

// Report is the delivery outcome sent back to the scheduler.
type Report struct {
	MessageID string         `json:"message_id"`
	Status    string         `json:"status"`
	Error     string         `json:"error,omitempty"`
	Detail    v1.EventDetail `json:"detail,omitempty"`
}

type apiError struct {
	Kind    string
	Message string
	Code    int
}

func (e *apiError) Error() string {
	return fmt.Sprintf("scheduler returned %d: %s (%s)", e.Code, e.Message, e.Kind)
}

// Client talks to the scheduler's gateway endpoints. Transient transport
// failures are retried with backoff; API rejections are surfaced as-is.
type Client struct {
	baseURL    string
	gatewayID  string
	httpClient *http.Client
}

func NewClient(baseURL, gatewayID string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		gatewayID:  gatewayID,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// Claim asks the scheduler for the next deliverable message. A nil message
// with a nil error means nothing is claimable right now.
func (c *Client) Claim(ctx context.Context) (*ClaimedMessage, error) {
	var claimed *ClaimedMessage
	err := c.withRetry(ctx, func() error {
		resp, err := c.post(ctx, "/gateway/claim", map[string]string{"gateway_id": c.gatewayID})
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusNoContent:
			claimed = nil
			return nil
		case http.StatusOK:
			claimed = &ClaimedMessage{}
			return json.NewDecoder(resp.Body).Decode(claimed)
		default:
			return decodeAPIError(resp)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("claiming message, %w", err)
	}
	return claimed, nil
}

// SendReport delivers an outcome report for a previously claimed message.
func (c *Client) SendReport(ctx context.Context, report Report) error {
	err := c.withRetry(ctx, func() error {
		resp, err := c.post(ctx, "/gateway/report", report)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return decodeAPIError(resp)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	})
	if err != nil {
		return fmt.Errorf("reporting %s for message %s, %w", report.Status, report.MessageID, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request, %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request, %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.httpClient.Do(req)
}

func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(retryAttempts),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
	)
}

// isRetryable treats transport errors and 5xx responses as transient. 4xx
// responses encode a decision by the scheduler and retrying cannot change it.
func isRetryable(err error) bool {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.Code >= http.StatusInternalServerError
	}
	return true
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &apiError{Code: resp.StatusCode, Kind: "UNKNOWN"}
	var body struct {
		Error struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		apiErr.Kind = body.Error.Kind
		apiErr.Message = body.Error.Message
	}
	return apiErr
}
