// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"
)

// Retry policy for delegation sends. Transient upstream failures retry with
// exponential backoff until MaxElapsed is exhausted.
const (
	DefaultInitialBackoff = 100 * time.Millisecond
	DefaultMaxBackoff     = 10 * time.Second
	DefaultMaxElapsed     = 20 * time.Second
	backoffFactor         = 2
)

// retryableStatus holds the upstream status codes worth retrying.
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Client sends A2A messages over HTTP+JSON.
type Client struct {
	httpClient     *http.Client
	initialBackoff time.Duration
	maxBackoff     time.Duration
	maxElapsed     time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.httpClient = c }
}

// WithBackoff overrides the retry backoff parameters.
func WithBackoff(initial, max, maxElapsed time.Duration) ClientOption {
	return func(cl *Client) {
		cl.initialBackoff = initial
		cl.maxBackoff = max
		cl.maxElapsed = maxElapsed
	}
}

// NewClient creates a new A2A client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient:     &http.Client{Timeout: 60 * time.Second},
		initialBackoff: DefaultInitialBackoff,
		maxBackoff:     DefaultMaxBackoff,
		maxElapsed:     DefaultMaxElapsed,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send posts a message to the agent at baseURL using message/send and
// returns the peer's task result. Transient failures (network errors and
// 429/5xx responses) are retried with exponential backoff until the elapsed
// budget is spent. headers carries resolved credentials for external peers.
func (c *Client) Send(ctx context.Context, baseURL string, msg Message, headers map[string]string) (*TaskResult, error) {
	body, err := json.Marshal(SendParams{Message: msg})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	sendURL := fmt.Sprintf("%s/message/send", baseURL)
	start := time.Now()
	delay := c.initialBackoff

	var lastErr error
	for attempt := 0; ; attempt++ {
		result, retryable, err := c.attempt(ctx, sendURL, body, headers)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}

		if time.Since(start)+delay > c.maxElapsed {
			return nil, fmt.Errorf("a2a send to %s failed after %d attempts: %w", baseURL, attempt+1, lastErr)
		}

		slog.Debug("Retrying A2A send",
			"url", sendURL,
			"attempt", attempt+1,
			"delay", delay,
			"error", err)

		jitter := time.Duration(rand.Float64() * float64(delay) * 0.1)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay + jitter):
		}

		delay *= backoffFactor
		if delay > c.maxBackoff {
			delay = c.maxBackoff
		}
	}
}

// attempt runs one send. The bool return reports whether the failure is
// worth retrying.
func (c *Client) attempt(ctx context.Context, url string, body []byte, headers map[string]string) (*TaskResult, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, fmt.Errorf("a2a transport error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("a2a send failed: HTTP %d: %s", resp.StatusCode, string(respBody))
		return nil, retryableStatus[resp.StatusCode], err
	}

	var result TaskResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, false, fmt.Errorf("failed to decode task result: %w", err)
	}
	return &result, false, nil
}
