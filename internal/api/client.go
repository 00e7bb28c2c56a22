// Package api is the client for the print job queue: job polling and
// acking, agent authentication, printer sync and Mercure event streaming.
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ClientConfig configures the job queue client.
type ClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	// Insecure skips TLS verification, for hitting a dev server with a
	// self-signed certificate.
	Insecure bool
}

// Client talks to the job queue endpoints under /api/printer-agent.
type Client struct {
	config        ClientConfig
	httpClient    *http.Client
	authenticator *Authenticator
}

// NewClient returns a client authenticating through auth.
func NewClient(config ClientConfig, auth *Authenticator) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}

	httpClient := &http.Client{Timeout: config.Timeout}
	if config.Insecure {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return &Client{
		config:        config,
		httpClient:    httpClient,
		authenticator: auth,
	}
}

// FetchNextJob polls for the next leased job. A nil job means the queue
// is empty.
func (c *Client) FetchNextJob(ctx context.Context, params *FetchNextJobParams) (*Job, error) {
	endpoint := c.config.BaseURL + "/api/printer-agent/jobs/next"

	if params != nil {
		query := url.Values{}
		if params.Type != "" {
			query.Set("type", params.Type)
		}
		if params.PrinterCode != "" {
			query.Set("printer_code", params.PrinterCode)
		}
		if params.LeaseDuration > 0 {
			query.Set("lease_duration", strconv.Itoa(params.LeaseDuration))
		}
		if len(query) > 0 {
			endpoint += "?" + query.Encode()
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if err := c.setHeaders(req); err != nil {
		return nil, err
	}

	resp, err := c.doWithRetry(req)
	if err != nil {
		return nil, fmt.Errorf("fetching next job: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var nextJobResp NextJobResponse
	if err := json.NewDecoder(resp.Body).Decode(&nextJobResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return nextJobResp.Data, nil
}

// AckJobRequest is the body of POST /jobs/<id>/ack.
type AckJobRequest struct {
	LeaseID      string `json:"lease_id"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// AckJob reports the outcome of a processed job back to the queue.
func (c *Client) AckJob(ctx context.Context, jobID, leaseID string, success bool, errorMessage string) error {
	endpoint := c.config.BaseURL + "/api/printer-agent/jobs/" + jobID + "/ack"

	body, err := json.Marshal(AckJobRequest{
		LeaseID:      leaseID,
		Success:      success,
		ErrorMessage: errorMessage,
	})
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if err := c.setHeaders(req); err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.doWithRetry(req)
	if err != nil {
		return fmt.Errorf("acking job: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) error {
	req.Header.Set("Accept", "application/json")
	if c.authenticator == nil {
		return nil
	}
	token, err := c.authenticator.Token(req.Context())
	if err != nil {
		return fmt.Errorf("getting token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// doWithRetry retries transport errors and 5xx responses with 1s, 2s,
// 4s... backoff. 4xx responses are returned to the caller as-is.
func (c *Client) doWithRetry(req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(backoff):
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
