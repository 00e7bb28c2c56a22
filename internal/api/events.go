package api

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/launchdarkly/eventsource"
)

// JobEvent is a push notification from the Mercure hub telling the agent
// a job is waiting, so it can poll immediately instead of on the timer.
type JobEvent struct {
	Type        string `json:"event"`
	JobID       string `json:"job_id"`
	JobType     string `json:"type"`
	PrinterCode string `json:"printer_code"`
}

// EventStream subscribes to the Mercure hub over SSE.
type EventStream struct {
	hubURL     string
	token      string
	topic      string
	httpClient *http.Client
}

// NewEventStream builds a subscriber for one hub topic. The connection
// is long-lived so the client carries no timeout.
func NewEventStream(info MercureInfo, insecure bool) *EventStream {
	httpClient := &http.Client{}
	if insecure {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return &EventStream{
		hubURL:     info.URL,
		token:      info.Token,
		topic:      info.Topic,
		httpClient: httpClient,
	}
}

// Subscribe connects to the hub and forwards decoded events to the
// channel. It blocks until the context is canceled or the stream breaks.
func (s *EventStream) Subscribe(ctx context.Context, events chan<- JobEvent) error {
	subURL, err := url.Parse(s.hubURL)
	if err != nil {
		return fmt.Errorf("parsing hub URL: %w", err)
	}
	query := subURL.Query()
	query.Set("topic", s.topic)
	subURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, subURL.String(), nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to hub: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("subscription failed (status %d): %s", resp.StatusCode, string(body))
	}

	decoder := eventsource.NewDecoder(resp.Body)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ev, err := decoder.Decode()
		if err != nil {
			if err == io.EOF {
				return fmt.Errorf("connection closed by server")
			}
			return fmt.Errorf("reading stream: %w", err)
		}

		var event JobEvent
		if err := json.Unmarshal([]byte(ev.Data()), &event); err != nil {
			// hub keepalives and unrelated topics are not job events
			continue
		}

		select {
		case events <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SubscribeWithReconnect keeps the subscription alive, reconnecting with
// exponential backoff capped at one minute. The backoff resets after
// each successful connection attempt cycle.
func (s *EventStream) SubscribeWithReconnect(ctx context.Context, events chan<- JobEvent, onConnect func(), onDisconnect func(error)) {
	backoff := time.Second
	const maxBackoff = 60 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		if onConnect != nil {
			onConnect()
		}

		err := s.Subscribe(ctx, events)
		if ctx.Err() != nil {
			return
		}
		if onDisconnect != nil {
			onDisconnect(err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
