package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/storeprint/print-agent/internal/api"
	"github.com/storeprint/print-agent/internal/registry"
)

// queueServer is a fake job queue: it hands out the queued jobs one per
// poll and records every ack.
type queueServer struct {
	mu   sync.Mutex
	jobs []*api.Job
	acks []api.AckJobRequest
}

func (q *queueServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/printer-agent/jobs/next", func(w http.ResponseWriter, r *http.Request) {
		q.mu.Lock()
		var job *api.Job
		if len(q.jobs) > 0 {
			job = q.jobs[0]
			q.jobs = q.jobs[1:]
		}
		q.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(api.NextJobResponse{Success: true, Data: job})
	})
	mux.HandleFunc("/api/printer-agent/jobs/", func(w http.ResponseWriter, r *http.Request) {
		var ack api.AckJobRequest
		json.NewDecoder(r.Body).Decode(&ack)
		q.mu.Lock()
		q.acks = append(q.acks, ack)
		q.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func (q *queueServer) ackCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.acks)
}

func fastConfig() Config {
	config := DefaultConfig()
	config.PollInterval = 20 * time.Millisecond
	config.InitialBackoff = 10 * time.Millisecond
	config.MaxBackoff = 40 * time.Millisecond
	config.DisableSSE = true
	return config
}

func startAgent(t *testing.T, a *Agent) chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		done <- a.Start(context.Background())
	}()
	return done
}

func TestAgentStartStop(t *testing.T) {
	queue := &queueServer{}
	server := httptest.NewServer(queue.handler())
	defer server.Close()

	client := api.NewClient(api.ClientConfig{BaseURL: server.URL}, nil)
	a := New(client, nil, registry.New(), zap.NewNop(), fastConfig())

	done := startAgent(t, a)
	time.Sleep(100 * time.Millisecond)
	a.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not stop")
	}

	stats := a.GetStats()
	assert.False(t, stats.LastPollAt.IsZero())
	assert.Zero(t, stats.ConsecutiveErr)
}

func TestAgentDryRunAcksJobs(t *testing.T) {
	queue := &queueServer{jobs: []*api.Job{{
		ID:      "job-1",
		LeaseID: "lease-1",
		Type:    api.JobTypeReceipt,
		Payload: json.RawMessage(`{"items":[]}`),
	}}}
	server := httptest.NewServer(queue.handler())
	defer server.Close()

	client := api.NewClient(api.ClientConfig{BaseURL: server.URL}, nil)
	config := fastConfig()
	config.DryRun = true
	a := New(client, nil, registry.New(), zap.NewNop(), config)

	done := startAgent(t, a)
	require.Eventually(t, func() bool { return queue.ackCount() == 1 },
		2*time.Second, 10*time.Millisecond)
	a.Stop()
	<-done

	queue.mu.Lock()
	ack := queue.acks[0]
	queue.mu.Unlock()
	assert.Equal(t, "lease-1", ack.LeaseID)
	assert.True(t, ack.Success)

	stats := a.GetStats()
	assert.EqualValues(t, 1, stats.JobsProcessed)
	assert.Zero(t, stats.JobsFailed)
	assert.False(t, stats.LastJobAt.IsZero())
}

func TestAgentAcksFailureForBadJob(t *testing.T) {
	// no printer registered, so dispatch fails and the failure is acked
	queue := &queueServer{jobs: []*api.Job{{
		ID:      "job-2",
		LeaseID: "lease-2",
		Type:    api.JobTypeOpenDrawer,
		Payload: json.RawMessage(`{}`),
	}}}
	server := httptest.NewServer(queue.handler())
	defer server.Close()

	client := api.NewClient(api.ClientConfig{BaseURL: server.URL}, nil)
	a := New(client, nil, registry.New(), zap.NewNop(), fastConfig())

	done := startAgent(t, a)
	require.Eventually(t, func() bool { return queue.ackCount() == 1 },
		2*time.Second, 10*time.Millisecond)
	a.Stop()
	<-done

	queue.mu.Lock()
	ack := queue.acks[0]
	queue.mu.Unlock()
	assert.False(t, ack.Success)
	assert.NotEmpty(t, ack.ErrorMessage)

	stats := a.GetStats()
	assert.EqualValues(t, 1, stats.JobsFailed)
}

func TestAgentCountsConsecutiveErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := api.NewClient(api.ClientConfig{BaseURL: server.URL, MaxRetries: 1}, nil)
	a := New(client, nil, registry.New(), zap.NewNop(), fastConfig())

	done := startAgent(t, a)
	require.Eventually(t, func() bool { return a.GetStats().ConsecutiveErr >= 2 },
		2*time.Second, 10*time.Millisecond)
	a.Stop()
	<-done
}
