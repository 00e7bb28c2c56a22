package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// degradedThreshold is the consecutive-error count after which /health
// reports degraded.
const degradedThreshold = 5

// HealthServer exposes the agent's local state over HTTP for systemd
// watchdogs and store dashboards.
type HealthServer struct {
	agent     *Agent
	server    *http.Server
	addr      string
	startedAt time.Time
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Uptime    string    `json:"uptime"`
	StartedAt time.Time `json:"started_at"`
}

// MetricsResponse is the body of GET /metrics.
type MetricsResponse struct {
	JobsProcessed  int64     `json:"jobs_processed"`
	JobsFailed     int64     `json:"jobs_failed"`
	LastPollAt     time.Time `json:"last_poll_at,omitempty"`
	LastJobAt      time.Time `json:"last_job_at,omitempty"`
	ConsecutiveErr int       `json:"consecutive_errors"`
	Printers       int       `json:"printers_registered"`
	PrintersOnline int       `json:"printers_online"`
	SSEActive      bool      `json:"sse_active"`
}

// StatusResponse combines the local view with the server's view of this
// agent.
type StatusResponse struct {
	Local  LocalStatus  `json:"local"`
	Server ServerStatus `json:"server,omitempty"`
}

type LocalStatus struct {
	Status         string `json:"status"`
	PrintersOnline int    `json:"printers_online"`
	JobsProcessed  int64  `json:"jobs_processed"`
	JobsFailed     int64  `json:"jobs_failed"`
}

type ServerStatus struct {
	Available     bool   `json:"available"`
	AgentName     string `json:"agent_name,omitempty"`
	StoreName     string `json:"store_name,omitempty"`
	IsOnline      bool   `json:"is_online,omitempty"`
	LastPingAt    string `json:"last_ping_at,omitempty"`
	PrintersCount int    `json:"printers_count,omitempty"`
	Error         string `json:"error,omitempty"`
}

func NewHealthServer(agent *Agent, addr string) *HealthServer {
	return &HealthServer{
		agent: agent,
		addr:  addr,
	}
}

// Start binds the listener and serves in the background. Binding first
// makes port 0 usable in tests.
func (h *HealthServer) Start() error {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/metrics", h.handleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/status", h.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/", h.handleRoot).Methods(http.MethodGet)

	h.server = &http.Server{
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	h.server.Addr = ln.Addr().String()
	h.startedAt = time.Now()

	go func() {
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			h.agent.logger.Error("health server error", zap.Error(err))
		}
	}()

	h.agent.logger.Info("health server listening", zap.String("addr", h.server.Addr))
	return nil
}

// Addr returns the bound address, valid after Start.
func (h *HealthServer) Addr() string {
	if h.server == nil {
		return h.addr
	}
	return h.server.Addr
}

// Stop shuts the server down gracefully.
func (h *HealthServer) Stop(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

func (h *HealthServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "print-agent\n\nEndpoints:\n  /health  - Health check\n  /metrics - Agent metrics\n  /status  - Combined local + server status\n")
}

func (h *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := h.agent.GetStats()

	status := "healthy"
	if stats.ConsecutiveErr > degradedThreshold {
		status = "degraded"
	}

	resp := HealthResponse{
		Status:    status,
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		StartedAt: h.startedAt,
	}

	w.Header().Set("Content-Type", "application/json")
	if status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(resp)
}

func (h *HealthServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	stats := h.agent.GetStats()

	printers := h.agent.registry.List()
	online := 0
	for _, p := range printers {
		if p.Available {
			online++
		}
	}

	resp := MetricsResponse{
		JobsProcessed:  stats.JobsProcessed,
		JobsFailed:     stats.JobsFailed,
		LastPollAt:     stats.LastPollAt,
		LastJobAt:      stats.LastJobAt,
		ConsecutiveErr: stats.ConsecutiveErr,
		Printers:       len(printers),
		PrintersOnline: online,
		SSEActive:      h.agent.IsSSEActive(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *HealthServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := h.agent.GetStats()
	printers := h.agent.registry.Available()

	localStatus := "healthy"
	if stats.ConsecutiveErr > degradedThreshold {
		localStatus = "degraded"
	}

	resp := StatusResponse{
		Local: LocalStatus{
			Status:         localStatus,
			PrintersOnline: len(printers),
			JobsProcessed:  stats.JobsProcessed,
			JobsFailed:     stats.JobsFailed,
		},
	}

	if h.agent.authenticator != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		serverStatus, err := h.agent.authenticator.GetStatus(ctx)
		if err != nil {
			resp.Server = ServerStatus{Available: false, Error: err.Error()}
		} else {
			resp.Server = ServerStatus{
				Available:     true,
				AgentName:     serverStatus.Name,
				StoreName:     serverStatus.Store.Name,
				IsOnline:      serverStatus.IsOnline,
				LastPingAt:    serverStatus.LastPingAt,
				PrintersCount: serverStatus.PrintersCount,
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
