package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// refreshMargin is how long before expiry a token is proactively renewed.
const refreshMargin = 5 * time.Minute

// AuthConfig holds the agent credentials.
type AuthConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Insecure  bool
}

// TokenResponse is returned by POST /api/authentication_token.
type TokenResponse struct {
	Token     string       `json:"token"`
	ExpiresIn int          `json:"expires_in"`
	ExpiresAt int64        `json:"expires_at"`
	Type      string       `json:"type"`
	Agent     AgentInfo    `json:"agent"`
	Mercure   *MercureInfo `json:"mercure,omitempty"`
}

// MercureInfo is the SSE hub access the server hands out with the token.
type MercureInfo struct {
	Token string `json:"token"`
	URL   string `json:"url"`
	Topic string `json:"topic"`
}

// AgentInfo identifies the authenticated agent.
type AgentInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Store string `json:"store"`
}

// Authenticator exchanges the API key pair for a JWT and keeps it fresh.
// Safe for concurrent use.
type Authenticator struct {
	config     AuthConfig
	httpClient *http.Client

	mu          sync.RWMutex
	token       string
	expiresAt   time.Time
	agentInfo   *AgentInfo
	mercureInfo *MercureInfo
}

func NewAuthenticator(config AuthConfig) *Authenticator {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	if config.Insecure {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return &Authenticator{
		config:     config,
		httpClient: httpClient,
	}
}

// Authenticate fetches a fresh token with the X-Api-Key/X-Api-Secret pair.
func (a *Authenticator) Authenticate(ctx context.Context) (*TokenResponse, error) {
	endpoint := a.config.BaseURL + "/api/authentication_token"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating auth request: %w", err)
	}
	req.Header.Set("X-Api-Key", a.config.APIKey)
	req.Header.Set("X-Api-Secret", a.config.APISecret)
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending auth request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("authentication failed (status %d): %s", resp.StatusCode, string(body))
	}

	var tokenResp TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("decoding auth response: %w", err)
	}

	a.mu.Lock()
	a.token = tokenResp.Token
	a.expiresAt = tokenExpiry(tokenResp)
	a.agentInfo = &tokenResp.Agent
	a.mercureInfo = tokenResp.Mercure
	a.mu.Unlock()

	return &tokenResp, nil
}

// tokenExpiry trusts the exp claim inside the JWT when present, since
// that is what the server enforces, and falls back to the expires_at
// field of the response.
func tokenExpiry(tr TokenResponse) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(tr.Token, jwt.MapClaims{})
	if err == nil {
		if exp, err := parsed.Claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return time.Unix(tr.ExpiresAt, 0)
}

// Token returns a token valid for at least the refresh margin, fetching
// a new one when needed.
func (a *Authenticator) Token(ctx context.Context) (string, error) {
	a.mu.RLock()
	token := a.token
	expiresAt := a.expiresAt
	a.mu.RUnlock()

	if token == "" || time.Until(expiresAt) < refreshMargin {
		if _, err := a.Authenticate(ctx); err != nil {
			return "", err
		}
		a.mu.RLock()
		token = a.token
		a.mu.RUnlock()
	}
	return token, nil
}

// AgentInfo returns the identity block of the last authentication, or nil.
func (a *Authenticator) AgentInfo() *AgentInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.agentInfo
}

// MercureInfo returns the hub access block, or nil when the server does
// not expose an event hub.
func (a *Authenticator) MercureInfo() *MercureInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.mercureInfo
}

// HasMercure reports whether SSE event delivery is available.
func (a *Authenticator) HasMercure() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.mercureInfo != nil && a.mercureInfo.URL != "" && a.mercureInfo.Token != ""
}

// IsAuthenticated reports whether the current token is still valid.
func (a *Authenticator) IsAuthenticated() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token != "" && time.Now().Before(a.expiresAt)
}

// TokenExpiresAt returns the expiry of the current token.
func (a *Authenticator) TokenExpiresAt() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.expiresAt
}

// Ping sends the connectivity heartbeat.
func (a *Authenticator) Ping(ctx context.Context) error {
	resp, err := a.doAuthed(ctx, http.MethodPost, "/api/printer-agent/ping", []byte("{}"))
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	resp.Body.Close()
	return nil
}

// ServerPrinter is a printer record on the server side.
type ServerPrinter struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	TypeLabel   string `json:"typeLabel"`
	Description string `json:"description"`
	IsActive    bool   `json:"isActive"`
}

// GetPrintersResponse wraps GET /printers.
type GetPrintersResponse struct {
	Success bool            `json:"success"`
	Data    []ServerPrinter `json:"data"`
}

// AgentStatus is the server's view of this agent.
type AgentStatus struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Code          string    `json:"code"`
	IsActive      bool      `json:"isActive"`
	IsOnline      bool      `json:"isOnline"`
	LastPingAt    string    `json:"lastPingAt"`
	Store         StoreInfo `json:"store"`
	PrintersCount int       `json:"printersCount"`
}

// StoreInfo identifies the store an agent belongs to.
type StoreInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// GetStatusResponse wraps GET /status.
type GetStatusResponse struct {
	Success bool        `json:"success"`
	Data    AgentStatus `json:"data"`
}

// PrinterSyncInfo is one printer in a sync upload. Type is one of
// receipt, label or a4.
type PrinterSyncInfo struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// SyncPrintersRequest is the body of POST /printers.
type SyncPrintersRequest struct {
	Printers []PrinterSyncInfo `json:"printers"`
}

// SyncPrintersResponse reports what the sync changed server-side.
type SyncPrintersResponse struct {
	Success bool             `json:"success"`
	Data    SyncPrintersData `json:"data"`
}

// SyncPrintersData contains sync statistics.
type SyncPrintersData struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Removed int `json:"removed"`
	Total   int `json:"total"`
}

// SyncPrinters uploads the list of connected printers.
func (a *Authenticator) SyncPrinters(ctx context.Context, printers []PrinterSyncInfo) (*SyncPrintersResponse, error) {
	body, err := json.Marshal(SyncPrintersRequest{Printers: printers})
	if err != nil {
		return nil, fmt.Errorf("marshaling sync request: %w", err)
	}

	resp, err := a.doAuthed(ctx, http.MethodPost, "/api/printer-agent/printers", body)
	if err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}
	defer resp.Body.Close()

	var syncResp SyncPrintersResponse
	if err := json.NewDecoder(resp.Body).Decode(&syncResp); err != nil {
		return nil, fmt.Errorf("decoding sync response: %w", err)
	}
	return &syncResp, nil
}

// GetPrinters fetches the printers the server has on file for this agent.
func (a *Authenticator) GetPrinters(ctx context.Context) ([]ServerPrinter, error) {
	resp, err := a.doAuthed(ctx, http.MethodGet, "/api/printer-agent/printers", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var printersResp GetPrintersResponse
	if err := json.NewDecoder(resp.Body).Decode(&printersResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return printersResp.Data, nil
}

// GetStatus fetches the server's view of this agent.
func (a *Authenticator) GetStatus(ctx context.Context) (*AgentStatus, error) {
	resp, err := a.doAuthed(ctx, http.MethodGet, "/api/printer-agent/status", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var statusResp GetStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&statusResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &statusResp.Data, nil
}

// doAuthed issues one bearer-authenticated request and fails on any
// non-2xx status.
func (a *Authenticator) doAuthed(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	token, err := a.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting token: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.config.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("request failed (status %d): %s", resp.StatusCode, string(respBody))
	}
	return resp, nil
}
