package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedTestToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "agent-1",
		"exp": exp.Unix(),
	})
	s, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func newAuthServer(t *testing.T, token string, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/authentication_token", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-1", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "secret-1", r.Header.Get("X-Api-Secret"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(TokenResponse{
			Token:     token,
			ExpiresAt: time.Now().Add(time.Hour).Unix(),
			Agent:     AgentInfo{ID: "agent-1", Name: "Caisse 1", Store: "Paris 11"},
			Mercure: &MercureInfo{
				Token: "mercure-token",
				URL:   "https://hub.example/.well-known/mercure",
				Topic: "print-agent/agent-1",
			},
		})
	})
	if handler != nil {
		mux.HandleFunc("/", handler)
	}
	return httptest.NewServer(mux)
}

func newTestAuthenticator(baseURL string) *Authenticator {
	return NewAuthenticator(AuthConfig{
		BaseURL:   baseURL,
		APIKey:    "key-1",
		APISecret: "secret-1",
	})
}

func TestAuthenticate(t *testing.T) {
	token := signedTestToken(t, time.Now().Add(time.Hour))
	server := newAuthServer(t, token, nil)
	defer server.Close()

	auth := newTestAuthenticator(server.URL)

	resp, err := auth.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, token, resp.Token)
	assert.Equal(t, "Caisse 1", resp.Agent.Name)
	assert.True(t, auth.IsAuthenticated())
	assert.True(t, auth.HasMercure())
	assert.Equal(t, "print-agent/agent-1", auth.MercureInfo().Topic)
}

func TestTokenExpiryFromClaim(t *testing.T) {
	claimExp := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	token := signedTestToken(t, claimExp)
	server := newAuthServer(t, token, nil)
	defer server.Close()

	auth := newTestAuthenticator(server.URL)
	_, err := auth.Authenticate(context.Background())
	require.NoError(t, err)

	// the exp claim wins over the expires_at field of the response
	assert.Equal(t, claimExp.Unix(), auth.TokenExpiresAt().Unix())
}

func TestTokenExpiryFallbackForOpaqueToken(t *testing.T) {
	server := newAuthServer(t, "not-a-jwt", nil)
	defer server.Close()

	auth := newTestAuthenticator(server.URL)
	_, err := auth.Authenticate(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, time.Now().Add(time.Hour).Unix(), auth.TokenExpiresAt().Unix(), 5)
}

func TestTokenRefreshesNearExpiry(t *testing.T) {
	// token already inside the refresh margin forces a re-auth
	token := signedTestToken(t, time.Now().Add(time.Minute))
	authCalls := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/api/authentication_token", func(w http.ResponseWriter, r *http.Request) {
		authCalls++
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(TokenResponse{Token: token})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	auth := newTestAuthenticator(server.URL)

	_, err := auth.Token(context.Background())
	require.NoError(t, err)
	_, err = auth.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, authCalls)
}

func TestAuthenticateRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	auth := newTestAuthenticator(server.URL)
	_, err := auth.Authenticate(context.Background())
	assert.Error(t, err)
	assert.False(t, auth.IsAuthenticated())
}

func TestPing(t *testing.T) {
	token := signedTestToken(t, time.Now().Add(time.Hour))
	pinged := false
	server := newAuthServer(t, token, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/printer-agent/ping" {
			pinged = true
			assert.Equal(t, "Bearer "+token, r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	})
	defer server.Close()

	auth := newTestAuthenticator(server.URL)
	require.NoError(t, auth.Ping(context.Background()))
	assert.True(t, pinged)
}

func TestSyncPrinters(t *testing.T) {
	token := signedTestToken(t, time.Now().Add(time.Hour))
	server := newAuthServer(t, token, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/printer-agent/printers" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req SyncPrintersRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Printers, 1)
		assert.Equal(t, "epson-receipt", req.Printers[0].Code)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(SyncPrintersResponse{
			Success: true,
			Data:    SyncPrintersData{Created: 1, Total: 1},
		})
	})
	defer server.Close()

	auth := newTestAuthenticator(server.URL)
	resp, err := auth.SyncPrinters(context.Background(), []PrinterSyncInfo{
		{Code: "epson-receipt", Name: "epson-receipt", Type: "receipt", Description: "/dev/usb/epson_tmt20iii"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Data.Created)
	assert.Equal(t, 1, resp.Data.Total)
}

func TestGetStatus(t *testing.T) {
	token := signedTestToken(t, time.Now().Add(time.Hour))
	server := newAuthServer(t, token, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/printer-agent/status" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(GetStatusResponse{
			Success: true,
			Data: AgentStatus{
				Name:     "Caisse 1",
				IsOnline: true,
				Store:    StoreInfo{Name: "Paris 11"},
			},
		})
	})
	defer server.Close()

	auth := newTestAuthenticator(server.URL)
	status, err := auth.GetStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Caisse 1", status.Name)
	assert.True(t, status.IsOnline)
}
