package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apiMiddleware "github.com/phrazzld/task-inbox/internal/api/middleware"
	"github.com/phrazzld/task-inbox/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAppConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Port: 8080, LogLevel: "info", ShutdownTimeout: 5 * time.Second},
		Database: config.DatabaseConfig{Backend: "memory"},
		Auth: config.AuthConfig{
			JWTSecret:            "app-test-secret-that-is-long-enough",
			TokenLifetimeMinutes: 60,
		},
		Inbox: config.InboxConfig{
			ClaimTimeout:       time.Minute,
			DefaultMaxAttempts: 3,
			SweepSchedule:      "@every 1h",
			Backoff: config.BackoffConfig{
				BaseDelay:  time.Second,
				Multiplier: 2,
				MaxDelay:   time.Minute,
			},
		},
		Worker: config.WorkerConfig{PollInterval: time.Second},
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *application {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	app, err := newApplication(context.Background(), cfg, log)
	require.NoError(t, err)
	return app
}

func TestNewApplication_InvalidConfig(t *testing.T) {
	t.Parallel()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := testAppConfig()
	cfg.Auth.JWTSecret = "short"
	_, err := newApplication(context.Background(), cfg, log)
	assert.ErrorContains(t, err, "JWT service")

	cfg = testAppConfig()
	cfg.Inbox.SweepSchedule = "not a schedule"
	_, err = newApplication(context.Background(), cfg, log)
	assert.ErrorContains(t, err, "invalid sweep schedule")
}

func TestRouter_PublicEndpoints(t *testing.T) {
	t.Parallel()
	app := newTestApp(t, testAppConfig())
	srv := httptest.NewServer(app.setupRouter())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")

	resp, err = http.Get(srv.URL + "/api/stats")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRouter_AuthenticatedFlow(t *testing.T) {
	t.Parallel()
	app := newTestApp(t, testAppConfig())
	srv := httptest.NewServer(app.setupRouter())
	defer srv.Close()

	token, err := app.jwtService.GenerateToken(context.Background(), "agent-1")
	require.NoError(t, err)

	do := func(method, path, body string) *http.Response {
		t.Helper()
		req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	resp := do(http.MethodPost, "/api/inboxes/main/tasks", `{"type":"echo","payload":{"a":1}}`)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(http.MethodPost, "/api/inboxes/main/claim", `{}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(apiMiddleware.TraceHeader))

	var claimed struct {
		ID        string  `json:"id"`
		Status    string  `json:"status"`
		ClaimedBy *string `json:"claimed_by"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&claimed))
	assert.Equal(t, "claimed", claimed.Status)
	require.NotNil(t, claimed.ClaimedBy)
	assert.Equal(t, "agent-1", *claimed.ClaimedBy)

	metricsResp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(metricsResp.Body)
	metricsResp.Body.Close()
	assert.Contains(t, string(body), "inbox_claims_total")
}

func TestApplication_RunStopsOnCancel(t *testing.T) {
	t.Parallel()
	cfg := testAppConfig()
	cfg.Worker = config.WorkerConfig{
		Count:        1,
		PollInterval: 10 * time.Millisecond,
		InboxID:      "main",
		AgentID:      "builtin",
	}
	app := newTestApp(t, cfg)
	require.NotNil(t, app.runner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	app.sweeper.Start()
	require.NoError(t, app.runner.Start())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.serve(ctx, ln, app.setupRouter()) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
