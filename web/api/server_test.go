package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/gba/internal/domain"
	"github.com/hochfrequenz/gba/internal/metrics"
	"github.com/hochfrequenz/gba/internal/planstore"
	"github.com/hochfrequenz/gba/internal/runstore"
)

func newTestServer(t *testing.T) (*Server, *planstore.Store, *runstore.Store) {
	t.Helper()
	plans := planstore.New(t.TempDir())
	require.NoError(t, plans.Save("0001_auth", &domain.Plan{
		Feature: "Auth",
		Phases: []domain.Phase{
			{Name: "Setup", Result: &domain.PhaseResult{Status: domain.StatusCompleted, Turns: 2}},
			{Name: "Login"},
		},
	}))
	require.NoError(t, plans.Save("0002_done", &domain.Plan{
		Feature: "Done",
		Phases:  []domain.Phase{{Name: "Only", Result: &domain.PhaseResult{Status: domain.StatusCompleted}}},
		Execution: &domain.ExecutionRecord{
			Status: domain.StatusCompleted,
			PR:     domain.StringPtr("https://github.com/org/repo/pull/5"),
		},
	}))

	runs, err := runstore.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { runs.Close() })

	return NewServer(plans, runs, metrics.New(), nil), plans, runs
}

func TestListFeaturesHandler(t *testing.T) {
	server, _, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/features", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var features []FeatureResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&features))
	require.Len(t, features, 2)

	assert.Equal(t, FeatureResponse{
		Slug: "0001_auth", Feature: "Auth", Phases: 2, Completed: 1, Status: domain.StatusInProgress,
	}, features[0])
	assert.Equal(t, domain.StatusCompleted, features[1].Status)
	assert.Equal(t, "https://github.com/org/repo/pull/5", *features[1].PR)
}

func TestGetFeatureHandler(t *testing.T) {
	server, plans, _ := newTestServer(t)
	require.NoError(t, os.WriteFile(plans.PlanPath("0002_done"), []byte("feature: [\n"), 0644))

	tests := []struct {
		path string
		code int
	}{
		{"/api/features/0001_auth", http.StatusOK},
		{"/api/features/0404_nope", http.StatusNotFound},
		{"/api/features/0002_done", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		server.Handler().ServeHTTP(w, httptest.NewRequest("GET", tt.path, nil))
		assert.Equal(t, tt.code, w.Code, tt.path)
	}

	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/features/0001_auth", nil))
	var plan domain.Plan
	require.NoError(t, json.NewDecoder(w.Body).Decode(&plan))
	assert.Equal(t, "Auth", plan.Feature)
	assert.Equal(t, uint32(2), plan.Phases[0].Result.Turns)
}

func TestRunsHandlers(t *testing.T) {
	server, _, runs := newTestServer(t)
	run, err := runs.StartRun("0001_auth")
	require.NoError(t, err)
	require.NoError(t, runs.RecordEvent(run.ID, domain.Started{Feature: "Auth", TotalPhases: 2}))
	runs.StartRun("0002_done")

	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/runs?slug=0001_auth", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var got []runstore.Run
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, run.ID, got[0].ID)

	w = httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/runs?limit=x", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/runs/"+run.ID+"/events", nil))
	var events []runstore.EventRecord
	require.NoError(t, json.NewDecoder(w.Body).Decode(&events))
	require.Len(t, events, 1)
	assert.Equal(t, "run.started", events[0].Type)
}

func TestMetricsEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)
	server.metrics.RecordRun("started")

	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `gba_runs_total{outcome="started"} 1`)
}

func TestOptionalRoutesDisabled(t *testing.T) {
	server := NewServer(planstore.New(t.TempDir()), nil, nil, nil)
	for _, path := range []string{"/api/runs", "/metrics"} {
		w := httptest.NewRecorder()
		server.Handler().ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Clients() == n }, 3*time.Second, 10*time.Millisecond)
}

func TestSSEHandler(t *testing.T) {
	server, _, _ := newTestServer(t)
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL+"/api/events", nil)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	waitForClients(t, server.Hub(), 1)
	server.Publish("0001_auth", domain.PhaseStarted{Index: 1, Name: "Login"})

	reader := bufio.NewReader(resp.Body)
	eventLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: phase.started\n", eventLine)

	dataLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(dataLine, "data: "))

	var env struct {
		Type string              `json:"type"`
		Slug string              `json:"slug"`
		Data domain.PhaseStarted `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(dataLine, "data: ")), &env))
	assert.Equal(t, "phase.started", env.Type)
	assert.Equal(t, "0001_auth", env.Slug)
	assert.Equal(t, domain.PhaseStarted{Index: 1, Name: "Login"}, env.Data)

	cancel()
	waitForClients(t, server.Hub(), 0)
}

func TestWebSocketHandler(t *testing.T) {
	server, _, _ := newTestServer(t)
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	waitForClients(t, server.Hub(), 1)
	server.Publish("0001_auth", domain.NewErrorEvent(domain.ErrCollaborator, true))

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var env struct {
		Type string            `json:"type"`
		Slug string            `json:"slug"`
		Data domain.ErrorEvent `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, "run.error", env.Type)
	assert.True(t, env.Data.Fatal)
	assert.Equal(t, domain.ErrCollaborator.Error(), env.Data.Detail)

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	waitForClients(t, server.Hub(), 0)
}

func TestHub_DropsSlowClient(t *testing.T) {
	hub := NewHub()
	events, cancel := hub.Subscribe()
	defer cancel()

	for i := 0; i < clientBuffer+1; i++ {
		hub.Broadcast(RunEvent{Type: "x"})
	}
	assert.Equal(t, 0, hub.Clients())

	n := 0
	for range events {
		n++
	}
	assert.Equal(t, clientBuffer, n)
}

func TestServe_Shutdown(t *testing.T) {
	server, _, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}
