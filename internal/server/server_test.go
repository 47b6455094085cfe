package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ShayCichocki/turboswarm/internal/backend"
	"github.com/ShayCichocki/turboswarm/internal/orchestrator"
	"github.com/ShayCichocki/turboswarm/internal/version"
	"github.com/ShayCichocki/turboswarm/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var smallSpec = models.ProjectSpec{
	Name:             "api-test",
	ReplicationCount: 1,
	Parallelization:  models.ParallelSequential,
	Complexity:       models.ComplexitySmall,
}

func setupTestServer(t *testing.T) (*Server, *orchestrator.SessionManager) {
	t.Helper()
	m := orchestrator.NewSessionManager(backend.NewSimulatedRegistry(0))
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return New(m), m
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

func createSession(t *testing.T, s *Server, tasks ...*models.Task) string {
	t.Helper()
	w := do(t, s, http.MethodPost, "/api/sessions", CreateSessionRequest{UserID: "u1", Spec: smallSpec, Tasks: tasks})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status %d: %s", w.Code, w.Body.String())
	}
	return decode[CreateSessionResponse](t, w).SessionID
}

func waitDone(t *testing.T, m *orchestrator.SessionManager, id string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := m.Wait(ctx, id); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestHandleVersion(t *testing.T) {
	s, _ := setupTestServer(t)
	w := do(t, s, http.MethodGet, "/api/version", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if got := decode[VersionResponse](t, w).Version; got != version.Get() {
		t.Errorf("version = %q, want %q", got, version.Get())
	}
}

func TestHandleMetrics(t *testing.T) {
	s, _ := setupTestServer(t)
	createSession(t, s)

	w := do(t, s, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "turboswarm_agents_spawned_total") {
		t.Error("metrics output lacks agent counters")
	}
}

func TestSessionLifecycle(t *testing.T) {
	s, m := setupTestServer(t)
	id := createSession(t, s,
		&models.Task{ID: "A"},
		&models.Task{ID: "B", DependsOn: []string{"A"}},
	)

	waitDone(t, m, id)

	w := do(t, s, http.MethodGet, "/api/sessions/"+id, nil)
	report := decode[models.StatusReport](t, w)
	if report.Status != models.SessionCompleted || report.Metrics.TasksCompleted != 2 {
		t.Errorf("report = %+v", report)
	}

	w = do(t, s, http.MethodGet, "/api/sessions/"+id+"/tasks", nil)
	if tasks := decode[[]*models.Task](t, w); len(tasks) != 2 {
		t.Errorf("got %d tasks", len(tasks))
	}

	w = do(t, s, http.MethodGet, "/api/sessions/"+id+"/tasks/B", nil)
	if got := decode[models.Task](t, w); got.Status != models.TaskStatusCompleted {
		t.Errorf("B = %s", got.Status)
	}

	w = do(t, s, http.MethodGet, "/api/sessions/"+id+"/state/results/A", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("state: status %d: %s", w.Code, w.Body.String())
	}
	if e := decode[models.StateEntry](t, w); e.Key != "results/A" || e.Value == "" {
		t.Errorf("entry = %+v", e)
	}

	w = do(t, s, http.MethodPost, "/api/sessions/"+id+"/pause", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("pause completed session: status %d", w.Code)
	}

	w = do(t, s, http.MethodDelete, "/api/sessions/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("destroy: status %d", w.Code)
	}
	if final := decode[models.SessionMetrics](t, w); final.AgentsSpawned != 3 {
		t.Errorf("final = %+v", final)
	}

	w = do(t, s, http.MethodGet, "/api/sessions/"+id, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("after destroy: status %d", w.Code)
	}
}

func TestCreateSessionErrors(t *testing.T) {
	s, m := setupTestServer(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"missing user", CreateSessionRequest{Spec: smallSpec}, http.StatusBadRequest},
		{"invalid spec", CreateSessionRequest{UserID: "u", Spec: models.ProjectSpec{ReplicationCount: 1}}, http.StatusBadRequest},
		{"cyclic tasks", CreateSessionRequest{UserID: "u", Spec: smallSpec, Tasks: []*models.Task{
			{ID: "X", DependsOn: []string{"Y"}},
			{ID: "Y", DependsOn: []string{"X"}},
		}}, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, s, http.MethodPost, "/api/sessions", tc.body)
			if w.Code != tc.want {
				t.Errorf("status %d, want %d: %s", w.Code, tc.want, w.Body.String())
			}
		})
	}
	if n := len(m.ListSessions()); n != 0 {
		t.Errorf("%d sessions left behind", n)
	}
}

func TestAddTasksErrors(t *testing.T) {
	s, _ := setupTestServer(t)
	id := createSession(t, s)

	w := do(t, s, http.MethodPost, "/api/sessions/"+id+"/tasks", AddTasksRequest{Tasks: []*models.Task{{ID: "A", DependsOn: []string{"ghost"}}}})
	if w.Code != http.StatusBadRequest || decode[ErrorResponse](t, w).Code != "UNKNOWN_DEPENDENCY" {
		t.Errorf("unknown dependency: %d %s", w.Code, w.Body.String())
	}

	w = do(t, s, http.MethodPost, "/api/sessions/missing/tasks", AddTasksRequest{Tasks: []*models.Task{{ID: "A"}}})
	if w.Code != http.StatusNotFound {
		t.Errorf("missing session: status %d", w.Code)
	}

	w = do(t, s, http.MethodPost, "/api/sessions/"+id+"/tasks", map[string]any{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty batch: status %d", w.Code)
	}
}

func TestStateAndAgents(t *testing.T) {
	s, _ := setupTestServer(t)
	id := createSession(t, s)

	w := do(t, s, http.MethodPut, "/api/sessions/"+id+"/state/input/brief", SetStateRequest{Value: "hello"})
	if w.Code != http.StatusOK {
		t.Fatalf("put state: %d %s", w.Code, w.Body.String())
	}
	if e := decode[models.StateEntry](t, w); e.Writer != "user:u1" || e.Version != 1 {
		t.Errorf("entry = %+v", e)
	}
	w = do(t, s, http.MethodGet, "/api/sessions/"+id+"/state/input/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing key: status %d", w.Code)
	}

	w = do(t, s, http.MethodGet, "/api/sessions/"+id+"/agents", nil)
	agents := decode[[]models.AgentHandle](t, w)
	if len(agents) != 3 {
		t.Fatalf("got %d agents", len(agents))
	}

	w = do(t, s, http.MethodPost, "/api/sessions/"+id+"/agents", SpawnAgentRequest{Role: models.RoleVerifier})
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("spawn over cap: status %d", w.Code)
	}

	w = do(t, s, http.MethodDelete, "/api/sessions/"+id+"/agents/"+agents[0].ID, nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("terminate: status %d", w.Code)
	}
	w = do(t, s, http.MethodPost, "/api/sessions/"+id+"/agents", SpawnAgentRequest{Role: models.RoleVerifier})
	if w.Code != http.StatusCreated {
		t.Errorf("spawn verifier: status %d %s", w.Code, w.Body.String())
	}
}

func TestEventsWebsocket(t *testing.T) {
	s, m := setupTestServer(t)
	id := createSession(t, s)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/sessions/" + id + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the handler time to subscribe before work starts.
	time.Sleep(50 * time.Millisecond)
	if _, err := m.AddTasks(id, &models.Task{ID: "A"}); err != nil {
		t.Fatal(err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		var ev orchestrator.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read: %v", err)
		}
		if ev.Type == orchestrator.EventTaskCompleted && ev.TaskID == "A" {
			return
		}
	}
}

func TestEventsUnknownSession(t *testing.T) {
	s, _ := setupTestServer(t)
	w := do(t, s, http.MethodGet, "/api/sessions/nope/events", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status %d", w.Code)
	}
}
