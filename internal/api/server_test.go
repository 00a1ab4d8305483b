package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jordanhubbard/spindle/internal/auth"
	"github.com/jordanhubbard/spindle/internal/cache"
	"github.com/jordanhubbard/spindle/internal/events"
	"github.com/jordanhubbard/spindle/internal/gate"
	"github.com/jordanhubbard/spindle/internal/knowledge"
	"github.com/jordanhubbard/spindle/internal/lessons"
	"github.com/jordanhubbard/spindle/internal/logging"
	"github.com/jordanhubbard/spindle/internal/orchestrator"
	"github.com/jordanhubbard/spindle/internal/queue"
	"github.com/jordanhubbard/spindle/internal/router"
	"github.com/jordanhubbard/spindle/internal/skills"
	"github.com/jordanhubbard/spindle/internal/worker"
	"github.com/jordanhubbard/spindle/pkg/config"
	"github.com/jordanhubbard/spindle/pkg/models"
)

func newTestServer(t *testing.T, enableAuth bool) (*httptest.Server, *worker.Registry) {
	t.Helper()
	cfg := config.Default()
	cfg.Queue.ConcurrencyLimit = 2
	cfg.Queue.DispatchPoll = 10 * time.Millisecond
	cfg.Security.EnableAuth = enableAuth
	cfg.Security.JWTSecret = "test-secret"

	lm := lessons.NewManager(nil, 100)
	t.Cleanup(lm.Close)
	mc := cache.NewMemoryCache(100)
	reg := skills.NewRegistry()
	workers := worker.NewRegistry(5 * time.Second)
	kb := knowledge.NewMemoryBase(100)

	q := queue.NewManager(cfg.Queue, &models.QueueState{})
	t.Cleanup(q.Stop)

	orch := orchestrator.New(orchestrator.Deps{
		Config:    cfg,
		Queue:     q,
		Gate:      gate.New(lm, mc, reg, cfg.Gate),
		Router:    router.New(cfg.Flows),
		Workers:   workers,
		Skills:    reg,
		Knowledge: kb,
		Lessons:   lm,
		Cache:     mc,
		Bus:       events.NewBus(),
	})
	orch.Start()

	am := auth.NewManager(cfg.Security.JWTSecret)
	logMgr := logging.NewManager(nil)

	srv := NewServer(orch, am, logMgr, workers, reg, cfg)
	ts := httptest.NewServer(srv.SetupRoutes())
	t.Cleanup(ts.Close)
	return ts, workers
}

func submitTask(t *testing.T, ts *httptest.Server, body SubmitTaskRequest) SubmitTaskResponse {
	t.Helper()
	data, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+"/api/v1/tasks", "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST /api/v1/tasks failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var out SubmitTaskResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func waitTaskTerminal(t *testing.T, ts *httptest.Server, id string) models.Task {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(ts.URL + "/api/v1/tasks/" + id)
		if err != nil {
			t.Fatalf("GET task failed: %v", err)
		}
		var task models.Task
		err = json.NewDecoder(resp.Body).Decode(&task)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("decode task: %v", err)
		}
		if task.Status.IsTerminal() {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("task never reached a terminal status")
	return models.Task{}
}

func TestSubmitAndFetchTask(t *testing.T) {
	ts, workers := newTestServer(t, false)
	workers.Register("generalist", worker.NewStubInvoker("the answer"))

	out := submitTask(t, ts, SubmitTaskRequest{Content: "explain channels"})
	if out.ID == "" || out.Status != models.TaskStatusQueued {
		t.Fatalf("unexpected submit response: %+v", out)
	}

	task := waitTaskTerminal(t, ts, out.ID)
	if task.Status != models.TaskStatusCompleted {
		t.Fatalf("expected completed, got %s", task.Status)
	}
	if task.Result == nil || task.Result.Text != "the answer" {
		t.Fatalf("unexpected result: %+v", task.Result)
	}
}

func TestSubmitValidation(t *testing.T) {
	ts, _ := newTestServer(t, false)

	resp, err := http.Post(ts.URL+"/api/v1/tasks", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty content should 400, got %d", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/api/v1/tasks", "application/json", strings.NewReader(`not json`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad JSON should 400, got %d", resp.StatusCode)
	}
}

func TestUnknownTaskReturns404(t *testing.T) {
	ts, _ := newTestServer(t, false)

	resp, err := http.Get(ts.URL + "/api/v1/tasks/nope")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/api/v1/tasks/nope/abort", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("abort of unknown task should 404, got %d", resp.StatusCode)
	}
}

func TestQueueControlEndpoints(t *testing.T) {
	ts, _ := newTestServer(t, false)

	post := func(path string) *http.Response {
		resp, err := http.Post(ts.URL+path, "application/json", nil)
		if err != nil {
			t.Fatalf("POST %s failed: %v", path, err)
		}
		return resp
	}

	resp := post("/api/v1/queue/pause")
	var state models.QueueState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if !state.Paused {
		t.Error("queue should be paused")
	}

	// Paused queue rejects submissions with 503
	data, _ := json.Marshal(SubmitTaskRequest{Content: "rejected"})
	r, err := http.Post(ts.URL+"/api/v1/tasks", "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	r.Body.Close()
	if r.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("paused queue should 503, got %d", r.StatusCode)
	}

	resp = post("/api/v1/queue/resume")
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if state.Paused {
		t.Error("queue should be resumed")
	}

	resp = post("/api/v1/queue/purge")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("purge should 200, got %d", resp.StatusCode)
	}

	resp = post("/api/v1/queue/emergency-stop")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("emergency stop should 200, got %d", resp.StatusCode)
	}

	// GET status works and reflects the paused state after emergency stop
	resp, err = http.Get(ts.URL + "/api/v1/queue/status")
	if err != nil {
		t.Fatal(err)
	}
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if !state.Paused {
		t.Error("queue should be paused after emergency stop")
	}
}

// gatedInvoker blocks generation until released so tests can attach a
// stream subscriber before any output is produced.
type gatedInvoker struct {
	release chan struct{}
	text    string
}

func (g *gatedInvoker) Invoke(ctx context.Context, req *worker.Request, onDelta func(string)) (*worker.Response, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	for _, part := range strings.SplitAfter(g.text, " ") {
		if onDelta != nil {
			onDelta(part)
		}
	}
	return &worker.Response{Text: g.text}, nil
}

func TestTaskStreamWebSocket(t *testing.T) {
	ts, workers := newTestServer(t, false)
	gen := &gatedInvoker{release: make(chan struct{}), text: "streamed answer"}
	workers.Register("generalist", gen)

	out := submitTask(t, ts, SubmitTaskRequest{Content: "explain goroutines"})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/tasks/" + out.ID + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	defer conn.Close()
	close(gen.release)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var sawDelta, sawTerminal bool
	var finalText string
	for !sawTerminal {
		var ev models.StreamEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read stream event: %v", err)
		}
		if ev.Delta != "" {
			sawDelta = true
		}
		if ev.Terminal {
			sawTerminal = true
			if ev.Result == nil {
				t.Fatal("terminal event should carry the result")
			}
			finalText = ev.Result.Text
		}
	}

	if !sawDelta {
		t.Error("expected at least one delta frame")
	}
	if finalText != "streamed answer" {
		t.Errorf("unexpected final text: %q", finalText)
	}
}

func TestStreamUnknownTask404(t *testing.T) {
	ts, _ := newTestServer(t, false)

	resp, err := http.Get(ts.URL + "/api/v1/tasks/nope/stream")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestAuthRequiredWhenEnabled(t *testing.T) {
	ts, _ := newTestServer(t, true)

	// Protected endpoint without credentials
	resp, err := http.Get(ts.URL + "/api/v1/queue/status")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	// Health stays open
	resp, err = http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health should stay open, got %d", resp.StatusCode)
	}

	// Login, then retry with the token
	resp, err = http.Post(ts.URL+"/auth/login", "application/json",
		strings.NewReader(`{"username":"admin","password":"admin"}`))
	if err != nil {
		t.Fatal(err)
	}
	var login auth.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&login); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/queue/status", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", resp.StatusCode)
	}
}

func TestWorkersAndSkillsEndpoints(t *testing.T) {
	ts, workers := newTestServer(t, false)
	workers.Register("coder", worker.NewStubInvoker("x"))

	resp, err := http.Get(ts.URL + "/api/v1/workers")
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Roles []string `json:"roles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if len(body.Roles) != 1 || body.Roles[0] != "coder" {
		t.Errorf("unexpected roles: %v", body.Roles)
	}

	resp, err = http.Get(ts.URL + "/api/v1/skills")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("skills endpoint should 200, got %d", resp.StatusCode)
	}
}

func TestLogsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, false)

	resp, err := http.Get(ts.URL + "/api/v1/logs?limit=5")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("logs endpoint should 200, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/v1/logs?limit=bogus")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit should 400, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + fmt.Sprintf("/api/v1/logs?since=%s", "not-a-time"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad since should 400, got %d", resp.StatusCode)
	}
}
