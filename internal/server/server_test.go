package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/me/framesched/internal/config"
	"github.com/me/framesched/internal/store"
	"github.com/me/framesched/pkg/model"
)

type fakeController struct {
	mu         sync.Mutex
	frameDelay time.Duration
	stopped    bool
}

func (f *fakeController) Stats() model.RunnerStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := "running"
	if f.stopped {
		state = "draining"
	}
	return model.RunnerStats{State: state, Cycles: 42, FrameDelay: f.frameDelay, Workers: 2, Jobs: 3}
}

func (f *fakeController) WorkerStats() []model.WorkerStats {
	return []model.WorkerStats{{ID: 0, Core: 0, Active: true}, {ID: 1, Core: 1, Active: true}}
}

func (f *fakeController) SetFrameDelay(d time.Duration) {
	f.mu.Lock()
	f.frameDelay = d
	f.mu.Unlock()
}

func (f *fakeController) SignalStop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

type fakeSamples struct {
	samples []model.CycleSample
}

func (f *fakeSamples) Recent(n int) []model.CycleSample {
	if n > len(f.samples) {
		n = len(f.samples)
	}
	return f.samples[len(f.samples)-n:]
}

func (f *fakeSamples) Latest() (model.CycleSample, bool) {
	if len(f.samples) == 0 {
		return model.CycleSample{}, false
	}
	return f.samples[len(f.samples)-1], true
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testServer(opts ...Option) (*Server, *fakeController) {
	ctl := &fakeController{frameDelay: time.Second / 60}
	return New(config.Default().Server, ctl, testLogger(), opts...), ctl
}

// envelope is used to decode the standard response envelope.
type envelope struct {
	Status     string            `json:"status"`
	RequestID  string            `json:"request_id"`
	Timestamp  string            `json:"timestamp"`
	Data       json.RawMessage   `json:"data"`
	Pagination *model.Pagination `json:"pagination"`
	Error      *model.APIError   `json:"error"`
}

func do(t *testing.T, srv *Server, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	var env envelope
	json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func doGet(t *testing.T, srv *Server, path string) envelope {
	t.Helper()
	w, env := do(t, srv, "GET", path, "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET %s: status=%d, want 200, body=%s", path, w.Code, w.Body.String())
	}
	return env
}

func TestDiscovery(t *testing.T) {
	srv, _ := testServer()
	env := doGet(t, srv, "/api/v1/")
	if env.Status != "ok" {
		t.Errorf("status = %q, want ok", env.Status)
	}
	if !strings.HasPrefix(env.RequestID, "req_") {
		t.Errorf("request_id = %q, want req_ prefix", env.RequestID)
	}

	var data discoveryResponse
	json.Unmarshal(env.Data, &data)
	if data.Name != "framesched API" {
		t.Errorf("name = %q, want framesched API", data.Name)
	}
	if len(data.Endpoints) < 8 {
		t.Errorf("endpoints count = %d, want >= 8", len(data.Endpoints))
	}
}

func TestHealth(t *testing.T) {
	srv, _ := testServer()
	env := doGet(t, srv, "/api/v1/health")

	var data healthResponse
	json.Unmarshal(env.Data, &data)
	if data.Status != "healthy" {
		t.Errorf("status = %q, want healthy", data.Status)
	}
	if data.Scheduler != "running" {
		t.Errorf("scheduler = %q, want running", data.Scheduler)
	}
	if data.Store != "disabled" {
		t.Errorf("store = %q, want disabled", data.Store)
	}
	if data.GoVersion == "" {
		t.Error("go_version is empty")
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv, _ := testServer()
	w, env := do(t, srv, "GET", "/api/v1/health", "")
	if got := w.Header().Get("X-Request-ID"); got == "" || got != env.RequestID {
		t.Errorf("X-Request-ID = %q, envelope request_id = %q", got, env.RequestID)
	}
}

func TestStatsAndWorkers(t *testing.T) {
	srv, _ := testServer()

	var stats model.RunnerStats
	json.Unmarshal(doGet(t, srv, "/api/v1/stats").Data, &stats)
	if stats.Cycles != 42 || stats.Workers != 2 || stats.Jobs != 3 {
		t.Errorf("stats = %+v", stats)
	}

	var workers []model.WorkerStats
	json.Unmarshal(doGet(t, srv, "/api/v1/workers").Data, &workers)
	if len(workers) != 2 || workers[1].Core != 1 {
		t.Errorf("workers = %+v", workers)
	}
}

func TestSetRate(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantDelay  time.Duration
	}{
		{"fps", `{"fps":100}`, http.StatusOK, 10 * time.Millisecond},
		{"fps zero falls back to default", `{"fps":0}`, http.StatusOK, time.Second / config.DefaultFPS},
		{"frame delay", `{"frame_delay":"25ms"}`, http.StatusOK, 25 * time.Millisecond},
		{"zero frame delay", `{"frame_delay":"0s"}`, http.StatusOK, 0},
		{"negative fps", `{"fps":-1}`, http.StatusBadRequest, 0},
		{"negative frame delay", `{"frame_delay":"-5ms"}`, http.StatusBadRequest, 0},
		{"bad duration", `{"frame_delay":"soon"}`, http.StatusBadRequest, 0},
		{"both", `{"fps":30,"frame_delay":"5ms"}`, http.StatusBadRequest, 0},
		{"neither", `{}`, http.StatusBadRequest, 0},
		{"invalid json", `{`, http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, ctl := testServer()
			before := ctl.frameDelay

			w, env := do(t, srv, "PUT", "/api/v1/rate", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body=%s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				if env.Error == nil || env.Error.Code != model.ErrValidation {
					t.Errorf("error = %+v, want VALIDATION_ERROR", env.Error)
				}
				if ctl.frameDelay != before {
					t.Errorf("frame delay changed on a rejected request")
				}
				return
			}
			if ctl.frameDelay != tt.wantDelay {
				t.Errorf("frame delay = %s, want %s", ctl.frameDelay, tt.wantDelay)
			}
		})
	}
}

func TestStop(t *testing.T) {
	srv, ctl := testServer()
	w, env := do(t, srv, "POST", "/api/v1/stop", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	if !ctl.stopped {
		t.Error("SignalStop was not called")
	}
	if env.Status != "ok" {
		t.Errorf("status = %q, want ok", env.Status)
	}
}

func testSamples(n int) *fakeSamples {
	f := &fakeSamples{}
	for i := 1; i <= n; i++ {
		f.samples = append(f.samples, model.CycleSample{
			Cycle: uint64(i), Delta: 10 * time.Millisecond, FrameDelay: 10 * time.Millisecond, Rate: 100,
		})
	}
	return f
}

func TestSamples(t *testing.T) {
	srv, _ := testServer(WithSamples(testSamples(10)))

	var got []model.CycleSample
	json.Unmarshal(doGet(t, srv, "/api/v1/samples?limit=3").Data, &got)
	if len(got) != 3 || got[0].Cycle != 8 || got[2].Cycle != 10 {
		t.Errorf("samples = %+v, want cycles 8..10", got)
	}

	w, env := do(t, srv, "GET", "/api/v1/samples?limit=abc", "")
	if w.Code != http.StatusBadRequest || env.Error == nil {
		t.Errorf("bad limit: status=%d error=%+v", w.Code, env.Error)
	}
}

func TestSamples_DisabledTelemetry(t *testing.T) {
	srv, _ := testServer()
	w, env := do(t, srv, "GET", "/api/v1/samples", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if env.Error == nil || env.Error.Code != model.ErrNotFound {
		t.Errorf("error = %+v, want NOT_FOUND", env.Error)
	}
}

func TestSSESamples(t *testing.T) {
	srv, _ := testServer(WithSamples(testSamples(2)), WithSSEInterval(10*time.Millisecond))
	ts := httptest.NewServer(srv)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", ts.URL+"/api/v1/sse/samples", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET sse: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	sc := bufio.NewScanner(resp.Body)
	var event, data string
	for sc.Scan() {
		line := sc.Text()
		if v, ok := strings.CutPrefix(line, "event: "); ok {
			event = v
		}
		if v, ok := strings.CutPrefix(line, "data: "); ok {
			data = v
			break
		}
	}
	if event != "sample" {
		t.Fatalf("event = %q, want sample", event)
	}
	var cs model.CycleSample
	if err := json.Unmarshal([]byte(data), &cs); err != nil {
		t.Fatalf("decode sample: %v", err)
	}
	if cs.Cycle != 2 {
		t.Errorf("Cycle = %d, want 2", cs.Cycle)
	}
}

func testStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:", testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRuns(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	started := time.Now().UTC()
	if err := st.CreateRun(ctx, &model.Run{ID: "run_a", Workers: 2, FrameDelay: 10 * time.Millisecond, StartedAt: started}); err != nil {
		t.Fatal(err)
	}
	if err := st.RecordSamples(ctx, "run_a", testSamples(5).samples); err != nil {
		t.Fatal(err)
	}
	srv, _ := testServer(WithStore(st, "run_a"))

	env := doGet(t, srv, "/api/v1/runs/")
	var runs []model.Run
	json.Unmarshal(env.Data, &runs)
	if len(runs) != 1 || runs[0].ID != "run_a" || runs[0].SampleCount != 5 {
		t.Errorf("runs = %+v", runs)
	}
	if env.Pagination == nil || env.Pagination.Total != 1 || env.Pagination.HasMore {
		t.Errorf("pagination = %+v", env.Pagination)
	}

	var run model.Run
	json.Unmarshal(doGet(t, srv, "/api/v1/runs/run_a").Data, &run)
	if run.Workers != 2 {
		t.Errorf("run = %+v", run)
	}

	var samples []model.CycleSample
	json.Unmarshal(doGet(t, srv, "/api/v1/runs/run_a/samples?limit=2").Data, &samples)
	if len(samples) != 2 || samples[1].Cycle != 5 {
		t.Errorf("samples = %+v, want cycles 4..5", samples)
	}

	w, env := do(t, srv, "GET", "/api/v1/runs/run_missing", "")
	if w.Code != http.StatusNotFound || env.Error == nil || env.Error.Code != model.ErrNotFound {
		t.Errorf("missing run: status=%d error=%+v", w.Code, env.Error)
	}
	w, _ = do(t, srv, "GET", "/api/v1/runs/run_missing/samples", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing run samples: status=%d, want 404", w.Code)
	}
}

func TestRuns_NoStore(t *testing.T) {
	srv, _ := testServer()
	w, _ := do(t, srv, "GET", "/api/v1/runs/", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
