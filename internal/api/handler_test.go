package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"simgateway/internal/config"
	"simgateway/internal/health"
	"simgateway/internal/job"
	"simgateway/internal/lifecycle"
	"simgateway/internal/remote"
	"simgateway/internal/remote/remotetest"
	"simgateway/internal/source"
	"simgateway/internal/staging"
	"simgateway/internal/store"
)

type testServer struct {
	router http.Handler
	repo   *store.Memory
	dialer *remotetest.Dialer
}

func newTestServer(t *testing.T, apiKey string, rules ...remotetest.Rule) *testServer {
	t.Helper()
	repo := store.NewMemory()
	d := remotetest.NewDialer(rules...)
	cfg := config.RemoteConfig{Host: "hpc", Port: 22, Username: "test_user", SimulationRoot: "/home/test_user"}
	m := lifecycle.NewManager(cfg, lifecycle.Deps{
		Dialer:     d,
		Repository: repo,
		Pipeline:   staging.NewPipeline(source.NewResolver(config.StorageConfig{}), t.TempDir()),
	})
	router := NewRouter(RouterConfig{
		Repository:    repo,
		Lifecycle:     m,
		HealthChecker: health.NewChecker(health.Check{Name: "store", Checker: repo, Required: true}),
		APIKey:        apiKey,
	})
	return &testServer{router: router, repo: repo, dialer: d}
}

func (s *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// seedJob stores a job whose scripts exist on local disk.
func (s *testServer) seedJob(t *testing.T, id string) *job.Job {
	t.Helper()
	dir := t.TempDir()
	var scripts []job.Script
	for _, a := range job.Actions {
		p := filepath.Join(dir, string(a)+".sh")
		if err := os.WriteFile(p, []byte("echo "+string(a)+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		scripts = append(scripts, job.Script{Action: a, SourceURI: p, DestinationPath: "scripts"})
	}
	j, err := s.repo.Create(context.Background(), &job.Job{
		ID:      id,
		Case:    &job.CaseSummary{ID: "c1", Label: "Blue Blood"},
		Scripts: scripts,
	})
	if err != nil {
		t.Fatal(err)
	}
	return j
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return v
}

func TestHandler_Livez(t *testing.T) {
	t.Parallel()
	handler := &Handler{
		health: health.NewChecker(),
	}

	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	w := httptest.NewRecorder()

	handler.Livez(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	response := decode[health.Response](t, w)
	if response.Status != health.StatusHealthy {
		t.Errorf("Expected status healthy, got %s", response.Status)
	}
}

func TestHandler_Readyz(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		checker *health.Checker
		want    int
	}{
		{"no dependencies", health.NewChecker(), http.StatusServiceUnavailable},
		{"store ready", health.NewChecker(health.Check{Name: "store", Checker: store.NewMemory(), Required: true}), http.StatusOK},
		{"remote down is degraded", health.NewChecker(
			health.Check{Name: "store", Checker: store.NewMemory(), Required: true},
			health.Check{Name: "remote", Checker: health.ReadinessFunc(func(context.Context) error {
				return errors.New("connection refused")
			})},
		), http.StatusOK},
		{"store down", health.NewChecker(health.Check{Name: "store", Required: true, Checker: health.ReadinessFunc(func(context.Context) error {
			return errors.New("database is locked")
		})}), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			handler := &Handler{health: tt.checker}
			w := httptest.NewRecorder()
			handler.Readyz(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestHandler_CreateJob(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "")

	w := s.do(t, http.MethodPost, "/api/jobs", `{"id":"job-1","case":{"label":"Pipe Flow"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	created := decode[job.Job](t, w)
	if created.ID != "job-1" || created.Status != job.StatusNew {
		t.Errorf("Unexpected job %+v", created)
	}
	if created.CreationDatetime == nil {
		t.Error("Expected creation_datetime to be set")
	}

	w = s.do(t, http.MethodPost, "/api/jobs", `{"id":"job-1","case":{"label":"Pipe Flow"}}`)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected duplicate to be %d, got %d", http.StatusConflict, w.Code)
	}
}

func TestHandler_CreateJob_AssignsID(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "")

	w := s.do(t, http.MethodPost, "/api/jobs", `{"case":{"label":"Pipe Flow"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if created := decode[job.Job](t, w); created.ID == "" {
		t.Error("Expected an assigned ID")
	}
}

func TestHandler_CreateJob_BadRequests(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", "invalid json"},
		{"malformed json", `{"id": "test", "case": label}`},
		{"missing case label", `{"id":"job-1"}`},
		{"bad id", `{"id":"-job","case":{"label":"x"}}`},
		{"unknown status", `{"case":{"label":"x"},"status":"Paused"}`},
		{"escaping destination", `{"case":{"label":"x"},"inputs":[{"source_uri":"/a","destination_path":"../up"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestServer(t, "")
			w := s.do(t, http.MethodPost, "/api/jobs", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
			}
			if resp := decode[map[string]string](t, w); resp["error"] == "" {
				t.Error("Expected error message in response")
			}
		})
	}
}

func TestHandler_CreateJob_EmptyBody(t *testing.T) {
	t.Parallel()
	handler := &Handler{}

	req := httptest.NewRequest(http.MethodPost, "/api/jobs", bytes.NewBufferString(""))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	handler.CreateJob(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestHandler_ListJobs(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "")

	w := s.do(t, http.MethodGet, "/api/jobs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Errorf("Expected empty array, got %s", body)
	}

	s.seedJob(t, "a")
	s.seedJob(t, "b")
	w = s.do(t, http.MethodGet, "/api/jobs", "")
	if jobs := decode[[]job.Job](t, w); len(jobs) != 2 {
		t.Errorf("Expected 2 jobs, got %d", len(jobs))
	}
}

func TestHandler_GetJob(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "")
	s.seedJob(t, "job-1")

	w := s.do(t, http.MethodGet, "/api/jobs/job-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	if got := decode[job.Job](t, w); got.ID != "job-1" {
		t.Errorf("Expected job-1, got %s", got.ID)
	}

	w = s.do(t, http.MethodGet, "/api/jobs/missing", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestHandler_UpdateJob(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "")
	s.seedJob(t, "job-1")

	w := s.do(t, http.MethodPut, "/api/jobs/job-1", `{"case":{"label":"Renamed"},"status":"Running","backend_identifier":"42.pbs"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	updated := decode[job.Job](t, w)
	if updated.ID != "job-1" || updated.Status != job.StatusRunning || updated.BackendIdentifier != "42.pbs" {
		t.Errorf("Unexpected job %+v", updated)
	}

	w = s.do(t, http.MethodPut, "/api/jobs/missing", `{"case":{"label":"x"}}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestHandler_UpdateJob_IDMismatch(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "")
	s.seedJob(t, "job-1")

	w := s.do(t, http.MethodPut, "/api/jobs/job-1", `{"id":"job-2","case":{"label":"x"}}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected status %d, got %d", http.StatusConflict, w.Code)
	}
	resp := decode[map[string]string](t, w)
	if !strings.Contains(resp["error"], "Job ID in URL (job-1) does not match job ID in message JSON (job-2).") {
		t.Errorf("Unexpected error %q", resp["error"])
	}
}

func TestHandler_DeleteJob(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "")
	s.seedJob(t, "job-1")

	w := s.do(t, http.MethodDelete, "/api/jobs/job-1", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status %d, got %d", http.StatusNoContent, w.Code)
	}

	w = s.do(t, http.MethodDelete, "/api/jobs/job-1", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestHandler_Run(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "", remotetest.Rule{
		Contains: "RUN.sh",
		Result:   remote.Result{Stdout: "5305301.cx1b\n"},
	})
	s.seedJob(t, "job-1")

	w := s.do(t, http.MethodPost, "/api/run/job-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	out := decode[lifecycle.Outcome](t, w)
	if out.Stdout != "5305301.cx1b\n" || out.ExitCode != 0 {
		t.Errorf("Unexpected outcome %+v", out)
	}

	stored, err := s.repo.Get(context.Background(), "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != job.StatusQueued || stored.BackendIdentifier != "5305301.cx1b" {
		t.Errorf("Expected queued job with backend id, got %s %q", stored.Status, stored.BackendIdentifier)
	}
}

func TestHandler_Progress_DecodesJSON(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "", remotetest.Rule{
		Contains: "PROGRESS.sh",
		Result:   remote.Result{Stdout: `{"percent": 40}`},
	})
	s.seedJob(t, "job-1")

	w := s.do(t, http.MethodGet, "/api/progress/job-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	var out struct {
		Stdout map[string]float64 `json:"stdout"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Stdout["percent"] != 40 {
		t.Errorf("Expected decoded stdout, got %v", out.Stdout)
	}
}

func TestHandler_Cancel_NonZeroExit(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "", remotetest.Rule{
		Contains: "CANCEL.sh",
		Result:   remote.Result{Stderr: "qdel: Unknown Job Id", ExitCode: 153},
	})
	s.seedJob(t, "job-1")

	w := s.do(t, http.MethodPost, "/api/cancel/job-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d", http.StatusOK, w.Code)
	}
	out := decode[lifecycle.Outcome](t, w)
	if out.ExitCode != 153 || out.Stderr != "qdel: Unknown Job Id" {
		t.Errorf("Unexpected outcome %+v", out)
	}
}

func TestHandler_Action_Errors(t *testing.T) {
	t.Parallel()

	t.Run("unknown job", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, "")
		w := s.do(t, http.MethodPost, "/api/setup/missing", "")
		if w.Code != http.StatusNotFound {
			t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
		}
		if s.dialer.Dials() != 0 {
			t.Errorf("Expected no remote session, got %d", s.dialer.Dials())
		}
	})

	t.Run("missing script", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, "")
		j := s.seedJob(t, "job-1")
		j.Scripts = j.Scripts[:1]
		if _, err := s.repo.Update(context.Background(), j); err != nil {
			t.Fatal(err)
		}

		w := s.do(t, http.MethodGet, "/api/data/job-1", "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
		}
		resp := decode[map[string]string](t, w)
		if !strings.Contains(resp["message"], "DATA") {
			t.Errorf("Expected message naming the action, got %v", resp)
		}
	})

	t.Run("remote unavailable", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, "")
		s.dialer.DialErr = errors.New("connection refused")
		s.seedJob(t, "job-1")

		w := s.do(t, http.MethodGet, "/api/progress/job-1", "")
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
		}
	})

	t.Run("wrong method", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(t, "")
		w := s.do(t, http.MethodGet, "/api/run/job-1", "")
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("Expected status %d, got %d", http.StatusMethodNotAllowed, w.Code)
		}
	})
}

func TestHandler_RefreshStatus(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "", remotetest.Rule{
		Contains: "qstat",
		Result:   remote.Result{Stdout: "R\n"},
	})
	j := s.seedJob(t, "job-1")
	j.Status = job.StatusQueued
	j.BackendIdentifier = "77.pbs"
	if _, err := s.repo.Update(context.Background(), j); err != nil {
		t.Fatal(err)
	}

	w := s.do(t, http.MethodPost, "/api/status/job-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	if got := decode[job.Job](t, w); got.Status != job.StatusRunning {
		t.Errorf("Expected Running, got %s", got.Status)
	}
}

func TestRouter_Auth(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "secret")

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic secret", http.StatusUnauthorized},
		{"wrong key", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer secret", http.StatusOK},
		{"scheme is case insensitive", "bearer secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			s.router.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, w.Code)
			}
		})
	}

	// Probes stay open.
	w := s.do(t, http.MethodGet, "/livez", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected /livez without auth to be %d, got %d", http.StatusOK, w.Code)
	}
}

func TestMiddleware_RequestLogger(t *testing.T) {
	t.Parallel()
	called := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	})

	handler := RequestLogger(nil)(inner)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if !called {
		t.Error("Inner handler was not called")
	}
	if w.Code != http.StatusTeapot {
		t.Errorf("Expected status %d to pass through, got %d", http.StatusTeapot, w.Code)
	}
}

func TestMiddleware_Recovery(t *testing.T) {
	t.Parallel()
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	handler := Recoverer(inner)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
	if body := decode[map[string]string](t, w); body["error"] == "" {
		t.Errorf("Expected JSON error body, got %s", w.Body.String())
	}
}

func TestMiddleware_ContentType(t *testing.T) {
	t.Parallel()
	tests := []struct {
		method      string
		contentType string
		wantCalled  bool
	}{
		{http.MethodPost, "text/plain", false},
		{http.MethodPut, "application/xml", false},
		{http.MethodPost, "application/json", true},
		{http.MethodPost, "application/json; charset=utf-8", true},
		{http.MethodPut, "Application/JSON", true},
		{http.MethodPost, "", true},
		{http.MethodGet, "text/plain", true},
	}
	for _, tt := range tests {
		called := false
		handler := RequireJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}))
		req := httptest.NewRequest(tt.method, "/test", bytes.NewBufferString("{}"))
		if tt.contentType != "" {
			req.Header.Set("Content-Type", tt.contentType)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if called != tt.wantCalled {
			t.Errorf("%s %q: called = %v, want %v", tt.method, tt.contentType, called, tt.wantCalled)
		}
		if !tt.wantCalled && w.Code != http.StatusUnsupportedMediaType {
			t.Errorf("%s %q: expected status %d, got %d", tt.method, tt.contentType, http.StatusUnsupportedMediaType, w.Code)
		}
	}
}

func TestMiddleware_CORS(t *testing.T) {
	t.Parallel()
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := CORS(inner)

	req := httptest.NewRequest(http.MethodOptions, "/test", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS header")
	}
	if !strings.Contains(w.Header().Get("Access-Control-Allow-Methods"), "PUT") {
		t.Error("Expected PUT to be allowed")
	}
}
