package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Rorqualx/pagemill/internal/config"
	"github.com/Rorqualx/pagemill/internal/pool"
	"github.com/Rorqualx/pagemill/internal/queue"
	"github.com/Rorqualx/pagemill/internal/scheduler"
	"github.com/Rorqualx/pagemill/internal/session"
	"github.com/Rorqualx/pagemill/internal/types"
)

// fakeExecutor completes tasks without a browser.
type fakeExecutor struct {
	err   error
	block bool // block until the task context is done
}

func (f *fakeExecutor) Run(ctx context.Context, sess *session.Session, task *types.Task) (*types.TaskResult, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &types.TaskResult{
		URL:        task.Payload.TargetURL(),
		StatusCode: 200,
		HTML:       "<html><body>ok</body></html>",
	}, nil
}

type fakeFactory struct{}

func (f *fakeFactory) Create(ctx context.Context) (*session.Session, error) {
	sess := session.New(nil)
	sess.MarkIdle()
	return sess, nil
}

func (f *fakeFactory) Destroy(sess *session.Session) {}

func (f *fakeFactory) HealthCheck(ctx context.Context, sess *session.Session) bool { return true }

// testHandler wires a full stack over fakes so requests exercise the real
// admission and dispatch paths.
func testHandler(t *testing.T, exec *fakeExecutor) *Handler {
	t.Helper()

	cfg := &config.Config{
		PoolCapacity:       2,
		SpawnTimeout:       5 * time.Second,
		SessionMaxAge:      time.Hour,
		SessionMaxUses:     1000,
		QueueMaxDepth:      8,
		DefaultTaskTimeout: 5 * time.Second,
		MaxTaskTimeout:     30 * time.Second,
	}

	p, err := pool.New(cfg, &fakeFactory{})
	if err != nil {
		t.Fatalf("pool.New failed: %v", err)
	}
	q := queue.New(cfg.QueueMaxDepth)
	s := scheduler.New(cfg, q, p, exec)
	s.Start()

	t.Cleanup(func() {
		s.Stop()
		_ = p.Close()
	})

	return New(s, p, q, nil, cfg)
}

func doRender(t *testing.T, h *Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/v1/render", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.HandleRender(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) types.RenderResponse {
	t.Helper()
	var resp types.RenderResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	return resp
}

func TestRenderSuccess(t *testing.T) {
	h := testHandler(t, &fakeExecutor{})

	w := doRender(t, h, `{"url":"https://example.com/"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	resp := decodeResponse(t, w)
	if resp.Status != types.StatusOK {
		t.Errorf("Expected status 'ok', got %q", resp.Status)
	}
	if resp.Solution == nil {
		t.Fatal("Expected a solution in the response")
	}
	if resp.Solution.Status != 200 {
		t.Errorf("Expected solution status 200, got %d", resp.Solution.Status)
	}
	if resp.Solution.HTML == "" {
		t.Error("Expected HTML in the solution")
	}
	if resp.Version == "" {
		t.Error("Version should not be empty")
	}
}

func TestRenderInvalidJSON(t *testing.T) {
	h := testHandler(t, &fakeExecutor{})

	w := doRender(t, h, `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
	resp := decodeResponse(t, w)
	if resp.Status != types.StatusError {
		t.Errorf("Expected status 'error', got %q", resp.Status)
	}
}

func TestRenderValidationErrors(t *testing.T) {
	h := testHandler(t, &fakeExecutor{})

	tests := []struct {
		name string
		body string
	}{
		{"missing url", `{}`},
		{"bad scheme", `{"url":"ftp://example.com/"}`},
		{"unknown mode", `{"url":"https://example.com/","mode":"pdf"}`},
		{"priority out of range", `{"url":"https://example.com/","priority":42}`},
		{"extract without selector", `{"url":"https://example.com/","mode":"extract"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRender(t, h, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", w.Code)
			}
		})
	}
}

func TestRenderBlockedTarget(t *testing.T) {
	h := testHandler(t, &fakeExecutor{})

	tests := []string{
		`{"url":"http://127.0.0.1/admin"}`,
		`{"url":"http://localhost:8137/"}`,
		`{"url":"http://169.254.169.254/latest/meta-data/"}`,
		`{"url":"http://192.168.1.1/"}`,
	}

	for _, body := range tests {
		w := doRender(t, h, body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400 for %s, got %d", body, w.Code)
		}
	}
}

func TestRenderExecutionFailure(t *testing.T) {
	h := testHandler(t, &fakeExecutor{err: types.NewNavigationError("html", "https://example.com/", errors.New("net::ERR_NAME_NOT_RESOLVED"))})

	w := doRender(t, h, `{"url":"https://example.com/"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected status 422, got %d", w.Code)
	}
	resp := decodeResponse(t, w)
	if resp.Status != types.StatusError {
		t.Errorf("Expected status 'error', got %q", resp.Status)
	}
}

func TestRenderTimeout(t *testing.T) {
	h := testHandler(t, &fakeExecutor{block: true})

	w := doRender(t, h, `{"url":"https://example.com/","maxTimeout":100}`)
	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("Expected status 504, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRenderQueueFullSetsRetryAfter(t *testing.T) {
	h := testHandler(t, &fakeExecutor{block: true})

	// Saturate both pool slots and the queue, then expect 429 on overflow.
	done := make(chan *httptest.ResponseRecorder, 16)
	for i := 0; i < 12; i++ {
		go func() {
			done <- doRender(t, h, `{"url":"https://example.com/","maxTimeout":2000}`)
		}()
	}

	sawRejection := false
	for i := 0; i < 12; i++ {
		w := <-done
		if w.Code == http.StatusTooManyRequests {
			sawRejection = true
			if w.Header().Get("Retry-After") == "" {
				t.Error("Expected Retry-After header on 429 response")
			}
		}
	}
	if !sawRejection {
		t.Error("Expected at least one 429 rejection with the queue saturated")
	}
}

func TestHealthEndpoint(t *testing.T) {
	h := testHandler(t, &fakeExecutor{})

	// Run one task so the counters are non-zero.
	doRender(t, h, `{"url":"https://example.com/"}`)

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	h.HandleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var snap types.HealthSnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("Failed to unmarshal health snapshot: %v", err)
	}
	if snap.Status != types.StatusOK {
		t.Errorf("Expected status 'ok', got %q", snap.Status)
	}
	if snap.Version == "" {
		t.Error("Version should not be empty")
	}
	if snap.PoolCapacity != 2 {
		t.Errorf("Expected pool capacity 2, got %d", snap.PoolCapacity)
	}
	if snap.QueueMaxDepth != 8 {
		t.Errorf("Expected queue max depth 8, got %d", snap.QueueMaxDepth)
	}
	if snap.TasksStarted != 1 || snap.TasksSucceed != 1 {
		t.Errorf("Expected 1 started / 1 succeeded, got %d / %d", snap.TasksStarted, snap.TasksSucceed)
	}
}

func TestProfilesEndpointEmptyWithoutRules(t *testing.T) {
	h := testHandler(t, &fakeExecutor{})

	req := httptest.NewRequest("GET", "/v1/profiles", nil)
	w := httptest.NewRecorder()
	h.HandleProfiles(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var resp struct {
		Status   string   `json:"status"`
		Profiles []string `json:"profiles"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if resp.Status != types.StatusOK {
		t.Errorf("Expected status 'ok', got %q", resp.Status)
	}
	if len(resp.Profiles) != 0 {
		t.Errorf("Expected no profiles, got %v", resp.Profiles)
	}
}

func TestRouterMethodNotAllowed(t *testing.T) {
	h := testHandler(t, &fakeExecutor{})
	router := NewRouter(h)

	req := httptest.NewRequest("GET", "/v1/render", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestRouterNotFound(t *testing.T) {
	h := testHandler(t, &fakeExecutor{})
	router := NewRouter(h)

	req := httptest.NewRequest("GET", "/nope", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestRouterRoutesRender(t *testing.T) {
	h := testHandler(t, &fakeExecutor{})
	router := NewRouter(h)

	body, _ := json.Marshal(types.RenderRequest{URL: "https://example.com/"})
	req := httptest.NewRequest("POST", "/v1/render", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSanitizeURLForLogging(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no query", "https://example.com/page", "https://example.com/page"},
		{"benign query", "https://example.com/?q=news", "https://example.com/?q=news"},
		{"redacts token", "https://example.com/?token=abc123", "https://example.com/?token=%5BREDACTED%5D"},
		{"redacts mixed case", "https://example.com/?API_KEY=abc", "https://example.com/?API_KEY=%5BREDACTED%5D"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeURLForLogging(tt.in); got != tt.want {
				t.Errorf("sanitizeURLForLogging(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want int
	}{
		{0, 1},
		{500 * time.Millisecond, 1},
		{5 * time.Second, 5},
		{5 * time.Minute, 60},
	}
	for _, tt := range tests {
		if got := retryAfterSeconds(tt.d); got != tt.want {
			t.Errorf("retryAfterSeconds(%v) = %d, want %d", tt.d, got, tt.want)
		}
	}
}
