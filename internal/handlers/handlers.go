// Package handlers provides the HTTP surface of the render service.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/pagemill/internal/config"
	"github.com/Rorqualx/pagemill/internal/pool"
	"github.com/Rorqualx/pagemill/internal/queue"
	"github.com/Rorqualx/pagemill/internal/rules"
	"github.com/Rorqualx/pagemill/internal/scheduler"
	"github.com/Rorqualx/pagemill/internal/security"
	"github.com/Rorqualx/pagemill/internal/types"
	"github.com/Rorqualx/pagemill/pkg/version"
)

// sensitiveParams are query parameter names that may carry secrets and are
// redacted before a target URL reaches the logs.
var sensitiveParams = []string{
	"key", "token", "api_key", "apikey", "password", "secret", "auth",
	"access_token", "refresh_token", "bearer", "credential", "private_key",
}

// sanitizeURLForLogging redacts sensitive query parameters from target URLs.
func sanitizeURLForLogging(rawURL string) string {
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "[invalid-url]"
	}
	if parsed.RawQuery == "" {
		return rawURL
	}

	query := parsed.Query()
	redacted := false
	for _, param := range sensitiveParams {
		for key := range query {
			if strings.EqualFold(key, param) {
				query.Set(key, "[REDACTED]")
				redacted = true
			}
		}
	}
	if !redacted {
		return rawURL
	}

	parsed.RawQuery = query.Encode()
	return parsed.String()
}

// Handler serves the render API.
type Handler struct {
	sched  *scheduler.Scheduler
	pool   *pool.Pool
	queue  *queue.Queue
	rules  *rules.Manager
	config *config.Config
}

// New creates a Handler over the running scheduler and its collaborators.
func New(sched *scheduler.Scheduler, p *pool.Pool, q *queue.Queue, rulesMgr *rules.Manager, cfg *config.Config) *Handler {
	return &Handler{
		sched:  sched,
		pool:   p,
		queue:  q,
		rules:  rulesMgr,
		config: cfg,
	}
}

// HandleRender handles POST /v1/render. The request blocks until the task
// reaches a terminal state or the client goes away.
func (h *Handler) HandleRender(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	// Cap the body to keep a single request from exhausting memory.
	const maxBodySize = 1 << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	buf := getBuffer()
	defer putBuffer(buf)

	if _, err := io.Copy(buf, r.Body); err != nil {
		log.Warn().Err(err).Msg("Failed to read request body")
		h.writeError(w, http.StatusBadRequest, "Failed to read request", startTime)
		return
	}

	var req types.RenderRequest
	if err := json.Unmarshal(buf.Bytes(), &req); err != nil {
		log.Warn().Err(err).Msg("Failed to decode request")
		h.writeError(w, http.StatusBadRequest, "Invalid JSON request", startTime)
		return
	}

	if err := req.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), startTime)
		return
	}
	if err := security.ValidateTargetURL(req.URL, h.config.AllowPrivateTargets); err != nil {
		log.Warn().Err(err).Str("url", sanitizeURLForLogging(req.URL)).Msg("Target validation failed")
		h.writeError(w, http.StatusBadRequest, err.Error(), startTime)
		return
	}

	payload := buildPayload(&req)

	timeout := h.config.DefaultTaskTimeout
	if req.MaxTimeout > 0 {
		timeout = time.Duration(req.MaxTimeout) * time.Millisecond
	}

	log.Info().
		Str("mode", string(payload.Mode())).
		Str("url", sanitizeURLForLogging(req.URL)).
		Int("priority", req.Priority).
		Dur("timeout", timeout).
		Msg("Render request received")

	result, err := h.sched.Submit(r.Context(), payload, req.Priority, timeout)
	if err != nil {
		h.writeTaskError(w, err, startTime)
		return
	}

	h.writeSuccess(w, result, startTime)
}

// HandleHealth handles GET /healthz.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ps := h.pool.SnapshotStats()
	started, succeeded, failed, timedOut, _, rejected := h.sched.Stats()

	snap := types.HealthSnapshot{
		Status:        types.StatusOK,
		Version:       version.Full(),
		PoolCapacity:  ps.Capacity,
		PoolLive:      ps.Live,
		PoolIdle:      ps.Idle,
		PoolLeased:    ps.Leased,
		QueueDepth:    h.queue.Depth(),
		QueueMaxDepth: h.queue.MaxDepth(),
		TasksStarted:  started,
		TasksSucceed:  succeeded,
		TasksFailed:   failed,
		TasksTimedOut: timedOut,
		TasksRejected: rejected,
	}
	h.writeJSONResponse(w, http.StatusOK, snap)
}

// HandleProfiles handles GET /v1/profiles, listing loaded extraction profiles.
func (h *Handler) HandleProfiles(w http.ResponseWriter, r *http.Request) {
	names := []string{}
	if h.rules != nil {
		names = h.rules.Names()
	}
	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":   types.StatusOK,
		"profiles": names,
	})
}

// HandleMethodNotAllowed handles requests with unsupported HTTP methods.
func (h *Handler) HandleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed", time.Now())
}

// HandleNotFound handles requests to unknown paths.
func (h *Handler) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, http.StatusNotFound, "Not found", time.Now())
}

// buildPayload maps a validated request onto its payload variant.
func buildPayload(req *types.RenderRequest) types.TaskPayload {
	switch types.TaskMode(req.Mode) {
	case types.ModeText:
		return types.TextPayload{URL: req.URL, WaitSelector: req.WaitSelector}
	case types.ModeScreenshot:
		return types.ScreenshotPayload{URL: req.URL, WaitSelector: req.WaitSelector, FullPage: req.FullPage}
	case types.ModeExtract:
		return types.ExtractPayload{
			URL:          req.URL,
			WaitSelector: req.WaitSelector,
			Selector:     req.Selector,
			Attribute:    req.Attribute,
			Profile:      req.Profile,
		}
	default:
		return types.HTMLPayload{URL: req.URL, WaitSelector: req.WaitSelector}
	}
}

// writeTaskError maps a task failure to an HTTP status. Admission failures
// and capacity exhaustion are distinguishable so callers can back off.
func (h *Handler) writeTaskError(w http.ResponseWriter, err error, startTime time.Time) {
	switch {
	case errors.Is(err, types.ErrQueueFull):
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(h.config.DefaultTaskTimeout)))
		h.writeError(w, http.StatusTooManyRequests, "Queue is full, retry later", startTime)
	case errors.Is(err, types.ErrTaskTimedOut):
		h.writeError(w, http.StatusGatewayTimeout, "Task deadline exceeded", startTime)
	case errors.Is(err, types.ErrPoolExhausted), errors.Is(err, types.ErrSpawnFailed),
		errors.Is(err, types.ErrQueueClosed), errors.Is(err, types.ErrPoolClosed),
		errors.Is(err, types.ErrTaskCancelled):
		h.writeError(w, http.StatusServiceUnavailable, err.Error(), startTime)
	case errors.Is(err, types.ErrUnknownProfile), errors.Is(err, types.ErrMissingSelector):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error(), startTime)
	default:
		h.writeError(w, http.StatusUnprocessableEntity, err.Error(), startTime)
	}
}

// retryAfterSeconds suggests a back-off roughly matching average task time.
func retryAfterSeconds(d time.Duration) int {
	secs := int(d / time.Second)
	if secs < 1 {
		return 1
	}
	if secs > 60 {
		return 60
	}
	return secs
}

// writeSuccess writes a completed task result.
func (h *Handler) writeSuccess(w http.ResponseWriter, result *types.TaskResult, startTime time.Time) {
	resp := types.RenderResponse{
		Status:    types.StatusOK,
		Message:   "Task completed",
		StartTime: startTime.UnixMilli(),
		EndTime:   time.Now().UnixMilli(),
		Version:   version.Full(),
		Solution: &types.RenderedSolution{
			URL:        result.URL,
			Status:     result.StatusCode,
			Headers:    result.Headers,
			HTML:       result.HTML,
			Text:       result.Text,
			Screenshot: result.Screenshot,
			Fields:     result.Fields,
			ElapsedMs:  result.Elapsed.Milliseconds(),
		},
	}
	h.writeJSONResponse(w, http.StatusOK, resp)
}

// writeError writes an error response with the given HTTP status.
func (h *Handler) writeError(w http.ResponseWriter, statusCode int, message string, startTime time.Time) {
	resp := types.RenderResponse{
		Status:    types.StatusError,
		Message:   message,
		StartTime: startTime.UnixMilli(),
		EndTime:   time.Now().UnixMilli(),
		Version:   version.Full(),
	}
	h.writeJSONResponse(w, statusCode, resp)
}

// writeJSONResponse buffers JSON before writing so encoding errors are caught
// before any headers go out.
func (h *Handler) writeJSONResponse(w http.ResponseWriter, statusCode int, resp interface{}) {
	buf := getResponseBuffer()
	defer putResponseBuffer(buf)

	if err := json.NewEncoder(buf).Encode(resp); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"status":"error","message":"internal encoding error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	_, _ = w.Write(buf.Bytes())
}
