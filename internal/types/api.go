package types

import (
	"fmt"
	"net/url"
	"strings"
)

// Request validation limits.
const (
	MaxURLLength      = 8192
	MaxTimeoutMs      = 600000 // 10 minutes in milliseconds
	MaxSelectorLength = 1024
	MaxProfileLength  = 128
)

// TaskMode selects what the executor extracts from the rendered page.
type TaskMode string

// Supported task modes.
const (
	ModeHTML       TaskMode = "html"
	ModeText       TaskMode = "text"
	ModeScreenshot TaskMode = "screenshot"
	ModeExtract    TaskMode = "extract"
)

// Valid reports whether the mode is one of the supported task kinds.
func (m TaskMode) Valid() bool {
	switch m {
	case ModeHTML, ModeText, ModeScreenshot, ModeExtract:
		return true
	}
	return false
}

// RenderRequest is the body of POST /v1/render.
type RenderRequest struct {
	URL          string `json:"url"`
	Mode         string `json:"mode,omitempty"`         // html (default), text, screenshot, extract
	Priority     int    `json:"priority,omitempty"`     // 0 (default, low) .. 9 (high)
	MaxTimeout   int    `json:"maxTimeout,omitempty"`   // Per-request deadline override, milliseconds
	WaitSelector string `json:"waitSelector,omitempty"` // CSS selector to await before extraction
	Selector     string `json:"selector,omitempty"`     // Inline CSS selector for extract mode
	Attribute    string `json:"attribute,omitempty"`    // Attribute to read with Selector (default: text)
	Profile      string `json:"profile,omitempty"`      // Named extraction profile for extract mode
	FullPage     bool   `json:"fullPage,omitempty"`     // Capture the full scroll height (screenshot mode)
}

// Validate checks the request and returns an error describing the first
// problem found. Bounds exist to keep a single request from tying up the
// service with pathological input.
func (r *RenderRequest) Validate() error {
	if r.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	if len(r.URL) > MaxURLLength {
		return fmt.Errorf("%w: url exceeds maximum length of %d", ErrInvalidRequest, MaxURLLength)
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https, got %q", ErrInvalidURL, scheme)
	}

	if r.Mode != "" && !TaskMode(r.Mode).Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownMode, r.Mode)
	}

	if r.Priority < MinPriority || r.Priority > MaxPriority {
		return fmt.Errorf("%w: priority must be between %d and %d", ErrInvalidRequest, MinPriority, MaxPriority)
	}

	if r.MaxTimeout < 0 {
		return fmt.Errorf("%w: maxTimeout cannot be negative", ErrInvalidRequest)
	}
	if r.MaxTimeout > MaxTimeoutMs {
		return fmt.Errorf("%w: maxTimeout exceeds maximum of %d ms", ErrInvalidRequest, MaxTimeoutMs)
	}

	if len(r.WaitSelector) > MaxSelectorLength {
		return fmt.Errorf("%w: waitSelector exceeds maximum length of %d", ErrInvalidRequest, MaxSelectorLength)
	}
	if len(r.Selector) > MaxSelectorLength {
		return fmt.Errorf("%w: selector exceeds maximum length of %d", ErrInvalidRequest, MaxSelectorLength)
	}
	if len(r.Profile) > MaxProfileLength {
		return fmt.Errorf("%w: profile exceeds maximum length of %d", ErrInvalidRequest, MaxProfileLength)
	}

	if TaskMode(r.Mode) == ModeExtract && r.Selector == "" && r.Profile == "" {
		return ErrMissingSelector
	}

	return nil
}

// RenderResponse is the body returned for a render task, success or failure.
type RenderResponse struct {
	Status    string            `json:"status"` // "ok" or "error"
	Message   string            `json:"message,omitempty"`
	TaskID    string            `json:"taskId,omitempty"`
	TaskState string            `json:"taskState,omitempty"`
	StartTime int64             `json:"startTimestamp"`
	EndTime   int64             `json:"endTimestamp"`
	Version   string            `json:"version"`
	Solution  *RenderedSolution `json:"solution,omitempty"`
}

// RenderedSolution carries the extracted content for a successful task.
type RenderedSolution struct {
	URL        string            `json:"url"`
	Status     int               `json:"status"`
	Headers    map[string]string `json:"headers,omitempty"`
	HTML       string            `json:"html,omitempty"`
	Text       string            `json:"text,omitempty"`
	Screenshot string            `json:"screenshot,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
	ElapsedMs  int64             `json:"elapsedMs"`
}

// Response status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// HealthSnapshot is the body of GET /healthz, consumed by monitoring tools.
type HealthSnapshot struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	PoolCapacity  int    `json:"poolCapacity"`
	PoolLive      int    `json:"poolLive"`
	PoolIdle      int    `json:"poolIdle"`
	PoolLeased    int    `json:"poolLeased"`
	QueueDepth    int    `json:"queueDepth"`
	QueueMaxDepth int    `json:"queueMaxDepth"`
	TasksStarted  int64  `json:"tasksStarted"`
	TasksSucceed  int64  `json:"tasksSucceeded"`
	TasksFailed   int64  `json:"tasksFailed"`
	TasksTimedOut int64  `json:"tasksTimedOut"`
	TasksRejected int64  `json:"tasksRejected"`
}
