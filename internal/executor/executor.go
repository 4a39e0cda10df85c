// Package executor runs render tasks against a leased browser session. It is
// the only package that interprets task payloads; the scheduler and pool
// treat them as opaque.
package executor

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog/log"
	"github.com/ysmood/gson"

	"github.com/Rorqualx/pagemill/internal/rules"
	"github.com/Rorqualx/pagemill/internal/session"
	"github.com/Rorqualx/pagemill/internal/types"
)

// Browser executes tasks over CDP using rod.
type Browser struct {
	rules *rules.Manager
}

// New creates a browser executor. The rules manager may serve zero profiles;
// extract tasks then require an inline selector.
func New(rulesMgr *rules.Manager) *Browser {
	return &Browser{rules: rulesMgr}
}

// Run implements scheduler.Executor. All blocking operations are bound to
// ctx, so deadline or cancellation aborts them mid-flight.
func (b *Browser) Run(ctx context.Context, sess *session.Session, task *types.Task) (*types.TaskResult, error) {
	payload := task.Payload
	mode := string(payload.Mode())
	target := payload.TargetURL()
	start := time.Now()

	page, err := stealth.Page(sess.Browser)
	if err != nil {
		// Failing to even open a page means the browser is gone.
		return nil, types.NewSessionCorruptedError(mode, target, err)
	}
	defer func() { _ = page.Close() }()
	page = page.Context(ctx)

	// Capture the status and headers of the document response. The listener
	// is registered before navigation so the event cannot be missed.
	var status int
	headers := make(map[string]string)
	waitResponse := page.EachEvent(func(ev *proto.NetworkResponseReceived) bool {
		if ev.Type != proto.NetworkResourceTypeDocument {
			return false
		}
		status = int(ev.Response.Status)
		for name, value := range ev.Response.Headers {
			headers[name] = headerString(value)
		}
		return true
	})

	if err := page.Navigate(target); err != nil {
		return nil, classify(mode, target, err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, classify(mode, target, err)
	}
	waitResponse()

	if sel := waitSelectorOf(payload); sel != "" {
		if _, err := page.Element(sel); err != nil {
			return nil, types.NewExtractionError(mode, target,
				fmt.Errorf("wait selector %q: %w", sel, err))
		}
	}

	info, err := page.Info()
	if err != nil {
		return nil, classify(mode, target, err)
	}

	result := &types.TaskResult{
		URL:        info.URL,
		StatusCode: status,
		Headers:    headers,
	}

	switch p := payload.(type) {
	case types.HTMLPayload:
		html, err := page.HTML()
		if err != nil {
			return nil, classify(mode, target, err)
		}
		result.HTML = html

	case types.TextPayload:
		html, err := page.HTML()
		if err != nil {
			return nil, classify(mode, target, err)
		}
		text, err := visibleText(html)
		if err != nil {
			return nil, types.NewExtractionError(mode, target, err)
		}
		result.Text = text

	case types.ScreenshotPayload:
		shot, err := b.screenshot(page, p.FullPage)
		if err != nil {
			return nil, classify(mode, target, err)
		}
		result.Screenshot = base64.StdEncoding.EncodeToString(shot)

	case types.ExtractPayload:
		html, err := page.HTML()
		if err != nil {
			return nil, classify(mode, target, err)
		}
		fields, err := b.extract(html, p)
		if err != nil {
			return nil, types.NewExtractionError(mode, target, err)
		}
		result.Fields = fields

	default:
		return nil, fmt.Errorf("%w: %T", types.ErrUnknownMode, payload)
	}

	result.Elapsed = time.Since(start)
	log.Debug().
		Str("task_id", task.ID.String()).
		Str("mode", mode).
		Str("final_url", result.URL).
		Int("status", status).
		Dur("elapsed", result.Elapsed).
		Msg("Task executed")

	return result, nil
}

// screenshot captures a PNG of the current page.
func (b *Browser) screenshot(page *rod.Page, fullPage bool) ([]byte, error) {
	req := &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	}
	return page.Screenshot(fullPage, req)
}

// headerString renders a CDP header value. Headers arrive as loose JSON and
// are occasionally numbers (content-length) rather than strings.
func headerString(v gson.JSON) string {
	return v.Str()
}

// waitSelectorOf pulls the optional wait selector out of any payload kind.
func waitSelectorOf(payload types.TaskPayload) string {
	switch p := payload.(type) {
	case types.HTMLPayload:
		return p.WaitSelector
	case types.TextPayload:
		return p.WaitSelector
	case types.ScreenshotPayload:
		return p.WaitSelector
	case types.ExtractPayload:
		return p.WaitSelector
	default:
		return ""
	}
}

// classify maps a rod/CDP error to the task error taxonomy. Context errors
// pass through untouched so the scheduler can tell timeout from failure.
func classify(mode, url string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if isProtocolFailure(err) {
		return types.NewSessionCorruptedError(mode, url, err)
	}
	return types.NewNavigationError(mode, url, err)
}

// isProtocolFailure reports whether the error indicates the CDP transport or
// browser process itself broke, as opposed to the page misbehaving.
func isProtocolFailure(err error) bool {
	msg := err.Error()
	for _, marker := range []string{
		"websocket",
		"connection is closed",
		"browser has been closed",
		"use of closed network connection",
		"EOF",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
