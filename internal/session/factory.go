package session

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/pagemill/internal/config"
	"github.com/Rorqualx/pagemill/internal/types"
)

// healthCheckTimeout bounds the no-op round trip used to verify a browser is
// still responsive.
const healthCheckTimeout = 5 * time.Second

// Factory creates and destroys sessions. The pool depends on this interface
// so tests can substitute a double that does not spawn real browsers.
type Factory interface {
	// Create spawns a browser and blocks until the control connection is
	// confirmed ready or the spawn timeout elapses. Spawn failures are
	// retried once internally before ErrSpawnFailed is returned.
	Create(ctx context.Context) (*Session, error)

	// Destroy tears the session down. Idempotent and best-effort; it never
	// blocks callers waiting on other sessions.
	Destroy(s *Session)

	// HealthCheck performs a lightweight round trip against the browser.
	// A failed check marks the session unhealthy.
	HealthCheck(ctx context.Context, s *Session) bool
}

// RodFactory spawns Chromium instances through rod's launcher and connects
// to them over CDP.
type RodFactory struct {
	cfg *config.Config
}

// NewRodFactory creates a factory using the given browser configuration.
func NewRodFactory(cfg *config.Config) *RodFactory {
	return &RodFactory{cfg: cfg}
}

// newLauncher builds a launcher with flags for containerized headless
// operation. Launchers are single-use, so each spawn builds a fresh one.
func (f *RodFactory) newLauncher() *launcher.Launcher {
	l := launcher.New()

	if f.cfg.BrowserPath != "" {
		l = l.Bin(f.cfg.BrowserPath)
	}

	if f.cfg.Headless {
		l = l.Set("headless", "new")
	} else {
		// Rod enables headless by default; disable explicitly when a
		// display (e.g. Xvfb) is available.
		l = l.Headless(false)
	}

	// Container flags
	l = l.Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-dev-shm-usage").
		Set("disable-gpu-sandbox")

	// Keep the browser looking like a regular desktop instance.
	l = l.Set("disable-blink-features", "AutomationControlled")
	l = l.Delete("enable-automation")
	l = l.Set("accept-lang", "en-US,en;q=0.9").
		Set("window-size", "1920,1080")

	// Stability in long-lived processes
	l = l.Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-background-networking").
		Set("disable-default-apps").
		Set("disable-extensions").
		Set("disable-sync").
		Set("mute-audio").
		Set("js-flags", "--max-old-space-size=256")

	return l
}

// Create implements Factory. It attempts the spawn twice: transient launch
// failures (slow disk, OOM kill of a previous instance) usually clear on the
// immediate retry, and anything that fails twice is a real problem for the
// caller to see.
func (f *RodFactory) Create(ctx context.Context) (*Session, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrSpawnFailed, err)
		}

		sess, err := f.spawn(ctx)
		if err == nil {
			if attempt > 0 {
				log.Info().Str("session_id", sess.ID.String()).Msg("Browser spawn succeeded on retry")
			}
			return sess, nil
		}

		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("Browser spawn failed")
	}
	return nil, fmt.Errorf("%w: %v", types.ErrSpawnFailed, lastErr)
}

// spawn launches one browser and waits for the CDP connection.
func (f *RodFactory) spawn(ctx context.Context) (*Session, error) {
	spawnCtx, cancel := context.WithTimeout(ctx, f.cfg.SpawnTimeout)
	defer cancel()

	l := f.newLauncher().Context(spawnCtx)

	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(url).Context(spawnCtx)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}

	// Detach the connection from the spawn deadline; the session outlives it.
	sess := New(browser.Context(context.Background()))
	sess.MarkIdle()

	log.Debug().
		Str("session_id", sess.ID.String()).
		Str("control_url", url).
		Msg("Browser session spawned")

	return sess, nil
}

// Destroy implements Factory. Safe to call multiple times and on sessions
// whose spawn never completed.
func (f *RodFactory) Destroy(s *Session) {
	if s == nil {
		return
	}
	s.MarkTerminating()

	if s.Browser == nil {
		return
	}
	if err := s.Browser.Close(); err != nil {
		log.Warn().
			Err(err).
			Str("session_id", s.ID.String()).
			Msg("Error closing browser")
		return
	}
	log.Debug().
		Str("session_id", s.ID.String()).
		Int64("use_count", s.UseCount()).
		Dur("age", s.Age()).
		Msg("Browser session destroyed")
}

// HealthCheck implements Factory. It opens, navigates, and closes a blank
// page; any failure in that round trip means the browser cannot be trusted
// with real work.
func (f *RodFactory) HealthCheck(ctx context.Context, s *Session) bool {
	if s == nil || s.Browser == nil {
		return false
	}

	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	page, err := s.Browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		log.Debug().Err(err).Str("session_id", s.ID.String()).Msg("Health check failed: cannot create page")
		return false
	}
	defer func() { _ = page.Close() }()

	if err := page.Context(checkCtx).Navigate("about:blank"); err != nil {
		log.Debug().Err(err).Str("session_id", s.ID.String()).Msg("Health check failed: cannot navigate")
		return false
	}
	return true
}
