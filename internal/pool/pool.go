// Package pool provides the bounded session pool. The pool owns every
// session it creates and hands out exclusive leases; capacity is never
// exceeded even under concurrent acquire races.
//
// Lock ordering: mu must be acquired before any session state transitions
// initiated by the pool. Never hold mu while performing slow I/O (spawn,
// destroy, health check).
package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Rorqualx/pagemill/internal/config"
	"github.com/Rorqualx/pagemill/internal/metrics"
	"github.com/Rorqualx/pagemill/internal/session"
	"github.com/Rorqualx/pagemill/internal/types"
)

// Outcome reported by the scheduler when a lease is returned.
type Outcome int

// Release outcomes.
const (
	// OutcomeHealthy - the task finished (successfully or with a task-level
	// error) and the session can serve further work.
	OutcomeHealthy Outcome = iota
	// OutcomeCorrupted - a protocol-level failure left the browser in an
	// unknown state; the session must be destroyed.
	OutcomeCorrupted
	// OutcomeAbandoned - in-flight work was abandoned (timeout or
	// cancellation mid-operation); the browser may be mid-navigation, so it
	// is destroyed rather than trusted.
	OutcomeAbandoned
)

// String returns the outcome name for logging.
func (o Outcome) String() string {
	switch o {
	case OutcomeHealthy:
		return "healthy"
	case OutcomeCorrupted:
		return "corrupted"
	case OutcomeAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// acquireMaxRetries bounds how many unhealthy sessions one Acquire call will
// churn through before giving up.
const acquireMaxRetries = 3

// Stats tracks cumulative pool activity.
type Stats struct {
	Acquired  atomic.Int64
	Released  atomic.Int64
	Recycled  atomic.Int64
	SpawnErrs atomic.Int64
}

// Snapshot is a point-in-time view of pool occupancy.
type Snapshot struct {
	Capacity int
	Live     int
	Idle     int
	Leased   int
	Acquired int64
	Released int64
	Recycled int64
}

// Pool is a fixed-capacity collection of sessions. Sessions are created
// lazily on demand (plus an optional pre-warm count) and recycled when they
// fail, age out, or exceed their use ceiling.
type Pool struct {
	mu       sync.Mutex
	capacity int
	live     map[uuid.UUID]*session.Session
	spawning int // in-flight creates, counted against capacity

	idle    chan *session.Session
	factory session.Factory
	cfg     *config.Config

	closed atomic.Bool
	stopCh chan struct{}
	wg     sync.WaitGroup

	stats Stats
}

// New creates a pool over the given factory. If cfg.PoolPrewarm > 0, that
// many sessions are spawned eagerly; a pre-warm failure is fatal because it
// means the browser binary cannot start at all.
func New(cfg *config.Config, factory session.Factory) (*Pool, error) {
	p := &Pool{
		capacity: cfg.PoolCapacity,
		live:     make(map[uuid.UUID]*session.Session, cfg.PoolCapacity),
		idle:     make(chan *session.Session, cfg.PoolCapacity),
		factory:  factory,
		cfg:      cfg,
		stopCh:   make(chan struct{}),
	}

	log.Info().
		Int("capacity", cfg.PoolCapacity).
		Int("prewarm", cfg.PoolPrewarm).
		Msg("Initializing session pool")

	for i := 0; i < cfg.PoolPrewarm; i++ {
		sess, err := factory.Create(context.Background())
		if err != nil {
			if closeErr := p.Close(); closeErr != nil {
				log.Error().Err(closeErr).Msg("Failed to close pool during cleanup")
			}
			return nil, fmt.Errorf("pre-warm session %d: %w", i, err)
		}
		p.mu.Lock()
		p.live[sess.ID] = sess
		p.mu.Unlock()
		p.idle <- sess
	}

	metrics.PoolCapacity.Set(float64(cfg.PoolCapacity))
	return p, nil
}

// Acquire obtains a leased session. It returns an idle session immediately,
// spawns a new one if the pool is under capacity, or waits until ctx expires.
// The ctx deadline is the caller's remaining task budget; hitting it yields
// ErrPoolExhausted and leaves no reservation behind.
//
// The caller MUST return the session via Release, on every path.
func (p *Pool) Acquire(ctx context.Context) (*session.Session, error) {
	if p.closed.Load() {
		return nil, types.ErrPoolClosed
	}

	for retry := 0; retry < acquireMaxRetries; retry++ {
		// Fast path: reuse an idle session.
		select {
		case sess, ok := <-p.idle:
			if !ok || p.closed.Load() {
				return nil, types.ErrPoolClosed
			}
			if leased := p.tryLeaseIdle(ctx, sess); leased != nil {
				return leased, nil
			}
			continue

		default:
		}

		// No idle session. Spawn if under capacity, otherwise wait.
		if p.reserveSlot() {
			return p.spawnLeased(ctx)
		}

		select {
		case sess, ok := <-p.idle:
			if !ok || p.closed.Load() {
				return nil, types.ErrPoolClosed
			}
			if leased := p.tryLeaseIdle(ctx, sess); leased != nil {
				return leased, nil
			}

		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", types.ErrPoolExhausted, ctx.Err())

		case <-p.stopCh:
			return nil, types.ErrPoolClosed
		}
	}

	return nil, fmt.Errorf("%w: all sessions unhealthy after %d retries", types.ErrPoolExhausted, acquireMaxRetries)
}

// tryLeaseIdle verifies and leases a session taken off the idle channel.
// Returns nil if the session was recycled instead, in which case the caller
// should retry.
func (p *Pool) tryLeaseIdle(ctx context.Context, sess *session.Session) *session.Session {
	if sess.Expired(p.cfg.SessionMaxAge, p.cfg.SessionMaxUses) {
		log.Debug().
			Str("session_id", sess.ID.String()).
			Int64("use_count", sess.UseCount()).
			Dur("age", sess.Age()).
			Msg("Idle session past recycle ceiling, replacing")
		p.discard(sess, true)
		return nil
	}

	if !p.factory.HealthCheck(ctx, sess) {
		log.Warn().Str("session_id", sess.ID.String()).Msg("Idle session failed health check, replacing")
		sess.MarkUnhealthy()
		p.discard(sess, true)
		return nil
	}

	if !sess.TryLease() {
		// Should not happen: only the pool moves sessions in and out of
		// the idle channel. Treat it as corruption.
		log.Error().
			Str("session_id", sess.ID.String()).
			Str("state", sess.State().String()).
			Msg("Idle session not leasable, discarding")
		p.discard(sess, true)
		return nil
	}

	p.stats.Acquired.Add(1)
	metrics.PoolAcquired.Inc()
	return sess
}

// reserveSlot atomically claims a capacity slot for a new spawn.
func (p *Pool) reserveSlot() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return false
	}
	if len(p.live)+p.spawning >= p.capacity {
		return false
	}
	p.spawning++
	return true
}

// spawnLeased creates a session against a previously reserved slot and
// leases it to the caller. The reservation is dropped on failure so the
// caller is never left holding a phantom slot.
func (p *Pool) spawnLeased(ctx context.Context) (*session.Session, error) {
	sess, err := p.factory.Create(ctx)

	p.mu.Lock()
	p.spawning--
	if err == nil {
		p.live[sess.ID] = sess
	}
	p.mu.Unlock()

	if err != nil {
		p.stats.SpawnErrs.Add(1)
		metrics.PoolSpawnErrors.Inc()
		return nil, err
	}

	if !sess.TryLease() {
		// A freshly created session is always Idle; anything else is a
		// factory bug.
		p.discard(sess, false)
		return nil, types.ErrSessionLeased
	}

	p.stats.Acquired.Add(1)
	metrics.PoolAcquired.Inc()
	log.Debug().Str("session_id", sess.ID.String()).Msg("Session spawned on demand and leased")
	return sess, nil
}

// Release returns a leased session to the pool. The outcome decides its
// fate: healthy sessions under their ceilings go back to the idle set,
// everything else is destroyed asynchronously and, while below capacity, a
// replacement is started to keep capacity warm.
//
// Release is safe to call with a nil session.
func (p *Pool) Release(sess *session.Session, outcome Outcome) {
	if sess == nil {
		return
	}
	p.stats.Released.Add(1)
	metrics.PoolReleased.Inc()

	if p.closed.Load() {
		p.factory.Destroy(sess)
		return
	}

	if outcome != OutcomeHealthy {
		log.Info().
			Str("session_id", sess.ID.String()).
			Str("outcome", outcome.String()).
			Msg("Session discarded on release")
		sess.MarkUnhealthy()
		p.discard(sess, true)
		return
	}

	if sess.Expired(p.cfg.SessionMaxAge, p.cfg.SessionMaxUses) {
		log.Info().
			Str("session_id", sess.ID.String()).
			Int64("use_count", sess.UseCount()).
			Msg("Session past recycle ceiling on release, replacing")
		p.discard(sess, true)
		return
	}

	sess.MarkIdle()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		p.factory.Destroy(sess)
		return
	}
	select {
	case p.idle <- sess:
	default:
		// Idle channel sized to capacity; overflow means a double release.
		log.Error().Str("session_id", sess.ID.String()).Msg("Idle set full on release, destroying session")
		p.factory.Destroy(sess)
	}
}

// discard removes a session from the live set and destroys it in the
// background. When replace is true and the pool is below capacity, a warm
// replacement spawn is started.
func (p *Pool) discard(sess *session.Session, replace bool) {
	p.mu.Lock()
	delete(p.live, sess.ID)
	startReplacement := replace && !p.closed.Load() && len(p.live)+p.spawning < p.capacity
	if startReplacement {
		p.spawning++
	}
	p.mu.Unlock()

	p.stats.Recycled.Add(1)
	metrics.PoolRecycled.Inc()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.factory.Destroy(sess)
	}()

	if startReplacement {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.replace()
		}()
	}
}

// replace spawns one warm replacement session against an already-reserved
// slot and parks it in the idle set.
func (p *Pool) replace() {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.SpawnTimeout+p.cfg.SpawnTimeout)
	defer cancel()

	sess, err := p.factory.Create(ctx)

	p.mu.Lock()
	p.spawning--
	if err != nil {
		p.mu.Unlock()
		p.stats.SpawnErrs.Add(1)
		metrics.PoolSpawnErrors.Inc()
		log.Warn().Err(err).Msg("Replacement spawn failed; pool will retry on demand")
		return
	}
	if p.closed.Load() {
		p.mu.Unlock()
		p.factory.Destroy(sess)
		return
	}
	p.live[sess.ID] = sess
	// The send happens under mu so it cannot race the channel close in
	// Close(). The channel is sized to capacity, so the send cannot block.
	select {
	case p.idle <- sess:
		p.mu.Unlock()
		log.Debug().Str("session_id", sess.ID.String()).Msg("Replacement session warmed")
	default:
		delete(p.live, sess.ID)
		p.mu.Unlock()
		p.factory.Destroy(sess)
	}
}

// Capacity returns the configured maximum number of live sessions.
func (p *Pool) Capacity() int {
	return p.capacity
}

// SnapshotStats returns a point-in-time view of pool occupancy and counters.
func (p *Pool) SnapshotStats() Snapshot {
	p.mu.Lock()
	live := len(p.live) + p.spawning
	p.mu.Unlock()

	idle := len(p.idle)
	leased := live - idle
	if leased < 0 {
		leased = 0
	}
	return Snapshot{
		Capacity: p.capacity,
		Live:     live,
		Idle:     idle,
		Leased:   leased,
		Acquired: p.stats.Acquired.Load(),
		Released: p.stats.Released.Load(),
		Recycled: p.stats.Recycled.Load(),
	}
}

// Close shuts the pool down and destroys every live session. Safe to call
// multiple times; Acquire fails with ErrPoolClosed afterwards.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed.Swap(true) {
		p.mu.Unlock()
		return nil
	}
	close(p.idle)
	sessions := make([]*session.Session, 0, len(p.live))
	for _, s := range p.live {
		sessions = append(sessions, s)
	}
	p.live = make(map[uuid.UUID]*session.Session)
	p.mu.Unlock()

	close(p.stopCh)
	log.Info().Int("live", len(sessions)).Msg("Closing session pool")

	// Wait for in-flight discard/replace goroutines before tearing down.
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Warn().Msg("Timeout waiting for pool background goroutines")
	}

	// Drain any sessions still parked in the idle channel (safe after close).
	// Idle sessions are also in the live snapshot, so dedupe by ID.
	seen := make(map[uuid.UUID]bool, len(sessions))
	for _, s := range sessions {
		seen[s.ID] = true
	}
	for s := range p.idle {
		if !seen[s.ID] {
			sessions = append(sessions, s)
		}
	}

	eg := new(errgroup.Group)
	eg.SetLimit(4)
	for _, s := range sessions {
		sess := s
		eg.Go(func() error {
			p.factory.Destroy(sess)
			return nil
		})
	}
	err := eg.Wait()

	log.Info().
		Int64("acquired", p.stats.Acquired.Load()).
		Int64("released", p.stats.Released.Load()).
		Int64("recycled", p.stats.Recycled.Load()).
		Msg("Session pool closed")
	return err
}
