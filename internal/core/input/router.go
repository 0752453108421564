package input

import (
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/astrosync/astrosync/internal/core/observability/log"
	"github.com/astrosync/astrosync/internal/core/world"
)

// SessionID identifies one authenticated transport session.
type SessionID string

var (
	// ErrIdentityMismatch means the claimed entity differs from the one the
	// session bound on its first valid claim. The packet is dropped; the
	// session is otherwise unaffected.
	ErrIdentityMismatch = errors.New("claimed entity does not match session binding")
	// ErrLateInput means the packet's tick is already simulated.
	ErrLateInput = errors.New("input tick already simulated")
	// ErrEarlyInput means the packet's tick is beyond the early buffer window.
	ErrEarlyInput = errors.New("input tick too far in the future")
	// ErrRateLimited means the session exceeded its packet budget.
	ErrRateLimited = errors.New("session input rate exceeded")
	// ErrNotBound means the session never made a valid claim.
	ErrNotBound = errors.New("session has no bound entity")
)

// RouterConfig tunes the input windows and per-session rate limits.
type RouterConfig struct {
	// EarlyWindowTicks caps how far ahead of the current tick an intent may
	// be buffered.
	EarlyWindowTicks uint64
	// PacketsPerSecond and Burst bound the per-session packet rate.
	PacketsPerSecond float64
	Burst            int
}

func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		EarlyWindowTicks: 30,
		PacketsPerSecond: 120,
		Burst:            60,
	}
}

// Router accepts (session, claimed entity, tick, intent) tuples from the
// network tasks and hands tick-keyed intent to the scheduler. The first valid
// claim binds the session; every later packet claiming a different entity is
// rejected without processing. Late packets are dropped silently, early ones
// buffered up to the window cap.
type Router struct {
	cfg    RouterConfig
	logger log.Log

	mu          sync.Mutex
	bindings    map[SessionID]world.EntityID
	limiters    map[SessionID]*rate.Limiter
	queues      map[world.EntityID]map[uint64]Intent
	currentTick uint64
}

func NewRouter(cfg RouterConfig, logger log.Log) *Router {
	if logger == nil {
		logger = log.Provide()
	}
	return &Router{
		cfg:      cfg,
		logger:   logger.With(log.String("component", "input_router")),
		bindings: make(map[SessionID]world.EntityID),
		limiters: make(map[SessionID]*rate.Limiter),
		queues:   make(map[world.EntityID]map[uint64]Intent),
	}
}

// Bind records the session→entity binding without queueing anything. The
// server calls this once the auth handshake resolves the player's entity.
func (r *Router) Bind(session SessionID, entity world.EntityID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[session] = entity
}

// Bound returns the entity a session is bound to.
func (r *Router) Bound(session SessionID) (world.EntityID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.bindings[session]
	return id, ok
}

// Unbind releases a session's binding and rate limiter. Queued intent for the
// entity survives: the entity keeps simulating while owned.
func (r *Router) Unbind(session SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bindings, session)
	delete(r.limiters, session)
}

// Submit validates and queues one intent packet.
func (r *Router) Submit(session SessionID, claimed world.EntityID, tick uint64, intent Intent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	limiter, ok := r.limiters[session]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(r.cfg.PacketsPerSecond), r.cfg.Burst)
		r.limiters[session] = limiter
	}
	if !limiter.Allow() {
		r.logger.Warn("input packet rate limited", log.String("session_id", string(session)))
		return ErrRateLimited
	}

	bound, ok := r.bindings[session]
	if !ok {
		// First valid claim binds the session.
		r.bindings[session] = claimed
		bound = claimed
	}
	if claimed != bound {
		r.logger.Warn("input claimed entity mismatch",
			log.String("session_id", string(session)),
			log.String("claimed", string(claimed)),
			log.String("bound", string(bound)))
		return ErrIdentityMismatch
	}

	if tick < r.currentTick {
		r.logger.Debug("late input dropped",
			log.String("session_id", string(session)),
			log.Uint64("tick", tick),
			log.Uint64("current_tick", r.currentTick))
		return ErrLateInput
	}
	if tick > r.currentTick+r.cfg.EarlyWindowTicks {
		r.logger.Debug("early input dropped",
			log.String("session_id", string(session)),
			log.Uint64("tick", tick),
			log.Uint64("current_tick", r.currentTick))
		return ErrEarlyInput
	}

	queue, ok := r.queues[bound]
	if !ok {
		queue = make(map[uint64]Intent)
		r.queues[bound] = queue
	}
	// Newest packet for a tick wins; intents are snapshots.
	queue[tick] = intent
	return nil
}

// DrainTick returns exactly the intent queued for the given tick, one entry
// per entity, and advances the late-window cutoff. Tick N consumes tick-N
// input, never future input.
func (r *Router) DrainTick(tick uint64) map[world.EntityID]Intent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[world.EntityID]Intent)
	for entity, queue := range r.queues {
		if intent, ok := queue[tick]; ok {
			out[entity] = intent
			delete(queue, tick)
		}
		for t := range queue {
			if t < tick {
				delete(queue, t)
			}
		}
		if len(queue) == 0 {
			delete(r.queues, entity)
		}
	}
	if tick >= r.currentTick {
		r.currentTick = tick + 1
	}
	return out
}

// Forget drops any queued intent for an entity, e.g. after it is destroyed.
func (r *Router) Forget(entity world.EntityID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.queues, entity)
}
