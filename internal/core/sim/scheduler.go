package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/astrosync/astrosync/internal/core/input"
	"github.com/astrosync/astrosync/internal/core/observability/log"
	"github.com/astrosync/astrosync/internal/core/world"
)

// SchedulerConfig tunes the fixed-rate authoritative loop.
type SchedulerConfig struct {
	TickRate int
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{TickRate: 30}
}

// TickOutput is the immutable product of one tick, handed to the visibility
// fan-out and persistence off the hot path.
type TickOutput struct {
	Tick     uint64
	Now      time.Time
	Snapshot *world.Snapshot
	Delta    *WorldDelta
}

// Scheduler drives the authoritative fixed-rate step:
// drain inputs → rules + physics → mirror kinematics → produce delta.
// It is the store's single writer; everything downstream consumes snapshots.
type Scheduler struct {
	cfg     SchedulerConfig
	store   *world.Store
	grid    *world.Grid
	router  *input.Router
	physics Physics
	rules   []Rule
	differ  *Differ
	logger  log.Log

	// boundaryHooks run between ticks: staged ledger mutations, grant prunes.
	boundaryHooks []func(now time.Time)
	onTick        func(out TickOutput)

	tick uint64
}

func NewScheduler(
	cfg SchedulerConfig,
	store *world.Store,
	grid *world.Grid,
	router *input.Router,
	physics Physics,
	registry *world.Registry,
	logger log.Log,
) *Scheduler {
	if cfg.TickRate <= 0 {
		cfg.TickRate = DefaultSchedulerConfig().TickRate
	}
	if logger == nil {
		logger = log.Provide()
	}
	return &Scheduler{
		cfg:     cfg,
		store:   store,
		grid:    grid,
		router:  router,
		physics: physics,
		rules:   []Rule{NewMassRule(), NewFlightRule()},
		differ:  NewDiffer(registry),
		logger:  logger.With(log.String("component", "tick_scheduler")),
	}
}

// OnTickBoundary registers a hook run before each tick, outside any
// resolution pass. Ledger mutations land here.
func (s *Scheduler) OnTickBoundary(hook func(now time.Time)) {
	s.boundaryHooks = append(s.boundaryHooks, hook)
}

// OnTick registers the consumer of tick outputs. Must be set before Run.
func (s *Scheduler) OnTick(fn func(out TickOutput)) {
	s.onTick = fn
}

// Tick returns the next tick to be simulated.
func (s *Scheduler) Tick() uint64 {
	return s.tick
}

// SetTick positions the loop after hydration, so tick numbering continues
// from the persisted world rather than restarting at zero.
func (s *Scheduler) SetTick(tick uint64) {
	s.tick = tick
}

func (s *Scheduler) dt() float64 {
	return 1.0 / float64(s.cfg.TickRate)
}

// Run drives the loop at the configured rate until the context ends.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(s.cfg.TickRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("tick loop starting",
		log.Int("tick_rate", s.cfg.TickRate),
		log.Uint64("start_tick", s.tick))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("tick loop stopped", log.Uint64("tick", s.tick))
			return ctx.Err()
		case now := <-ticker.C:
			out, err := s.RunTick(now)
			if err != nil {
				s.logger.Error("tick failed", log.Uint64("tick", out.Tick), log.Error(err))
				continue
			}
			if s.onTick != nil {
				s.onTick(out)
			}
		}
	}
}

// RunTick executes exactly one tick and returns its output. Exported so
// tests and the server boot path can step deterministically.
func (s *Scheduler) RunTick(now time.Time) (TickOutput, error) {
	tick := s.tick

	for _, hook := range s.boundaryHooks {
		hook(now)
	}

	intents := s.router.DrainTick(tick)

	ctx := &TickContext{
		Tick:    tick,
		DT:      s.dt(),
		Now:     now,
		Store:   s.store,
		Intents: intents,
		Physics: s.physics,
	}

	s.ensureBodies()
	s.applyRules(ctx)
	s.physics.Step(ctx.DT)
	s.mirrorKinematics()

	destroyed := s.store.DrainDestroyed()
	for _, id := range destroyed {
		s.grid.Remove(id)
		s.router.Forget(id)
		s.physics.RemoveBody(id)
	}

	snapshot := s.store.Snapshot(tick)
	delta, err := s.differ.Produce(snapshot, destroyed)
	if err != nil {
		return TickOutput{Tick: tick}, fmt.Errorf("produce delta for tick %d: %w", tick, err)
	}

	s.tick = tick + 1
	return TickOutput{Tick: tick, Now: now, Snapshot: snapshot, Delta: delta}, nil
}

// ensureBodies registers a physics body for every positioned entity and
// drops bodies whose entity is gone.
func (s *Scheduler) ensureBodies() {
	live := make(map[world.EntityID]struct{}, s.store.Len())
	s.store.ForEach(func(e *world.Entity) {
		pc, ok := e.Get(world.KindPosition)
		if !ok {
			return
		}
		live[e.ID()] = struct{}{}
		state := BodyState{Position: pc.(*world.Position).Pos}
		if vc, ok := e.Get(world.KindVelocity); ok {
			v := vc.(*world.Velocity)
			state.LinearVel = v.Linear
			state.AngularVel = v.Angular
		}
		if rc, ok := e.Get(world.KindRotation); ok {
			state.Rotation = *rc.(*world.Rotation)
		}
		if mc, ok := e.Get(world.KindMass); ok {
			state.MassKg = mc.(*world.Mass).TotalKg
		}
		s.physics.EnsureBody(e.ID(), state)
	})
	for _, id := range s.physics.Bodies() {
		if _, ok := live[id]; !ok {
			s.physics.RemoveBody(id)
		}
	}
}

// applyRules evaluates every rule per entity with per-entity panic isolation:
// one broken entity never aborts the tick for the rest.
func (s *Scheduler) applyRules(ctx *TickContext) {
	for _, rule := range s.rules {
		s.store.ForEach(func(e *world.Entity) {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("rule panicked, entity skipped",
						log.String("rule", rule.Name()),
						log.String("entity_id", string(e.ID())),
						log.Any("panic", r))
				}
			}()
			if err := rule.Apply(ctx, e); err != nil {
				s.logger.Warn("rule failed, entity skipped",
					log.String("rule", rule.Name()),
					log.String("entity_id", string(e.ID())),
					log.Error(err))
			}
		})
	}
}

// mirrorKinematics copies authoritative position/rotation/velocity from the
// physics collaborator into the store's replicable components and refreshes
// the spatial index.
func (s *Scheduler) mirrorKinematics() {
	for _, id := range s.physics.Bodies() {
		e, ok := s.store.Get(id)
		if !ok {
			continue
		}
		body, _ := s.physics.Body(id)

		if pc, ok := e.Get(world.KindPosition); ok {
			pc.(*world.Position).Pos = body.Position
		} else {
			e.Set(&world.Position{Pos: body.Position})
		}
		if vc, ok := e.Get(world.KindVelocity); ok {
			v := vc.(*world.Velocity)
			v.Linear = body.LinearVel
			v.Angular = body.AngularVel
		} else {
			e.Set(&world.Velocity{Linear: body.LinearVel, Angular: body.AngularVel})
		}
		rot := body.Rotation
		if rc, ok := e.Get(world.KindRotation); ok {
			*rc.(*world.Rotation) = rot
		} else {
			e.Set(&rot)
		}

		s.grid.Upsert(id, body.Position)
	}
}
