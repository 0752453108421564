// Package server assembles the authoritative game server: transports, the
// tick scheduler, per-session visibility fan-out and graph persistence.
package server

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/astrosync/astrosync/internal/core/identity"
	"github.com/astrosync/astrosync/internal/core/input"
	"github.com/astrosync/astrosync/internal/core/observability/log"
	"github.com/astrosync/astrosync/internal/core/persistence"
	"github.com/astrosync/astrosync/internal/core/protocol"
	"github.com/astrosync/astrosync/internal/core/protocol/quic"
	"github.com/astrosync/astrosync/internal/core/protocol/websocket"
	"github.com/astrosync/astrosync/internal/core/sim"
	"github.com/astrosync/astrosync/internal/core/visibility"
	"github.com/astrosync/astrosync/internal/core/world"
)

// Server owns the world: every mutation flows through its tick loop, every
// observation flows out of its fan-out.
type Server struct {
	config Config
	logger log.Log

	registry  *world.Registry
	store     *world.Store
	grid      *world.Grid
	router    *input.Router
	ledger    *identity.Ledger
	grants    *identity.GrantTable
	scheduler *sim.Scheduler
	resolver  *visibility.Resolver
	codec     *protocol.Codec

	db        *persistence.Store
	writeback *persistence.Writeback

	quicListener protocol.Listener
	wsListener   protocol.Listener

	// Client management
	sessions     sync.Map // map[input.SessionID]*Session
	sessionCount int64    // atomic

	// boundaryOps runs world mutations on the simulation goroutine between
	// ticks. Session bootstrap lands here.
	boundaryOps chan func(now time.Time)

	leaseEpoch uint64

	running int32 // atomic bool
	closed  int32 // atomic bool

	cancel      context.CancelFunc
	workerGroup sync.WaitGroup
}

// NewServer creates a server from configuration. Nothing is bound or opened
// until Start.
func NewServer(config Config) *Server {
	logger := log.New(config.Level())

	registry := world.DefaultRegistry()
	store := world.NewStore()
	grid := world.NewGrid(config.SpatialCellSizeM)
	router := input.NewRouter(input.DefaultRouterConfig(), logger)
	grants := identity.NewGrantTable()
	codec := protocol.NewCodec()
	codec.CompressThreshold = config.CompressThreshold
	codec.MaxFrameSize = config.MaxFrameSize

	s := &Server{
		config:      config,
		logger:      logger.With(log.String("component", "server")),
		registry:    registry,
		store:       store,
		grid:        grid,
		router:      router,
		ledger:      identity.NewLedger(),
		grants:      grants,
		codec:       codec,
		resolver:    visibility.NewResolver(grid, grants, visibility.NewRedactor(registry), logger),
		boundaryOps: make(chan func(now time.Time), 256),
	}

	s.scheduler = sim.NewScheduler(
		sim.SchedulerConfig{TickRate: config.TickRate},
		store, grid, router, sim.NewIntegrator(), registry, logger,
	)
	s.scheduler.OnTickBoundary(s.runBoundary)
	s.scheduler.OnTick(s.fanOut)

	return s
}

// Start hydrates the world, claims a fresh lease epoch, binds the transports
// and launches the tick loop.
func (s *Server) Start(ctx context.Context) error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return ErrServerClosed
	}
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return ErrServerAlreadyRunning
	}

	db, err := persistence.Open(s.config.DatabasePath)
	if err != nil {
		atomic.StoreInt32(&s.running, 0)
		return err
	}
	s.db = db

	// Hydration failure is fatal: serving a partial world silently loses
	// player state.
	tick, err := persistence.Hydrate(ctx, db, s.registry, s.store, s.logger)
	if err != nil {
		_ = db.Close()
		atomic.StoreInt32(&s.running, 0)
		s.logger.Error("hydration failed", log.Error(err))
		return err
	}
	if tick > 0 {
		s.scheduler.SetTick(tick + 1)
	}
	s.rebuildLedger()

	epoch, err := db.BumpLeaseEpoch(ctx)
	if err != nil {
		_ = db.Close()
		atomic.StoreInt32(&s.running, 0)
		return err
	}
	s.leaseEpoch = epoch

	s.writeback = persistence.NewWriteback(db, s.registry, persistence.WritebackConfig{
		FlushInterval: s.config.FlushInterval.Std(),
		MaxAttempts:   3,
		RetryDelay:    500 * time.Millisecond,
	}, s.logger)

	if s.config.QUICAddr != "" {
		tlsConf, err := tlsConfig(s.config.TLSCertFile, s.config.TLSKeyFile)
		if err != nil {
			_ = db.Close()
			atomic.StoreInt32(&s.running, 0)
			return err
		}
		quicConf := quic.DefaultConfig()
		quicConf.MaxFrameSize = s.config.MaxFrameSize
		listener, err := quic.Listen(s.config.QUICAddr, tlsConf, quicConf, s.logger)
		if err != nil {
			_ = db.Close()
			atomic.StoreInt32(&s.running, 0)
			return err
		}
		s.quicListener = listener
	}
	if s.config.WebSocketAddr != "" {
		wsConf := websocket.DefaultConfig()
		wsConf.Path = s.config.WebSocketPath
		wsConf.MaxFrameSize = s.config.MaxFrameSize
		listener, err := websocket.Listen(s.config.WebSocketAddr, wsConf, s.logger)
		if err != nil {
			if s.quicListener != nil {
				_ = s.quicListener.Close()
			}
			_ = db.Close()
			atomic.StoreInt32(&s.running, 0)
			return err
		}
		s.wsListener = listener
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.workerGroup.Add(1)
	go func() {
		defer s.workerGroup.Done()
		s.writeback.Run(runCtx)
	}()

	s.workerGroup.Add(1)
	go func() {
		defer s.workerGroup.Done()
		_ = s.scheduler.Run(runCtx)
	}()

	if s.quicListener != nil {
		s.workerGroup.Add(1)
		go func() {
			defer s.workerGroup.Done()
			s.acceptLoop(runCtx, s.quicListener)
		}()
	}
	if s.wsListener != nil {
		s.workerGroup.Add(1)
		go func() {
			defer s.workerGroup.Done()
			s.acceptLoop(runCtx, s.wsListener)
		}()
	}

	s.logger.Info("Server started",
		log.String("quic_addr", s.config.QUICAddr),
		log.String("websocket_addr", s.config.WebSocketAddr),
		log.Uint64("lease_epoch", epoch),
		log.Uint64("start_tick", s.scheduler.Tick()))
	return nil
}

// Stop shuts everything down: listeners first, then sessions, then the tick
// loop and the final persistence flush.
func (s *Server) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return ErrServerNotRunning
	}
	s.logger.Info("Stopping server")

	if s.quicListener != nil {
		_ = s.quicListener.Close()
	}
	if s.wsListener != nil {
		_ = s.wsListener.Close()
	}
	s.sessions.Range(func(_, value any) bool {
		sess := value.(*Session)
		sess.Deactivate()
		_ = sess.Connection.Close()
		return true
	})

	if s.cancel != nil {
		s.cancel()
	}
	s.workerGroup.Wait()

	if s.db != nil {
		_ = s.db.Close()
	}
	s.logger.Info("Server stopped")
	return nil
}

// Close stops the server if running and releases all resources.
func (s *Server) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	if atomic.LoadInt32(&s.running) == 1 {
		_ = s.Stop()
	}
	return nil
}

// GrantScan issues a time-bounded scan grant and notifies the observer's
// sessions on the reliable channel. The notice is a courtesy; expiry is
// enforced by clock comparison regardless of delivery.
func (s *Server) GrantScan(observer identity.PlayerID, target world.EntityID, scope identity.FieldScope, ttl time.Duration, source string) identity.GrantID {
	now := time.Now()
	grant := &identity.ScanGrant{
		ID:        identity.NewGrantID(),
		Observer:  observer,
		Target:    target,
		Scope:     scope,
		Source:    source,
		GrantedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	s.grants.Add(grant)

	notice := protocol.GrantNotice{
		GrantID:    string(grant.ID),
		Observer:   string(observer),
		TargetID:   target,
		FieldScope: scope.String(),
		ExpiresAt:  grant.ExpiresAt,
	}
	s.eachPlayerSession(observer, func(sess *Session) {
		if err := sess.SendControl(s.codec, s.config.SourceID, s.leaseEpoch, s.scheduler.Tick(), protocol.ControlGrantNotice, notice); err != nil {
			sess.logger.Warn("grant notice send failed", log.Error(err))
		}
	})
	return grant.ID
}

// RevokeScan revokes a grant before its expiry and notifies the observer.
func (s *Server) RevokeScan(id identity.GrantID, observer identity.PlayerID) bool {
	if !s.grants.Revoke(id) {
		return false
	}
	revoke := protocol.GrantRevoke{GrantID: string(id)}
	s.eachPlayerSession(observer, func(sess *Session) {
		if err := sess.SendControl(s.codec, s.config.SourceID, s.leaseEpoch, s.scheduler.Tick(), protocol.ControlGrantRevoke, revoke); err != nil {
			sess.logger.Warn("grant revoke send failed", log.Error(err))
		}
	})
	return true
}

// Stats contains server statistics
type Stats struct {
	Sessions          int64
	Entities          int
	Tick              uint64
	LeaseEpoch        uint64
	WritebackFailures uint64
}

// GetStats returns server statistics
func (s *Server) GetStats() Stats {
	st := Stats{
		Sessions:   atomic.LoadInt64(&s.sessionCount),
		Entities:   s.store.Len(),
		Tick:       s.scheduler.Tick(),
		LeaseEpoch: s.leaseEpoch,
	}
	if s.writeback != nil {
		st.WritebackFailures = s.writeback.Failures()
	}
	return st
}

// rebuildLedger re-derives player ownership from hydrated OwnerRef
// components, so authorization survives restarts without a separate table.
func (s *Server) rebuildLedger() {
	s.store.ForEach(func(e *world.Entity) {
		kind, owner := e.Owner()
		if kind == world.OwnerPlayer && owner != "" {
			s.ledger.StageOwn(identity.PlayerID(owner), e.ID())
		}
	})
	s.ledger.ApplyStaged()
}

// runBoundary executes staged work between ticks: queued world mutations,
// ledger application and grant table pruning.
func (s *Server) runBoundary(now time.Time) {
	for {
		select {
		case op := <-s.boundaryOps:
			op(now)
		default:
			s.ledger.ApplyStaged()
			s.grants.Prune(now)
			return
		}
	}
}

// enqueueBoundary schedules fn onto the simulation goroutine and waits for
// the tick boundary to run it.
func (s *Server) enqueueBoundary(ctx context.Context, fn func(now time.Time)) error {
	done := make(chan struct{})
	select {
	case s.boundaryOps <- func(now time.Time) {
		fn(now)
		close(done)
	}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fanOut consumes one tick's output: persistence first, then per-session
// visibility resolution in parallel. It runs on the scheduler goroutine, so
// the store and grid are quiescent for its whole duration.
func (s *Server) fanOut(out sim.TickOutput) {
	s.writeback.Collect(out.Snapshot)

	var destroyed []world.EntityID
	for _, entry := range out.Delta.Entries {
		if entry.Removed {
			destroyed = append(destroyed, entry.EntityID)
		}
	}
	if len(destroyed) > 0 {
		go s.writeback.Destroy(context.Background(), destroyed)
	}

	ledgerView := s.ledger.Snapshot()

	var g errgroup.Group
	s.sessions.Range(func(_, value any) bool {
		sess := value.(*Session)
		if !sess.Active() {
			return true
		}
		g.Go(func() error {
			s.deliver(sess, out, ledgerView)
			return nil
		})
		return true
	})
	_ = g.Wait()
}

// deliver resolves and ships one session's view of one tick.
func (s *Server) deliver(sess *Session, out sim.TickOutput, ledgerView *identity.View) {
	obs := s.observerFor(sess, out)
	var delta *sim.WorldDelta
	var err error
	sess.WithView(func(view *visibility.SessionView) {
		delta, err = s.resolver.Resolve(out, view, obs, ledgerView, out.Now)
	})
	if err != nil {
		sess.logger.Error("visibility resolution failed",
			log.Uint64("tick", out.Tick),
			log.Error(err))
		return
	}
	if delta.Empty() {
		return
	}
	payload, err := json.Marshal(delta)
	if err != nil {
		sess.logger.Error("state delta encode failed", log.Error(err))
		return
	}
	frame, err := s.codec.Encode(&protocol.Envelope{
		ProtocolVersion: protocol.ProtocolVersion,
		Channel:         protocol.ChannelState,
		SourceID:        s.config.SourceID,
		LeaseEpoch:      s.leaseEpoch,
		Seq:             sess.nextSeq(),
		Tick:            out.Tick,
		Payload:         payload,
	})
	if err != nil {
		sess.logger.Error("state frame encode failed", log.Error(err))
		return
	}
	sess.SendState(frame)
}

// observerFor builds the session's view parameters for one tick. The focus
// follows the controlled entity; the radius is the ship's effective scanner
// range on the focus stream and the configured overview radius on the
// strategic stream.
func (s *Server) observerFor(sess *Session, out sim.TickOutput) visibility.Observer {
	obs := visibility.Observer{
		Player: sess.Player,
		Stream: sess.Stream(),
	}
	if e, ok := out.Snapshot.Entities[sess.Controlled]; ok {
		if pc, ok := e.Get(world.KindPosition); ok {
			obs.Focus = []world.Vec3{pc.(*world.Position).Pos}
		}
	}
	switch obs.Stream {
	case visibility.StreamStrategic:
		obs.RadiusM = s.config.StrategicRadiusM
	default:
		obs.RadiusM = s.config.FocusRadiusM
		if r := sim.ScannerRangeFor(s.store, sess.Controlled); r > obs.RadiusM {
			obs.RadiusM = r
		}
	}
	return obs
}

func (s *Server) eachPlayerSession(player identity.PlayerID, fn func(*Session)) {
	s.sessions.Range(func(_, value any) bool {
		sess := value.(*Session)
		if sess.Player == player && sess.Active() {
			fn(sess)
		}
		return true
	})
}
