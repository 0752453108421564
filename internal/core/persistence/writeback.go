package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"github.com/astrosync/astrosync/internal/core/observability/log"
	"github.com/astrosync/astrosync/internal/core/world"
)

// WritebackConfig tunes flush cadence and retry behavior.
type WritebackConfig struct {
	// FlushInterval is how often accumulated dirty state reaches disk.
	FlushInterval time.Duration
	// MaxAttempts bounds retries of a single flush before it is declared
	// failed and re-queued.
	MaxAttempts int
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
}

// DefaultWritebackConfig returns working writeback settings.
func DefaultWritebackConfig() WritebackConfig {
	return WritebackConfig{
		FlushInterval: 10 * time.Second,
		MaxAttempts:   3,
		RetryDelay:    500 * time.Millisecond,
	}
}

// Writeback accumulates dirty entities from tick snapshots and flushes them
// to the graph store on a cadence. All upserts are keyed by entity UUID, so
// replaying a flush is harmless. Destroys skip the cadence and hit disk
// immediately; a crash may resurrect an entity killed in the last interval,
// but must never resurrect one the players saw destroyed long ago.
//
// Collect runs on the simulation goroutine; Flush runs on its own. The two
// share only the pending sets, under the mutex.
type Writeback struct {
	store    *Store
	registry *world.Registry
	config   WritebackConfig
	logger   log.Log

	mu            sync.Mutex
	hashes        map[world.EntityID]map[string]uint64
	dirty         map[world.EntityID]*world.Entity
	removedKinds  map[world.EntityID][]string
	persistedEdge map[world.Edge]struct{}
	snapshotEdges []world.Edge
	edgesDirty    bool
	lastTick      uint64
	haveTick      bool

	failures atomic.Uint64
}

// NewWriteback builds a writeback stage over an open store.
func NewWriteback(store *Store, registry *world.Registry, config WritebackConfig, logger log.Log) *Writeback {
	return &Writeback{
		store:         store,
		registry:      registry,
		config:        config,
		logger:        logger.With(log.String("component", "writeback")),
		hashes:        make(map[world.EntityID]map[string]uint64),
		dirty:         make(map[world.EntityID]*world.Entity),
		removedKinds:  make(map[world.EntityID][]string),
		persistedEdge: make(map[world.Edge]struct{}),
	}
}

// Failures reports how many flushes exhausted their retries. Operators alert
// on this counter growing.
func (w *Writeback) Failures() uint64 {
	return w.failures.Load()
}

// Collect folds a tick snapshot into the pending dirty set. Change detection
// hashes each component's encoded payload, so an entity that merely moved
// marks only its kinematic rows dirty.
func (w *Writeback) Collect(snap *world.Snapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for id, ent := range snap.Entities {
		prev := w.hashes[id]
		next := make(map[string]uint64, len(ent.Kinds()))
		entityDirty := prev == nil

		for _, kind := range ent.Kinds() {
			comp, _ := ent.Get(kind)
			payload, err := w.registry.Encode(comp)
			if err != nil {
				w.logger.Error("component encode failed, skipping",
					log.String("entity_id", string(id)),
					log.String("kind", kind),
					log.Error(err))
				continue
			}
			sum := xxhash.Sum64(payload)
			next[kind] = sum
			if prev == nil || prev[kind] != sum {
				entityDirty = true
			}
		}
		for kind := range prev {
			if _, ok := next[kind]; !ok {
				w.removedKinds[id] = append(w.removedKinds[id], kind)
				entityDirty = true
			}
		}
		if entityDirty {
			w.dirty[id] = ent
		}
		w.hashes[id] = next
	}

	edges := snap.Edges
	if !w.edgesDirty && !edgeSetEqual(edges, w.persistedEdge) {
		w.edgesDirty = true
	}
	w.snapshotEdges = edges
	w.lastTick = snap.Tick
	w.haveTick = true
}

func edgeSetEqual(edges []world.Edge, set map[world.Edge]struct{}) bool {
	if len(edges) != len(set) {
		return false
	}
	for _, e := range edges {
		if _, ok := set[e]; !ok {
			return false
		}
	}
	return true
}

// Destroy removes entities from disk immediately, bypassing the cadence.
func (w *Writeback) Destroy(ctx context.Context, ids []world.EntityID) {
	if len(ids) == 0 {
		return
	}
	w.mu.Lock()
	for _, id := range ids {
		delete(w.hashes, id)
		delete(w.dirty, id)
		delete(w.removedKinds, id)
	}
	w.edgesDirty = true
	w.mu.Unlock()

	err := w.withRetry(ctx, func() error {
		tx, err := w.store.db.BeginTx(ctx, nil)
		if err != nil {
			return errors.Wrap(err, "failed to begin destroy transaction")
		}
		defer tx.Rollback()
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, string(id)); err != nil {
				return errors.Wrapf(err, "failed to delete node %s", id)
			}
		}
		return errors.Wrap(tx.Commit(), "failed to commit destroys")
	})
	if err != nil {
		w.failures.Add(1)
		w.logger.Error("destroy flush failed after retries",
			log.Int("entities", len(ids)),
			log.Error(err))
	}
}

// Run flushes on the configured cadence until ctx is done, then performs one
// final flush so a clean shutdown loses nothing.
func (w *Writeback) Run(ctx context.Context) {
	ticker := time.NewTicker(w.config.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.Flush(ctx)
		case <-ctx.Done():
			w.Flush(context.Background())
			return
		}
	}
}

// Flush writes the pending dirty set in one transaction. On persistent
// failure the dirty state is merged back so the next cadence retries it.
func (w *Writeback) Flush(ctx context.Context) {
	w.mu.Lock()
	if len(w.dirty) == 0 && len(w.removedKinds) == 0 && !w.edgesDirty {
		w.mu.Unlock()
		return
	}
	dirty := w.dirty
	removed := w.removedKinds
	edges := w.snapshotEdges
	edgesDirty := w.edgesDirty
	tick := w.lastTick
	haveTick := w.haveTick
	w.dirty = make(map[world.EntityID]*world.Entity)
	w.removedKinds = make(map[world.EntityID][]string)
	w.edgesDirty = false
	w.mu.Unlock()

	err := w.withRetry(ctx, func() error {
		return w.flushOnce(ctx, dirty, removed, edges, edgesDirty, tick, haveTick)
	})
	if err != nil {
		w.failures.Add(1)
		w.logger.Error("flush failed after retries",
			log.Int("entities", len(dirty)),
			log.Uint64("tick", tick),
			log.Error(err))
		w.mu.Lock()
		for id, ent := range dirty {
			if _, ok := w.dirty[id]; !ok {
				w.dirty[id] = ent
			}
		}
		for id, kinds := range removed {
			w.removedKinds[id] = append(kinds, w.removedKinds[id]...)
		}
		if edgesDirty {
			w.edgesDirty = true
		}
		w.mu.Unlock()
		return
	}

	if edgesDirty {
		w.mu.Lock()
		w.persistedEdge = make(map[world.Edge]struct{}, len(edges))
		for _, e := range edges {
			w.persistedEdge[e] = struct{}{}
		}
		w.mu.Unlock()
	}

	w.logger.Debug("flushed world state",
		log.Int("entities", len(dirty)),
		log.Uint64("tick", tick))
}

func (w *Writeback) flushOnce(ctx context.Context, dirty map[world.EntityID]*world.Entity, removed map[world.EntityID][]string, edges []world.Edge, edgesDirty bool, tick uint64, haveTick bool) error {
	tx, err := w.store.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin flush transaction")
	}
	defer tx.Rollback()

	for id, ent := range dirty {
		if err := w.upsertEntity(ctx, tx, id, ent); err != nil {
			return err
		}
	}
	for id, kinds := range removed {
		for _, kind := range kinds {
			_, err := tx.ExecContext(ctx,
				`DELETE FROM components WHERE node_id = ? AND kind = ?`,
				string(id), kind)
			if err != nil {
				return errors.Wrapf(err, "failed to delete component %s/%s", id, kind)
			}
		}
	}
	if edgesDirty {
		if err := syncEdges(ctx, tx, edges); err != nil {
			return err
		}
	}
	if haveTick {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO snapshot_markers (tick) VALUES (?)`, int64(tick))
		if err != nil {
			return errors.Wrap(err, "failed to write snapshot marker")
		}
	}
	return errors.Wrap(tx.Commit(), "failed to commit flush")
}

func (w *Writeback) upsertEntity(ctx context.Context, tx *sql.Tx, id world.EntityID, ent *world.Entity) error {
	labels, err := json.Marshal(ent.Labels())
	if err != nil {
		return errors.Wrapf(err, "failed to encode labels for %s", id)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO nodes (id, labels, updated_at) VALUES (?, ?, strftime('%s', 'now'))
		ON CONFLICT(id) DO UPDATE SET labels = excluded.labels, updated_at = excluded.updated_at`,
		string(id), string(labels))
	if err != nil {
		return errors.Wrapf(err, "failed to upsert node %s", id)
	}

	for _, kind := range ent.Kinds() {
		comp, _ := ent.Get(kind)
		payload, err := w.registry.Encode(comp)
		if err != nil {
			return errors.Wrapf(err, "failed to encode component %s/%s", id, kind)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO components (node_id, kind, payload, updated_at)
			VALUES (?, ?, ?, strftime('%s', 'now'))
			ON CONFLICT(node_id, kind) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
			string(id), kind, string(payload))
		if err != nil {
			return errors.Wrapf(err, "failed to upsert component %s/%s", id, kind)
		}
	}
	return nil
}

func syncEdges(ctx context.Context, tx *sql.Tx, edges []world.Edge) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM edges`); err != nil {
		return errors.Wrap(err, "failed to clear edges")
	}
	for _, e := range edges {
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO edges (from_id, to_id, rel) VALUES (?, ?, ?)`,
			string(e.From), string(e.To), string(e.Rel))
		if err != nil {
			return errors.Wrapf(err, "failed to insert edge %s-[%s]->%s", e.From, e.Rel, e.To)
		}
	}
	return nil
}

func (w *Writeback) withRetry(ctx context.Context, fn func() error) error {
	attempts := w.config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < attempts-1 {
			w.logger.Warn("flush attempt failed, retrying",
				log.Int("attempt", i+1),
				log.Error(err))
			select {
			case <-time.After(w.config.RetryDelay):
			case <-ctx.Done():
				return err
			}
		}
	}
	return err
}
