package persistence

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/astrosync/astrosync/internal/core/observability/log"
	"github.com/astrosync/astrosync/internal/core/world"
)

// Hydrate rebuilds the in-memory world from the graph store. It runs once,
// at boot, before the tick loop starts; the caller treats any error as
// fatal rather than serving a partial world. Returns the latest persisted
// tick marker, or zero if the database is empty.
func Hydrate(ctx context.Context, store *Store, registry *world.Registry, ws *world.Store, logger log.Log) (uint64, error) {
	tick, _, err := store.LatestMarker(ctx)
	if err != nil {
		return 0, err
	}

	if err := loadNodes(ctx, store, ws); err != nil {
		return 0, err
	}
	if err := loadComponents(ctx, store, registry, ws, logger); err != nil {
		return 0, err
	}
	if err := loadEdges(ctx, store, ws); err != nil {
		return 0, err
	}

	logger.Info("world hydrated",
		log.Int("entities", ws.Len()),
		log.Uint64("tick", tick))
	return tick, nil
}

func loadNodes(ctx context.Context, store *Store, ws *world.Store) error {
	rows, err := store.db.QueryContext(ctx, `SELECT id, labels FROM nodes`)
	if err != nil {
		return errors.Wrap(err, "failed to query nodes")
	}
	defer rows.Close()

	for rows.Next() {
		var rawID, rawLabels string
		if err := rows.Scan(&rawID, &rawLabels); err != nil {
			return errors.Wrap(err, "failed to scan node")
		}
		id, err := world.ParseEntityID(rawID)
		if err != nil {
			return errors.Wrapf(err, "malformed node id %q", rawID)
		}
		var labels []string
		if err := json.Unmarshal([]byte(rawLabels), &labels); err != nil {
			return errors.Wrapf(err, "malformed labels for node %s", id)
		}
		ent := ws.CreateWithID(id)
		for _, l := range labels {
			ent.AddLabel(l)
		}
	}
	return errors.Wrap(rows.Err(), "failed to iterate nodes")
}

func loadComponents(ctx context.Context, store *Store, registry *world.Registry, ws *world.Store, logger log.Log) error {
	rows, err := store.db.QueryContext(ctx, `SELECT node_id, kind, payload FROM components`)
	if err != nil {
		return errors.Wrap(err, "failed to query components")
	}
	defer rows.Close()

	for rows.Next() {
		var rawID, kind, payload string
		if err := rows.Scan(&rawID, &kind, &payload); err != nil {
			return errors.Wrap(err, "failed to scan component")
		}
		id := world.EntityID(rawID)
		ent, ok := ws.Get(id)
		if !ok {
			return errors.Errorf("component %s references missing node %s", kind, id)
		}
		comp, err := registry.Decode(kind, []byte(payload))
		if err != nil {
			if errors.Is(err, world.ErrUnknownKind) {
				// Rows written by a newer build survive; this build just
				// cannot interpret them.
				logger.Warn("skipping component of unknown kind",
					log.String("entity_id", rawID),
					log.String("kind", kind))
				continue
			}
			return errors.Wrapf(err, "failed to decode component %s/%s", id, kind)
		}
		ent.Set(comp)
	}
	return errors.Wrap(rows.Err(), "failed to iterate components")
}

func loadEdges(ctx context.Context, store *Store, ws *world.Store) error {
	rows, err := store.db.QueryContext(ctx, `SELECT from_id, to_id, rel FROM edges`)
	if err != nil {
		return errors.Wrap(err, "failed to query edges")
	}
	defer rows.Close()

	h := ws.Hierarchy()
	for rows.Next() {
		var from, to, rel string
		if err := rows.Scan(&from, &to, &rel); err != nil {
			return errors.Wrap(err, "failed to scan edge")
		}
		fromID, toID := world.EntityID(from), world.EntityID(to)
		if !ws.Has(fromID) || !ws.Has(toID) {
			return errors.Errorf("edge %s-[%s]->%s references a missing node", from, rel, to)
		}
		if err := h.Link(fromID, toID, world.RelKind(rel)); err != nil {
			return errors.Wrapf(err, "failed to link %s-[%s]->%s", from, rel, to)
		}
	}
	return errors.Wrap(rows.Err(), "failed to iterate edges")
}
