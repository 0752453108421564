package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astrosync/astrosync/internal/core/world"
)

func TestDifferAddUpdateRemove(t *testing.T) {
	registry := world.DefaultRegistry()
	store := world.NewStore()
	differ := NewDiffer(registry)

	e := store.Create()
	e.Set(&world.Position{Pos: world.Vec3{X: 1}})
	e.Set(&world.DisplayName{Name: "Vagrant"})

	delta, err := differ.Produce(store.Snapshot(0), nil)
	require.NoError(t, err)
	require.Len(t, delta.Entries, 1)
	entry := delta.Entries[0]
	assert.Len(t, entry.Added, 2)
	assert.Empty(t, entry.Updated)

	// Unchanged components stay out of the next delta.
	delta, err = differ.Produce(store.Snapshot(1), nil)
	require.NoError(t, err)
	assert.True(t, delta.Empty())

	// A position change is an update; dropping the name is a removal.
	pc, _ := e.Get(world.KindPosition)
	pc.(*world.Position).Pos.X = 2
	e.Remove(world.KindDisplayName)

	delta, err = differ.Produce(store.Snapshot(2), nil)
	require.NoError(t, err)
	require.Len(t, delta.Entries, 1)
	entry = delta.Entries[0]
	assert.Contains(t, entry.Updated, world.KindPosition)
	assert.Equal(t, []string{world.KindDisplayName}, entry.RemovedComponents)
}

func TestDifferDestroyIsTerminal(t *testing.T) {
	registry := world.DefaultRegistry()
	store := world.NewStore()
	differ := NewDiffer(registry)

	e := store.Create()
	e.Set(&world.Position{})
	_, err := differ.Produce(store.Snapshot(0), nil)
	require.NoError(t, err)

	id := e.ID()
	require.NoError(t, store.Destroy(id))
	destroyed := store.DrainDestroyed()

	delta, err := differ.Produce(store.Snapshot(1), destroyed)
	require.NoError(t, err)
	require.Len(t, delta.Entries, 1)
	entry := delta.Entries[0]
	assert.True(t, entry.Removed)
	assert.Empty(t, entry.Added)
	assert.Empty(t, entry.Updated)
	assert.Empty(t, entry.RemovedComponents)
	assert.Equal(t, 0, differ.KnownEntities())
}

func TestDifferTouchedButUnchangedExcluded(t *testing.T) {
	registry := world.DefaultRegistry()
	store := world.NewStore()
	differ := NewDiffer(registry)

	e := store.Create()
	e.Set(&world.Position{Pos: world.Vec3{X: 5}})
	_, err := differ.Produce(store.Snapshot(0), nil)
	require.NoError(t, err)

	// Rewrite the same value; the canonical encoding hashes equal.
	e.Set(&world.Position{Pos: world.Vec3{X: 5}})
	delta, err := differ.Produce(store.Snapshot(1), nil)
	require.NoError(t, err)
	assert.True(t, delta.Empty())
}

func TestDifferEntriesOrderedByID(t *testing.T) {
	registry := world.DefaultRegistry()
	store := world.NewStore()
	differ := NewDiffer(registry)

	for i := 0; i < 8; i++ {
		e := store.Create()
		e.Set(&world.Position{Pos: world.Vec3{X: float64(i)}})
	}
	delta, err := differ.Produce(store.Snapshot(0), nil)
	require.NoError(t, err)
	require.Len(t, delta.Entries, 8)
	for i := 1; i < len(delta.Entries); i++ {
		assert.Less(t, delta.Entries[i-1].EntityID, delta.Entries[i].EntityID)
	}
}
