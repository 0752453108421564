package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHierarchyLinkAndQuery(t *testing.T) {
	h := NewHierarchy()
	ship, engine, tank := NewEntityID(), NewEntityID(), NewEntityID()

	require.NoError(t, h.Link(engine, ship, RelMountedOn))
	require.NoError(t, h.Link(tank, ship, RelMountedOn))

	assert.True(t, h.Linked(engine, ship, RelMountedOn))
	assert.ElementsMatch(t, []EntityID{engine, tank}, h.Sources(ship, RelMountedOn))
	assert.Equal(t, []EntityID{ship}, h.Targets(engine, RelMountedOn))

	parent, ok := h.Parent(engine, RelMountedOn)
	require.True(t, ok)
	assert.Equal(t, ship, parent)
}

func TestHierarchyRejectsCycles(t *testing.T) {
	h := NewHierarchy()
	a, b, c := NewEntityID(), NewEntityID(), NewEntityID()

	require.NoError(t, h.Link(a, b, RelHasChild))
	require.NoError(t, h.Link(b, c, RelHasChild))

	err := h.Link(c, a, RelHasChild)
	require.ErrorIs(t, err, ErrCycle)

	err = h.Link(a, a, RelHasChild)
	require.ErrorIs(t, err, ErrCycle)

	// Non-hierarchical relations may form cycles freely.
	require.NoError(t, h.Link(a, b, RelOwns))
	require.NoError(t, h.Link(b, a, RelOwns))
}

func TestHierarchyRemoveEntity(t *testing.T) {
	h := NewHierarchy()
	ship, module := NewEntityID(), NewEntityID()
	require.NoError(t, h.Link(module, ship, RelMountedOn))
	require.NoError(t, h.Link(ship, module, RelHasChild))

	h.RemoveEntity(module)

	assert.Empty(t, h.Sources(ship, RelMountedOn))
	assert.Empty(t, h.Targets(ship, RelHasChild))
	assert.Empty(t, h.Edges())
}

func TestHierarchyEdgesDeterministic(t *testing.T) {
	build := func() *Hierarchy {
		h := NewHierarchy()
		a, b, c := EntityID("aaa"), EntityID("bbb"), EntityID("ccc")
		_ = h.Link(c, a, RelOwns)
		_ = h.Link(b, a, RelMountedOn)
		_ = h.Link(a, b, RelHasChild)
		return h
	}
	assert.Equal(t, build().Edges(), build().Edges())
}
