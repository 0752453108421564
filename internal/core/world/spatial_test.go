package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGridQueryRadius(t *testing.T) {
	g := NewGrid(100)
	near := EntityID("near")
	edge := EntityID("edge")
	far := EntityID("far")

	g.Upsert(near, Vec3{X: 10})
	g.Upsert(edge, Vec3{X: 50})
	g.Upsert(far, Vec3{X: 51})

	got := g.QueryRadius(Vec3{}, 50)
	assert.ElementsMatch(t, []EntityID{near, edge}, got)
}

func TestGridUpsertMoves(t *testing.T) {
	g := NewGrid(100)
	id := EntityID("mover")

	g.Upsert(id, Vec3{X: 10})
	assert.Len(t, g.QueryRadius(Vec3{}, 20), 1)

	g.Upsert(id, Vec3{X: 5000})
	assert.Empty(t, g.QueryRadius(Vec3{}, 20))
	assert.Len(t, g.QueryRadius(Vec3{X: 5000}, 20), 1)
	assert.Equal(t, 1, g.Len())
}

func TestGridRemove(t *testing.T) {
	g := NewGrid(100)
	id := EntityID("gone")
	g.Upsert(id, Vec3{})
	g.Remove(id)
	g.Remove(id) // second remove is a no-op

	assert.Empty(t, g.QueryRadius(Vec3{}, 1000))
	assert.Equal(t, 0, g.Len())
}

func TestGridQuerySpansCells(t *testing.T) {
	g := NewGrid(10)
	var want []EntityID
	for i := 0; i < 5; i++ {
		id := EntityID(rune('a' + i))
		g.Upsert(id, Vec3{X: float64(i * 10)})
		want = append(want, id)
	}
	assert.ElementsMatch(t, want, g.QueryRadius(Vec3{X: 20}, 25))
}
