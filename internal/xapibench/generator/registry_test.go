package generator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCumulativeTableDraw(t *testing.T) {
	table := cumulativeTable{}
	table.add(1)
	table.add(0)
	table.add(3)

	assert.Equal(t, 3, table.len())
	assert.Equal(t, 4.0, table.total())

	assert.Equal(t, 0, table.draw(0))
	assert.Equal(t, 0, table.draw(0.24))
	assert.Equal(t, 2, table.draw(0.25))
	assert.Equal(t, 2, table.draw(0.99))
}

func TestCumulativeTableSkipsTrailingZeroWeight(t *testing.T) {
	table := cumulativeTable{}
	table.add(2)
	table.add(0)

	// u of 1 only happens through rounding, it must not land on a zero
	// weight entry.
	assert.Equal(t, 0, table.draw(1))
}

func TestRegistryIndices(t *testing.T) {
	r := registry{}
	for range 5 {
		r.addCourse(Course{ID: "c"}, 1)
	}
	assert.Len(t, r.courses, 5)
	for i, c := range r.courses {
		assert.Equal(t, i, c.Index)
		assert.InDelta(t, 1/float64(i+1), c.Weight, 1e-12)
	}

	a := r.addActor(Actor{Name: "x"}, 1)
	assert.Equal(t, 0, a.Index)
	assert.Equal(t, a, r.drawActor(0.5))
}
