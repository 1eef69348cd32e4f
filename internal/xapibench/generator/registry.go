package generator

import (
	"math"
	"sort"
)

// cumulativeTable supports weighted draws over a growing list of entries.
// Appending is O(1) and a draw is a binary search over the running sums.
type cumulativeTable struct {
	sums []float64
}

func (t *cumulativeTable) add(weight float64) {
	last := 0.0
	if n := len(t.sums); n > 0 {
		last = t.sums[n-1]
	}
	t.sums = append(t.sums, last+weight)
}

func (t *cumulativeTable) len() int {
	return len(t.sums)
}

func (t *cumulativeTable) total() float64 {
	if len(t.sums) == 0 {
		return 0
	}
	return t.sums[len(t.sums)-1]
}

// draw maps u in [0, 1) to an index. Entries with zero weight are never
// returned while any entry has positive weight.
func (t *cumulativeTable) draw(u float64) int {
	n := len(t.sums)
	target := u * t.total()
	i := sort.Search(n, func(i int) bool { return t.sums[i] > target })
	if i < n {
		return i
	}
	// u*total rounded up to total, pick the last entry with weight.
	for i = n - 1; i > 0 && t.sums[i] == t.sums[i-1]; i-- {
	}
	return i
}

// zipfWeight is the popularity of the entry at the given 1-based rank.
func zipfWeight(rank int, exponent float64) float64 {
	return 1 / math.Pow(float64(rank), exponent)
}

// registry is the arena of known actors and courses. Entries are addressed
// by index, never removed and never reordered.
type registry struct {
	actors       []Actor
	actorWeights cumulativeTable

	courses       []Course
	courseWeights cumulativeTable
}

func (r *registry) addActor(a Actor, skew float64) Actor {
	a.Index = len(r.actors)
	r.actors = append(r.actors, a)
	r.actorWeights.add(zipfWeight(a.Index+1, skew))
	return a
}

func (r *registry) addCourse(c Course, skew float64) Course {
	c.Index = len(r.courses)
	c.Weight = zipfWeight(c.Index+1, skew)
	r.courses = append(r.courses, c)
	r.courseWeights.add(c.Weight)
	return c
}

func (r *registry) drawActor(u float64) Actor {
	return r.actors[r.actorWeights.draw(u)]
}

func (r *registry) drawCourse(u float64) Course {
	return r.courses[r.courseWeights.draw(u)]
}
