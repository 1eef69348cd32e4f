package backend

import (
	"math/bits"
	"sort"
	"time"
)

// QueryResult is the outcome of one timed query.
type QueryResult struct {
	Name     string
	Duration time.Duration
	// Value is the headline number: a count, or the number of rows read.
	Value  int64
	Counts []Count
}

// QueryReport is returned by Lake.RunQueries.
type QueryReport struct {
	Results []QueryResult
	Total   time.Duration
}

// HistogramBucket counts actors whose statement count falls in [Min, Max].
type HistogramBucket struct {
	Min    int64
	Max    int64
	Actors int64
}

// DistributionReport is returned by Lake.RunDistributionQueries. It has the
// same shape for every backend so results can be compared side by side.
type DistributionReport struct {
	Verbs           []Count
	Orgs            []Count
	DistinctCourses int64
	TopCourses      []Count
	ActorActivity   []HistogramBucket
	Timings         []QueryResult
	Total           time.Duration
}

// RowCounts is the introspection result of Lake.RowCounts.
type RowCounts struct {
	// Statements stored in the backend, including earlier runs.
	Statements int64
	// Inserted by this Lake since it was opened.
	Inserted int64
}

// ActivityHistogram folds per-actor counts into power of two buckets:
// 1, 2-3, 4-7, 8-15 and so on. Empty buckets are omitted.
func ActivityHistogram(counts []ActivityCount) []HistogramBucket {
	byBucket := map[int]int64{}
	for _, c := range counts {
		if c.Events <= 0 || c.Actors <= 0 {
			continue
		}
		byBucket[bits.Len64(uint64(c.Events))-1] += c.Actors
	}

	buckets := make([]HistogramBucket, 0, len(byBucket))
	for b, actors := range byBucket {
		buckets = append(buckets, HistogramBucket{
			Min:    int64(1) << b,
			Max:    int64(1)<<(b+1) - 1,
			Actors: actors,
		})
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Min < buckets[j].Min })
	return buckets
}

// sortCounts orders by count descending, then key.
func sortCounts(counts []Count) []Count {
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Key < counts[j].Key
	})
	return counts
}

// alignCounts returns one Count per key in keys order, zero when missing.
func alignCounts(keys []string, counts []Count) []Count {
	byKey := make(map[string]int64, len(counts))
	for _, c := range counts {
		byKey[c.Key] += c.Count
	}
	aligned := make([]Count, 0, len(keys))
	for _, k := range keys {
		aligned = append(aligned, Count{Key: k, Count: byKey[k]})
	}
	return aligned
}

func sumCounts(counts []Count) int64 {
	var total int64
	for _, c := range counts {
		total += c.Count
	}
	return total
}
