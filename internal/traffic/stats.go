package traffic

import (
	"sort"
	"time"
)

// Stats accumulates per-unit latencies for a job
type Stats struct {
	Completed int
	Failed    int
	durations []int64
	totalMs   int64
	minMs     int64
	maxMs     int64
}

// NewStats creates an empty Stats
func NewStats() *Stats {
	return &Stats{
		durations: make([]int64, 0, 256),
		minMs:     -1,
		maxMs:     -1,
	}
}

// Add records one finished unit
func (s *Stats) Add(d time.Duration, failed bool) {
	ms := d.Milliseconds()
	s.Completed++
	if failed {
		s.Failed++
	}
	s.totalMs += ms
	s.durations = append(s.durations, ms)

	if s.minMs == -1 || ms < s.minMs {
		s.minMs = ms
	}
	if s.maxMs == -1 || ms > s.maxMs {
		s.maxMs = ms
	}
}

// AvgMs returns the mean unit duration
func (s *Stats) AvgMs() float64 {
	if s.Completed == 0 {
		return 0
	}
	return float64(s.totalMs) / float64(s.Completed)
}

// MinMs returns the fastest unit, or 0 without results
func (s *Stats) MinMs() int64 {
	if s.minMs == -1 {
		return 0
	}
	return s.minMs
}

// MaxMs returns the slowest unit, or 0 without results
func (s *Stats) MaxMs() int64 {
	if s.maxMs == -1 {
		return 0
	}
	return s.maxMs
}

// Percentile interpolates the p-th percentile (0..100) of unit durations
func (s *Stats) Percentile(p float64) int64 {
	if len(s.durations) == 0 {
		return 0
	}

	sorted := make([]int64, len(s.durations))
	copy(sorted, s.durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	index := (p / 100.0) * float64(len(sorted)-1)
	lower := int(index)
	if lower+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}

	weight := index - float64(lower)
	return int64(float64(sorted[lower])*(1-weight) + float64(sorted[lower+1])*weight)
}

func (s *Stats) P50() int64 { return s.Percentile(50) }
func (s *Stats) P95() int64 { return s.Percentile(95) }
func (s *Stats) P99() int64 { return s.Percentile(99) }

// SuccessRate returns the share of units that succeeded, in percent
func (s *Stats) SuccessRate() float64 {
	if s.Completed == 0 {
		return 0
	}
	return float64(s.Completed-s.Failed) / float64(s.Completed) * 100
}
