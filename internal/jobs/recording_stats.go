package jobs

import (
	"context"
	"log"
	"sync"

	"variantlab/internal/services"
)

// VersionCounter tallies stored recordings per version
type VersionCounter interface {
	CountByVersion(ctx context.Context) (map[string]int, error)
}

// RecordingStatsJob refreshes the per-version recordings gauge
type RecordingStatsJob struct {
	counter VersionCounter

	mu   sync.RWMutex
	last map[string]int
}

// NewRecordingStatsJob creates the stats job
func NewRecordingStatsJob(counter VersionCounter) *RecordingStatsJob {
	return &RecordingStatsJob{counter: counter}
}

// Run executes one refresh
func (j *RecordingStatsJob) Run(ctx context.Context) error {
	counts, err := j.counter.CountByVersion(ctx)
	if err != nil {
		return err
	}

	services.GetMetrics().SetVersionCounts(counts)

	j.mu.Lock()
	j.last = counts
	j.mu.Unlock()

	total := 0
	for _, n := range counts {
		total += n
	}
	log.Printf("[RECORDING-STATS] %d recordings across %d versions", total, len(counts))
	return nil
}

// Last returns the counts from the most recent successful run
func (j *RecordingStatsJob) Last() map[string]int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make(map[string]int, len(j.last))
	for k, v := range j.last {
		out[k] = v
	}
	return out
}
