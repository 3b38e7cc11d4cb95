package jobs

import (
	"context"
	"log"
	"time"
)

// TempSweeper removes temp files abandoned by interrupted writes
type TempSweeper interface {
	SweepTempFiles(olderThan time.Duration) (int, error)
}

// TempFileSweepJob cleans up partial recording writes
type TempFileSweepJob struct {
	sweeper TempSweeper
	maxAge  time.Duration
}

// NewTempFileSweepJob creates a sweep job for files older than maxAge
func NewTempFileSweepJob(sweeper TempSweeper, maxAge time.Duration) *TempFileSweepJob {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &TempFileSweepJob{sweeper: sweeper, maxAge: maxAge}
}

// Run executes one sweep
func (j *TempFileSweepJob) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	removed, err := j.sweeper.SweepTempFiles(j.maxAge)
	if err != nil {
		return err
	}
	if removed > 0 {
		log.Printf("[TEMP-SWEEP] Removed %d abandoned temp files", removed)
	}
	return nil
}
