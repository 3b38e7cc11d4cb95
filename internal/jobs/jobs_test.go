package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"variantlab/internal/config"
	"variantlab/internal/models"
	"variantlab/internal/services"
)

type countingJob struct {
	runs int
	err  error
}

func (j *countingJob) Run(ctx context.Context) error {
	j.runs++
	return j.err
}

func TestJobScheduler_RegisterAndRunNow(t *testing.T) {
	scheduler, err := NewJobScheduler()
	if err != nil {
		t.Fatalf("NewJobScheduler failed: %v", err)
	}
	defer scheduler.Stop()

	job := &countingJob{}
	if err := scheduler.Register("counting", "0 * * * *", job); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	scheduler.Start()

	if err := scheduler.RunNow("counting"); err != nil {
		t.Fatalf("RunNow failed: %v", err)
	}
	if job.runs != 1 {
		t.Errorf("Expected 1 run, got %d", job.runs)
	}

	status := scheduler.GetStatus()
	if !status["counting"].Registered {
		t.Error("Expected job to be registered")
	}
	if next := status["counting"].NextRunTime; !next.IsZero() && next.Minute() != 0 {
		t.Errorf("Expected next run on the hour, got %v", next)
	}

	if err := scheduler.RunNow("missing"); err == nil {
		t.Error("Expected error for unknown job")
	}
}

func TestJobScheduler_RejectsInvalidCron(t *testing.T) {
	scheduler, err := NewJobScheduler()
	if err != nil {
		t.Fatal(err)
	}
	defer scheduler.Stop()

	if err := scheduler.Register("bad", "not a cron", &countingJob{}); err == nil {
		t.Error("Expected invalid cron expression to be rejected")
	}
}

func TestTempFileSweepJob(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, ".rec-1.tmp")
	if err := os.WriteFile(stale, []byte("partial"), 0644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-3 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}

	job := NewTempFileSweepJob(services.NewFileRecordingBackend(dir), time.Hour)
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("Expected stale temp file to be removed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := job.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context error, got %v", err)
	}
}

func TestRecordingStatsJob(t *testing.T) {
	ctx := context.Background()
	backend := services.NewFileRecordingBackend(t.TempDir())
	store := services.NewRecordingService(backend, nil)
	for _, rec := range []*models.SessionRecording{
		{SessionID: "1", Version: "A", Events: []json.RawMessage{}},
		{SessionID: "2", Version: "B", Events: []json.RawMessage{}},
		{SessionID: "3", Version: "B", Events: []json.RawMessage{}},
	} {
		if _, err := store.Upsert(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	job := NewRecordingStatsJob(services.NewRecordingQueryService(backend, config.LookupExact))
	if err := job.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	last := job.Last()
	if last["A"] != 1 || last["B"] != 2 {
		t.Errorf("Unexpected counts %v", last)
	}
}
