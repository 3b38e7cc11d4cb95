package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"variantlab/internal/config"
	"variantlab/internal/models"
)

// ErrRecordingNotFound is returned by Get when no stored recording matches
var ErrRecordingNotFound = errors.New("recording not found")

// RecordingQueryService lists and loads stored recordings. It never writes.
type RecordingQueryService struct {
	backend    RecordingBackend
	lookupMode string
}

// NewRecordingQueryService creates a query engine. lookupMode is config.LookupExact or config.LookupSubstring.
func NewRecordingQueryService(backend RecordingBackend, lookupMode string) *RecordingQueryService {
	if lookupMode != config.LookupSubstring {
		lookupMode = config.LookupExact
	}
	return &RecordingQueryService{backend: backend, lookupMode: lookupMode}
}

// List returns metadata for every readable recording, newest startTime first.
// A non-empty version keeps only recordings whose stored version equals it.
// Records that cannot be read or parsed are skipped.
func (s *RecordingQueryService) List(ctx context.Context, version string) ([]models.RecordingMetadata, error) {
	start := time.Now()
	defer func() {
		GetMetrics().RecordListLatency(time.Since(start).Seconds())
	}()

	prefix := ""
	if version != "" {
		prefix = version + "_"
	}

	keys, err := s.backend.Keys(ctx, prefix)
	if err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}

	recordings := make([]models.RecordingMetadata, 0, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, ok := s.load(ctx, key)
		if !ok {
			continue
		}
		if version != "" && rec.Version != version {
			continue
		}
		recordings = append(recordings, rec.Project(models.RecordingFilename(key)))
	}

	sort.SliceStable(recordings, func(i, j int) bool {
		return recordings[i].StartTime > recordings[j].StartTime
	})

	return recordings, nil
}

// Get returns the first recording, in key order, whose key identifies sessionID.
func (s *RecordingQueryService) Get(ctx context.Context, sessionID string) (*models.SessionRecording, error) {
	if sessionID == "" {
		return nil, ErrRecordingNotFound
	}

	keys, err := s.backend.Keys(ctx, "")
	if err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}

	for _, key := range keys {
		if !s.matches(key, sessionID) {
			continue
		}
		rec, ok := s.load(ctx, key)
		if !ok {
			continue
		}
		// Versions containing "_" can make the suffix match a different session
		if s.lookupMode == config.LookupExact && rec.SessionID != sessionID {
			continue
		}
		return rec, nil
	}

	return nil, ErrRecordingNotFound
}

// CountByVersion tallies readable recordings per version
func (s *RecordingQueryService) CountByVersion(ctx context.Context) (map[string]int, error) {
	all, err := s.List(ctx, "")
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, m := range all {
		counts[m.Version]++
	}
	return counts, nil
}

func (s *RecordingQueryService) matches(key, sessionID string) bool {
	if s.lookupMode == config.LookupSubstring {
		return strings.Contains(key, sessionID)
	}
	return strings.HasSuffix(key, "_"+sessionID)
}

// load reads and parses one record. Vanished or corrupt records report ok=false.
func (s *RecordingQueryService) load(ctx context.Context, key string) (*models.SessionRecording, bool) {
	data, err := s.backend.Read(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrBackendNotFound) {
			slog.Warn("skipping unreadable recording", "key", key, "backend", s.backend.Name(), "error", err)
			GetMetrics().RecordSkipped()
		}
		return nil, false
	}

	var rec models.SessionRecording
	if err := json.Unmarshal(data, &rec); err != nil {
		slog.Warn("skipping corrupt recording", "key", key, "backend", s.backend.Name(), "error", err)
		GetMetrics().RecordSkipped()
		return nil, false
	}
	return &rec, true
}
