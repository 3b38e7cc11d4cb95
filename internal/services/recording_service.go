package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"variantlab/internal/logging"
	"variantlab/internal/models"
	"variantlab/internal/security"
)

var (
	// ErrInvalidRecording is returned when sessionId or version is missing or unsafe
	ErrInvalidRecording = errors.New("invalid recording")
	// ErrStoreFailure matches every *StoreError
	ErrStoreFailure = errors.New("store failure")
)

// StoreError reports an I/O failure of the recording backend
type StoreError struct {
	Op  string // "ensure", "write", "list", "read"
	Key string
	Err error
}

func (e *StoreError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store failure: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store failure: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStoreFailure) true for any StoreError
func (e *StoreError) Is(target error) bool { return target == ErrStoreFailure }

// RecordingService persists session recordings
type RecordingService struct {
	backend RecordingBackend
	hub     *LiveUpdateHub
}

// NewRecordingService creates the store. hub may be nil.
func NewRecordingService(backend RecordingBackend, hub *LiveUpdateHub) *RecordingService {
	return &RecordingService{backend: backend, hub: hub}
}

// Backend returns the underlying backend
func (s *RecordingService) Backend() RecordingBackend {
	return s.backend
}

// ValidateRecording checks the identity fields of a recording
func ValidateRecording(rec *models.SessionRecording) error {
	if rec == nil {
		return fmt.Errorf("%w: empty body", ErrInvalidRecording)
	}
	if err := security.ValidateRecordingKeyPart("sessionId", rec.SessionID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecording, err)
	}
	if err := security.ValidateRecordingKeyPart("version", rec.Version); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecording, err)
	}
	return nil
}

// Upsert writes the full recording under version_sessionId, replacing any earlier snapshot.
// Concurrent upserts of the same key are last-write-wins.
func (s *RecordingService) Upsert(ctx context.Context, rec *models.SessionRecording) (*models.StoredRecording, error) {
	metrics := GetMetrics()
	backend := s.backend.Name()

	if err := ValidateRecording(rec); err != nil {
		metrics.RecordUpsert(backend, "invalid")
		return nil, err
	}

	key := rec.Key()
	logger := logging.WithBackend(logging.WithRecording(rec.Version, rec.SessionID), backend)

	stored := *rec
	if stored.Events == nil {
		stored.Events = []json.RawMessage{}
	}
	data, err := json.MarshalIndent(&stored, "", "  ")
	if err != nil {
		metrics.RecordUpsert(backend, "invalid")
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecording, err)
	}

	if err := s.backend.Ensure(ctx); err != nil {
		metrics.RecordUpsert(backend, "error")
		logger.Error("failed to ensure recording store", "error", err)
		return nil, &StoreError{Op: "ensure", Err: err}
	}

	location, err := s.backend.Put(ctx, key, data)
	if err != nil {
		metrics.RecordUpsert(backend, "error")
		logger.Error("failed to write recording", "key", key, "error", err)
		return nil, &StoreError{Op: "write", Key: key, Err: err}
	}

	metrics.RecordUpsert(backend, "ok")
	logger.Debug("recording stored", "key", key, "events", len(stored.Events))
	s.hub.NotifyStored(key)

	return &models.StoredRecording{
		Key:      key,
		Filename: models.RecordingFilename(key),
		Path:     location,
	}, nil
}
