package recwatch

import (
	"context"
	"errors"
	"sync"

	"variantlab/internal/models"
)

// RecordingFetcher loads one full recording
type RecordingFetcher interface {
	GetRecording(ctx context.Context, sessionID string) (*models.SessionRecording, error)
}

// RecordingState is one observation of a RecordingSubscription.
// NotFound is a normal outcome and never sets Err.
type RecordingState struct {
	SessionID string
	Recording *models.SessionRecording
	IsLoading bool
	NotFound  bool
	Err       error
}

// RecordingSubscription tracks the recording currently selected in a dashboard
type RecordingSubscription struct {
	fetcher RecordingFetcher

	mu         sync.Mutex
	state      RecordingState
	generation uint64
	abort      context.CancelFunc
	closed     bool
	updates    chan RecordingState
}

// NewRecordingSubscription creates a subscription with no session selected
func NewRecordingSubscription(fetcher RecordingFetcher) *RecordingSubscription {
	return &RecordingSubscription{
		fetcher: fetcher,
		updates: make(chan RecordingState, 1),
	}
}

// SetSessionID selects a session. Selecting the current id again does nothing;
// "" clears the recording without a request. Any pending fetch for an earlier id is discarded.
func (s *RecordingSubscription) SetSessionID(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || sessionID == s.state.SessionID {
		return
	}

	s.generation++
	if s.abort != nil {
		s.abort()
		s.abort = nil
	}

	if sessionID == "" {
		s.state = RecordingState{}
		s.publishLocked()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.abort = cancel

	s.state.SessionID = sessionID
	s.state.IsLoading = true
	s.state.NotFound = false
	s.state.Err = nil
	s.publishLocked()

	go s.fetch(ctx, s.generation, sessionID)
}

func (s *RecordingSubscription) fetch(ctx context.Context, generation uint64, sessionID string) {
	rec, err := s.fetcher.GetRecording(ctx, sessionID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || generation != s.generation {
		return
	}
	s.abort = nil

	s.state.IsLoading = false
	switch {
	case errors.Is(err, ErrNotFound):
		s.state.Recording = nil
		s.state.NotFound = true
	case err != nil:
		s.state.Err = err
	default:
		s.state.Recording = rec
	}
	s.publishLocked()
}

func (s *RecordingSubscription) publishLocked() {
	st := s.state
	select {
	case s.updates <- st:
		return
	default:
	}
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- st:
	default:
	}
}

// State returns the current state
func (s *RecordingSubscription) State() RecordingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Updates delivers state changes, latest wins. Closed by Close.
func (s *RecordingSubscription) Updates() <-chan RecordingState {
	return s.updates
}

// Close abandons any pending fetch and closes Updates
func (s *RecordingSubscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	if s.abort != nil {
		s.abort()
		s.abort = nil
	}
	close(s.updates)
}
