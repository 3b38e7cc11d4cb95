package recwatch

import (
	"context"
	"sync"
	"time"

	"variantlab/internal/models"

	"github.com/jonboulle/clockwork"
)

// DefaultInterval is how often a ListSubscription refreshes
const DefaultInterval = 10 * time.Second

// ListFetcher loads recording metadata
type ListFetcher interface {
	ListRecordings(ctx context.Context, version string) ([]models.RecordingMetadata, error)
}

// ListState is one observation of a list subscription.
// Err reports the latest failure; Recordings keeps the last good result regardless.
type ListState struct {
	Recordings []models.RecordingMetadata
	IsLoading  bool
	Err        error
	FetchedAt  time.Time
}

// ListOption configures a ListSubscription
type ListOption func(*ListSubscription)

// WithInterval overrides DefaultInterval
func WithInterval(d time.Duration) ListOption {
	return func(s *ListSubscription) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock injects the clock driving the refresh ticker
func WithClock(clock clockwork.Clock) ListOption {
	return func(s *ListSubscription) { s.clock = clock }
}

// ListSubscription keeps a recording listing fresh by polling.
// At most one fetch is in flight; ticks that arrive during a fetch are dropped.
type ListSubscription struct {
	fetcher  ListFetcher
	version  string
	interval time.Duration
	clock    clockwork.Clock

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	state     ListState
	seq       uint64 // last fetch started
	applied   uint64 // last fetch whose result was applied
	inFlight  bool
	started   bool
	cancelled bool
	updates   chan ListState
}

// NewListSubscription creates a stopped subscription for version ("" for all versions)
func NewListSubscription(fetcher ListFetcher, version string, opts ...ListOption) *ListSubscription {
	s := &ListSubscription{
		fetcher:  fetcher,
		version:  version,
		interval: DefaultInterval,
		clock:    clockwork.NewRealClock(),
		updates:  make(chan ListState, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Start fetches immediately and then on every interval until Cancel. Calling it twice is a no-op.
func (s *ListSubscription) Start() {
	s.mu.Lock()
	if s.started || s.cancelled {
		s.mu.Unlock()
		return
	}
	s.started = true
	ticker := s.clock.NewTicker(s.interval)
	s.mu.Unlock()

	s.Refresh()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.Chan():
				s.Refresh()
			}
		}
	}()
}

// Refresh starts a fetch unless one is already running. It reports whether a fetch was started.
func (s *ListSubscription) Refresh() bool {
	s.mu.Lock()
	if s.cancelled || s.inFlight {
		s.mu.Unlock()
		return false
	}
	s.inFlight = true
	s.seq++
	seq := s.seq
	s.state.IsLoading = true
	s.publishLocked()
	s.mu.Unlock()

	go s.fetch(seq)
	return true
}

func (s *ListSubscription) fetch(seq uint64) {
	recordings, err := s.fetcher.ListRecordings(s.ctx, s.version)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.inFlight = false
	if s.cancelled || seq <= s.applied {
		return
	}
	s.applied = seq

	s.state.IsLoading = false
	if err != nil {
		s.state.Err = err
	} else {
		s.state.Recordings = recordings
		s.state.Err = nil
		s.state.FetchedAt = s.clock.Now()
	}
	s.publishLocked()
}

// publishLocked replaces any unread update with the current state
func (s *ListSubscription) publishLocked() {
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
func (s *ListSubscription) State() ListState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Updates delivers state changes. Only the latest unread state is kept.
// The channel is closed by Cancel.
func (s *ListSubscription) Updates() <-chan ListState {
	return s.updates
}

// Cancel stops the ticker. Results of fetches still in flight are discarded.
func (s *ListSubscription) Cancel() {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	close(s.updates)
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}
