package services

import (
	"log"
	"sync"
	"time"

	"variantlab/internal/models"

	"github.com/google/uuid"
)

// UpdateRelay forwards locally produced updates to other instances
type UpdateRelay interface {
	PublishUpdate(update models.RecordingUpdate) error
}

// LiveSubscriber receives recording updates for one dashboard connection
type LiveSubscriber struct {
	ID      string
	Updates chan models.RecordingUpdate
}

// LiveUpdateHub fans recording updates out to connected dashboards
type LiveUpdateHub struct {
	subscribers map[string]*LiveSubscriber
	mutex       sync.RWMutex
	relay       UpdateRelay
	bufferSize  int
}

// NewLiveUpdateHub creates a hub whose subscribers buffer up to bufferSize updates
func NewLiveUpdateHub(bufferSize int) *LiveUpdateHub {
	if bufferSize <= 0 {
		bufferSize = 32
	}
	return &LiveUpdateHub{
		subscribers: make(map[string]*LiveSubscriber),
		bufferSize:  bufferSize,
	}
}

// SetRelay attaches a cross-instance relay
func (h *LiveUpdateHub) SetRelay(relay UpdateRelay) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.relay = relay
}

// Subscribe registers a new subscriber
func (h *LiveUpdateHub) Subscribe() *LiveSubscriber {
	sub := &LiveSubscriber{
		ID:      uuid.New().String(),
		Updates: make(chan models.RecordingUpdate, h.bufferSize),
	}

	h.mutex.Lock()
	h.subscribers[sub.ID] = sub
	total := len(h.subscribers)
	h.mutex.Unlock()

	log.Printf("✅ [LIVE] Subscriber added: %s (Total: %d)", sub.ID, total)
	return sub
}

// Unsubscribe removes a subscriber and closes its channel
func (h *LiveUpdateHub) Unsubscribe(id string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if sub, exists := h.subscribers[id]; exists {
		close(sub.Updates)
		delete(h.subscribers, id)
		log.Printf("❌ [LIVE] Subscriber removed: %s (Total: %d)", id, len(h.subscribers))
	}
}

// Count returns the number of active subscribers
func (h *LiveUpdateHub) Count() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.subscribers)
}

// NotifyStored announces a recording written by this instance
func (h *LiveUpdateHub) NotifyStored(key string) {
	if h == nil {
		return
	}
	update := newRecordingUpdate(key, "local")
	h.Broadcast(update)

	h.mutex.RLock()
	relay := h.relay
	h.mutex.RUnlock()
	if relay != nil {
		if err := relay.PublishUpdate(update); err != nil {
			log.Printf("⚠️  [LIVE] Failed to relay update for %s: %v", key, err)
		}
	}
}

// NotifyExternal announces a change this instance did not write. It is never relayed.
func (h *LiveUpdateHub) NotifyExternal(key, source string) {
	if h == nil {
		return
	}
	h.Broadcast(newRecordingUpdate(key, source))
}

// Broadcast delivers an update to every subscriber without blocking.
// Subscribers with a full buffer miss the update.
func (h *LiveUpdateHub) Broadcast(update models.RecordingUpdate) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	for _, sub := range h.subscribers {
		select {
		case sub.Updates <- update:
		default:
		}
	}
}

func newRecordingUpdate(key, source string) models.RecordingUpdate {
	update := models.RecordingUpdate{
		Type:      "recording_updated",
		Key:       key,
		Source:    source,
		Timestamp: time.Now().UnixMilli(),
	}
	if version, sessionID, ok := models.SplitRecordingKey(key); ok {
		update.Version = version
		update.SessionID = sessionID
	}
	return update
}
