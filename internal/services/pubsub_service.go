package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"variantlab/internal/models"

	"github.com/redis/go-redis/v9"
)

// RecordingUpdatesChannel carries recording updates between instances
const RecordingUpdatesChannel = "recordings:updates"

// relayEnvelope wraps an update with its source instance
type relayEnvelope struct {
	InstanceID string                 `json:"instanceId"`
	Update     models.RecordingUpdate `json:"update"`
}

// PubSubService relays recording updates across instances through Redis
type PubSubService struct {
	redis      *RedisService
	pubsub     *redis.PubSub
	hub        *LiveUpdateHub
	instanceID string
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewPubSubService creates a relay that feeds remote updates into hub
func NewPubSubService(redisService *RedisService, hub *LiveUpdateHub, instanceID string) *PubSubService {
	ctx, cancel := context.WithCancel(context.Background())
	return &PubSubService{
		redis:      redisService,
		hub:        hub,
		instanceID: instanceID,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins listening for updates from other instances
func (s *PubSubService) Start() error {
	s.pubsub = s.redis.Client().Subscribe(s.ctx, RecordingUpdatesChannel)

	// Wait for subscription confirmation
	if _, err := s.pubsub.Receive(s.ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", RecordingUpdatesChannel, err)
	}

	go s.processMessages()

	log.Printf("✅ [PUBSUB] Relaying recording updates (instance: %s)", s.instanceID)
	return nil
}

func (s *PubSubService) processMessages() {
	ch := s.pubsub.Channel()

	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.handleMessage(msg.Payload)
		}
	}
}

// handleMessage applies one relayed update. Updates from this instance are ignored.
func (s *PubSubService) handleMessage(payload string) {
	var envelope relayEnvelope
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		log.Printf("⚠️ [PUBSUB] Failed to unmarshal message: %v", err)
		return
	}

	if envelope.InstanceID == s.instanceID {
		return
	}

	update := envelope.Update
	update.Source = "relay"
	s.hub.Broadcast(update)
}

// PublishUpdate sends a local update to other instances
func (s *PubSubService) PublishUpdate(update models.RecordingUpdate) error {
	data, err := json.Marshal(relayEnvelope{InstanceID: s.instanceID, Update: update})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()
	return s.redis.Publish(ctx, RecordingUpdatesChannel, data)
}

// Stop stops the pub/sub service
func (s *PubSubService) Stop() error {
	s.cancel()
	if s.pubsub != nil {
		return s.pubsub.Close()
	}
	return nil
}
