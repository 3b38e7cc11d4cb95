package handlers

import (
	"log"
	"time"

	"variantlab/internal/services"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

const (
	livePingInterval = 30 * time.Second
	liveReadTimeout  = 90 * time.Second
	liveWriteTimeout = 10 * time.Second
)

// LiveUpdatesHandler streams recording updates to dashboards over a WebSocket
type LiveUpdatesHandler struct {
	hub *services.LiveUpdateHub
}

// NewLiveUpdatesHandler creates a new live updates handler
func NewLiveUpdatesHandler(hub *services.LiveUpdateHub) *LiveUpdatesHandler {
	return &LiveUpdatesHandler{hub: hub}
}

// Upgrade rejects plain HTTP requests on the WebSocket route
func (h *LiveUpdatesHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Handle runs one dashboard connection until either side goes away
func (h *LiveUpdatesHandler) Handle(c *websocket.Conn) {
	sub := h.hub.Subscribe()
	defer h.hub.Unsubscribe(sub.ID)

	viewerID, _ := c.Locals("viewer_id").(string)
	log.Printf("🔌 [LIVE] Dashboard connected: %s (viewer: %s)", sub.ID, viewerID)

	done := make(chan struct{})
	go h.readLoop(c, done)

	c.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
	if err := c.WriteJSON(fiber.Map{"type": "connected", "subscriberId": sub.ID}); err != nil {
		return
	}

	ticker := time.NewTicker(livePingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			log.Printf("🔌 [LIVE] Dashboard disconnected: %s", sub.ID)
			return
		case update, ok := <-sub.Updates:
			if !ok {
				return
			}
			c.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			if err := c.WriteJSON(update); err != nil {
				log.Printf("⚠️  [LIVE] Write failed for %s: %v", sub.ID, err)
				return
			}
		case <-ticker.C:
			if err := c.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(liveWriteTimeout)); err != nil {
				log.Printf("⚠️  [LIVE] Ping failed for %s: %v", sub.ID, err)
				return
			}
		}
	}
}

// readLoop drains client frames so pongs and close frames are processed
func (h *LiveUpdatesHandler) readLoop(c *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	c.SetReadDeadline(time.Now().Add(liveReadTimeout))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(liveReadTimeout))
	})

	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
		c.SetReadDeadline(time.Now().Add(liveReadTimeout))
	}
}
