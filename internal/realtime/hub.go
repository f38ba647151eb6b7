package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/streamforge/backend/internal/logger"
)

// subscriber receives encoded events for the videos it follows
type subscriber chan []byte

// Hub groups websocket subscribers per video and relays broadcast events to
// them. Events for a video nobody follows are dropped.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[subscriber]struct{}
	logger logger.Logger
}

// NewHub creates a new subscriber hub
func NewHub(log logger.Logger) *Hub {
	return &Hub{
		groups: make(map[string]map[subscriber]struct{}),
		logger: log,
	}
}

// Subscribe adds a subscriber to a video's group
func (h *Hub) Subscribe(videoID string, sub subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group, ok := h.groups[videoID]
	if !ok {
		group = make(map[subscriber]struct{})
		h.groups[videoID] = group
	}
	group[sub] = struct{}{}
}

// Unsubscribe removes a subscriber from a video's group
func (h *Hub) Unsubscribe(videoID string, sub subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group, ok := h.groups[videoID]
	if !ok {
		return
	}
	delete(group, sub)
	if len(group) == 0 {
		delete(h.groups, videoID)
	}
}

// Drop removes a subscriber from every group it follows
func (h *Hub) Drop(sub subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for videoID, group := range h.groups {
		delete(group, sub)
		if len(group) == 0 {
			delete(h.groups, videoID)
		}
	}
}

// Broadcast delivers an event to every subscriber of its video. Slow
// subscribers get events dropped rather than blocking the relay.
func (h *Hub) Broadcast(event StatusEvent) {
	body, err := json.Marshal(event)
	if err != nil {
		h.logger.LogError(err, "failed to encode broadcast event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.groups[event.VideoID] {
		select {
		case sub <- body:
		default:
		}
	}
}

// Subscribers reports how many subscribers currently follow a video
func (h *Hub) Subscribers(videoID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[videoID])
}

// Relay consumes the broadcast channel and forwards events to the hub
// until the context is cancelled
func (h *Hub) Relay(ctx context.Context, client *redis.Client) {
	pubsub := client.Subscribe(ctx, StatusChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event StatusEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				h.logger.LogWarn("dropping malformed status event", map[string]interface{}{
					"error": err.Error(),
				})
				continue
			}
			h.Broadcast(event)
		}
	}
}
