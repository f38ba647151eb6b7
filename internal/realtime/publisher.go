package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/streamforge/backend/internal/logger"
	"github.com/streamforge/backend/internal/video"
)

// Publisher pushes status transitions onto the broadcast channel. Fan-out is
// best effort; a publish failure never fails the operation that caused it.
type Publisher struct {
	client *redis.Client
	logger logger.Logger
}

// NewPublisher creates a new status publisher
func NewPublisher(client *redis.Client, log logger.Logger) *Publisher {
	return &Publisher{client: client, logger: log}
}

// PublishStatus implements video.StatusPublisher
func (p *Publisher) PublishStatus(ctx context.Context, videoID string, status video.Status, errMsg string) {
	event := StatusEvent{VideoID: videoID, Status: string(status), Error: errMsg}
	body, err := json.Marshal(event)
	if err != nil {
		p.logger.LogError(err, fmt.Sprintf("failed to encode status event for %s", videoID))
		return
	}
	if err := p.client.Publish(ctx, StatusChannel, body).Err(); err != nil {
		p.logger.LogWarn("failed to publish status event", map[string]interface{}{
			"videoId": videoID,
			"status":  string(status),
			"error":   err.Error(),
		})
	}
}

// NopPublisher discards status events. Used where fan-out is not wired.
type NopPublisher struct{}

// PublishStatus implements video.StatusPublisher
func (NopPublisher) PublishStatus(ctx context.Context, videoID string, status video.Status, errMsg string) {
}
