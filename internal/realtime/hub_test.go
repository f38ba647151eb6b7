package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamforge/backend/internal/logger"
	"github.com/streamforge/backend/internal/video"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	return NewHub(logger.NewNopLogger())
}

func receive(t *testing.T, sub subscriber) StatusEvent {
	t.Helper()
	select {
	case body := <-sub:
		var event StatusEvent
		require.NoError(t, json.Unmarshal(body, &event))
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return StatusEvent{}
	}
}

func TestBroadcastReachesOnlyTheVideoGroup(t *testing.T) {
	hub := newTestHub(t)

	subA := make(subscriber, 1)
	subB := make(subscriber, 1)
	hub.Subscribe("video-a", subA)
	hub.Subscribe("video-b", subB)

	hub.Broadcast(StatusEvent{VideoID: "video-a", Status: "processing"})

	event := receive(t, subA)
	assert.Equal(t, "video-a", event.VideoID)
	assert.Equal(t, "processing", event.Status)
	assert.Empty(t, subB)
}

func TestBroadcastFansOutToEverySubscriber(t *testing.T) {
	hub := newTestHub(t)

	subs := make([]subscriber, 3)
	for i := range subs {
		subs[i] = make(subscriber, 1)
		hub.Subscribe("video-a", subs[i])
	}
	assert.Equal(t, 3, hub.Subscribers("video-a"))

	hub.Broadcast(StatusEvent{VideoID: "video-a", Status: "ready"})
	for _, sub := range subs {
		assert.Equal(t, "ready", receive(t, sub).Status)
	}
}

func TestBroadcastDropsEventsForSlowSubscribers(t *testing.T) {
	hub := newTestHub(t)

	sub := make(subscriber, 1)
	hub.Subscribe("video-a", sub)

	hub.Broadcast(StatusEvent{VideoID: "video-a", Status: "processing"})
	hub.Broadcast(StatusEvent{VideoID: "video-a", Status: "ready"})

	// the second event is dropped, not queued behind the first
	assert.Equal(t, "processing", receive(t, sub).Status)
	assert.Empty(t, sub)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := newTestHub(t)

	sub := make(subscriber, 1)
	hub.Subscribe("video-a", sub)
	hub.Unsubscribe("video-a", sub)

	hub.Broadcast(StatusEvent{VideoID: "video-a", Status: "ready"})
	assert.Empty(t, sub)
	assert.Equal(t, 0, hub.Subscribers("video-a"))
}

func TestDropRemovesSubscriberFromEveryGroup(t *testing.T) {
	hub := newTestHub(t)

	sub := make(subscriber, 1)
	hub.Subscribe("video-a", sub)
	hub.Subscribe("video-b", sub)

	hub.Drop(sub)
	assert.Equal(t, 0, hub.Subscribers("video-a"))
	assert.Equal(t, 0, hub.Subscribers("video-b"))
}

func TestRelayForwardsPublishedEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	hub := newTestHub(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Relay(ctx, client)

	sub := make(subscriber, 1)
	hub.Subscribe("video-a", sub)

	// wait for the relay's subscription to land before publishing
	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(ctx, StatusChannel).Result()
		return err == nil && n[StatusChannel] == 1
	}, time.Second, 10*time.Millisecond)

	publisher := NewPublisher(client, logger.NewNopLogger())
	publisher.PublishStatus(ctx, "video-a", video.StatusFailed, "encode blew up")

	event := receive(t, sub)
	assert.Equal(t, "video-a", event.VideoID)
	assert.Equal(t, string(video.StatusFailed), event.Status)
	assert.Equal(t, "encode blew up", event.Error)
}

func TestRelayIgnoresMalformedPayloads(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	hub := newTestHub(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Relay(ctx, client)

	sub := make(subscriber, 1)
	hub.Subscribe("video-a", sub)

	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(ctx, StatusChannel).Result()
		return err == nil && n[StatusChannel] == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, client.Publish(ctx, StatusChannel, "{not json").Err())
	require.NoError(t, client.Publish(ctx, StatusChannel, `{"videoId":"video-a","status":"ready"}`).Err())

	assert.Equal(t, "ready", receive(t, sub).Status)
}
