package realtime

// StatusChannel is the broadcast channel carrying video status transitions
const StatusChannel = "video:status"

// StatusEvent is one status transition as published on the broadcast
// channel and relayed to websocket subscribers
type StatusEvent struct {
	VideoID string `json:"videoId"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// ControlMessage is a client request on an open websocket
type ControlMessage struct {
	Action  string `json:"action"`
	VideoID string `json:"videoId"`
}

// Control actions a websocket client may send
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)
