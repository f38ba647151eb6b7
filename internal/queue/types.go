package queue

import (
	"context"
	"encoding/json"
	"time"
)

// State represents the lifecycle state of a job
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateDelayed   State = "delayed"
	StateCompleted State = "completed"
	StateDead      State = "dead"
)

// Priority bands; lower is dispatched sooner
const (
	PriorityHigh   = 1
	PriorityNormal = 5
	PriorityLow    = 10
)

// Job is one unit of durable work. Kind selects the handler; Payload is the
// kind-specific data. GroupID ties the job to the entity it works on so a
// point-in-time sweep can remove pending jobs for a deleted entity.
type Job struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	GroupID   string          `json:"groupId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Priority  int             `json:"priority"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"lastError,omitempty"`
	State     State           `json:"state"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Handler executes one job kind. A returned error triggers the queue's
// retry/backoff policy; nil marks the job completed.
type Handler func(ctx context.Context, job *Job) error

// Config represents job queue configuration settings
type Config struct {
	Name              string        `mapstructure:"name"`
	Concurrency       int           `mapstructure:"concurrency"`
	MaxAttempts       int           `mapstructure:"maxAttempts"`
	BackoffBase       time.Duration `mapstructure:"backoffBase"`
	PollInterval      time.Duration `mapstructure:"pollInterval"`
	CompletedRetained int           `mapstructure:"completedRetained"`
	CompletedMaxAge   time.Duration `mapstructure:"completedMaxAge"`
	FailedRetained    int           `mapstructure:"failedRetained"`
	FailedMaxAge      time.Duration `mapstructure:"failedMaxAge"`
}

// Logger interface for logging operations
type Logger interface {
	LogInfo(msg string, fields map[string]interface{})
	LogError(err error, msg string) error
	LogWarn(msg string, fields map[string]interface{})
	LogDebug(msg string, fields map[string]interface{})
}
