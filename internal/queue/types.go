package queue

import (
	"encoding/json"
	"errors"
	"time"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusDead      Status = "dead"
)

// Delivery is a pending or in-flight notification delivery.
type Delivery struct {
	ID          string
	UpdateID    int64
	UpdateType  string
	ChatID      int64
	Payload     json.RawMessage
	Status      Status
	Attempt     int
	MaxAttempts int
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	NextRetryAt *time.Time
	LastError   *string
}

// EnqueueRequest describes a new delivery.
type EnqueueRequest struct {
	UpdateID    int64
	UpdateType  string
	ChatID      int64
	Payload     json.RawMessage
	MaxAttempts int
}

// LogEntry is a row from delivery_log, newest first.
type LogEntry struct {
	ID          string    `json:"id"`
	UpdateID    int64     `json:"update_id"`
	UpdateType  string    `json:"update_type"`
	ChatID      int64     `json:"chat_id"`
	Status      Status    `json:"status"`
	Attempt     int       `json:"attempt"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at"`
	LastError   *string   `json:"last_error,omitempty"`
}

// Stats are aggregate delivery counters for health reporting.
type Stats struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Dead      int `json:"dead"`
}

var ErrDeliveryNotFound = errors.New("delivery not found")
