package webhook

import (
	"context"
	"time"

	"github.com/Xenocodek/crypto-webhook-server/internal/queue"
)

// DeliveryQueuer is the queue surface the webhook server needs.
type DeliveryQueuer interface {
	EnqueueOnce(ctx context.Context, req queue.EnqueueRequest) (string, bool, error)
	Depth(ctx context.Context) (int, error)
	Stats(ctx context.Context) (queue.Stats, error)
	Recent(ctx context.Context, limit int) ([]queue.LogEntry, error)
}

// Config holds webhook server configuration.
type Config struct {
	Listen  string
	Version string

	// Path is the URL path Crypto Pay posts updates to.
	Path string

	// Secret is the HMAC secret for signature verification. Empty is only
	// valid together with AllowUnsigned.
	Secret string

	// SignatureHeader is the HTTP header containing the HMAC signature.
	SignatureHeader string

	// AllowUnsigned skips signature verification when no secret is set.
	AllowUnsigned bool

	// MaxBodySize is the maximum allowed request body size in bytes.
	MaxBodySize int64

	// MaxAttempts is passed through to enqueued deliveries.
	MaxAttempts int

	// RateLimitRequests/RateLimitWindow throttle the webhook endpoint per
	// client IP. Zero disables rate limiting.
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// RelayResponse is the JSON body returned to Crypto Pay.
type RelayResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ErrorResponse is the JSON response for refused requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is the GET /healthz body.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	QueueDepth    int    `json:"queue_depth"`
	Delivered     int    `json:"delivered"`
	Failed        int    `json:"failed"`
	Dead          int    `json:"dead"`
}

// DefaultMaxBodySize caps webhook bodies at 1 MB.
const DefaultMaxBodySize = 1048576
