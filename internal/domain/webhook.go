package domain

import (
	"time"

	"github.com/google/uuid"
)

// Default signature header and value prefix for inbound webhooks.
const (
	DefaultSignatureHeader = "X-Signature-256"
	DefaultSignaturePrefix = "sha256="
)

// WebhookConfig maps an HTTP endpoint path to a template. If Secret is
// set, requests must carry a valid HMAC-SHA256 signature over the raw
// body; AllowedIPs (exact IPs or CIDR blocks) gates callers before any
// other processing.
type WebhookConfig struct {
	ID   uuid.UUID
	Name string

	Endpoint string // request path, unique across configs

	Template string
	Secret   string

	AllowedIPs       []string
	ExtractVariables []string // dot-paths into the JSON payload
	SignatureHeader  string   // defaults to DefaultSignatureHeader
	SignaturePrefix  string   // defaults to DefaultSignaturePrefix

	Queue     string
	Priority  int
	Enabled   bool
	Variables map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
}

// WebhookDelivery records the outcome of one inbound webhook request
// for audit and metrics. RunID is nil unless a run was enqueued.
type WebhookDelivery struct {
	ID        uuid.UUID
	WebhookID uuid.UUID
	RunID     *uuid.UUID

	ClientIP       string
	BodySize       int
	StatusCode     int
	SignatureValid bool
	Error          string

	ReceivedAt time.Time
}
