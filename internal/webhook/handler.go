// Package webhook runs the HTTP trigger: one endpoint path per enabled
// webhook config, with IP allowlisting and HMAC-SHA256 signature
// verification over the raw request body.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/runmill/runmill/internal/domain"
)

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

type Enqueuer interface {
	Enqueue(queue string, req *domain.RunRequest) (uuid.UUID, error)
}

// AuditStore records every request outcome for audit and metrics.
type AuditStore interface {
	InsertWebhookDelivery(ctx context.Context, delivery domain.WebhookDelivery) error
}

// MetricsSink defines the interface for recording webhook metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	WebhookRequest(outcome string)
}

// Outcome labels for the WebhookRequest metric.
const (
	OutcomeAccepted         = "accepted"
	OutcomeNotFound         = "not_found"
	OutcomeIPBlocked        = "ip_blocked"
	OutcomeBadPayload       = "bad_payload"
	OutcomeBadSignature     = "bad_signature"
	OutcomeEnqueueFailed    = "enqueue_failed"
	OutcomeMethodNotAllowed = "method_not_allowed"
)

// Registry maps endpoint paths to webhook configs. Reload swaps the
// whole snapshot so concurrent readers never see partial updates.
type Registry struct {
	mu      sync.RWMutex
	byPath  map[string]domain.WebhookConfig
}

func NewRegistry() *Registry {
	return &Registry{byPath: make(map[string]domain.WebhookConfig)}
}

// Reload replaces the registered endpoints with the enabled configs.
func (r *Registry) Reload(configs []domain.WebhookConfig) {
	byPath := make(map[string]domain.WebhookConfig, len(configs))
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		byPath[cfg.Endpoint] = cfg
	}

	r.mu.Lock()
	r.byPath = byPath
	r.mu.Unlock()
	log.Printf("webhook: registry reloaded, %d endpoints", len(byPath))
}

// Resolve looks a config up by exact request path.
func (r *Registry) Resolve(path string) (domain.WebhookConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.byPath[path]
	return cfg, ok
}

type Handler struct {
	registry *Registry
	enqueuer Enqueuer
	audit    AuditStore  // optional, nil = disabled
	metrics  MetricsSink // optional, nil = disabled
	clock    func() time.Time
}

func NewHandler(registry *Registry, enqueuer Enqueuer) *Handler {
	return &Handler{
		registry: registry,
		enqueuer: enqueuer,
		clock:    time.Now,
	}
}

// WithAudit attaches a delivery audit store to the handler.
func (h *Handler) WithAudit(store AuditStore) *Handler {
	h.audit = store
	return h
}

// WithMetrics attaches a metrics sink to the handler.
func (h *Handler) WithMetrics(sink MetricsSink) *Handler {
	h.metrics = sink
	return h
}

type response struct {
	Success bool   `json:"success"`
	RunID   string `json:"run_id,omitempty"`
	Message string `json:"message"`
}

// ServeHTTP applies the checks in fixed order: endpoint resolution, IP
// allowlist, JSON parse, signature, then enqueue. Authentication
// failures are rejected before any side effect occurs.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.registry.Resolve(r.URL.Path)
	if !ok {
		h.observe(OutcomeNotFound)
		writeJSON(w, http.StatusNotFound, response{Message: "unknown endpoint"})
		return
	}

	if r.Method != http.MethodPost {
		h.observe(OutcomeMethodNotAllowed)
		writeJSON(w, http.StatusMethodNotAllowed, response{Message: "method not allowed"})
		return
	}

	clientIP := requestIP(r)
	received := h.clock().UTC()
	delivery := domain.WebhookDelivery{
		ID:         uuid.New(),
		WebhookID:  cfg.ID,
		ClientIP:   clientIP,
		ReceivedAt: received,
	}

	if len(cfg.AllowedIPs) > 0 && !ipAllowed(clientIP, cfg.AllowedIPs) {
		h.reject(w, r, &delivery, http.StatusForbidden, OutcomeIPBlocked, "ip not allowed")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		h.reject(w, r, &delivery, http.StatusBadRequest, OutcomeBadPayload, "failed to read body")
		return
	}
	delivery.BodySize = len(body)

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		h.reject(w, r, &delivery, http.StatusBadRequest, OutcomeBadPayload, "invalid json")
		return
	}

	if cfg.Secret != "" {
		if err := verifyRequest(r, cfg, body); err != nil {
			h.reject(w, r, &delivery, http.StatusUnauthorized, OutcomeBadSignature, err.Error())
			return
		}
		delivery.SignatureValid = true
	}

	req := h.buildRequest(cfg, payload, clientIP, received)
	runID, err := h.enqueuer.Enqueue(req.Queue, req)
	if err != nil {
		log.Printf("webhook: endpoint=%s enqueue failed: %v", cfg.Endpoint, err)
		h.reject(w, r, &delivery, http.StatusInternalServerError, OutcomeEnqueueFailed, "failed to enqueue run")
		return
	}

	delivery.RunID = &runID
	delivery.StatusCode = http.StatusOK
	h.recordDelivery(r.Context(), delivery)
	h.observe(OutcomeAccepted)
	log.Printf("webhook: accepted endpoint=%s run=%s ip=%s size=%d", cfg.Endpoint, runID, clientIP, len(body))

	writeJSON(w, http.StatusOK, response{
		Success: true,
		RunID:   runID.String(),
		Message: "run enqueued",
	})
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request, delivery *domain.WebhookDelivery, status int, outcome, msg string) {
	delivery.StatusCode = status
	delivery.Error = msg
	h.recordDelivery(r.Context(), *delivery)
	h.observe(outcome)
	log.Printf("webhook: rejected webhook=%s ip=%s status=%d reason=%s", delivery.WebhookID, delivery.ClientIP, status, msg)
	writeJSON(w, status, response{Message: msg})
}

func (h *Handler) recordDelivery(ctx context.Context, delivery domain.WebhookDelivery) {
	if h.audit == nil {
		return
	}
	if err := h.audit.InsertWebhookDelivery(ctx, delivery); err != nil {
		log.Printf("webhook: failed to record delivery: %v", err)
	}
}

func (h *Handler) observe(outcome string) {
	if h.metrics != nil {
		h.metrics.WebhookRequest(outcome)
	}
}

func (h *Handler) buildRequest(cfg domain.WebhookConfig, payload map[string]any, clientIP string, received time.Time) *domain.RunRequest {
	vars := make(map[string]any, len(cfg.Variables)+len(cfg.ExtractVariables)+4)
	for k, v := range cfg.Variables {
		vars[k] = v
	}
	for _, path := range cfg.ExtractVariables {
		if value, ok := lookupPath(payload, path); ok {
			vars[varName(path)] = value
		}
	}
	vars["webhook_id"] = cfg.ID.String()
	vars["client_ip"] = clientIP
	vars["received_at"] = received.Format(time.RFC3339)
	vars["payload"] = payload

	queue := cfg.Queue
	if queue == "" {
		queue = "default"
	}

	return &domain.RunRequest{
		Template:       cfg.Template,
		Variables:      vars,
		Queue:          queue,
		Priority:       cfg.Priority,
		ConcurrencyTag: "webhook_" + cfg.ID.String(),
		Source:         "webhook:" + cfg.ID.String(),
	}
}

// verifyRequest checks the HMAC-SHA256 signature over the raw body.
func verifyRequest(r *http.Request, cfg domain.WebhookConfig, body []byte) error {
	header := cfg.SignatureHeader
	if header == "" {
		header = domain.DefaultSignatureHeader
	}
	prefix := cfg.SignaturePrefix
	if prefix == "" {
		prefix = domain.DefaultSignaturePrefix
	}

	value := r.Header.Get(header)
	if value == "" {
		return errors.New("missing signature")
	}
	signature := strings.TrimPrefix(value, prefix)

	if !VerifySignature(cfg.Secret, body, signature) {
		return errors.New("signature mismatch")
	}
	return nil
}

// ComputeSignature returns the hex HMAC-SHA256 of body under secret.
func ComputeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares a presented hex signature in constant time.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := ComputeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// requestIP extracts the client IP from RemoteAddr.
func requestIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ipAllowed checks the client IP against exact IPs and CIDR blocks.
func ipAllowed(clientIP string, allowed []string) bool {
	ip := net.ParseIP(clientIP)
	for _, entry := range allowed {
		if strings.Contains(entry, "/") {
			_, cidr, err := net.ParseCIDR(entry)
			if err != nil {
				continue
			}
			if ip != nil && cidr.Contains(ip) {
				return true
			}
			continue
		}
		if entry == clientIP {
			return true
		}
	}
	return false
}

// lookupPath resolves a dot-path ("a.b.c") through nested JSON objects.
func lookupPath(payload map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = payload
	for _, part := range parts {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// varName is the variable key for an extracted dot-path: the last path
// segment.
func varName(path string) string {
	parts := strings.Split(path, ".")
	return parts[len(parts)-1]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("webhook: json encode error: %v", err)
	}
}
