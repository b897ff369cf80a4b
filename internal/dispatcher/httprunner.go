package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/runmill/runmill/internal/domain"
	"github.com/runmill/runmill/internal/webhook"
)

// HTTPRunner executes runs by posting them to an external runner
// process over HTTP. The runner executes the template's steps and
// replies 2xx on success; everything else is a run failure.
type HTTPRunner struct {
	url    string
	secret string
	client *http.Client
}

// runnerPayload is the JSON body posted to the runner endpoint.
type runnerPayload struct {
	RunID     string         `json:"run_id"`
	Template  string         `json:"template"`
	Steps     []string       `json:"steps,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
	Queue     string         `json:"queue"`
	Attempt   int            `json:"attempt"`
	Source    string         `json:"source"`
}

func NewHTTPRunner(url, secret string, timeout time.Duration) *HTTPRunner {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPRunner{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: timeout},
	}
}

// Run posts the request to the runner and waits for the result. The
// body is signed with HMAC-SHA256 when a secret is configured so the
// runner can authenticate the dispatcher.
func (r *HTTPRunner) Run(ctx context.Context, req *domain.RunRequest) error {
	body, err := json.Marshal(runnerPayload{
		RunID:     req.ID.String(),
		Template:  req.Template,
		Steps:     req.Steps,
		Variables: req.Variables,
		Queue:     req.Queue,
		Attempt:   req.Attempt,
		Source:    req.Source,
	})
	if err != nil {
		return fmt.Errorf("marshal run payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create runner request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Runmill-Run-ID", req.ID.String())
	httpReq.Header.Set("X-Runmill-Attempt", strconv.Itoa(req.Attempt))
	if r.secret != "" {
		httpReq.Header.Set("X-Runmill-Signature", "sha256="+webhook.ComputeSignature(r.secret, body))
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("runner request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Cap the error detail so a misbehaving runner cannot flood the
		// run record.
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("runner returned status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}
