package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/webential/deskrouter/engine/composer"
)

// HTTPConfig configures the email gateway dispatcher.
type HTTPConfig struct {
	// Endpoint is the gateway's send URL, e.g. https://api.resend.com/emails.
	Endpoint string
	APIKey   string
	From     string
	FromName string
	Timeout  time.Duration
}

// HTTPDispatcher posts routing requests to a resend-compatible email API.
type HTTPDispatcher struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTPDispatcher creates the gateway dispatcher.
func NewHTTPDispatcher(cfg HTTPConfig) *HTTPDispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HTTPDispatcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type emailPayload struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

// Send implements Dispatcher. Non-2xx responses are attempt failures; the
// retry loop above decides whether to try again.
func (d *HTTPDispatcher) Send(ctx context.Context, req *composer.RoutingRequest, idempotencyKey string) error {
	from := d.cfg.From
	if d.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", d.cfg.FromName, d.cfg.From)
	}
	payload := emailPayload{
		From:    from,
		To:      []string{req.RecipientEmail},
		Subject: req.Subject,
		HTML:    req.HTMLBody,
		Text:    req.Body,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+d.cfg.APIKey)
	httpReq.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("post to gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, string(detail))
	}
	return nil
}

// NoopDispatcher logs instead of sending. Used in demo mode and tests.
type NoopDispatcher struct{}

func (NoopDispatcher) Send(_ context.Context, req *composer.RoutingRequest, idempotencyKey string) error {
	slog.Info("routing request (dry run)",
		"ticket_ref", req.TicketRef,
		"to", req.RecipientEmail,
		"subject", req.Subject,
		"idempotency_key", idempotencyKey)
	return nil
}

var (
	_ Dispatcher = (*HTTPDispatcher)(nil)
	_ Dispatcher = NoopDispatcher{}
)
