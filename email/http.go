package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// HTTPProvider sends emails via a transactional-email HTTP API
// (Brevo-compatible request shape, configurable endpoint).
type HTTPProvider struct {
	endpoint string
	apiKey   string
	fromAddr string
	fromName string
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTPProvider creates an HTTP email provider. An empty endpoint is
// allowed; sends then fail with ErrNotConfigured so the caller can surface a
// useful message instead of a generic transport failure.
func NewHTTPProvider(endpoint, apiKey, fromAddr, fromName string, logger *slog.Logger) *HTTPProvider {
	return &HTTPProvider{
		endpoint: endpoint,
		apiKey:   apiKey,
		fromAddr: fromAddr,
		fromName: fromName,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}
}

type sendRequest struct {
	Sender  contact   `json:"sender"`
	To      []contact `json:"to"`
	Subject string    `json:"subject"`
	Text    string    `json:"textContent,omitempty"`
	HTML    string    `json:"htmlContent"`
}

type contact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Send sends an email via the configured endpoint.
func (p *HTTPProvider) Send(ctx context.Context, to, subject, textBody, htmlBody string) error {
	if p.endpoint == "" {
		return ErrNotConfigured
	}

	reqBody := sendRequest{
		Sender: contact{
			Email: p.fromAddr,
			Name:  p.fromName,
		},
		To: []contact{
			{Email: to},
		},
		Subject: subject,
		Text:    textBody,
		HTML:    htmlBody,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	return retry.Do(
		func() error {
			p.logger.Info("Email API request starting",
				"method", "POST",
				"endpoint", p.endpoint,
				"to", to,
				"subject", subject)

			startTime := time.Now()
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(jsonData))
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}

			req.Header.Set("Content-Type", "application/json")
			if p.apiKey != "" {
				req.Header.Set("api-key", p.apiKey)
			}

			resp, err := p.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				p.logger.Warn("Email API request failed, will retry",
					"to", to,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					p.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				p.logger.Warn("Email API returned non-2xx status, will retry",
					"status_code", resp.StatusCode,
					"to", to)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			p.logger.Info("Email API request completed",
				"to", to,
				"duration_ms", duration.Milliseconds(),
				"status", "success")

			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Info("Retrying email send after error", "attempt", n, "error", err)
		}),
	)
}
