package email

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/retry"
	mailjet "github.com/mailjet/mailjet-apiv3-go"
)

// MailjetProvider sends emails via the Mailjet v3.1 API.
type MailjetProvider struct {
	client   *mailjet.Client
	fromAddr string
	fromName string
	logger   *slog.Logger
}

// NewMailjetProvider creates a Mailjet email provider.
func NewMailjetProvider(publicKey, privateKey, fromAddr, fromName string, logger *slog.Logger) *MailjetProvider {
	return &MailjetProvider{
		client:   mailjet.NewMailjetClient(publicKey, privateKey),
		fromAddr: fromAddr,
		fromName: fromName,
		logger:   logger,
	}
}

// Send sends an email via Mailjet.
func (p *MailjetProvider) Send(ctx context.Context, to, subject, textBody, htmlBody string) error {
	info := []mailjet.InfoMessagesV31{{
		From: &mailjet.RecipientV31{
			Email: p.fromAddr,
			Name:  p.fromName,
		},
		To: &mailjet.RecipientsV31{
			mailjet.RecipientV31{Email: to},
		},
		Subject:  subject,
		TextPart: textBody,
		HTMLPart: htmlBody,
	}}
	messages := mailjet.MessagesV31{Info: info}

	return retry.Do(
		func() error {
			p.logger.Info("Mailjet API request starting", "to", to, "subject", subject)

			startTime := time.Now()
			_, err := p.client.SendMailV31(&messages)
			duration := time.Since(startTime)

			if err != nil {
				p.logger.Warn("Mailjet send failed, will retry",
					"to", to,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return fmt.Errorf("send mail: %w", err)
			}

			p.logger.Info("Mailjet API request completed",
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
			p.logger.Info("Retrying Mailjet email send after error", "attempt", n, "error", err)
		}),
	)
}
