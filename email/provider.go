// Package email composes notification emails and sends them through a
// pluggable delivery provider.
package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tradewatch-notifier/pkg/notifier"
)

// ErrNotConfigured indicates no delivery endpoint or credentials are set.
// Callers surface this distinctly so operators can tell a missing
// configuration apart from a transient transport failure.
var ErrNotConfigured = errors.New("email delivery is not configured")

// Provider defines the interface for email delivery implementations.
type Provider interface {
	// Send delivers one message. A non-2xx response or network error is
	// reported as an error; Send never panics.
	Send(ctx context.Context, to, subject, textBody, htmlBody string) error
}

// Sender composes and sends the four message kinds. Bodies are built from
// structured fields only; callers never pass markup in.
type Sender struct {
	provider Provider
	logger   *slog.Logger
	baseURL  string // For manage links in emails
}

// New creates an email sender with the given provider.
func New(provider Provider, logger *slog.Logger, baseURL string) *Sender {
	return &Sender{
		provider: provider,
		logger:   logger,
		baseURL:  baseURL,
	}
}

// SendWelcome confirms a new subscription.
func (s *Sender) SendWelcome(ctx context.Context, to, nickname string) error {
	subject := "Email notifications enabled"
	text, html := s.formatWelcomeBody(nickname)

	s.logger.Info("Sending welcome email", "to", to)
	return s.provider.Send(ctx, to, subject, text, html)
}

// SendActivity notifies about a third party's trade on a market the owner
// holds or follows.
func (s *Sender) SendActivity(ctx context.Context, to string, ev *notifier.ActivityEvent) error {
	subject := fmt.Sprintf("New activity in %s", ev.MarketLabel)
	text, html := s.formatActivityBody(ev)

	s.logger.Info("Sending activity email", "to", to, "event_id", ev.ID, "market", ev.MarketLabel)
	return s.provider.Send(ctx, to, subject, text, html)
}

// SendReceipt confirms the owner's own completed trade.
func (s *Sender) SendReceipt(ctx context.Context, to string, r *notifier.TradeReceipt) error {
	subject := fmt.Sprintf("Trade confirmed: %s", r.MarketLabel)
	text, html := s.formatReceiptBody(r)

	s.logger.Info("Sending receipt email", "to", to, "market", r.MarketLabel, "tx", r.TxHash)
	return s.provider.Send(ctx, to, subject, text, html)
}

// SendDigest sends one batched summary of the owner's pending items.
func (s *Sender) SendDigest(ctx context.Context, to string, receipts []*notifier.TradeReceipt, activity []*notifier.ActivityItem) error {
	subject := fmt.Sprintf("Your daily trading digest (%d updates)", len(receipts)+len(activity))
	text, html := s.formatDigestBody(receipts, activity)

	s.logger.Info("Sending digest email", "to", to, "receipts", len(receipts), "activity", len(activity))
	return s.provider.Send(ctx, to, subject, text, html)
}
