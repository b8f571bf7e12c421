// Package registry implements the subscription and follow registries on top
// of the persistent store.
package registry

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"tradewatch-notifier/pkg/notifier"
	"tradewatch-notifier/store"
)

const nsSubscription = "sub"

// Subscriptions maps an owner identity to its email subscription.
type Subscriptions struct {
	store  *store.Store
	logger *slog.Logger
}

// NewSubscriptions creates a subscription registry.
func NewSubscriptions(s *store.Store, logger *slog.Logger) *Subscriptions {
	return &Subscriptions{store: s, logger: logger}
}

// Get returns the owner's subscription, or nil when not subscribed.
func (r *Subscriptions) Get(ctx context.Context, owner string) *notifier.Subscription {
	var sub notifier.Subscription
	if !r.store.Get(ctx, nsSubscription, owner, &sub) {
		return nil
	}
	if sub.Email == "" {
		return nil
	}
	if !sub.Frequency.Valid() {
		sub.Frequency = notifier.FrequencyImmediate
	}
	return &sub
}

// Upsert creates or updates the owner's subscription. The original
// SubscribedAt survives re-subscribing, and the existing frequency is kept
// when freq is empty. Email syntax validation belongs to the HTTP boundary,
// not here.
func (r *Subscriptions) Upsert(ctx context.Context, owner, email, nickname string, freq notifier.Frequency) *notifier.Subscription {
	email = strings.ToLower(strings.TrimSpace(email))

	sub := notifier.Subscription{
		Email:        email,
		Nickname:     strings.TrimSpace(nickname),
		SubscribedAt: time.Now().UTC(),
		Frequency:    notifier.FrequencyImmediate,
	}

	if existing := r.Get(ctx, owner); existing != nil {
		sub.SubscribedAt = existing.SubscribedAt
		sub.Frequency = existing.Frequency
		if sub.Nickname == "" {
			sub.Nickname = existing.Nickname
		}
	}
	if freq.Valid() {
		sub.Frequency = freq
	}

	r.store.Set(ctx, nsSubscription, owner, &sub)
	r.logger.Info("Subscription saved", "owner", notifier.NormalizeAddress(owner), "email", email, "frequency", sub.Frequency)
	return &sub
}

// SetFrequency changes the delivery frequency. Returns false (no-op) when the
// owner has no subscription.
func (r *Subscriptions) SetFrequency(ctx context.Context, owner string, freq notifier.Frequency) bool {
	sub := r.Get(ctx, owner)
	if sub == nil || !freq.Valid() {
		return false
	}

	sub.Frequency = freq
	r.store.Set(ctx, nsSubscription, owner, sub)
	r.logger.Info("Subscription frequency changed", "owner", notifier.NormalizeAddress(owner), "frequency", freq)
	return true
}

// Remove deletes the owner's subscription. Removing an absent subscription is
// a no-op.
func (r *Subscriptions) Remove(ctx context.Context, owner string) {
	r.store.Delete(ctx, nsSubscription, owner)
	r.logger.Info("Subscription removed", "owner", notifier.NormalizeAddress(owner))
}

// ListOwners enumerates every subscribed owner, for the poll loop.
func (r *Subscriptions) ListOwners(ctx context.Context) []string {
	return r.store.ListOwners(ctx, nsSubscription)
}
