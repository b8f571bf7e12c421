package registry

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"tradewatch-notifier/pkg/notifier"
	"tradewatch-notifier/store"
)

const nsFollows = "follows"

// MaxFollows caps the follow list per owner; the oldest entry is evicted
// first when the cap is hit.
const MaxFollows = 200

type followRecord struct {
	Entries []notifier.FollowEntry `json:"entries"`
}

// Follows maps an owner identity to the identities it follows.
type Follows struct {
	store  *store.Store
	logger *slog.Logger
}

// NewFollows creates a follow registry.
func NewFollows(s *store.Store, logger *slog.Logger) *Follows {
	return &Follows{store: s, logger: logger}
}

// List returns the owner's follow entries in insertion order. Unknown owners
// get an empty list.
func (r *Follows) List(ctx context.Context, owner string) []notifier.FollowEntry {
	var rec followRecord
	r.store.Get(ctx, nsFollows, owner, &rec)
	return rec.Entries
}

// Follow adds or replaces a follow entry. Following yourself is silently
// rejected; it is a harmless user action, not an error path worth surfacing.
// Returns false when the follow was rejected.
func (r *Follows) Follow(ctx context.Context, owner, identityID, label string, emailAlerts bool) bool {
	ownerKey := notifier.NormalizeAddress(owner)
	id := notifier.NormalizeAddress(identityID)
	if id == "" || id == ownerKey {
		r.logger.Debug("Self-follow rejected", "owner", ownerKey)
		return false
	}

	var rec followRecord
	r.store.Get(ctx, nsFollows, owner, &rec)

	// Replace any existing entry for the same identity.
	entries := rec.Entries[:0]
	for _, e := range rec.Entries {
		if e.FollowedID != id {
			entries = append(entries, e)
		}
	}

	entries = append(entries, notifier.FollowEntry{
		FollowedID:  id,
		Label:       strings.TrimSpace(label),
		EmailAlerts: emailAlerts,
		FollowedAt:  time.Now().UTC(),
	})

	if len(entries) > MaxFollows {
		entries = entries[len(entries)-MaxFollows:]
	}

	rec.Entries = entries
	r.store.Set(ctx, nsFollows, owner, &rec)
	r.logger.Info("Follow saved", "owner", ownerKey, "followed", id, "email_alerts", emailAlerts)
	return true
}

// Unfollow removes the entry for identityID if present.
func (r *Follows) Unfollow(ctx context.Context, owner, identityID string) {
	id := notifier.NormalizeAddress(identityID)

	var rec followRecord
	if !r.store.Get(ctx, nsFollows, owner, &rec) {
		return
	}

	entries := rec.Entries[:0]
	for _, e := range rec.Entries {
		if e.FollowedID != id {
			entries = append(entries, e)
		}
	}
	if len(entries) == len(rec.Entries) {
		return
	}

	rec.Entries = entries
	r.store.Set(ctx, nsFollows, owner, &rec)
	r.logger.Info("Follow removed", "owner", notifier.NormalizeAddress(owner), "followed", id)
}

// IsFollowing returns the follow entry for identityID, or nil.
func (r *Follows) IsFollowing(ctx context.Context, owner, identityID string) *notifier.FollowEntry {
	id := notifier.NormalizeAddress(identityID)
	for _, e := range r.List(ctx, owner) {
		if e.FollowedID == id {
			entry := e
			return &entry
		}
	}
	return nil
}

// SetEmailAlerts toggles alert emails for one followed identity. No-op when
// the entry is absent; returns false in that case.
func (r *Follows) SetEmailAlerts(ctx context.Context, owner, identityID string, enabled bool) bool {
	id := notifier.NormalizeAddress(identityID)

	var rec followRecord
	if !r.store.Get(ctx, nsFollows, owner, &rec) {
		return false
	}

	for i := range rec.Entries {
		if rec.Entries[i].FollowedID == id {
			rec.Entries[i].EmailAlerts = enabled
			r.store.Set(ctx, nsFollows, owner, &rec)
			r.logger.Info("Follow alerts toggled", "owner", notifier.NormalizeAddress(owner), "followed", id, "enabled", enabled)
			return true
		}
	}
	return false
}
