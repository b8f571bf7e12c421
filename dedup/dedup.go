// Package dedup tracks which event IDs have already been handled for an
// owner, so repeated polls of the same underlying events stay idempotent.
//
// The ledger is a pure membership oracle: it knows nothing about notification
// content. An ID in the set means "already emailed or deliberately
// suppressed — never re-evaluate".
package dedup

import (
	"context"
	"log/slog"

	"tradewatch-notifier/pkg/notifier"
	"tradewatch-notifier/store"
)

// MaxSeenIDs caps the seen set per (owner, class). Oldest IDs are evicted
// first, FIFO by insertion order.
const MaxSeenIDs = 2000

type seenRecord struct {
	IDs []string `json:"ids"`
}

// Ledger is the per-owner, per-class seen-event store.
type Ledger struct {
	store  *store.Store
	logger *slog.Logger
}

// New creates a deduplication ledger.
func New(s *store.Store, logger *slog.Logger) *Ledger {
	return &Ledger{store: s, logger: logger}
}

func namespace(class notifier.Class) string {
	return "seen-" + string(class)
}

// HasSeen reports whether eventID was already handled for (owner, class).
func (l *Ledger) HasSeen(ctx context.Context, owner string, class notifier.Class, eventID string) bool {
	var rec seenRecord
	if !l.store.Get(ctx, namespace(class), owner, &rec) {
		return false
	}
	for _, id := range rec.IDs {
		if id == eventID {
			return true
		}
	}
	return false
}

// MarkSeen records eventID for (owner, class). Marking an already-present ID
// is a no-op. The set is capped at MaxSeenIDs with FIFO eviction.
func (l *Ledger) MarkSeen(ctx context.Context, owner string, class notifier.Class, eventID string) {
	if eventID == "" {
		return
	}

	var rec seenRecord
	l.store.Get(ctx, namespace(class), owner, &rec)

	for _, id := range rec.IDs {
		if id == eventID {
			return
		}
	}

	rec.IDs = append(rec.IDs, eventID)
	if len(rec.IDs) > MaxSeenIDs {
		rec.IDs = rec.IDs[len(rec.IDs)-MaxSeenIDs:]
	}

	l.store.Set(ctx, namespace(class), owner, &rec)
}
