// Package digest accumulates pending notification items for owners on the
// daily frequency and tracks when each owner's digest was last sent.
package digest

import (
	"context"
	"log/slog"
	"time"

	"tradewatch-notifier/pkg/notifier"
	"tradewatch-notifier/store"
)

// MaxItems caps the pending queue per owner; the oldest item is dropped
// first on overflow.
const MaxItems = 100

const ns = "digest"

type queueRecord struct {
	LastSentAt time.Time             `json:"last_sent_at"`
	Items      []notifier.DigestItem `json:"items"`
}

// Queue is the per-owner digest buffer.
type Queue struct {
	store  *store.Store
	logger *slog.Logger
}

// New creates a digest queue.
func New(s *store.Store, logger *slog.Logger) *Queue {
	return &Queue{store: s, logger: logger}
}

// Enqueue appends an item to the owner's queue, dropping the oldest item
// when the cap is exceeded.
func (q *Queue) Enqueue(ctx context.Context, owner string, item notifier.DigestItem) {
	var rec queueRecord
	q.store.Get(ctx, ns, owner, &rec)

	rec.Items = append(rec.Items, item)
	if len(rec.Items) > MaxItems {
		rec.Items = rec.Items[len(rec.Items)-MaxItems:]
	}

	q.store.Set(ctx, ns, owner, &rec)
	q.logger.Debug("Digest item queued", "owner", notifier.NormalizeAddress(owner), "kind", item.Kind, "pending", len(rec.Items))
}

// Drain returns the pending items in insertion order without removing them.
func (q *Queue) Drain(ctx context.Context, owner string) []notifier.DigestItem {
	var rec queueRecord
	q.store.Get(ctx, ns, owner, &rec)
	return rec.Items
}

// Clear removes all pending items. LastSentAt is untouched.
func (q *Queue) Clear(ctx context.Context, owner string) {
	var rec queueRecord
	if !q.store.Get(ctx, ns, owner, &rec) {
		return
	}
	rec.Items = nil
	q.store.Set(ctx, ns, owner, &rec)
}

// LastSentAt returns when the owner's digest last went out; the zero time if
// never.
func (q *Queue) LastSentAt(ctx context.Context, owner string) time.Time {
	var rec queueRecord
	q.store.Get(ctx, ns, owner, &rec)
	return rec.LastSentAt
}

// SetLastSentAt stamps the last digest send time. Pending items are
// untouched.
func (q *Queue) SetLastSentAt(ctx context.Context, owner string, t time.Time) {
	var rec queueRecord
	q.store.Get(ctx, ns, owner, &rec)
	rec.LastSentAt = t
	q.store.Set(ctx, ns, owner, &rec)
}

// IsDue reports whether the owner's digest should be flushed: the queue is
// non-empty and at least interval has elapsed since the last send. An empty
// queue is never due, no matter how long it has been.
func (q *Queue) IsDue(ctx context.Context, owner string, interval time.Duration) bool {
	var rec queueRecord
	if !q.store.Get(ctx, ns, owner, &rec) {
		return false
	}
	if len(rec.Items) == 0 {
		return false
	}
	return time.Since(rec.LastSentAt) >= interval
}
