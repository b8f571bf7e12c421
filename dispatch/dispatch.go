// Package dispatch routes observed events to email delivery or the digest
// queue, applying subscription, dedup, and freshness rules.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tradewatch-notifier/pkg/notifier"
)

const (
	// FreshnessWindow bounds how old a follow-activity event may be and still
	// produce an email. Older events are marked seen and suppressed, so a
	// newly added follow does not dump the followee's history on the owner.
	FreshnessWindow = 2 * time.Hour

	// DigestInterval is the minimum spacing between digest emails per owner.
	DigestInterval = 24 * time.Hour

	// sendTimeout bounds a single detached email send.
	sendTimeout = time.Minute
)

// SubscriptionSource looks up an owner's subscription.
type SubscriptionSource interface {
	Get(ctx context.Context, owner string) *notifier.Subscription
}

// Ledger tracks which event IDs have been handled.
type Ledger interface {
	HasSeen(ctx context.Context, owner string, class notifier.Class, eventID string) bool
	MarkSeen(ctx context.Context, owner string, class notifier.Class, eventID string)
}

// Queue buffers items for owners on the daily frequency.
type Queue interface {
	Enqueue(ctx context.Context, owner string, item notifier.DigestItem)
	Drain(ctx context.Context, owner string) []notifier.DigestItem
	Clear(ctx context.Context, owner string)
	SetLastSentAt(ctx context.Context, owner string, t time.Time)
	IsDue(ctx context.Context, owner string, interval time.Duration) bool
}

// Emailer sends the composed notification emails.
type Emailer interface {
	SendActivity(ctx context.Context, to string, ev *notifier.ActivityEvent) error
	SendReceipt(ctx context.Context, to string, r *notifier.TradeReceipt) error
	SendDigest(ctx context.Context, to string, receipts []*notifier.TradeReceipt, activity []*notifier.ActivityItem) error
}

// Dispatcher applies the notification rules. Events are marked seen before
// any send is attempted, so a delivery failure can never cause a duplicate
// email on the next poll; at-most-once delivery is the deliberate trade.
type Dispatcher struct {
	subs      SubscriptionSource
	seen      Ledger
	queue     Queue
	email     Emailer
	logger    *slog.Logger
	onFailure func(owner string, err error)
	wg        sync.WaitGroup
}

// New creates a dispatcher.
func New(subs SubscriptionSource, seen Ledger, queue Queue, email Emailer, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		subs:   subs,
		seen:   seen,
		queue:  queue,
		email:  email,
		logger: logger,
	}
}

// OnFailure registers a callback invoked when a detached send fails, after
// the failure has been logged. Intended for tests and metrics.
func (d *Dispatcher) OnFailure(fn func(owner string, err error)) {
	d.onFailure = fn
}

// Wait blocks until all detached sends have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Activity handles a third-party trade on a market the owner holds.
func (d *Dispatcher) Activity(ctx context.Context, owner string, ev *notifier.ActivityEvent) {
	sub := d.subs.Get(ctx, owner)
	if sub == nil {
		return
	}
	if d.seen.HasSeen(ctx, owner, notifier.ClassHoldings, ev.ID) {
		return
	}
	d.seen.MarkSeen(ctx, owner, notifier.ClassHoldings, ev.ID)

	if sub.Frequency == notifier.FrequencyDaily {
		d.queue.Enqueue(ctx, owner, notifier.NewActivityItem(activityItem(ev)))
		return
	}

	event := *ev
	d.sendAsync(owner, "activity", func(ctx context.Context) error {
		return d.email.SendActivity(ctx, sub.Email, &event)
	})
}

// FollowActivity handles a trade by an identity the owner follows. Events
// older than FreshnessWindow are burned: marked seen with no email and no
// digest entry.
func (d *Dispatcher) FollowActivity(ctx context.Context, owner string, ev *notifier.ActivityEvent) {
	sub := d.subs.Get(ctx, owner)
	if sub == nil {
		return
	}
	if d.seen.HasSeen(ctx, owner, notifier.ClassFollows, ev.ID) {
		return
	}
	d.seen.MarkSeen(ctx, owner, notifier.ClassFollows, ev.ID)

	if time.Since(ev.Timestamp) > FreshnessWindow {
		d.logger.Debug("Suppressing stale follow activity",
			"owner", notifier.NormalizeAddress(owner),
			"event_id", ev.ID,
			"age", time.Since(ev.Timestamp).String())
		return
	}

	if sub.Frequency == notifier.FrequencyDaily {
		d.queue.Enqueue(ctx, owner, notifier.NewActivityItem(activityItem(ev)))
		return
	}

	event := *ev
	d.sendAsync(owner, "follow-activity", func(ctx context.Context) error {
		return d.email.SendActivity(ctx, sub.Email, &event)
	})
}

// Receipt handles the owner's own completed trade. Receipts carry no dedup
// state; the caller reports each transaction exactly once.
func (d *Dispatcher) Receipt(ctx context.Context, owner string, r *notifier.TradeReceipt) {
	sub := d.subs.Get(ctx, owner)
	if sub == nil {
		return
	}

	if sub.Frequency == notifier.FrequencyDaily {
		d.queue.Enqueue(ctx, owner, notifier.NewReceiptItem(*r))
		return
	}

	receipt := *r
	d.sendAsync(owner, "receipt", func(ctx context.Context) error {
		return d.email.SendReceipt(ctx, sub.Email, &receipt)
	})
}

// Flush sends the owner's pending digest if one is due. Only owners on the
// daily frequency get digests; leftover items queued before a switch to
// immediate stay parked. The queue is cleared
// and the send time stamped before the email goes out, so a delivery failure
// drops the batch rather than re-sending it.
func (d *Dispatcher) Flush(ctx context.Context, owner string) {
	sub := d.subs.Get(ctx, owner)
	if sub == nil || sub.Frequency != notifier.FrequencyDaily {
		return
	}
	if !d.queue.IsDue(ctx, owner, DigestInterval) {
		return
	}

	items := d.queue.Drain(ctx, owner)
	if len(items) == 0 {
		return
	}

	var receipts []*notifier.TradeReceipt
	var activity []*notifier.ActivityItem
	for _, item := range items {
		switch item.Kind {
		case notifier.DigestReceipt:
			if item.Receipt != nil {
				receipts = append(receipts, item.Receipt)
			}
		case notifier.DigestActivity:
			if item.Activity != nil {
				activity = append(activity, item.Activity)
			}
		}
	}

	d.queue.Clear(ctx, owner)
	d.queue.SetLastSentAt(ctx, owner, time.Now().UTC())

	d.logger.Info("Flushing digest",
		"owner", notifier.NormalizeAddress(owner),
		"receipts", len(receipts),
		"activity", len(activity))

	d.sendAsync(owner, "digest", func(ctx context.Context) error {
		return d.email.SendDigest(ctx, sub.Email, receipts, activity)
	})
}

// sendAsync runs one email send in a tracked goroutine. Failures are logged
// and reported to the OnFailure callback but never propagate; the seen state
// was already committed by the caller.
func (d *Dispatcher) sendAsync(owner, kind string, send func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()

		if err := send(ctx); err != nil {
			d.logger.Error("Email send failed",
				"owner", notifier.NormalizeAddress(owner),
				"kind", kind,
				"error", err)
			if d.onFailure != nil {
				d.onFailure(owner, err)
			}
		}
	}()
}

func activityItem(ev *notifier.ActivityEvent) notifier.ActivityItem {
	return notifier.ActivityItem{
		Timestamp:   ev.Timestamp,
		Kind:        ev.Kind,
		MarketLabel: ev.MarketLabel,
		ActorLabel:  ev.SenderLabel,
		Shares:      ev.Shares,
		Assets:      ev.Assets,
	}
}
