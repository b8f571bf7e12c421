package digest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"tradewatch-notifier/pkg/notifier"
	"tradewatch-notifier/store"
)

func testQueue(t *testing.T) *Queue {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(store.New(nil, "", t.TempDir(), logger), logger)
}

func activityItem(market string) notifier.DigestItem {
	return notifier.NewActivityItem(notifier.ActivityItem{
		Kind:        notifier.TradeAcquired,
		MarketLabel: market,
		ActorLabel:  "someone",
		Timestamp:   time.Now().UTC(),
	})
}

func TestEnqueueAndDrainOrder(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	q.Enqueue(ctx, "0xowner", activityItem("M1"))
	q.Enqueue(ctx, "0xowner", notifier.NewReceiptItem(notifier.TradeReceipt{
		Kind:        notifier.TradeLiquidated,
		MarketLabel: "M2",
	}))

	items := q.Drain(ctx, "0xowner")
	if len(items) != 2 {
		t.Fatalf("Drain() = %d items, want 2", len(items))
	}
	if items[0].Kind != notifier.DigestActivity || items[1].Kind != notifier.DigestReceipt {
		t.Errorf("Drain() order = [%s %s], want [activity receipt]", items[0].Kind, items[1].Kind)
	}
	if items[0].Activity == nil || items[0].Activity.MarketLabel != "M1" {
		t.Errorf("activity variant = %+v, want M1", items[0].Activity)
	}
	if items[1].Receipt == nil || items[1].Receipt.MarketLabel != "M2" {
		t.Errorf("receipt variant = %+v, want M2", items[1].Receipt)
	}
}

func TestEnqueueCapDropsOldest(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	for i := 0; i < MaxItems+5; i++ {
		q.Enqueue(ctx, "0xowner", activityItem(fmt.Sprintf("market-%03d", i)))
	}

	items := q.Drain(ctx, "0xowner")
	if len(items) != MaxItems {
		t.Fatalf("Drain() = %d items, want %d", len(items), MaxItems)
	}
	if items[0].Activity.MarketLabel != "market-005" {
		t.Errorf("oldest retained = %q, want market-005 (first five dropped)", items[0].Activity.MarketLabel)
	}
}

func TestClearPreservesLastSentAt(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	sent := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	q.Enqueue(ctx, "0xowner", activityItem("M1"))
	q.SetLastSentAt(ctx, "0xowner", sent)
	q.Clear(ctx, "0xowner")

	if got := q.Drain(ctx, "0xowner"); len(got) != 0 {
		t.Errorf("Drain() = %v after Clear, want empty", got)
	}
	if got := q.LastSentAt(ctx, "0xowner"); !got.Equal(sent) {
		t.Errorf("LastSentAt() = %v after Clear, want %v", got, sent)
	}
}

func TestIsDue(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()
	interval := 24 * time.Hour

	// Empty queue never due, even if never sent.
	if q.IsDue(ctx, "0xowner", interval) {
		t.Error("IsDue() = true for empty queue")
	}

	// Non-empty queue with zero LastSentAt is due immediately.
	q.Enqueue(ctx, "0xowner", activityItem("M1"))
	if !q.IsDue(ctx, "0xowner", interval) {
		t.Error("IsDue() = false for never-sent non-empty queue")
	}

	// Just flushed: not due.
	q.SetLastSentAt(ctx, "0xowner", time.Now().UTC())
	if q.IsDue(ctx, "0xowner", interval) {
		t.Error("IsDue() = true immediately after a flush")
	}

	// 25 hours since last send: due again.
	q.SetLastSentAt(ctx, "0xowner", time.Now().UTC().Add(-25*time.Hour))
	if !q.IsDue(ctx, "0xowner", interval) {
		t.Error("IsDue() = false with 25h elapsed and a non-empty queue")
	}

	// Stale LastSentAt but empty queue: still not due.
	q.Clear(ctx, "0xowner")
	if q.IsDue(ctx, "0xowner", interval) {
		t.Error("IsDue() = true for empty queue with stale LastSentAt")
	}
}
