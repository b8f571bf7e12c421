// Package poll runs the periodic check cycle: for every subscribed owner,
// fetch new activity from the indexer and hand it to the dispatcher.
package poll

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tradewatch-notifier/pkg/notifier"
)

// defaultLookback bounds how far back a cycle asks the indexer for trades.
// The dedup ledger absorbs the overlap between consecutive cycles.
const defaultLookback = 3 * time.Hour

// Source fetches positions and activity from the indexer.
type Source interface {
	Positions(ctx context.Context, owner string) ([]notifier.Position, error)
	MarketActivity(ctx context.Context, markets []string, since time.Time) ([]notifier.ActivityEvent, error)
	TraderActivity(ctx context.Context, traders []string, since time.Time) ([]notifier.ActivityEvent, error)
}

// SubscriptionLister enumerates subscribed owners.
type SubscriptionLister interface {
	ListOwners(ctx context.Context) []string
}

// FollowLister returns an owner's follow list.
type FollowLister interface {
	List(ctx context.Context, owner string) []notifier.FollowEntry
}

// Dispatcher receives the events a cycle discovers.
type Dispatcher interface {
	Activity(ctx context.Context, owner string, ev *notifier.ActivityEvent)
	FollowActivity(ctx context.Context, owner string, ev *notifier.ActivityEvent)
	Flush(ctx context.Context, owner string)
	Wait()
}

// Monitor drives poll cycles.
type Monitor struct {
	source     Source
	subs       SubscriptionLister
	follows    FollowLister
	dispatcher Dispatcher
	logger     *slog.Logger
	lookback   time.Duration
}

// New creates a poll monitor.
func New(source Source, subs SubscriptionLister, follows FollowLister, dispatcher Dispatcher, logger *slog.Logger) *Monitor {
	return &Monitor{
		source:     source,
		subs:       subs,
		follows:    follows,
		dispatcher: dispatcher,
		logger:     logger,
		lookback:   defaultLookback,
	}
}

// CheckAll runs one poll cycle over every subscribed owner. Per-owner errors
// are logged and do not abort the cycle. Returns after all detached email
// sends have finished.
func (m *Monitor) CheckAll(ctx context.Context) {
	cycleID := uuid.New().String()
	logger := m.logger.With("cycle_id", cycleID)

	owners := m.subs.ListOwners(ctx)
	logger.Info("Poll cycle starting", "owners", len(owners))

	startTime := time.Now()
	checked := 0
	for _, owner := range owners {
		if ctx.Err() != nil {
			logger.Warn("Poll cycle canceled", "checked", checked, "error", ctx.Err())
			break
		}
		if err := m.checkOwner(ctx, logger, owner); err != nil {
			logger.Error("Owner check failed", "owner", notifier.NormalizeAddress(owner), "error", err)
			continue
		}
		checked++
	}

	m.dispatcher.Wait()
	logger.Info("Poll cycle completed",
		"checked", checked,
		"duration_ms", time.Since(startTime).Milliseconds())
}

// checkOwner fetches one owner's new activity and dispatches it.
func (m *Monitor) checkOwner(ctx context.Context, logger *slog.Logger, owner string) error {
	since := time.Now().UTC().Add(-m.lookback)
	self := notifier.NormalizeAddress(owner)

	positions, err := m.source.Positions(ctx, owner)
	if err != nil {
		return err
	}

	if len(positions) > 0 {
		markets := make([]string, 0, len(positions))
		for _, p := range positions {
			markets = append(markets, p.MarketID)
		}

		events, err := m.source.MarketActivity(ctx, markets, since)
		if err != nil {
			return err
		}
		for i := range events {
			// The owner's own trades surface as receipts, not as market
			// activity about themselves.
			if events[i].SenderID == self {
				continue
			}
			m.dispatcher.Activity(ctx, owner, &events[i])
		}
	}

	var traders []string
	for _, entry := range m.follows.List(ctx, owner) {
		if entry.EmailAlerts {
			traders = append(traders, entry.FollowedID)
		}
	}
	if len(traders) > 0 {
		events, err := m.source.TraderActivity(ctx, traders, since)
		if err != nil {
			return err
		}
		for i := range events {
			m.dispatcher.FollowActivity(ctx, owner, &events[i])
		}
	}

	m.dispatcher.Flush(ctx, owner)
	logger.Debug("Owner checked", "owner", self, "positions", len(positions), "followed", len(traders))
	return nil
}
