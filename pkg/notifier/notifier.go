// Package notifier contains the core domain types for the TradeWatch notification service.
package notifier

import "time"

// Frequency controls how notification emails are delivered.
type Frequency string

const (
	// FrequencyImmediate sends one email per event as it is observed.
	FrequencyImmediate Frequency = "immediate"
	// FrequencyDaily batches events into a once-per-day digest email.
	FrequencyDaily Frequency = "daily"
)

// Valid reports whether f is a known frequency value.
func (f Frequency) Valid() bool {
	return f == FrequencyImmediate || f == FrequencyDaily
}

// Class identifies a notification class for deduplication purposes.
type Class string

const (
	// ClassHoldings covers third-party trades on markets the owner holds.
	ClassHoldings Class = "holdings-activity"
	// ClassFollows covers trades by identities the owner follows.
	ClassFollows Class = "follow-activity"
)

// TradeKind is the direction of a trade.
type TradeKind string

const (
	TradeAcquired   TradeKind = "acquired"
	TradeLiquidated TradeKind = "liquidated"
)

// Subscription represents an owner's email subscription.
// An owner has at most one subscription; its absence means "not subscribed"
// and suppresses all sends.
type Subscription struct {
	SubscribedAt time.Time `json:"subscribed_at"`      // Set once on first subscribe, never mutated
	Email        string    `json:"email"`              // Subscriber email, lowercased
	Nickname     string    `json:"nickname,omitempty"` // Optional display name for email greetings
	Frequency    Frequency `json:"frequency"`          // immediate or daily
}

// FollowEntry records that an owner follows another identity.
type FollowEntry struct {
	FollowedAt  time.Time `json:"followed_at"`
	FollowedID  string    `json:"followed_id"`     // Normalized lowercase identity address
	Label       string    `json:"label,omitempty"` // Optional display string
	EmailAlerts bool      `json:"email_alerts"`    // Whether activity by this identity triggers email
}

// Position is one market holding of an owner, as reported by the indexer.
type Position struct {
	MarketID    string `json:"market_id"`
	MarketLabel string `json:"market_label"`
	Shares      string `json:"shares"` // Wei-scale decimal string
}

// ActivityEvent is a single observed trade on the platform. Shares and Assets
// are wei-scale decimal strings exactly as the indexer reports them.
type ActivityEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	ID          string    `json:"id"` // Stable event identifier, unique per trade
	Kind        TradeKind `json:"kind"`
	MarketLabel string    `json:"market_label"`
	SenderID    string    `json:"sender_id"` // Identity that made the trade
	SenderLabel string    `json:"sender_label"`
	Shares      string    `json:"shares,omitempty"`
	Assets      string    `json:"assets,omitempty"`
	TxHash      string    `json:"tx_hash,omitempty"`
}

// TradeReceipt is a confirmation of the owner's own completed trade.
// Each transaction is unique by hash, so receipts carry no dedup state.
type TradeReceipt struct {
	Timestamp   time.Time `json:"timestamp"`
	Kind        TradeKind `json:"kind"`
	MarketLabel string    `json:"market_label"`
	Shares      string    `json:"shares,omitempty"`
	Assets      string    `json:"assets,omitempty"`
	TxHash      string    `json:"tx_hash,omitempty"`
}

// ActivityItem is the digest-queue form of an activity event: the fields
// needed to render one digest line, detached from dedup identity.
type ActivityItem struct {
	Timestamp   time.Time `json:"timestamp"`
	Kind        TradeKind `json:"kind"`
	MarketLabel string    `json:"market_label"`
	ActorLabel  string    `json:"actor_label"`
	Shares      string    `json:"shares,omitempty"`
	Assets      string    `json:"assets,omitempty"`
}

// DigestItemKind tags the variant held by a DigestItem.
type DigestItemKind string

const (
	DigestReceipt  DigestItemKind = "receipt"
	DigestActivity DigestItemKind = "activity"
)

// DigestItem is a tagged union of the two digest payloads. Exactly one of
// Receipt and Activity is non-nil, matching Kind.
type DigestItem struct {
	Receipt  *TradeReceipt  `json:"receipt,omitempty"`
	Activity *ActivityItem  `json:"activity,omitempty"`
	Kind     DigestItemKind `json:"kind"`
}

// NewReceiptItem wraps a receipt for the digest queue.
func NewReceiptItem(r TradeReceipt) DigestItem {
	return DigestItem{Kind: DigestReceipt, Receipt: &r}
}

// NewActivityItem wraps an activity entry for the digest queue.
func NewActivityItem(a ActivityItem) DigestItem {
	return DigestItem{Kind: DigestActivity, Activity: &a}
}
