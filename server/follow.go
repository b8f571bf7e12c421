package server

import (
	"net/http"
	"time"

	"tradewatch-notifier/pkg/notifier"
)

type followRequest struct {
	Owner       string `json:"owner"`
	Identity    string `json:"identity"`
	Label       string `json:"label,omitempty"`
	EmailAlerts bool   `json:"email_alerts"`
}

func (s *Server) handleFollow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.allowMutation(w, r) {
		return
	}

	var req followRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if !isValidOwner(req.Owner) || !isValidOwner(req.Identity) {
		http.Error(w, "Invalid address", http.StatusBadRequest)
		return
	}

	if !s.follows.Follow(r.Context(), req.Owner, req.Identity, req.Label, req.EmailAlerts) {
		// Self-follow; the registry refuses silently, mirror that here
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{"status": "following"})
}

type unfollowRequest struct {
	Owner    string `json:"owner"`
	Identity string `json:"identity"`
}

func (s *Server) handleUnfollow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.allowMutation(w, r) {
		return
	}

	var req unfollowRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if !isValidOwner(req.Owner) || !isValidOwner(req.Identity) {
		http.Error(w, "Invalid address", http.StatusBadRequest)
		return
	}

	s.follows.Unfollow(r.Context(), req.Owner, req.Identity)
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "unfollowed"})
}

type alertsRequest struct {
	Owner    string `json:"owner"`
	Identity string `json:"identity"`
	Enabled  bool   `json:"enabled"`
}

func (s *Server) handleFollowAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.allowMutation(w, r) {
		return
	}

	var req alertsRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if !isValidOwner(req.Owner) || !isValidOwner(req.Identity) {
		http.Error(w, "Invalid address", http.StatusBadRequest)
		return
	}

	if !s.follows.SetEmailAlerts(r.Context(), req.Owner, req.Identity, req.Enabled) {
		http.Error(w, "Not following this identity", http.StatusNotFound)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":  "updated",
		"enabled": req.Enabled,
	})
}

func (s *Server) handleFollows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	owner := r.URL.Query().Get("owner")
	if !isValidOwner(owner) {
		http.Error(w, "Invalid owner address", http.StatusBadRequest)
		return
	}

	entries := s.follows.List(r.Context(), owner)
	if entries == nil {
		entries = []notifier.FollowEntry{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"follows": entries})
}

type receiptRequest struct {
	Owner       string `json:"owner"`
	Kind        string `json:"kind"`
	MarketLabel string `json:"market_label"`
	Shares      string `json:"shares,omitempty"`
	Assets      string `json:"assets,omitempty"`
	TxHash      string `json:"tx_hash,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

// handleReceipt accepts a trade confirmation from the platform frontend and
// hands it to the dispatcher. Each transaction is reported once; there is no
// dedup on this path.
func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.allowMutation(w, r) {
		return
	}

	var req receiptRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if !isValidOwner(req.Owner) {
		http.Error(w, "Invalid owner address", http.StatusBadRequest)
		return
	}

	kind := notifier.TradeKind(req.Kind)
	if kind != notifier.TradeAcquired && kind != notifier.TradeLiquidated {
		http.Error(w, "Invalid kind: must be acquired or liquidated", http.StatusBadRequest)
		return
	}

	timestamp := time.Now().UTC()
	if req.Timestamp > 0 {
		timestamp = time.Unix(req.Timestamp, 0).UTC()
	}

	s.receiver.Receipt(r.Context(), req.Owner, &notifier.TradeReceipt{
		Timestamp:   timestamp,
		Kind:        kind,
		MarketLabel: req.MarketLabel,
		Shares:      req.Shares,
		Assets:      req.Assets,
		TxHash:      req.TxHash,
	})

	s.respondJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}
