package server

import (
	"errors"
	"net/http"
	"strings"

	"tradewatch-notifier/email"
	"tradewatch-notifier/pkg/notifier"
)

type subscribeRequest struct {
	Owner     string `json:"owner"`
	Email     string `json:"email"`
	Nickname  string `json:"nickname,omitempty"`
	Frequency string `json:"frequency,omitempty"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.allowMutation(w, r) {
		return
	}

	var req subscribeRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	if !isValidOwner(req.Owner) {
		http.Error(w, "Invalid owner address", http.StatusBadRequest)
		return
	}

	addr := strings.TrimSpace(strings.ToLower(req.Email))
	if !isValidEmail(addr) {
		http.Error(w, "Invalid email address", http.StatusBadRequest)
		return
	}

	freq := notifier.Frequency(req.Frequency)
	if req.Frequency != "" && !freq.Valid() {
		http.Error(w, "Invalid frequency: must be immediate or daily", http.StatusBadRequest)
		return
	}

	existing := s.subs.Get(r.Context(), req.Owner)
	sub := s.subs.Upsert(r.Context(), req.Owner, addr, req.Nickname, freq)

	// Welcome email only on first subscribe, not on updates
	var warning string
	if existing == nil {
		if err := s.emailer.SendWelcome(r.Context(), sub.Email, sub.Nickname); err != nil {
			// Subscription stands either way, but a missing delivery
			// configuration must be visible to the caller, not just in logs:
			// without it every notification will silently go nowhere.
			if errors.Is(err, email.ErrNotConfigured) {
				warning = "email delivery is not configured"
				s.logger.Warn("Welcome email skipped: delivery not configured", "email", sub.Email)
			} else {
				s.logger.Warn("Failed to send welcome email", "email", sub.Email, "error", err)
			}
		}
	}

	s.logger.Info("Subscription created",
		"owner", notifier.NormalizeAddress(req.Owner),
		"email", sub.Email,
		"ip", clientIP(r))

	resp := map[string]any{
		"status":    "subscribed",
		"email":     sub.Email,
		"frequency": sub.Frequency,
	}
	if warning != "" {
		resp["warning"] = warning
	}
	s.respondJSON(w, http.StatusOK, resp)
}

type ownerRequest struct {
	Owner string `json:"owner"`
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.allowMutation(w, r) {
		return
	}

	var req ownerRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if !isValidOwner(req.Owner) {
		http.Error(w, "Invalid owner address", http.StatusBadRequest)
		return
	}

	s.subs.Remove(r.Context(), req.Owner)
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "unsubscribed"})
}

type frequencyRequest struct {
	Owner     string `json:"owner"`
	Frequency string `json:"frequency"`
}

func (s *Server) handleFrequency(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.allowMutation(w, r) {
		return
	}

	var req frequencyRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if !isValidOwner(req.Owner) {
		http.Error(w, "Invalid owner address", http.StatusBadRequest)
		return
	}

	freq := notifier.Frequency(req.Frequency)
	if !freq.Valid() {
		http.Error(w, "Invalid frequency: must be immediate or daily", http.StatusBadRequest)
		return
	}

	if !s.subs.SetFrequency(r.Context(), req.Owner, freq) {
		http.Error(w, "Not subscribed", http.StatusNotFound)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":    "updated",
		"frequency": freq,
	})
}

func (s *Server) handleSubscription(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	owner := r.URL.Query().Get("owner")
	if !isValidOwner(owner) {
		http.Error(w, "Invalid owner address", http.StatusBadRequest)
		return
	}

	sub := s.subs.Get(r.Context(), owner)
	if sub == nil {
		s.respondJSON(w, http.StatusOK, map[string]any{"subscribed": false})
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"subscribed":    true,
		"email":         sub.Email,
		"nickname":      sub.Nickname,
		"frequency":     sub.Frequency,
		"subscribed_at": sub.SubscribedAt,
	})
}
