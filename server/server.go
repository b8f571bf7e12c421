// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"sync"
	"time"

	"tradewatch-notifier/pkg/notifier"
)

var (
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	ownerRegex = regexp.MustCompile(`^(0x)?[a-zA-Z0-9]{1,64}$`)
)

// Subscriptions is the subscription registry interface.
type Subscriptions interface {
	Get(ctx context.Context, owner string) *notifier.Subscription
	Upsert(ctx context.Context, owner, email, nickname string, freq notifier.Frequency) *notifier.Subscription
	SetFrequency(ctx context.Context, owner string, freq notifier.Frequency) bool
	Remove(ctx context.Context, owner string)
}

// Follows is the follow registry interface.
type Follows interface {
	List(ctx context.Context, owner string) []notifier.FollowEntry
	Follow(ctx context.Context, owner, identityID, label string, emailAlerts bool) bool
	Unfollow(ctx context.Context, owner, identityID string)
	SetEmailAlerts(ctx context.Context, owner, identityID string, enabled bool) bool
}

// Emailer sends the welcome email on subscribe.
type Emailer interface {
	SendWelcome(ctx context.Context, to, nickname string) error
}

// Receiver accepts trade confirmations.
type Receiver interface {
	Receipt(ctx context.Context, owner string, r *notifier.TradeReceipt)
}

// Poller interface for triggering checks.
type Poller interface {
	CheckAll(ctx context.Context)
}

// Server handles HTTP requests.
type Server struct {
	subs       Subscriptions
	follows    Follows
	emailer    Emailer
	receiver   Receiver
	poller     Poller
	logger     *slog.Logger
	rateLimits *rateLimiter
}

// Config holds server configuration.
type Config struct {
	Subscriptions Subscriptions
	Follows       Follows
	Emailer       Emailer
	Receiver      Receiver
	Poller        Poller
	Logger        *slog.Logger
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	return &Server{
		subs:       cfg.Subscriptions,
		follows:    cfg.Follows,
		emailer:    cfg.Emailer,
		receiver:   cfg.Receiver,
		poller:     cfg.Poller,
		logger:     cfg.Logger,
		rateLimits: newRateLimiter(),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/pollz", s.handlePoll)
	mux.HandleFunc("/subscribe", s.handleSubscribe)
	mux.HandleFunc("/unsubscribe", s.handleUnsubscribe)
	mux.HandleFunc("/frequency", s.handleFrequency)
	mux.HandleFunc("/subscription", s.handleSubscription)
	mux.HandleFunc("/follow", s.handleFollow)
	mux.HandleFunc("/unfollow", s.handleUnfollow)
	mux.HandleFunc("/follow/alerts", s.handleFollowAlerts)
	mux.HandleFunc("/follows", s.handleFollows)
	mux.HandleFunc("/receipt", s.handleReceipt)
	return mux
}

// ListenAndServe starts the server on the given port.
func (s *Server) ListenAndServe(port string) error {
	// Timeouts prevent resource exhaustion from slow clients
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "port", port)
	return server.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.logger.Info("Poll endpoint triggered")
	s.poller.CheckAll(r.Context())
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

// allowMutation applies per-IP rate limiting to a state-changing request.
// Returns false after writing the 429 response.
func (s *Server) allowMutation(w http.ResponseWriter, r *http.Request) bool {
	ip := clientIP(r)
	if !s.rateLimits.allow(ip) {
		s.logger.Warn("Rate limit exceeded", "ip", ip, "path", r.URL.Path)
		http.Error(w, "Too many requests. Please try again later.", http.StatusTooManyRequests)
		return false
	}
	return true
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

// decodeJSON parses a request body into out, rejecting unknown fields and
// oversized bodies.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, out any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// Rate limiter for mutating endpoints (max 30 per IP per hour).
type rateLimiter struct {
	clients map[string][]time.Time
	mu      sync.Mutex
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{
		clients: make(map[string][]time.Time),
	}
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-time.Hour)

	// Clean old entries
	var recent []time.Time
	for _, ts := range rl.clients[ip] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= 30 {
		return false
	}

	recent = append(recent, now)
	rl.clients[ip] = recent
	return true
}

func clientIP(r *http.Request) string {
	// Check X-Forwarded-For header (Cloud Run)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	// Fallback to RemoteAddr
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

func isValidEmail(email string) bool {
	if len(email) < 3 || len(email) > 254 {
		return false
	}

	// Use mail.ParseAddress for robust validation
	_, err := mail.ParseAddress(email)
	return err == nil && emailRegex.MatchString(email)
}

func isValidOwner(owner string) bool {
	return ownerRegex.MatchString(owner)
}
