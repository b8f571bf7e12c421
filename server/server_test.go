package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tradewatch-notifier/email"
	"tradewatch-notifier/pkg/notifier"
)

type fakeSubs struct {
	subs map[string]*notifier.Subscription
}

func newFakeSubs() *fakeSubs {
	return &fakeSubs{subs: make(map[string]*notifier.Subscription)}
}

func (f *fakeSubs) Get(_ context.Context, owner string) *notifier.Subscription {
	return f.subs[strings.ToLower(owner)]
}

func (f *fakeSubs) Upsert(_ context.Context, owner, email, nickname string, freq notifier.Frequency) *notifier.Subscription {
	if !freq.Valid() {
		freq = notifier.FrequencyImmediate
	}
	sub := &notifier.Subscription{
		Email:        email,
		Nickname:     nickname,
		Frequency:    freq,
		SubscribedAt: time.Now().UTC(),
	}
	f.subs[strings.ToLower(owner)] = sub
	return sub
}

func (f *fakeSubs) SetFrequency(_ context.Context, owner string, freq notifier.Frequency) bool {
	sub, ok := f.subs[strings.ToLower(owner)]
	if !ok {
		return false
	}
	sub.Frequency = freq
	return true
}

func (f *fakeSubs) Remove(_ context.Context, owner string) {
	delete(f.subs, strings.ToLower(owner))
}

type fakeFollows struct {
	entries map[string][]notifier.FollowEntry
}

func newFakeFollows() *fakeFollows {
	return &fakeFollows{entries: make(map[string][]notifier.FollowEntry)}
}

func (f *fakeFollows) List(_ context.Context, owner string) []notifier.FollowEntry {
	return f.entries[strings.ToLower(owner)]
}

func (f *fakeFollows) Follow(_ context.Context, owner, identityID, label string, emailAlerts bool) bool {
	if strings.EqualFold(owner, identityID) {
		return false
	}
	f.entries[strings.ToLower(owner)] = append(f.entries[strings.ToLower(owner)], notifier.FollowEntry{
		FollowedID:  strings.ToLower(identityID),
		Label:       label,
		EmailAlerts: emailAlerts,
	})
	return true
}

func (f *fakeFollows) Unfollow(_ context.Context, owner, identityID string) {
	var kept []notifier.FollowEntry
	for _, e := range f.entries[strings.ToLower(owner)] {
		if e.FollowedID != strings.ToLower(identityID) {
			kept = append(kept, e)
		}
	}
	f.entries[strings.ToLower(owner)] = kept
}

func (f *fakeFollows) SetEmailAlerts(_ context.Context, owner, identityID string, enabled bool) bool {
	for i, e := range f.entries[strings.ToLower(owner)] {
		if e.FollowedID == strings.ToLower(identityID) {
			f.entries[strings.ToLower(owner)][i].EmailAlerts = enabled
			return true
		}
	}
	return false
}

type fakeEmailer struct {
	welcomes []string
	err      error
}

func (f *fakeEmailer) SendWelcome(_ context.Context, to, _ string) error {
	f.welcomes = append(f.welcomes, to)
	return f.err
}

type fakeReceiver struct {
	receipts []*notifier.TradeReceipt
}

func (f *fakeReceiver) Receipt(_ context.Context, _ string, r *notifier.TradeReceipt) {
	f.receipts = append(f.receipts, r)
}

type fakePoller struct {
	calls int
}

func (f *fakePoller) CheckAll(_ context.Context) { f.calls++ }

type testEnv struct {
	server   *Server
	subs     *fakeSubs
	follows  *fakeFollows
	emailer  *fakeEmailer
	receiver *fakeReceiver
	poller   *fakePoller
	handler  http.Handler
}

func newTestEnv(_ *testing.T) *testEnv {
	env := &testEnv{
		subs:     newFakeSubs(),
		follows:  newFakeFollows(),
		emailer:  &fakeEmailer{},
		receiver: &fakeReceiver{},
		poller:   &fakePoller{},
	}
	env.server = New(&Config{
		Subscriptions: env.subs,
		Follows:       env.follows,
		Emailer:       env.emailer,
		Receiver:      env.receiver,
		Poller:        env.poller,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	env.handler = env.server.Handler()
	return env
}

func (e *testEnv) post(path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *testEnv) get(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func TestSubscribe(t *testing.T) {
	env := newTestEnv(t)

	w := env.post("/subscribe", `{"owner": "0xAbC", "email": "User@Example.com", "nickname": "Alice"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response JSON: %v", err)
	}
	if resp["email"] != "user@example.com" {
		t.Errorf("email = %v, want lowercased", resp["email"])
	}
	if len(env.emailer.welcomes) != 1 {
		t.Errorf("welcome emails = %d, want 1", len(env.emailer.welcomes))
	}
}

func TestSubscribeAgainSkipsWelcome(t *testing.T) {
	env := newTestEnv(t)

	env.post("/subscribe", `{"owner": "0xabc", "email": "user@example.com"}`)
	env.post("/subscribe", `{"owner": "0xabc", "email": "new@example.com"}`)

	if len(env.emailer.welcomes) != 1 {
		t.Errorf("welcome emails = %d, want 1 (only on first subscribe)", len(env.emailer.welcomes))
	}
}

func TestSubscribeInvalidEmail(t *testing.T) {
	env := newTestEnv(t)

	for _, email := range []string{"", "not-an-email", "a@b", "user@.com"} {
		w := env.post("/subscribe", `{"owner": "0xabc", "email": "`+email+`"}`)
		if w.Code != http.StatusBadRequest {
			t.Errorf("email %q: status = %d, want 400", email, w.Code)
		}
	}
}

func TestSubscribeInvalidFrequency(t *testing.T) {
	env := newTestEnv(t)

	w := env.post("/subscribe", `{"owner": "0xabc", "email": "user@example.com", "frequency": "hourly"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSubscribeNotConfiguredWarnsCaller(t *testing.T) {
	env := newTestEnv(t)
	env.emailer.err = email.ErrNotConfigured

	w := env.post("/subscribe", `{"owner": "0xabc", "email": "user@example.com"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response JSON: %v", err)
	}
	if resp["warning"] != "email delivery is not configured" {
		t.Errorf("warning = %v, want the not-configured message", resp["warning"])
	}
	if env.subs.Get(context.Background(), "0xabc") == nil {
		t.Error("subscription not saved")
	}
}

func TestSubscribeSuccessHasNoWarning(t *testing.T) {
	env := newTestEnv(t)

	w := env.post("/subscribe", `{"owner": "0xabc", "email": "user@example.com"}`)

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response JSON: %v", err)
	}
	if _, ok := resp["warning"]; ok {
		t.Errorf("warning = %v, want absent on successful welcome send", resp["warning"])
	}
}

func TestSubscribeWelcomeFailureStillSubscribes(t *testing.T) {
	env := newTestEnv(t)
	env.emailer.err = io.ErrUnexpectedEOF

	w := env.post("/subscribe", `{"owner": "0xabc", "email": "user@example.com"}`)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 despite welcome failure", w.Code)
	}
	if env.subs.Get(context.Background(), "0xabc") == nil {
		t.Error("subscription not saved")
	}
}

func TestUnsubscribe(t *testing.T) {
	env := newTestEnv(t)
	env.post("/subscribe", `{"owner": "0xabc", "email": "user@example.com"}`)

	w := env.post("/unsubscribe", `{"owner": "0xabc"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if env.subs.Get(context.Background(), "0xabc") != nil {
		t.Error("subscription still present")
	}
}

func TestFrequencyNotSubscribed(t *testing.T) {
	env := newTestEnv(t)

	w := env.post("/frequency", `{"owner": "0xabc", "frequency": "daily"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestFrequencyUpdate(t *testing.T) {
	env := newTestEnv(t)
	env.post("/subscribe", `{"owner": "0xabc", "email": "user@example.com"}`)

	w := env.post("/frequency", `{"owner": "0xabc", "frequency": "daily"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := env.subs.Get(context.Background(), "0xabc").Frequency; got != notifier.FrequencyDaily {
		t.Errorf("frequency = %q, want daily", got)
	}
}

func TestSubscriptionLookup(t *testing.T) {
	env := newTestEnv(t)

	w := env.get("/subscription?owner=0xabc")
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response JSON: %v", err)
	}
	if resp["subscribed"] != false {
		t.Errorf("subscribed = %v, want false", resp["subscribed"])
	}

	env.post("/subscribe", `{"owner": "0xabc", "email": "user@example.com"}`)
	w = env.get("/subscription?owner=0xabc")
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response JSON: %v", err)
	}
	if resp["subscribed"] != true || resp["email"] != "user@example.com" {
		t.Errorf("unexpected response: %v", resp)
	}
}

func TestSelfFollowIgnored(t *testing.T) {
	env := newTestEnv(t)

	w := env.post("/follow", `{"owner": "0xabc", "identity": "0xABC", "email_alerts": true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "ignored") {
		t.Errorf("body = %s, want ignored status", w.Body.String())
	}
	if len(env.follows.List(context.Background(), "0xabc")) != 0 {
		t.Error("self-follow was recorded")
	}
}

func TestFollowAndList(t *testing.T) {
	env := newTestEnv(t)

	env.post("/follow", `{"owner": "0xabc", "identity": "0xdef", "label": "Star Trader", "email_alerts": true}`)

	w := env.get("/follows?owner=0xabc")
	var resp struct {
		Follows []notifier.FollowEntry `json:"follows"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response JSON: %v", err)
	}
	if len(resp.Follows) != 1 || resp.Follows[0].FollowedID != "0xdef" {
		t.Errorf("follows = %+v", resp.Follows)
	}
}

func TestFollowsEmptyList(t *testing.T) {
	env := newTestEnv(t)

	w := env.get("/follows?owner=0xabc")
	if !strings.Contains(w.Body.String(), `"follows":[]`) {
		t.Errorf("body = %s, want empty array not null", w.Body.String())
	}
}

func TestFollowAlertsNotFollowing(t *testing.T) {
	env := newTestEnv(t)

	w := env.post("/follow/alerts", `{"owner": "0xabc", "identity": "0xdef", "enabled": true}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestReceipt(t *testing.T) {
	env := newTestEnv(t)

	w := env.post("/receipt", `{"owner": "0xabc", "kind": "acquired", "market_label": "M1", "shares": "1000000000000000000", "tx_hash": "0xdead"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if len(env.receiver.receipts) != 1 {
		t.Fatalf("receipts = %d, want 1", len(env.receiver.receipts))
	}
	if env.receiver.receipts[0].Kind != notifier.TradeAcquired {
		t.Errorf("kind = %q", env.receiver.receipts[0].Kind)
	}
}

func TestReceiptInvalidKind(t *testing.T) {
	env := newTestEnv(t)

	w := env.post("/receipt", `{"owner": "0xabc", "kind": "transferred", "market_label": "M1"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestPollTrigger(t *testing.T) {
	env := newTestEnv(t)

	w := env.post("/pollz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if env.poller.calls != 1 {
		t.Errorf("poller calls = %d, want 1", env.poller.calls)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.get("/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "healthy") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	w := env.get("/subscribe")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /subscribe status = %d, want 405", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t)

	var last int
	for range 31 {
		w := env.post("/unsubscribe", `{"owner": "0xabc"}`)
		last = w.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("31st request status = %d, want 429", last)
	}
}
