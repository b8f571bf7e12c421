package store

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func testStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(nil, "", t.TempDir(), logger)
}

func TestSetGetRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.Set(ctx, "sub", "0xAbC123", record{Name: "alice", Count: 2})

	var got record
	if !s.Get(ctx, "sub", "0xabc123", &got) {
		t.Fatal("Get() = false after Set")
	}
	if got.Name != "alice" || got.Count != 2 {
		t.Errorf("Get() = %+v, want {alice 2}", got)
	}
}

func TestGetNormalizesOwnerCase(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.Set(ctx, "sub", "0xABCDEF", record{Name: "one"})
	s.Set(ctx, "sub", "0xabcdef", record{Name: "two"})

	var got record
	if !s.Get(ctx, "sub", "0xAbCdEf", &got) {
		t.Fatal("Get() = false")
	}
	// Both writes must have landed on the same key.
	if got.Name != "two" {
		t.Errorf("Get() name = %q, want %q (second write should win)", got.Name, "two")
	}
}

func TestGetAbsent(t *testing.T) {
	s := testStore(t)

	var got record
	if s.Get(context.Background(), "sub", "0xmissing", &got) {
		t.Error("Get() = true for absent record")
	}
}

func TestGetCorruptRecord(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	dir := t.TempDir()
	s := New(nil, "", dir, logger)

	if err := os.WriteFile(filepath.Join(dir, "sub-0xbad.json"), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	var got record
	if s.Get(context.Background(), "sub", "0xbad", &got) {
		t.Error("Get() = true for corrupt record, want false")
	}
}

func TestInvalidOwnerKeys(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	tests := []string{"", "../../etc/passwd", "owner/with/slash", "owner with space", "UPPER!"}
	for _, owner := range tests {
		s.Set(ctx, "sub", owner, record{Name: "x"})
		var got record
		if s.Get(ctx, "sub", owner, &got) {
			t.Errorf("Get(%q) = true, want invalid key treated as absent", owner)
		}
	}
}

func TestDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.Set(ctx, "sub", "0xa1", record{Name: "gone"})
	s.Delete(ctx, "sub", "0xa1")

	var got record
	if s.Get(ctx, "sub", "0xa1", &got) {
		t.Error("Get() = true after Delete")
	}

	// Deleting an absent record must not panic or error.
	s.Delete(ctx, "sub", "0xa1")
}

func TestListOwners(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.Set(ctx, "sub", "0xaaa", record{})
	s.Set(ctx, "sub", "0xbbb", record{})
	s.Set(ctx, "digest", "0xccc", record{})

	owners := s.ListOwners(ctx, "sub")
	if len(owners) != 2 {
		t.Fatalf("ListOwners() = %v, want 2 owners", owners)
	}
	seen := map[string]bool{}
	for _, o := range owners {
		seen[o] = true
	}
	if !seen["0xaaa"] || !seen["0xbbb"] {
		t.Errorf("ListOwners() = %v, want 0xaaa and 0xbbb", owners)
	}
}
