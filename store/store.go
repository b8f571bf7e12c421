// Package store provides namespaced JSON persistence for per-owner state.
//
// The notification pipeline must degrade gracefully when persistence is
// unavailable: a failed read behaves as "nothing stored" and a failed write is
// dropped after logging. Losing dedup state only risks a duplicate email,
// never corruption, so every operation here is fail-open by contract.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"

	"tradewatch-notifier/pkg/notifier"
)

// Store persists namespaced JSON records on Cloud Storage, or on the local
// filesystem when localPath is set.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
}

// New creates a storage handler. Exactly one of bucket and localPath should
// be non-empty.
func New(client *storage.Client, bucket, localPath string, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		localPath: localPath,
		bucket:    bucket,
	}
}

// objectKey builds a stable object name from a namespace and an owner
// address. The owner is normalized here — the single place key case is
// decided — and validated so a hostile owner string cannot traverse paths.
// Returns "" for invalid input.
func objectKey(namespace, owner string) string {
	owner = notifier.NormalizeAddress(owner)
	if owner == "" || len(owner) > 128 {
		return ""
	}

	for _, c := range owner {
		safe := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z')
		if !safe {
			return ""
		}
	}

	return fmt.Sprintf("%s-%s.json", namespace, owner)
}

// Get loads the record for (namespace, owner) into out. Returns false when
// the record is absent, corrupt, or unreadable; callers treat all three the
// same way.
func (s *Store) Get(ctx context.Context, namespace, owner string, out any) bool {
	key := objectKey(namespace, owner)
	if key == "" {
		s.logger.Warn("Invalid owner key, treating as absent", "namespace", namespace, "owner", owner)
		return false
	}

	data, err := s.read(ctx, key)
	if err != nil {
		if isNotExist(err) {
			return false
		}
		s.logger.Warn("Storage read failed, treating as absent", "key", key, "error", err)
		return false
	}

	if err := json.Unmarshal(data, out); err != nil {
		s.logger.Warn("Corrupt record, treating as absent", "key", key, "error", err)
		return false
	}

	return true
}

// Set writes the record for (namespace, owner). Failures are logged and
// dropped.
func (s *Store) Set(ctx context.Context, namespace, owner string, val any) {
	key := objectKey(namespace, owner)
	if key == "" {
		s.logger.Warn("Invalid owner key, dropping write", "namespace", namespace, "owner", owner)
		return
	}

	data, err := json.MarshalIndent(val, "", "  ")
	if err != nil {
		s.logger.Warn("Marshal failed, dropping write", "key", key, "error", err)
		return
	}

	if err := s.write(ctx, key, data); err != nil {
		s.logger.Warn("Storage write failed, dropping write", "key", key, "error", err)
	}
}

// Delete removes the record for (namespace, owner). Deleting an absent record
// is a no-op.
func (s *Store) Delete(ctx context.Context, namespace, owner string) {
	key := objectKey(namespace, owner)
	if key == "" {
		return
	}

	if s.localPath != "" {
		if err := os.Remove(filepath.Join(s.localPath, key)); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("Local delete failed", "key", key, "error", err)
		}
		return
	}

	err := retry.Do(
		func() error {
			if deleteErr := s.client.Bucket(s.bucket).Object(key).Delete(ctx); deleteErr != nil {
				if errors.Is(deleteErr, storage.ErrObjectNotExist) {
					return retry.Unrecoverable(deleteErr)
				}
				return fmt.Errorf("delete from storage: %w", deleteErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying delete operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		s.logger.Warn("Storage delete failed", "key", key, "error", err)
	}
}

// ListOwners returns every owner that has a record in the given namespace.
// Used by the poll loop to enumerate subscribed owners. Failures degrade to
// an empty list.
func (s *Store) ListOwners(ctx context.Context, namespace string) []string {
	prefix := namespace + "-"
	var owners []string

	if s.localPath != "" {
		entries, err := os.ReadDir(s.localPath)
		if err != nil {
			s.logger.Warn("Local storage listing failed", "namespace", namespace, "error", err)
			return nil
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if owner, ok := ownerFromKey(entry.Name(), prefix); ok {
				owners = append(owners, owner)
			}
		}
		return owners
	}

	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			s.logger.Warn("Storage listing failed", "namespace", namespace, "error", err)
			return owners
		}
		if owner, ok := ownerFromKey(attrs.Name, prefix); ok {
			owners = append(owners, owner)
		}
	}

	return owners
}

func ownerFromKey(key, prefix string) (string, bool) {
	if !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, ".json") {
		return "", false
	}
	owner := strings.TrimSuffix(strings.TrimPrefix(key, prefix), ".json")
	return owner, owner != ""
}

func (s *Store) read(ctx context.Context, key string) ([]byte, error) {
	if s.localPath != "" {
		data, err := os.ReadFile(filepath.Join(s.localPath, key))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errNotExist
			}
			return nil, fmt.Errorf("read from local storage: %w", err)
		}
		return data, nil
	}

	var data []byte
	err := retry.Do(
		func() error {
			r, openErr := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
			if openErr != nil {
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					return retry.Unrecoverable(openErr)
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					s.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying load operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Store) write(ctx context.Context, key string, data []byte) error {
	if s.localPath != "" {
		if err := os.WriteFile(filepath.Join(s.localPath, key), data, 0o600); err != nil {
			return fmt.Errorf("write to local storage: %w", err)
		}
		return nil
	}

	return retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying save operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
}

var errNotExist = errors.New("store: record doesn't exist")

func isNotExist(err error) bool {
	return errors.Is(err, errNotExist) || errors.Is(err, storage.ErrObjectNotExist)
}
