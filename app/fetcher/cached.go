package fetcher

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// ResponseStore keeps located record arrays between calls.
type ResponseStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type source interface {
	Fetch(ctx context.Context, src Source) (*Data, error)
}

// CachedFetcher serves repeated fetches of the same source from a store for
// ttl. Store failures fall back to a live fetch. Errors are never cached.
type CachedFetcher struct {
	next  source
	store ResponseStore
	ttl   time.Duration
}

func NewCachedFetcher(next source, store ResponseStore, ttl time.Duration) *CachedFetcher {
	return &CachedFetcher{next: next, store: store, ttl: ttl}
}

func (f *CachedFetcher) Fetch(ctx context.Context, src Source) (*Data, error) {
	key := SourceKey(src)

	raw, ok, err := f.store.Get(ctx, key)
	if err != nil {
		slog.Warn("Response cache read failed", "key", key, "error", err)
	}
	if ok {
		if data, err := locateArray(raw, ""); err == nil {
			slog.Debug("Response cache hit", "key", key, "records", len(data.Records))
			return data, nil
		}
	}

	data, err := f.next.Fetch(ctx, src)
	if err != nil {
		return nil, err
	}

	if err := f.store.Set(ctx, key, data.Raw, f.ttl); err != nil {
		slog.Warn("Response cache write failed", "key", key, "error", err)
	}
	return data, nil
}

// SourceKey identifies a request by everything that can change its answer,
// credentials included.
func SourceKey(src Source) string {
	h := sha256.New()
	write := func(parts ...string) {
		for _, p := range parts {
			h.Write([]byte(p))
			h.Write([]byte{0})
		}
	}

	method := strings.ToUpper(strings.TrimSpace(src.Method))
	write(method, src.URL, src.JSONPath)
	write(string(src.Auth.Type), src.Auth.HeaderName, src.Auth.APIKey, src.Auth.Username, src.Auth.Password, src.Auth.Token)

	names := make([]string, 0, len(src.Headers))
	for name := range src.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		write(name, src.Headers[name])
	}

	return fmt.Sprintf("source:%x", h.Sum(nil)[:16])
}
