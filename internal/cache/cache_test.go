package cache

import (
	"context"
	"testing"
	"time"
)

// openTestCache opens an in-memory SQLiteCache for use in tests.
func openTestCache(t *testing.T, ttl time.Duration) *SQLiteCache {
	t.Helper()
	c, err := Open(":memory:", ttl)
	if err != nil {
		t.Fatalf("open in-memory cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func Test_Cache_PutAndGet(t *testing.T) {
	t.Parallel()
	c := openTestCache(t, time.Hour)
	ctx := context.Background()

	entry := Entry{
		Context:           "formatted context",
		TokenCount:        42,
		Sources:           []string{"guide.md", "faq.md"},
		Relevance:         0.85,
		DocumentsIncluded: 3,
		Truncated:         true,
		Strategy:          "document_selection",
	}
	if err := c.Put(ctx, "How do I install?", entry); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := c.Get(ctx, "How do I install?")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("want a hit, got nil")
	}
	if got.Context != entry.Context || got.TokenCount != 42 || got.Strategy != entry.Strategy {
		t.Errorf("entry round trip: %+v", got)
	}
	if len(got.Sources) != 2 || got.Sources[0] != "guide.md" {
		t.Errorf("sources = %v", got.Sources)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt should be populated from the row")
	}
}

func Test_Cache_KeyNormalization(t *testing.T) {
	t.Parallel()
	c := openTestCache(t, time.Hour)
	ctx := context.Background()

	if err := c.Put(ctx, "How do I install?", Entry{Context: "ctx"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	// Same question, different casing and padding, must hit.
	got, err := c.Get(ctx, "  how do i INSTALL?  ")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Error("normalized query variants must share a key")
	}
}

func Test_Cache_Miss(t *testing.T) {
	t.Parallel()
	c := openTestCache(t, time.Hour)

	got, err := c.Get(context.Background(), "never asked")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Errorf("want miss, got %+v", got)
	}
}

func Test_Cache_TTLExpiry(t *testing.T) {
	t.Parallel()
	c := openTestCache(t, time.Hour)
	ctx := context.Background()

	base := time.Now()
	c.now = func() time.Time { return base }
	if err := c.Put(ctx, "q", Entry{Context: "ctx"}); err != nil {
		t.Fatalf("put: %v", err)
	}

	c.now = func() time.Time { return base.Add(2 * time.Hour) }
	got, err := c.Get(ctx, "q")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Error("entry past the TTL must not be served")
	}

	// The stale path still serves it.
	stale, err := c.GetStale(ctx, "q")
	if err != nil {
		t.Fatalf("get stale: %v", err)
	}
	if stale == nil || stale.Context != "ctx" {
		t.Errorf("stale read = %+v, want the expired entry", stale)
	}

	n, err := c.Purge(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d rows, want 1", n)
	}
}

func Test_Cache_PutReplaces(t *testing.T) {
	t.Parallel()
	c := openTestCache(t, time.Hour)
	ctx := context.Background()

	if err := c.Put(ctx, "q", Entry{Context: "old"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := c.Put(ctx, "q", Entry{Context: "new"}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, err := c.Get(ctx, "q")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Context != "new" {
		t.Errorf("replacement not visible: %+v", got)
	}
}

func Test_Cache_Ping(t *testing.T) {
	t.Parallel()
	c := openTestCache(t, 0)
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("ping: %v", err)
	}
}
