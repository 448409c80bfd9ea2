package browserstore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newPostgresProvider(t *testing.T) *PostgresProvider {
	t.Helper()
	dsn := os.Getenv("BROWSERSTORE_TEST_DSN")
	if dsn == "" {
		t.Skip("BROWSERSTORE_TEST_DSN not set")
	}
	p, err := NewPostgresProvider(dsn, PostgresOptions{TTL: time.Hour})
	if err != nil {
		t.Fatalf("open provider: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestNewPostgresProviderRequiresDSN(t *testing.T) {
	if _, err := NewPostgresProvider(" ", PostgresOptions{}); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	p := newPostgresProvider(t)
	ctx := context.Background()
	browser := uuid.NewString()
	s := p.Browser(browser)

	var got record
	if err := s.Get(ctx, "settings", &got); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Set(ctx, "settings", record{Email: "a@x.com", Zone: "UTC"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set(ctx, "settings", record{Email: "a@x.com", Zone: "Europe/London"}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := s.Get(ctx, "settings", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Zone != "Europe/London" {
		t.Fatalf("expected overwritten record, got %+v", got)
	}
	var other record
	if err := p.Browser(uuid.NewString()).Get(ctx, "settings", &other); !errors.Is(err, ErrNotFound) {
		t.Fatalf("records must not leak between browsers, got %v", err)
	}
	if err := s.Delete(ctx, "settings"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Get(ctx, "settings", &got); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestPostgresStoreExpiry(t *testing.T) {
	p := newPostgresProvider(t)
	ctx := context.Background()
	s := p.Browser(uuid.NewString())
	if err := s.Set(ctx, "settings", record{Email: "a@x.com"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	p.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	var got record
	if err := s.Get(ctx, "settings", &got); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired record should be gone, got %v", err)
	}
	n, err := p.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n < 1 {
		t.Fatalf("expected sweep to delete the expired record")
	}
}

func TestPostgresStoreReadExtendsExpiry(t *testing.T) {
	p := newPostgresProvider(t)
	ctx := context.Background()
	s := p.Browser(uuid.NewString())
	start := time.Now()
	p.now = func() time.Time { return start }
	if err := s.Set(ctx, "settings", record{Email: "a@x.com"}); err != nil {
		t.Fatalf("set: %v", err)
	}

	var got record
	p.now = func() time.Time { return start.Add(45 * time.Minute) }
	if err := s.Get(ctx, "settings", &got); err != nil {
		t.Fatalf("get within ttl: %v", err)
	}
	// Past the original expiry but within an hour of the last read.
	p.now = func() time.Time { return start.Add(90 * time.Minute) }
	if err := s.Get(ctx, "settings", &got); err != nil || got.Email != "a@x.com" {
		t.Fatalf("read should have extended expiry: %+v %v", got, err)
	}
	p.now = func() time.Time { return start.Add(4 * time.Hour) }
	if err := s.Get(ctx, "settings", &got); !errors.Is(err, ErrNotFound) {
		t.Fatalf("idle record should expire, got %v", err)
	}
}
