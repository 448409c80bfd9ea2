package storage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestImageKey(t *testing.T) {
	got := ImageKey("c1", "u1", "contemporaneous-notes", "100.jpg")
	if got != "cases/c1/u1/contemporaneous-notes/images/100.jpg" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := ImageKey("c1", "shared", "tabs", "../../etc/passwd"); got != "cases/c1/shared/tabs/images/passwd" {
		t.Fatalf("filename must not escape the images folder, got %q", got)
	}
}

func TestMinioStorePresignGet(t *testing.T) {
	store, err := NewMinioStore(MinioConfig{
		Endpoint:  "https://s3.example.com",
		AccessKey: "access",
		SecretKey: "secret",
		Bucket:    "lighthouse",
		UseSSL:    true,
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	u, err := store.PresignGet(context.Background(), "cases/c1/u1/tabs/images/1.png", time.Minute)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.HasPrefix(u, "https://s3.example.com/lighthouse/cases/c1/u1/tabs/images/1.png?") {
		t.Fatalf("unexpected presigned url %q", u)
	}
	if !strings.Contains(u, "X-Amz-Signature=") || !strings.Contains(u, "X-Amz-Expires=60") {
		t.Fatalf("presigned url missing signature parameters: %q", u)
	}
}

func TestMinioStoreStatMissingObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	store, err := NewMinioStore(MinioConfig{Endpoint: srv.URL, Bucket: "lighthouse", AccessKey: "a", SecretKey: "b"})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Stat(context.Background(), "cases/c1/u1/tabs/images/missing.png"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestNewMinioStoreRequiresBucket(t *testing.T) {
	if _, err := NewMinioStore(MinioConfig{Endpoint: "localhost:9000"}); err == nil {
		t.Fatalf("expected error without bucket")
	}
}
