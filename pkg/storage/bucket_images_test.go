package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeObjectStore struct {
	objects map[string]bool
	expiry  time.Duration
	signed  []string
}

func (f *fakeObjectStore) Stat(_ context.Context, key string) error {
	if !f.objects[key] {
		return ErrObjectNotFound
	}
	return nil
}

func (f *fakeObjectStore) PresignGet(_ context.Context, key string, expiry time.Duration) (string, error) {
	f.expiry = expiry
	f.signed = append(f.signed, key)
	return "https://bucket.example/" + key + "?sig=1", nil
}

func TestBucketImagesURL(t *testing.T) {
	store := &fakeObjectStore{objects: map[string]bool{"cases/c1/u1/tabs/images/a.png": true}}
	images := BucketImages{Store: store}

	u, err := images.URL(context.Background(), "cases/c1/u1/tabs/images/a.png")
	if err != nil {
		t.Fatalf("url: %v", err)
	}
	if u != "https://bucket.example/cases/c1/u1/tabs/images/a.png?sig=1" {
		t.Fatalf("unexpected url %q", u)
	}
	if store.expiry != defaultImageURLExpiry {
		t.Fatalf("expected default expiry, got %s", store.expiry)
	}
}

func TestBucketImagesMissingObjectIsNotSigned(t *testing.T) {
	store := &fakeObjectStore{objects: map[string]bool{}}
	images := BucketImages{Store: store, Expiry: time.Minute}

	if _, err := images.URL(context.Background(), "cases/c1/u1/tabs/images/gone.png"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
	if len(store.signed) != 0 {
		t.Fatalf("missing object should not be presigned")
	}
}
