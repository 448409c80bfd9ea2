package storage

import (
	"context"
	"errors"
	"time"
)

const defaultImageURLExpiry = 15 * time.Minute

// BucketImages hands out presigned GET URLs for images that exist in the bucket.
type BucketImages struct {
	Store  ObjectStore
	Expiry time.Duration
}

// URL checks that key exists and returns a presigned URL for it.
func (b BucketImages) URL(ctx context.Context, key string) (string, error) {
	if b.Store == nil {
		return "", errors.New("bucket images: object store is nil")
	}
	if err := b.Store.Stat(ctx, key); err != nil {
		return "", err
	}
	expiry := b.Expiry
	if expiry <= 0 {
		expiry = defaultImageURLExpiry
	}
	return b.Store.PresignGet(ctx, key, expiry)
}
