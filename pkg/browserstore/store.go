// Package browserstore keeps small per-browser records such as cached user
// settings. Records are JSON encoded and scoped to one browser profile.
package browserstore

import (
	"context"
	"errors"
	"net/http"
)

var (
	// ErrNotFound is returned by Get when the key has no record.
	ErrNotFound = errors.New("browserstore: not found")
	// ErrTampered is returned by Get when a record fails integrity checks.
	ErrTampered = errors.New("browserstore: record failed verification")
)

// Store is a browser scoped key-value store.
type Store interface {
	Get(ctx context.Context, key string, out any) error
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
}

// Provider binds a Store to the browser that sent r.
type Provider interface {
	For(w http.ResponseWriter, r *http.Request) Store
}
