package browserstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisProvider keeps browser records in Redis under prefix:browser:key with a sliding TTL.
type RedisProvider struct {
	client       redis.Cmdable
	prefix       string
	ttl          time.Duration
	cookieName   string
	secureCookie bool
}

// RedisOptions configures a RedisProvider.
type RedisOptions struct {
	Prefix       string
	TTL          time.Duration
	CookieName   string
	SecureCookie bool
}

// NewRedisProvider builds a provider on an existing Redis client.
func NewRedisProvider(client redis.Cmdable, opts RedisOptions) *RedisProvider {
	prefix := strings.TrimSpace(opts.Prefix)
	if prefix == "" {
		prefix = "lighthouse:web:browser"
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &RedisProvider{
		client:       client,
		prefix:       prefix,
		ttl:          ttl,
		cookieName:   opts.CookieName,
		secureCookie: opts.SecureCookie,
	}
}

// For returns the store of the browser identified by its id cookie.
func (p *RedisProvider) For(w http.ResponseWriter, r *http.Request) Store {
	return p.Browser(BrowserID(w, r, p.cookieName, p.secureCookie))
}

// Browser returns the store of an already known browser id.
func (p *RedisProvider) Browser(browserID string) Store {
	return &redisStore{p: p, browserID: browserID}
}

type redisStore struct {
	p         *RedisProvider
	browserID string
}

func (s *redisStore) key(key string) string {
	return s.p.prefix + ":" + s.browserID + ":" + key
}

func (s *redisStore) Get(ctx context.Context, key string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	// Reading a record extends its expiry.
	raw, err := s.p.client.GetEx(ctx, s.key(key), s.p.ttl).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("browserstore get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrTampered, err)
	}
	return nil
}

func (s *redisStore) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("browserstore encode %s: %w", key, err)
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := s.p.client.Set(ctx, s.key(key), raw, s.p.ttl).Err(); err != nil {
		return fmt.Errorf("browserstore set %s: %w", key, err)
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := s.p.client.Del(ctx, s.key(key)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("browserstore delete %s: %w", key, err)
	}
	return nil
}
