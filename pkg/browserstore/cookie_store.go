package browserstore

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const maxCookieBytes = 3800

// CookieProvider keeps each record in its own sealed cookie. The value is
// XChaCha20-Poly1305 encrypted with the cookie name as associated data, so
// records cannot be read, edited or moved between keys by the browser.
type CookieProvider struct {
	aead   cipher.AEAD
	prefix string
	secure bool
	maxAge time.Duration
}

// CookieOptions configures a CookieProvider.
type CookieOptions struct {
	Prefix string
	Secure bool
	MaxAge time.Duration
}

// NewCookieProvider derives the sealing key from secret.
func NewCookieProvider(secret string, opts CookieOptions) (*CookieProvider, error) {
	if len(strings.TrimSpace(secret)) < 32 {
		return nil, errors.New("browserstore: cookie secret must be at least 32 characters")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte("lighthouse browserstore v1")), key); err != nil {
		return nil, fmt.Errorf("browserstore: derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("browserstore: init aead: %w", err)
	}
	prefix := strings.TrimSpace(opts.Prefix)
	if prefix == "" {
		prefix = "lh_"
	}
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}
	return &CookieProvider{aead: aead, prefix: prefix, secure: opts.Secure, maxAge: maxAge}, nil
}

// For returns a store reading cookies from r and writing Set-Cookie headers to w.
func (p *CookieProvider) For(w http.ResponseWriter, r *http.Request) Store {
	return &cookieStore{p: p, w: w, r: r, pending: make(map[string]*string)}
}

func (p *CookieProvider) seal(name string, plaintext []byte) string {
	nonce := make([]byte, p.aead.NonceSize(), p.aead.NonceSize()+len(plaintext)+p.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		panic(fmt.Sprintf("browserstore: read nonce: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(p.aead.Seal(nonce, nonce, plaintext, []byte(name)))
}

func (p *CookieProvider) open(name, value string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil || len(raw) < p.aead.NonceSize() {
		return nil, ErrTampered
	}
	nonce, sealed := raw[:p.aead.NonceSize()], raw[p.aead.NonceSize():]
	plain, err := p.aead.Open(nil, nonce, sealed, []byte(name))
	if err != nil {
		return nil, ErrTampered
	}
	return plain, nil
}

type cookieStore struct {
	p *CookieProvider
	w http.ResponseWriter
	r *http.Request

	mu sync.Mutex
	// pending holds values written during this request; nil means deleted.
	pending map[string]*string
}

func (s *cookieStore) name(key string) string {
	return s.p.prefix + key
}

func (s *cookieStore) Get(_ context.Context, key string, out any) error {
	name := s.name(key)
	s.mu.Lock()
	pending, written := s.pending[name]
	s.mu.Unlock()

	var value string
	switch {
	case written && pending == nil:
		return ErrNotFound
	case written:
		value = *pending
	default:
		c, err := s.r.Cookie(name)
		if err != nil {
			return ErrNotFound
		}
		value = c.Value
	}
	plain, err := s.p.open(name, value)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plain, out); err != nil {
		return fmt.Errorf("%w: %v", ErrTampered, err)
	}
	return nil
}

func (s *cookieStore) Set(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("browserstore encode %s: %w", key, err)
	}
	name := s.name(key)
	sealed := s.p.seal(name, raw)
	if len(name)+len(sealed) > maxCookieBytes {
		return fmt.Errorf("browserstore: record %s too large for a cookie", key)
	}
	http.SetCookie(s.w, &http.Cookie{
		Name:     name,
		Value:    sealed,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.p.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.p.maxAge.Seconds()),
	})
	s.mu.Lock()
	s.pending[name] = &sealed
	s.mu.Unlock()
	return nil
}

func (s *cookieStore) Delete(_ context.Context, key string) error {
	name := s.name(key)
	http.SetCookie(s.w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.p.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	s.mu.Lock()
	s.pending[name] = nil
	s.mu.Unlock()
	return nil
}
