package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func TestNewVerifierRequiresJWKSURL(t *testing.T) {
	if _, err := NewVerifier(context.Background(), Config{}); err == nil {
		t.Fatalf("expected missing jwks url to fail")
	}
}

func TestVerifyMapsClaimsToPrincipal(t *testing.T) {
	key := mustKey(t)
	srv := jwksServer(t, func() map[string]*rsa.PublicKey { return map[string]*rsa.PublicKey{"kid-1": &key.PublicKey} }, nil)
	v, err := NewVerifier(context.Background(), Config{
		JWKSURL:           srv.URL,
		Issuer:            "https://idp.example/",
		Audience:          "lighthouse-api",
		OrganizationClaim: "https://lighthouse/org_id",
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	claims := jwt.MapClaims{
		"sub":     "auth0|123",
		"iss":     "https://idp.example/",
		"aud":     "lighthouse-api",
		"exp":     time.Now().Add(time.Hour).Unix(),
		"iat":     time.Now().Unix(),
		"email":   "a@x.com",
		"roles":   []string{"user", "sio"},
		"picture": "https://cdn.example/a.png",
	}
	claims["https://lighthouse/org_id"] = "org_1"
	token := sign(t, key, "kid-1", claims)
	p, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.Subject != "auth0|123" || p.Email != "a@x.com" || p.OrganizationID != "org_1" || p.Picture != "https://cdn.example/a.png" {
		t.Fatalf("unexpected principal: %+v", p)
	}
	if !p.HasRole("SIO") || p.HasRole("organization-administrator") {
		t.Fatalf("unexpected roles: %v", p.Roles)
	}
	if p.Token != token || p.ExpiresAt.IsZero() {
		t.Fatalf("principal should carry token and expiry")
	}
}

func TestVerifyRefreshesOnUnknownKid(t *testing.T) {
	key1, key2 := mustKey(t), mustKey(t)
	var rotated atomic.Bool
	var fetches int32
	srv := jwksServer(t, func() map[string]*rsa.PublicKey {
		if rotated.Load() {
			return map[string]*rsa.PublicKey{"kid-2": &key2.PublicKey}
		}
		return map[string]*rsa.PublicKey{"kid-1": &key1.PublicKey}
	}, &fetches)
	v, err := NewVerifier(context.Background(), Config{JWKSURL: srv.URL})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	if _, err := v.Verify(context.Background(), sign(t, key1, "kid-1", validClaims("user-a"))); err != nil {
		t.Fatalf("verify kid-1: %v", err)
	}
	rotated.Store(true)
	p, err := v.Verify(context.Background(), sign(t, key2, "kid-2", validClaims("user-b")))
	if err != nil || p.Subject != "user-b" {
		t.Fatalf("verify after rotation: sub=%s err=%v", p.Subject, err)
	}
	if got := atomic.LoadInt32(&fetches); got != 2 {
		t.Fatalf("expected one refresh after rotation, got %d fetches", got)
	}
}

func TestVerifyRejectsExpiredAndForeignTokens(t *testing.T) {
	key, other := mustKey(t), mustKey(t)
	srv := jwksServer(t, func() map[string]*rsa.PublicKey { return map[string]*rsa.PublicKey{"kid-1": &key.PublicKey} }, nil)
	v, err := NewVerifier(context.Background(), Config{JWKSURL: srv.URL, Leeway: time.Second})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	expired := validClaims("user-1")
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	expired["iat"] = time.Now().Add(-2 * time.Hour).Unix()
	if _, err := v.Verify(context.Background(), sign(t, key, "kid-1", expired)); err == nil {
		t.Fatalf("expected expired token to fail")
	}
	if _, err := v.Verify(context.Background(), sign(t, other, "kid-1", validClaims("user-1"))); err == nil {
		t.Fatalf("expected token signed by another key to fail")
	}
	noExp := validClaims("user-1")
	delete(noExp, "exp")
	if _, err := v.Verify(context.Background(), sign(t, key, "kid-1", noExp)); err == nil {
		t.Fatalf("expected token without exp to fail")
	}
}

func validClaims(sub string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Minute).Unix(),
		"iat": time.Now().Unix(),
	}
}

func mustKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func sign(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func jwksServer(t *testing.T, keys func() map[string]*rsa.PublicKey, fetches *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fetches != nil {
			atomic.AddInt32(fetches, 1)
		}
		var out []map[string]string
		for kid, pub := range keys() {
			out = append(out, map[string]string{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			})
		}
		w.Header().Set("Cache-Control", "public, max-age=300")
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": out})
	}))
	t.Cleanup(srv.Close)
	return srv
}
