package browserstore

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func replay(rec *httptest.ResponseRecorder) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			continue
		}
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	return req
}

func TestCookieStoreRoundTrip(t *testing.T) {
	p, err := NewCookieProvider(testSecret, CookieOptions{})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	ctx := context.Background()
	rec := httptest.NewRecorder()
	s := p.For(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if err := s.Set(ctx, "settings", record{Email: "a@x.com"}); err != nil {
		t.Fatalf("set: %v", err)
	}

	var same record
	if err := s.Get(ctx, "settings", &same); err != nil || same.Email != "a@x.com" {
		t.Fatalf("value written in this request should be readable: %+v %v", same, err)
	}

	cookie := rec.Result().Cookies()[0]
	if strings.Contains(cookie.Value, "a@x.com") {
		t.Fatalf("cookie value must be sealed, got %q", cookie.Value)
	}
	if !cookie.HttpOnly {
		t.Fatalf("cookie must be http only")
	}

	var got record
	if err := p.For(httptest.NewRecorder(), replay(rec)).Get(ctx, "settings", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Email != "a@x.com" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestCookieStoreDetectsTampering(t *testing.T) {
	p, err := NewCookieProvider(testSecret, CookieOptions{})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	ctx := context.Background()
	rec := httptest.NewRecorder()
	if err := p.For(rec, httptest.NewRequest(http.MethodGet, "/", nil)).Set(ctx, "settings", record{Email: "a@x.com"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	sealed := rec.Result().Cookies()[0].Value

	flipped := []byte(sealed)
	mid := len(flipped) / 2
	if flipped[mid] == 'A' {
		flipped[mid] = 'B'
	} else {
		flipped[mid] = 'A'
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "lh_settings", Value: string(flipped)})
	var got record
	if err := p.For(httptest.NewRecorder(), req).Get(ctx, "settings", &got); !errors.Is(err, ErrTampered) {
		t.Fatalf("expected ErrTampered for edited value, got %v", err)
	}

	moved := httptest.NewRequest(http.MethodGet, "/", nil)
	moved.AddCookie(&http.Cookie{Name: "lh_other", Value: sealed})
	if err := p.For(httptest.NewRecorder(), moved).Get(ctx, "other", &got); !errors.Is(err, ErrTampered) {
		t.Fatalf("expected ErrTampered for value moved to another key, got %v", err)
	}

	otherKey, err := NewCookieProvider(strings.Repeat("z", 32), CookieOptions{})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if err := otherKey.For(httptest.NewRecorder(), replay(rec)).Get(ctx, "settings", &got); !errors.Is(err, ErrTampered) {
		t.Fatalf("expected ErrTampered for foreign secret, got %v", err)
	}
}

func TestCookieStoreDelete(t *testing.T) {
	p, err := NewCookieProvider(testSecret, CookieOptions{Prefix: "x_"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	ctx := context.Background()
	rec := httptest.NewRecorder()
	if err := p.For(rec, httptest.NewRequest(http.MethodGet, "/", nil)).Set(ctx, "settings", record{Email: "a"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	delRec := httptest.NewRecorder()
	s := p.For(delRec, replay(rec))
	if err := s.Delete(ctx, "settings"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	var got record
	if err := s.Get(ctx, "settings", &got); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted key should read as not found, got %v", err)
	}
	cookies := delRec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "x_settings" || cookies[0].MaxAge >= 0 {
		t.Fatalf("expected expiring cookie, got %+v", cookies)
	}
}

func TestNewCookieProviderRejectsShortSecret(t *testing.T) {
	if _, err := NewCookieProvider("short", CookieOptions{}); err == nil {
		t.Fatalf("expected error for short secret")
	}
}
