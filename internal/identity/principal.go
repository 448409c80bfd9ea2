package identity

import (
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// ErrMalformedToken is returned when a token cannot be decoded at all.
var ErrMalformedToken = errors.New("malformed token")

// Principal is the authenticated user as described by the identity provider.
type Principal struct {
	Subject        string
	OrganizationID string
	Email          string
	Picture        string
	Roles          []string
	ExpiresAt      time.Time
	Token          string
}

// HasRole reports whether the principal carries role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

func principalFromClaims(claims jwt.MapClaims, orgClaim, emailClaim, rolesClaim string) Principal {
	p := Principal{
		OrganizationID: stringClaim(claims, orgClaim),
		Email:          stringClaim(claims, emailClaim),
		Picture:        stringClaim(claims, "picture"),
		Roles:          stringsClaim(claims, rolesClaim),
	}
	p.Subject, _ = claims.GetSubject()
	p.Subject = strings.TrimSpace(p.Subject)
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		p.ExpiresAt = exp.Time
	}
	return p
}

func stringClaim(claims jwt.MapClaims, name string) string {
	s, _ := claims[name].(string)
	return strings.TrimSpace(s)
}

func stringsClaim(claims jwt.MapClaims, name string) []string {
	switch v := claims[name].(type) {
	case string:
		if v = strings.TrimSpace(v); v != "" {
			return []string{v}
		}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	}
	return nil
}

// ExpiresAt reads the exp claim without verifying the signature. It is used
// only to decide whether a failed request deserves a re-login prompt.
func ExpiresAt(token string) (time.Time, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(token), &claims); err != nil {
		return time.Time{}, ErrMalformedToken
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, nil
	}
	return claims.ExpiresAt.Time, nil
}

// Expired reports whether token carries an exp claim at or before now.
// Tokens without exp, or that cannot be decoded, are not reported expired.
func Expired(token string, now time.Time) bool {
	exp, err := ExpiresAt(token)
	if err != nil || exp.IsZero() {
		return false
	}
	return !exp.After(now)
}
